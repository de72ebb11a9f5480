package cache

import (
	"fmt"
	"testing"

	"github.com/spritepal/previewcache/pkg/types"
)

func preview(source string, offset uint64, size int) *types.PreviewData {
	return &types.PreviewData{
		TileData: make([]byte, size),
		Source:   source,
		Offset:   offset,
	}
}

// TestNewMemoryCache tests budget defaulting
func TestNewMemoryCache(t *testing.T) {
	c := NewMemoryCache(0)
	if c.budget != DefaultBudget {
		t.Errorf("zero budget should default to %d, got %d", DefaultBudget, c.budget)
	}

	c = NewMemoryCache(1024)
	if c.budget != 1024 {
		t.Errorf("expected budget 1024, got %d", c.budget)
	}
}

// TestPutGet tests insert, retrieval, and stats accounting
func TestPutGet(t *testing.T) {
	c := NewMemoryCache(1024)

	data := preview("game.sfc", 0, 100)
	c.Put("k1", data)

	got := c.Get("k1")
	if got != data {
		t.Fatal("Get should return the stored preview")
	}
	if c.Get("missing") != nil {
		t.Error("Get should return nil for an absent key")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit / 1 miss, got %d / %d", stats.Hits, stats.Misses)
	}
	if stats.Size != 100 {
		t.Errorf("expected size 100, got %d", stats.Size)
	}
}

// TestOverwriteAdjustsFootprint tests replacing an existing key
func TestOverwriteAdjustsFootprint(t *testing.T) {
	c := NewMemoryCache(1024)

	c.Put("k", preview("game.sfc", 0, 100))
	c.Put("k", preview("game.sfc", 0, 300))

	if c.Len() != 1 {
		t.Errorf("overwrite should not add an entry, len=%d", c.Len())
	}
	if c.Size() != 300 {
		t.Errorf("expected footprint 300 after overwrite, got %d", c.Size())
	}
}

// TestEvictionIsLRUNotInsertion tests that recently read entries survive
func TestEvictionIsLRUNotInsertion(t *testing.T) {
	// Budget fits exactly three 100-byte entries.
	c := NewMemoryCache(300)

	c.Put("a", preview("game.sfc", 0, 100))
	c.Put("b", preview("game.sfc", 1, 100))
	c.Put("c", preview("game.sfc", 2, 100))

	// Touch the oldest so insertion order and recency order diverge.
	if c.Get("a") == nil {
		t.Fatal("a should still be cached")
	}

	c.Put("d", preview("game.sfc", 3, 100))

	if c.Get("b") != nil {
		t.Error("b was least recently used and should have been evicted")
	}
	if c.Get("a") == nil {
		t.Error("a was recently read and should survive")
	}
	if c.Get("d") == nil {
		t.Error("d was just inserted and should survive")
	}
}

// TestEvictionUntilUnderBudget tests multi-entry eviction on one insert
func TestEvictionUntilUnderBudget(t *testing.T) {
	c := NewMemoryCache(300)
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("k%d", i), preview("game.sfc", uint64(i), 100))
	}

	// A 250-byte insert forces two evictions.
	c.Put("big", preview("game.sfc", 99, 250))

	if c.Size() > 300 {
		t.Errorf("footprint %d exceeds budget", c.Size())
	}
	if c.Get("big") == nil {
		t.Error("newly inserted entry must survive its own eviction pass")
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 surviving entries, got %d", c.Len())
	}
}

// TestOversizedEntryTolerated tests that one entry may exceed the budget
func TestOversizedEntryTolerated(t *testing.T) {
	c := NewMemoryCache(100)

	c.Put("huge", preview("game.sfc", 0, 500))
	if c.Get("huge") == nil {
		t.Error("an entry larger than the budget should still be cached alone")
	}
	if c.Len() != 1 {
		t.Errorf("expected a single entry, got %d", c.Len())
	}

	// The next insert displaces it.
	c.Put("small", preview("game.sfc", 1, 50))
	if c.Get("huge") != nil {
		t.Error("oversized entry should be evicted once a newer one arrives")
	}
	if c.Get("small") == nil {
		t.Error("newer entry should survive")
	}
}

// TestClear tests emptying the cache
func TestClear(t *testing.T) {
	c := NewMemoryCache(1024)
	c.Put("a", preview("game.sfc", 0, 100))
	c.Put("b", preview("game.sfc", 1, 100))

	c.Clear()

	if c.Len() != 0 || c.Size() != 0 {
		t.Errorf("clear should empty the cache, len=%d size=%d", c.Len(), c.Size())
	}
	if c.Get("a") != nil {
		t.Error("cleared entries should be gone")
	}
}
