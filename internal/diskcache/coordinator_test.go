package diskcache

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	perr "github.com/spritepal/previewcache/pkg/errors"
)

type lookupResult struct {
	requestID string
	payload   []byte
	err       *perr.PreviewError
}

func startCoordinator(t *testing.T, config CoordinatorConfig) (*Coordinator, chan lookupResult) {
	t.Helper()
	if config.Directory == "" {
		config.Directory = t.TempDir()
	}
	results := make(chan lookupResult, 32)

	c, err := NewCoordinator(config, nil)
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	c.SetHandlers(
		func(requestID string, payload []byte, metadata map[string]interface{}) {
			results <- lookupResult{requestID: requestID, payload: payload}
		},
		func(requestID string, rerr *perr.PreviewError) {
			results <- lookupResult{requestID: requestID, err: rerr}
		},
	)
	t.Cleanup(c.Close)
	return c, results
}

func waitLookup(t *testing.T, ch chan lookupResult) lookupResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lookup result")
		return lookupResult{}
	}
}

func countCacheFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), FileExt) {
			n++
		}
	}
	return n
}

// TestSaveThenGetServedFromMirror tests that a fresh save answers lookups
// without touching disk
func TestSaveThenGetServedFromMirror(t *testing.T) {
	c, results := startCoordinator(t, CoordinatorConfig{
		BatchIdleDelay: time.Hour, // keep the batch from flushing
	})

	payload := []byte("generated tiles")
	c.SaveCachedAsync("game.sfc", 0x8000, payload, nil)

	if n := countCacheFiles(t, c.Directory()); n != 0 {
		t.Fatalf("save should still be queued, found %d files", n)
	}

	c.GetCachedAsync("game.sfc", 0x8000, "req-1")
	res := waitLookup(t, results)
	if res.err != nil {
		t.Fatalf("mirror lookup failed: %v", res.err)
	}
	if !bytes.Equal(res.payload, payload) {
		t.Errorf("mirror should return the saved payload, got %q", res.payload)
	}
}

// TestThresholdFlush tests the pending-save count trigger
func TestThresholdFlush(t *testing.T) {
	c, _ := startCoordinator(t, CoordinatorConfig{
		BatchIdleDelay: time.Hour,
		FlushThreshold: 3,
	})

	c.SaveCachedAsync("game.sfc", 0x1000, []byte("a"), nil)
	c.SaveCachedAsync("game.sfc", 0x2000, []byte("b"), nil)
	if got := c.PendingSaves(); got != 2 {
		t.Fatalf("expected 2 pending saves, got %d", got)
	}

	c.SaveCachedAsync("game.sfc", 0x3000, []byte("c"), nil)

	// The flush hands the batch to the worker goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for countCacheFiles(t, c.Directory()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("threshold flush did not reach disk, %d files", countCacheFiles(t, c.Directory()))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := c.PendingSaves(); got != 0 {
		t.Errorf("queue should be empty after flush, got %d", got)
	}
}

// TestIdleFlush tests the timer trigger
func TestIdleFlush(t *testing.T) {
	c, _ := startCoordinator(t, CoordinatorConfig{
		BatchIdleDelay: 20 * time.Millisecond,
		FlushThreshold: 100,
	})

	c.SaveCachedAsync("game.sfc", 0x1000, []byte("a"), nil)

	deadline := time.Now().Add(2 * time.Second)
	for countCacheFiles(t, c.Directory()) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("idle flush did not reach disk")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestCloseFlushesQueuedSaves tests that shutdown persists the tail of the
// queue
func TestCloseFlushesQueuedSaves(t *testing.T) {
	dir := t.TempDir()
	c, _ := startCoordinator(t, CoordinatorConfig{
		Directory:      dir,
		BatchIdleDelay: time.Hour,
		FlushThreshold: 100,
	})

	for i := uint64(0); i < 5; i++ {
		c.SaveCachedAsync("game.sfc", i*0x1000, []byte("p"), nil)
	}
	c.Close()

	if n := countCacheFiles(t, dir); n != 5 {
		t.Errorf("expected 5 entries flushed on close, found %d", n)
	}
}

// TestDiskLookupAfterMirrorCleared tests the worker fallback path
func TestDiskLookupAfterMirrorCleared(t *testing.T) {
	c, results := startCoordinator(t, CoordinatorConfig{
		BatchIdleDelay: 10 * time.Millisecond,
	})

	payload := []byte("persisted tiles")
	c.SaveCachedAsync("game.sfc", 0x8000, payload, map[string]interface{}{"width": 128})

	deadline := time.Now().Add(2 * time.Second)
	for countCacheFiles(t, c.Directory()) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("save never reached disk")
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.ClearMemoryCache()

	c.GetCachedAsync("game.sfc", 0x8000, "req-1")
	res := waitLookup(t, results)
	if res.err != nil {
		t.Fatalf("disk lookup failed: %v", res.err)
	}
	if !bytes.Equal(res.payload, payload) {
		t.Errorf("disk lookup should return the saved payload, got %q", res.payload)
	}
}

// TestLookupMiss tests the error path for unknown keys
func TestLookupMiss(t *testing.T) {
	c, results := startCoordinator(t, CoordinatorConfig{})

	c.GetCachedAsync("game.sfc", 0xdead, "req-1")
	res := waitLookup(t, results)
	if res.err == nil {
		t.Fatal("expected a miss")
	}
	if res.err.Type != perr.TypeCacheMiss {
		t.Errorf("expected CACHE_MISS, got %s", res.err.Type)
	}
}

// TestLookupAfterClose tests that a closed coordinator fails fast
func TestLookupAfterClose(t *testing.T) {
	c, results := startCoordinator(t, CoordinatorConfig{})
	c.Close()

	c.GetCachedAsync("game.sfc", 0x8000, "req-1")
	res := waitLookup(t, results)
	if res.err == nil || res.err.Type != perr.TypeCacheMiss {
		t.Fatalf("closed coordinator should answer with CACHE_MISS, got %v", res.err)
	}
}

// TestMirrorCapacity tests that the mirror holds only the most recent keys
// TestMirrorReadsDuringFlush tests that lookups sharing a saved entry's
// metadata map stay safe while the worker writes it to disk
func TestMirrorReadsDuringFlush(t *testing.T) {
	c, results := startCoordinator(t, CoordinatorConfig{
		BatchIdleDelay: 5 * time.Millisecond,
	})

	metadata := map[string]interface{}{"width": 128, "height": 128}
	c.SaveCachedAsync("game.sfc", 0x8000, []byte("tiles"), metadata)

	// Mirror hits iterate the same metadata map the flush is persisting.
	deadline := time.Now().Add(500 * time.Millisecond)
	for i := 0; time.Now().Before(deadline); i++ {
		c.GetCachedAsync("game.sfc", 0x8000, "req")
		res := waitLookup(t, results)
		if res.err != nil {
			t.Fatalf("mirror lookup %d failed: %v", i, res.err)
		}
		if countCacheFiles(t, c.Directory()) > 0 && i > 0 {
			break
		}
	}

	if n := countCacheFiles(t, c.Directory()); n != 1 {
		t.Fatalf("expected the flushed entry on disk, found %d files", n)
	}
	if _, ok := metadata[TimestampKey]; ok {
		t.Error("flush should not stamp the shared metadata map")
	}
}

func TestMirrorCapacity(t *testing.T) {
	c, results := startCoordinator(t, CoordinatorConfig{
		MirrorEntries:  2,
		BatchIdleDelay: time.Hour, // nothing reaches disk
	})

	c.SaveCachedAsync("game.sfc", 0x1000, []byte("a"), nil)
	c.SaveCachedAsync("game.sfc", 0x2000, []byte("b"), nil)
	c.SaveCachedAsync("game.sfc", 0x3000, []byte("c"), nil)

	// The oldest key fell out of the mirror and nothing is on disk yet, so
	// this lookup is a miss.
	c.GetCachedAsync("game.sfc", 0x1000, "req-1")
	res := waitLookup(t, results)
	if res.err == nil {
		t.Error("evicted mirror entry should miss")
	}

	c.GetCachedAsync("game.sfc", 0x3000, "req-2")
	res = waitLookup(t, results)
	if res.err != nil {
		t.Errorf("recent mirror entry should hit, got %v", res.err)
	}
}
