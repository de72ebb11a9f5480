// Package cache implements the in-process preview cache tier: a
// byte-budgeted LRU keyed by the orchestrator's cache key. It performs no
// I/O and cannot fail, only evict.
package cache

import (
	"container/list"
	"sync"

	"github.com/spritepal/previewcache/pkg/types"
)

// MemoryCache is a thread-safe LRU cache bounded by the total SizeBytes of
// its values rather than by entry count.
type MemoryCache struct {
	mu          sync.Mutex
	budget      int64
	currentSize int64
	items       map[string]*cacheItem
	evictList   *list.List

	stats types.CacheStats
}

type cacheItem struct {
	key     string
	data    *types.PreviewData
	size    int64
	element *list.Element
}

// DefaultBudget is the byte budget used when none is configured.
const DefaultBudget = 10 * 1024 * 1024 // 10MB

// NewMemoryCache creates a memory cache with the given byte budget.
// A non-positive budget falls back to DefaultBudget.
func NewMemoryCache(budget int64) *MemoryCache {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &MemoryCache{
		budget:    budget,
		items:     make(map[string]*cacheItem),
		evictList: list.New(),
		stats: types.CacheStats{
			Capacity: budget,
		},
	}
}

// Get retrieves a preview from the cache, promoting it to most recently used.
// Returns nil on a miss.
func (c *MemoryCache) Get(key string) *types.PreviewData {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		return nil
	}

	c.evictList.MoveToFront(item.element)
	c.stats.Hits++
	return item.data
}

// Put inserts or overwrites a preview, then evicts least-recently-used
// entries until the total footprint is back under budget. A single entry
// larger than the whole budget is tolerated on its own: eviction never
// removes the entry just inserted.
func (c *MemoryCache) Put(key string, data *types.PreviewData) {
	if data == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	size := data.SizeBytes()

	if item, exists := c.items[key]; exists {
		c.currentSize += size - item.size
		item.data = data
		item.size = size
		c.evictList.MoveToFront(item.element)
		c.evictIfNeeded()
		return
	}

	item := &cacheItem{
		key:  key,
		data: data,
		size: size,
	}
	item.element = c.evictList.PushFront(item)
	c.items[key] = item
	c.currentSize += size

	c.evictIfNeeded()
}

// Clear empties the cache and resets the footprint counter
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheItem)
	c.evictList.Init()
	c.currentSize = 0
}

// Size returns the current total footprint in bytes
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Len returns the number of cached entries
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.currentSize
	stats.Utilization = float64(c.currentSize) / float64(c.budget)
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *MemoryCache) evictIfNeeded() {
	// Len() > 1 keeps the most recent entry even when it alone exceeds the
	// budget, which also guarantees the loop terminates.
	for c.currentSize > c.budget && c.evictList.Len() > 1 {
		c.evictOldest()
	}
}

func (c *MemoryCache) evictOldest() {
	element := c.evictList.Back()
	if element == nil {
		return
	}

	item := element.Value.(*cacheItem)
	c.evictList.Remove(element)
	delete(c.items, item.key)
	c.currentSize -= item.size
	c.stats.Evictions++
}
