// Package cache provides the two-tier caching layer for dashflow: a bounded
// in-memory LRU store in front of a durable file tier, plus the named cache
// instances the proxy handlers share.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is a cached value with its bookkeeping metadata.
// Size always equals len(Data).
type Entry struct {
	Data        []byte
	ExpiresAt   time.Time
	AccessCount int64
	LastAccess  time.Time
	Size        int
}

// Fresh reports whether the entry has not yet expired at the given time.
func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// lruItem is the list element payload for LRUMemoryCache.
type lruItem struct {
	key   string
	entry Entry
}

// LRUMemoryCache is a thread-safe byte-bounded LRU cache.
//
// Recency order is maintained on every successful Get; eviction removes the
// least recently used entries until the configured byte capacity is
// respected. Stale entries are removed on read.
type LRUMemoryCache struct {
	mu      sync.Mutex
	maxSize int64
	curSize int64
	order   *list.List // front = least recently used, back = most recent
	items   map[string]*list.Element
}

// NewLRUMemoryCache creates an LRU cache bounded to maxSize payload bytes.
func NewLRUMemoryCache(maxSize int64) *LRUMemoryCache {
	return &LRUMemoryCache{
		maxSize: maxSize,
		order:   list.New(),
		items:   make(map[string]*list.Element),
	}
}

// Get returns the fresh entry for key, marking it most recently used and
// bumping its access count. A stale entry is removed and reported as a miss.
func (c *LRUMemoryCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}

	it := el.Value.(*lruItem)
	now := time.Now()
	if !it.entry.Fresh(now) {
		c.removeElement(el)
		return Entry{}, false
	}

	it.entry.AccessCount++
	it.entry.LastAccess = now
	c.order.MoveToBack(el)
	return it.entry, true
}

// Set inserts or replaces the entry for key as most recently used, evicting
// least recently used entries until the capacity bound holds.
//
// An entry larger than the capacity itself still gets inserted after the
// store is emptied; the bound is transiently exceeded by that single entry so
// read-through callers always find what they just wrote.
func (c *LRUMemoryCache) Set(key string, entry Entry) {
	entry.Size = len(entry.Data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}

	for c.curSize+int64(entry.Size) > c.maxSize && c.order.Len() > 0 {
		c.removeElement(c.order.Front())
	}

	el := c.order.PushBack(&lruItem{key: key, entry: entry})
	c.items[key] = el
	c.curSize += int64(entry.Size)
}

// Remove deletes the entry for key. Removing an absent key is a no-op.
func (c *LRUMemoryCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Len returns the number of cached entries.
func (c *LRUMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Size returns the total payload bytes currently held.
func (c *LRUMemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curSize
}

// removeElement unlinks an element and adjusts the size accounting.
// Caller must hold the mutex.
func (c *LRUMemoryCache) removeElement(el *list.Element) {
	it := el.Value.(*lruItem)
	c.order.Remove(el)
	delete(c.items, it.key)
	c.curSize -= int64(it.entry.Size)
}
