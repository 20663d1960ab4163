package cache

import (
	"context"
	"time"
)

// MemoryCache is a memory-only cache with the same surface as HybridCache.
// It is used where durability across restarts is unwanted, such as the
// parsed-manifest cache whose entries can outlive their usefulness in
// seconds on live streams.
type MemoryCache struct {
	ttl    time.Duration
	memory *LRUMemoryCache
}

// NewMemoryCache creates a memory-only cache bounded to maxMemory bytes with
// the given default TTL.
func NewMemoryCache(maxMemory int64, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:    ttl,
		memory: NewLRUMemoryCache(maxMemory),
	}
}

// Get returns the cached payload for key.
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	entry, ok := m.memory.Get(key)
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// Set stores the payload under key using the default TTL.
func (m *MemoryCache) Set(ctx context.Context, key string, data []byte) bool {
	return m.SetWithTTL(ctx, key, data, m.ttl)
}

// SetWithTTL is Set with an explicit entry lifetime.
func (m *MemoryCache) SetWithTTL(_ context.Context, key string, data []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := time.Now()
	m.memory.Set(key, Entry{
		Data:       data,
		ExpiresAt:  now.Add(ttl),
		LastAccess: now,
		Size:       len(data),
	})
	return true
}

// Delete removes the entry for key.
func (m *MemoryCache) Delete(_ context.Context, key string) bool {
	m.memory.Remove(key)
	return true
}

// Stats reports memory-tier occupancy.
func (m *MemoryCache) Stats() Stats {
	return Stats{
		MemoryEntries: m.memory.Len(),
		MemoryBytes:   m.memory.Size(),
	}
}
