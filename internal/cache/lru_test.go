package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshEntry(data string) Entry {
	return Entry{
		Data:      []byte(data),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func TestLRUMemoryCache_RoundTrip(t *testing.T) {
	c := NewLRUMemoryCache(1024)
	c.Set("a", freshEntry("hello"))

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got.Data)
	assert.Equal(t, 5, got.Size)
}

func TestLRUMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUMemoryCache(10)
	c.Set("a", freshEntry("aaaa"))
	c.Set("b", freshEntry("bbbb"))

	// Touch a so b becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", freshEntry("cccc"))

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.LessOrEqual(t, c.Size(), int64(10))
}

func TestLRUMemoryCache_ExpiredEntryRemovedOnRead(t *testing.T) {
	c := NewLRUMemoryCache(1024)
	c.Set("a", Entry{
		Data:      []byte("stale"),
		ExpiresAt: time.Now().Add(-time.Second),
	})

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Size())
}

func TestLRUMemoryCache_OversizedEntryStillStored(t *testing.T) {
	c := NewLRUMemoryCache(4)
	c.Set("small", freshEntry("ab"))
	c.Set("big", freshEntry("0123456789"))

	got, ok := c.Get("big")
	require.True(t, ok, "an entry larger than capacity must still be readable")
	assert.Equal(t, []byte("0123456789"), got.Data)

	_, ok = c.Get("small")
	assert.False(t, ok, "existing entries are evicted to make room")
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(10), c.Size())
}

func TestLRUMemoryCache_AccessBookkeeping(t *testing.T) {
	c := NewLRUMemoryCache(1024)
	c.Set("a", freshEntry("x"))

	first, ok := c.Get("a")
	require.True(t, ok)
	second, ok := c.Get("a")
	require.True(t, ok)

	assert.Equal(t, int64(1), first.AccessCount)
	assert.Equal(t, int64(2), second.AccessCount)
	assert.False(t, second.LastAccess.Before(first.LastAccess))
}

func TestLRUMemoryCache_ReplaceAdjustsSize(t *testing.T) {
	c := NewLRUMemoryCache(1024)
	c.Set("a", freshEntry("0123456789"))
	c.Set("a", freshEntry("xy"))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(2), c.Size())
}

func TestLRUMemoryCache_RemoveAbsentKey(t *testing.T) {
	c := NewLRUMemoryCache(1024)
	c.Remove("missing")
	assert.Equal(t, 0, c.Len())
}
