package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHybrid(t *testing.T, dir string) *HybridCache {
	t.Helper()
	h, err := NewHybridCache(HybridOptions{
		Dir:       dir,
		TTL:       time.Hour,
		MaxMemory: 1 << 20,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	return h
}

func TestHybridCache_RoundTrip(t *testing.T) {
	h := newTestHybrid(t, t.TempDir())
	ctx := context.Background()

	require.True(t, h.Set(ctx, "segment-url", []byte("payload")))

	got, ok := h.Get(ctx, "segment-url")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestHybridCache_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := newTestHybrid(t, dir)
	require.True(t, first.Set(ctx, "key", []byte("durable")))

	// A fresh instance has an empty memory tier and must hit the file.
	second := newTestHybrid(t, dir)
	got, ok := second.Get(ctx, "key")
	require.True(t, ok)
	assert.Equal(t, []byte("durable"), got)
}

func TestHybridCache_FileFormat(t *testing.T) {
	dir := t.TempDir()
	h := newTestHybrid(t, dir)
	require.True(t, h.Set(context.Background(), "key", []byte("data")))

	raw, err := os.ReadFile(filepath.Join(dir, HashKey("key")))
	require.NoError(t, err)
	require.Greater(t, len(raw), metadataFrameLen)

	metaLen := binary.BigEndian.Uint64(raw[:metadataFrameLen])
	require.LessOrEqual(t, int(metaLen), len(raw)-metadataFrameLen)

	var meta fileMetadata
	require.NoError(t, json.Unmarshal(raw[metadataFrameLen:metadataFrameLen+int(metaLen)], &meta))
	assert.Greater(t, meta.ExpiresAt, float64(time.Now().Unix()))
	assert.Equal(t, int64(0), meta.AccessCount)

	assert.Equal(t, []byte("data"), raw[metadataFrameLen+int(metaLen):])
}

func TestHybridCache_CorruptFileTreatedAsMissAndRemoved(t *testing.T) {
	dir := t.TempDir()
	h := newTestHybrid(t, dir)

	path := filepath.Join(dir, HashKey("bad"))
	require.NoError(t, os.WriteFile(path, []byte("not a cache file"), 0o640))

	_, ok := h.Get(context.Background(), "bad")
	assert.False(t, ok)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "corrupt file should be deleted")
}

func TestHybridCache_ExpiredFileTreatedAsMissAndRemoved(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := newTestHybrid(t, dir)
	require.True(t, first.SetWithTTL(ctx, "short", []byte("soon gone"), time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	second := newTestHybrid(t, dir)
	_, ok := second.Get(ctx, "short")
	assert.False(t, ok)

	_, err := os.Stat(filepath.Join(dir, HashKey("short")))
	assert.True(t, os.IsNotExist(err), "expired file should be deleted on read")
}

func TestHybridCache_InterruptedWriteLeavesPriorValue(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	h := newTestHybrid(t, dir)
	require.True(t, h.Set(ctx, "key", []byte("v1")))

	// Simulate a writer that died after writing the temp file but before
	// the rename.
	tmp := filepath.Join(dir, HashKey("key")+tmpSuffix)
	require.NoError(t, os.WriteFile(tmp, []byte("half-written"), 0o640))

	second := newTestHybrid(t, dir)
	got, ok := second.Get(ctx, "key")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)

	st := second.Stats()
	assert.Equal(t, 1, st.Files, "temp files do not count as entries")
}

func TestHybridCache_ConcurrentWritersPublishIntactFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	h := newTestHybrid(t, dir)

	// Payloads of distinct lengths so a file assembled from two writers
	// would fail framing or payload checks.
	const writers = 8
	payloads := make([][]byte, writers)
	for i := range payloads {
		payloads[i] = bytes.Repeat([]byte{byte('a' + i)}, 100*(i+1))
	}

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(p []byte) {
			defer wg.Done()
			assert.True(t, h.Set(ctx, "contested", p))
		}(payloads[i])
	}
	wg.Wait()

	// A fresh instance bypasses the memory tier and reads the file.
	fresh := newTestHybrid(t, dir)
	got, ok := fresh.Get(ctx, "contested")
	require.True(t, ok, "the published file must always decode")
	assert.Contains(t, payloads, got, "one writer's payload survives whole")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, de := range entries {
		assert.NotEqual(t, tmpSuffix, filepath.Ext(de.Name()), "no temp files left behind")
	}
}

func TestHybridCache_Delete(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	h := newTestHybrid(t, dir)
	require.True(t, h.Set(ctx, "key", []byte("value")))
	require.True(t, h.Delete(ctx, "key"))

	_, ok := h.Get(ctx, "key")
	assert.False(t, ok)

	second := newTestHybrid(t, dir)
	_, ok = second.Get(ctx, "key")
	assert.False(t, ok, "delete must reach the file tier")

	assert.True(t, h.Delete(ctx, "never-existed"))
}

func TestHybridCache_GetHonoursContextCancellation(t *testing.T) {
	dir := t.TempDir()
	h := newTestHybrid(t, dir)
	require.True(t, h.Set(context.Background(), "key", []byte("value")))

	// Fill the worker pool so the file tier is unreachable.
	for i := 0; i < DefaultWorkers; i++ {
		require.NoError(t, h.acquire(context.Background()))
	}
	defer func() {
		for i := 0; i < DefaultWorkers; i++ {
			h.release()
		}
	}()

	// Memory hit still works without an I/O slot.
	_, ok := h.Get(context.Background(), "key")
	assert.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fresh := newTestHybrid(t, dir)
	for i := 0; i < DefaultWorkers; i++ {
		require.NoError(t, fresh.acquire(context.Background()))
	}
	_, ok = fresh.Get(ctx, "key")
	assert.False(t, ok, "cancelled context must not block on the worker pool")
}

func TestHybridCache_SweepExpired(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	h := newTestHybrid(t, dir)
	require.True(t, h.SetWithTTL(ctx, "expired", []byte("old"), time.Millisecond))
	require.True(t, h.Set(ctx, "fresh", []byte("new")))

	stale := filepath.Join(dir, "leftover"+tmpSuffix)
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o640))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	time.Sleep(10 * time.Millisecond)
	removed := h.SweepExpired(ctx)
	assert.Equal(t, 2, removed)

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, ok := h.Get(ctx, "fresh")
	assert.True(t, ok)
}

func TestHashKey(t *testing.T) {
	// MD5 hex of the logical key, which doubles as the file name.
	assert.Equal(t, "acbd18db4cc2f85cedef654fccc4a4d8", HashKey("foo"))
	assert.Len(t, HashKey("anything"), 32)
}
