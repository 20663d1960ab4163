package cache

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Defaults for hybrid cache construction.
const (
	DefaultWorkers = 4

	// metadataFrameLen is the size of the big-endian length prefix that
	// precedes the JSON metadata in every cache file.
	metadataFrameLen = 8

	tmpSuffix = ".tmp"
)

var (
	errCorruptEntry = errors.New("corrupt cache entry")
	errExpiredEntry = errors.New("expired cache entry")
)

// fileMetadata is the JSON header stored in front of every cached payload.
// Timestamps are seconds since the Unix epoch.
type fileMetadata struct {
	ExpiresAt   float64 `json:"expires_at"`
	AccessCount int64   `json:"access_count"`
	LastAccess  float64 `json:"last_access"`
}

// HybridOptions configures a HybridCache.
type HybridOptions struct {
	// Dir is the directory holding the file tier. Created if absent.
	Dir string
	// TTL is the default entry lifetime.
	TTL time.Duration
	// MaxMemory bounds the in-memory LRU tier in bytes.
	MaxMemory int64
	// Workers bounds concurrent file I/O (default 4).
	Workers int
	// Logger receives I/O failure logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// HybridCache combines a bounded in-memory LRU with a durable file tier.
//
// File names are the MD5 hex of the logical key; each file is
// self-describing: an 8-byte big-endian metadata length, the JSON metadata,
// then the payload. Writes go to a temp file and are published by rename, so
// a concurrent reader sees either the old file, the new file, or a miss.
// All file I/O runs through a bounded worker pool so callers stay responsive.
type HybridCache struct {
	dir     string
	ttl     time.Duration
	memory  *LRUMemoryCache
	ioSlots chan struct{}
	logger  *slog.Logger
}

// NewHybridCache creates a hybrid cache rooted at opts.Dir.
func NewHybridCache(opts HybridOptions) (*HybridCache, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	return &HybridCache{
		dir:     opts.Dir,
		ttl:     opts.TTL,
		memory:  NewLRUMemoryCache(opts.MaxMemory),
		ioSlots: make(chan struct{}, opts.Workers),
		logger:  opts.Logger,
	}, nil
}

// HashKey maps a logical cache key to its hashed form, which is also the
// file name in the durable tier.
func HashKey(key string) string {
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Dir returns the cache directory.
func (h *HybridCache) Dir() string {
	return h.dir
}

// Get returns the cached payload for the logical key, trying the memory tier
// first and falling back to the file tier. A file-tier hit is promoted into
// the memory tier with its access count bumped. Any I/O or framing error is
// logged and treated as a miss; expired and corrupt files are removed.
func (h *HybridCache) Get(ctx context.Context, key string) ([]byte, bool) {
	k := HashKey(key)

	if entry, ok := h.memory.Get(k); ok {
		return entry.Data, true
	}

	if err := h.acquire(ctx); err != nil {
		return nil, false
	}
	defer h.release()

	data, meta, err := h.readFile(k)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		return nil, false
	case errors.Is(err, errExpiredEntry):
		h.removeHashed(k)
		return nil, false
	case errors.Is(err, errCorruptEntry):
		h.logger.Warn("removing corrupt cache file",
			slog.String("dir", h.dir),
			slog.String("key", k),
			slog.String("error", err.Error()),
		)
		h.removeHashed(k)
		return nil, false
	default:
		h.logger.Error("reading cache file",
			slog.String("dir", h.dir),
			slog.String("key", k),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	now := time.Now()
	h.memory.Set(k, Entry{
		Data:        data,
		ExpiresAt:   unixToTime(meta.ExpiresAt),
		AccessCount: meta.AccessCount + 1,
		LastAccess:  now,
		Size:        len(data),
	})
	return data, true
}

// Set stores the payload under the logical key in both tiers using the
// cache's default TTL. Returns false if the file tier could not be written;
// the memory tier is updated regardless.
func (h *HybridCache) Set(ctx context.Context, key string, data []byte) bool {
	return h.SetWithTTL(ctx, key, data, h.ttl)
}

// SetWithTTL is Set with an explicit entry lifetime. A non-positive ttl
// falls back to the cache default.
func (h *HybridCache) SetWithTTL(ctx context.Context, key string, data []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = h.ttl
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	k := HashKey(key)

	h.memory.Set(k, Entry{
		Data:       data,
		ExpiresAt:  expiresAt,
		LastAccess: now,
		Size:       len(data),
	})

	if err := h.acquire(ctx); err != nil {
		return false
	}
	defer h.release()

	if err := h.writeFile(k, data, expiresAt, now); err != nil {
		h.logger.Error("writing cache file",
			slog.String("dir", h.dir),
			slog.String("key", k),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// Delete removes the logical key from both tiers. A key absent from the file
// tier still counts as success.
func (h *HybridCache) Delete(ctx context.Context, key string) bool {
	k := HashKey(key)
	h.memory.Remove(k)

	if err := h.acquire(ctx); err != nil {
		return false
	}
	defer h.release()

	return h.removeHashed(k)
}

// Stats describes the current occupancy of both tiers.
type Stats struct {
	MemoryEntries int   `json:"memory_entries"`
	MemoryBytes   int64 `json:"memory_bytes"`
	Files         int   `json:"files"`
	FileBytes     int64 `json:"file_bytes"`
}

// Stats walks the file tier and reports occupancy of both tiers.
func (h *HybridCache) Stats() Stats {
	st := Stats{
		MemoryEntries: h.memory.Len(),
		MemoryBytes:   h.memory.Size(),
	}

	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return st
	}
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) == tmpSuffix {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		st.Files++
		st.FileBytes += info.Size()
	}
	return st
}

// SweepExpired removes expired files and stale temp files from the file
// tier. Reclamation is otherwise lazy (expired files are deleted on the next
// read); the sweep keeps unread expired entries from accumulating.
func (h *HybridCache) SweepExpired(ctx context.Context) int {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		h.logger.Error("sweeping cache directory",
			slog.String("dir", h.dir),
			slog.String("error", err.Error()),
		)
		return 0
	}

	removed := 0
	now := time.Now()
	for _, de := range entries {
		if ctx.Err() != nil {
			break
		}
		if de.IsDir() {
			continue
		}

		path := filepath.Join(h.dir, de.Name())

		// Orphaned temp files from interrupted writes.
		if filepath.Ext(de.Name()) == tmpSuffix {
			if info, err := de.Info(); err == nil && now.Sub(info.ModTime()) > time.Hour {
				if os.Remove(path) == nil {
					removed++
				}
			}
			continue
		}

		meta, err := h.readMetadata(path)
		if err != nil {
			continue
		}
		if unixToTime(meta.ExpiresAt).Before(now) {
			h.memory.Remove(de.Name())
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed
}

// acquire claims a file-I/O worker slot, or fails when ctx is cancelled.
func (h *HybridCache) acquire(ctx context.Context) error {
	select {
	case h.ioSlots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HybridCache) release() {
	<-h.ioSlots
}

func (h *HybridCache) path(hashedKey string) string {
	return filepath.Join(h.dir, hashedKey)
}

// removeHashed deletes the file for an already-hashed key.
// Absent files count as success. Caller must hold an I/O slot or be on the
// expiry path where best effort suffices.
func (h *HybridCache) removeHashed(hashedKey string) bool {
	err := os.Remove(h.path(hashedKey))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		h.logger.Error("removing cache file",
			slog.String("dir", h.dir),
			slog.String("key", hashedKey),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// readFile reads and validates a cache file for an already-hashed key.
func (h *HybridCache) readFile(hashedKey string) ([]byte, fileMetadata, error) {
	f, err := os.Open(h.path(hashedKey))
	if err != nil {
		return nil, fileMetadata{}, err
	}
	defer f.Close()

	meta, err := decodeMetadata(f)
	if err != nil {
		return nil, fileMetadata{}, err
	}
	if unixToTime(meta.ExpiresAt).Before(time.Now()) {
		return nil, fileMetadata{}, errExpiredEntry
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fileMetadata{}, fmt.Errorf("reading payload: %w", err)
	}
	return data, meta, nil
}

// readMetadata reads only the framed metadata header of a cache file.
func (h *HybridCache) readMetadata(path string) (fileMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileMetadata{}, err
	}
	defer f.Close()
	return decodeMetadata(f)
}

// decodeMetadata parses the length-prefixed JSON metadata frame.
func decodeMetadata(r io.Reader) (fileMetadata, error) {
	var frame [metadataFrameLen]byte
	if _, err := io.ReadFull(r, frame[:]); err != nil {
		return fileMetadata{}, fmt.Errorf("%w: truncated length prefix", errCorruptEntry)
	}
	metaLen := binary.BigEndian.Uint64(frame[:])
	if metaLen == 0 || metaLen > 1<<20 {
		return fileMetadata{}, fmt.Errorf("%w: implausible metadata length %d", errCorruptEntry, metaLen)
	}

	buf := make([]byte, metaLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fileMetadata{}, fmt.Errorf("%w: truncated metadata", errCorruptEntry)
	}

	var meta fileMetadata
	if err := json.Unmarshal(buf, &meta); err != nil {
		return fileMetadata{}, fmt.Errorf("%w: %v", errCorruptEntry, err)
	}
	return meta, nil
}

// writeFile publishes a cache file atomically: frame and payload go to a
// temp file which is then renamed over the target. The temp file name is
// unique per writer, so concurrent writers of the same key cannot truncate
// each other's work; last rename wins with an intact file either way. No
// fsync; rename atomicity is the durability contract. The temp file is
// unlinked on any failure.
func (h *HybridCache) writeFile(hashedKey string, data []byte, expiresAt, now time.Time) error {
	metaBytes, err := json.Marshal(fileMetadata{
		ExpiresAt:   timeToUnix(expiresAt),
		AccessCount: 0,
		LastAccess:  timeToUnix(now),
	})
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	var frame [metadataFrameLen]byte
	binary.BigEndian.PutUint64(frame[:], uint64(len(metaBytes)))

	buf := bytes.NewBuffer(make([]byte, 0, metadataFrameLen+len(metaBytes)+len(data)))
	buf.Write(frame[:])
	buf.Write(metaBytes)
	buf.Write(data)

	f, err := os.CreateTemp(h.dir, hashedKey+".*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp, h.path(hashedKey)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming to target: %w", err)
	}
	return nil
}

func unixToTime(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}

func timeToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
