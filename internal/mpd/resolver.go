package mpd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/dashflow/internal/cache"
)

// Manifest-cache TTL bounds.
const (
	// liveRefreshTTL applies when the manifest demands continuous refresh
	// (minimum update period of zero or less).
	liveRefreshTTL = time.Second
	// vodTTL applies when the manifest declares no update period.
	vodTTL = time.Hour
)

// CachedResolver resolves a manifest URL into a processed Manifest, caching
// the unprocessed parser output in between. Processing re-runs on every hit
// because live windows depend on the current time and the requested profile.
// Concurrent misses for the same URL are coalesced into a single fetch.
type CachedResolver struct {
	Cache      *cache.MemoryCache
	Downloader Downloader
	Parser     Parser
	Processor  Processor
	Logger     *slog.Logger

	group singleflight.Group
}

// Resolve returns the processed manifest for manifestURL. On a cache hit the
// cached raw document is re-processed with the current arguments; a document
// that no longer decodes or processes is evicted and fetched fresh. On a
// miss the manifest is downloaded, parsed, processed, and the raw document
// cached with a TTL derived from the manifest's minimum update period.
func (r *CachedResolver) Resolve(ctx context.Context, manifestURL string, headers http.Header, parseDRM bool, profileID string) (*Manifest, error) {
	logger := r.logger()

	if raw, ok := r.Cache.Get(ctx, manifestURL); ok {
		manifest, err := r.Processor.Process(raw, manifestURL, parseDRM, profileID)
		if err == nil {
			return manifest, nil
		}
		logger.Warn("cached manifest no longer processable, refetching",
			slog.String("url", manifestURL),
			slog.String("error", err.Error()),
		)
		r.Cache.Delete(ctx, manifestURL)
	}

	raw, err, _ := r.group.Do(cache.HashKey(manifestURL), func() (any, error) {
		return r.fetchAndCache(ctx, manifestURL, headers, parseDRM, profileID)
	})
	if err != nil {
		return nil, err
	}

	return r.Processor.Process(raw.([]byte), manifestURL, parseDRM, profileID)
}

// fetchAndCache downloads and parses the manifest, caches the raw document,
// and returns it. Download errors propagate unchanged so callers can map
// them to upstream failures.
func (r *CachedResolver) fetchAndCache(ctx context.Context, manifestURL string, headers http.Header, parseDRM bool, profileID string) ([]byte, error) {
	body, err := r.Downloader.Download(ctx, manifestURL, headers)
	if err != nil {
		return nil, err
	}

	raw, err := r.Parser.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", manifestURL, err)
	}

	// Process once here to learn the update period; callers re-process
	// with their own arguments.
	manifest, err := r.Processor.Process(raw, manifestURL, parseDRM, profileID)
	if err != nil {
		return nil, fmt.Errorf("processing manifest %s: %w", manifestURL, err)
	}

	ttl := ManifestTTL(manifest.MinimumUpdatePeriod)
	if !r.Cache.SetWithTTL(ctx, manifestURL, raw, ttl) {
		r.logger().Warn("failed to cache manifest", slog.String("url", manifestURL))
	}

	return []byte(raw), nil
}

// ManifestTTL derives the cache TTL from the manifest's minimum update
// period: the period itself when positive, one second when the manifest
// demands continuous refresh, and an hour for VOD.
func ManifestTTL(mup *float64) time.Duration {
	switch {
	case mup == nil:
		return vodTTL
	case *mup > 0:
		return time.Duration(*mup * float64(time.Second))
	default:
		return liveRefreshTTL
	}
}

func (r *CachedResolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
