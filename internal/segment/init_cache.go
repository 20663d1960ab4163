package segment

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jmylchreest/dashflow/internal/cache"
	"github.com/jmylchreest/dashflow/internal/mpd"
)

// InitSegments serves initialization segments through the hybrid cache.
// Initialization segments are immutable for a given URL, so a hit never
// revalidates upstream.
type InitSegments struct {
	Cache      *cache.HybridCache
	Downloader mpd.Downloader
	Logger     *slog.Logger
}

// Get returns the initialization segment at initURL, downloading and caching
// it on a miss. Download failures propagate unchanged.
func (s *InitSegments) Get(ctx context.Context, initURL string, headers http.Header) ([]byte, error) {
	if data, ok := s.Cache.Get(ctx, initURL); ok {
		return data, nil
	}

	data, err := s.Downloader.Download(ctx, initURL, headers)
	if err != nil {
		return nil, err
	}

	if !s.Cache.Set(ctx, initURL, data) {
		s.logger().Warn("failed to cache init segment", slog.Int("bytes", len(data)))
	}
	return data, nil
}

func (s *InitSegments) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
