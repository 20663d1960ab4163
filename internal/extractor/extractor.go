// Package extractor caches resolved upstream destinations. Extraction of a
// playable URL from a provider page is expensive and short-lived, so results
// sit in the extractor cache tier for a few minutes.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/dashflow/internal/cache"
)

// Result is a resolved destination: the playable URL plus any headers the
// upstream requires.
type Result struct {
	DestinationURL   string            `json:"destination_url"`
	RequestHeaders   map[string]string `json:"request_headers,omitempty"`
	PlaybackEndpoint string            `json:"playback_endpoint,omitempty"`
}

// Store caches extraction results keyed by the original provider URL.
type Store struct {
	Cache  cache.Store
	Logger *slog.Logger
}

// Get returns the cached result for the provider URL. An entry that no
// longer decodes is evicted and reported as missing.
func (s *Store) Get(ctx context.Context, providerURL string) (*Result, bool) {
	data, ok := s.Cache.Get(ctx, providerURL)
	if !ok {
		return nil, false
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		s.logger().Warn("evicting undecodable extractor result",
			slog.String("error", err.Error()),
		)
		s.Cache.Delete(ctx, providerURL)
		return nil, false
	}
	return &result, true
}

// Put caches the result for the provider URL with the tier's default TTL.
func (s *Store) Put(ctx context.Context, providerURL string, result *Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding extractor result: %w", err)
	}
	if !s.Cache.Set(ctx, providerURL, data) {
		return fmt.Errorf("storing extractor result")
	}
	return nil
}

func (s *Store) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
