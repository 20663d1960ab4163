// Package service composes the caches, resolver, translator, and assembler
// into the operations the HTTP handlers expose.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmylchreest/dashflow/internal/hls"
	"github.com/jmylchreest/dashflow/internal/mpd"
	"github.com/jmylchreest/dashflow/internal/segment"
)

// ErrProfileNotFound reports a playlist request for a profile the manifest
// does not contain.
var ErrProfileNotFound = errors.New("profile not found")

// MPDService serves the three proxy operations: master playlist, media
// playlist, and assembled segment.
type MPDService struct {
	Manifests    *mpd.CachedResolver
	InitSegments *segment.InitSegments
	Assembler    *segment.Assembler
	Translator   *hls.Translator
	Downloader   mpd.Downloader
	Logger       *slog.Logger
}

// Master resolves the manifest and renders the HLS master playlist. DRM
// parsing is enabled only when both key parts arrived with the request.
func (s *MPDService) Master(ctx context.Context, r *http.Request, manifestURL, keyID, key string, headers http.Header) (string, error) {
	manifest, err := s.Manifests.Resolve(ctx, manifestURL, headers, parseDRM(keyID, key), "")
	if err != nil {
		return "", err
	}
	return s.Translator.BuildMaster(manifest, r, keyID, key)
}

// Playlist resolves the manifest and renders the media playlist for
// profileID. A manifest without that profile yields ErrProfileNotFound.
func (s *MPDService) Playlist(ctx context.Context, r *http.Request, manifestURL, profileID, keyID, key string, headers http.Header) (string, error) {
	manifest, err := s.Manifests.Resolve(ctx, manifestURL, headers, parseDRM(keyID, key), profileID)
	if err != nil {
		return "", err
	}

	profiles := manifest.MatchingProfiles(profileID)
	if len(profiles) == 0 {
		return "", fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
	}

	return s.Translator.BuildMediaPlaylist(manifest, profiles, r)
}

// Segment fetches the initialization segment through its cache, downloads
// the media segment, and assembles the playable result.
func (s *MPDService) Segment(ctx context.Context, initURL, segmentURL, mimeType, keyID, key string, headers http.Header) ([]byte, error) {
	init, err := s.InitSegments.Get(ctx, initURL, headers)
	if err != nil {
		return nil, err
	}

	media, err := s.Downloader.Download(ctx, segmentURL, headers)
	if err != nil {
		return nil, err
	}

	return s.Assembler.Assemble(ctx, init, media, mimeType, keyID, key)
}

// parseDRM reports whether DRM handling applies to a request: both halves of
// the ClearKey pair must be present.
func parseDRM(keyID, key string) bool {
	return keyID != "" && key != ""
}
