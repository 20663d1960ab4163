// Package proxyurl builds the absolute, optionally signed proxy URLs that
// get embedded into generated playlists.
package proxyurl

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Default proxy endpoint paths.
const (
	DefaultPlaylistPath = "/proxy/mpd/playlist.m3u8"
	DefaultSegmentPath  = "/proxy/mpd/segment.mp4"
)

// Signer produces an opaque token-bearing URL that encodes the query
// parameters. Used when the client requested encrypted proxy URLs.
type Signer interface {
	Sign(baseURL string, params url.Values) (string, error)
}

// Builder constructs absolute proxy URLs against the inbound request's host,
// preserving the original client-facing scheme.
type Builder struct {
	PlaylistPath string
	SegmentPath  string
	// Signer is consulted when a signed URL is requested. May be nil, in
	// which case signing requests fall back to plain query parameters.
	Signer Signer
}

// NewBuilder returns a Builder with the default endpoint paths.
func NewBuilder(signer Signer) *Builder {
	return &Builder{
		PlaylistPath: DefaultPlaylistPath,
		SegmentPath:  DefaultSegmentPath,
		Signer:       signer,
	}
}

// PlaylistURL builds the absolute URL for the media-playlist endpoint.
func (b *Builder) PlaylistURL(r *http.Request, params url.Values, signed bool) (string, error) {
	return b.build(r, b.PlaylistPath, params, signed)
}

// SegmentURL builds the absolute URL for the segment endpoint.
func (b *Builder) SegmentURL(r *http.Request, params url.Values, signed bool) (string, error) {
	return b.build(r, b.SegmentPath, params, signed)
}

func (b *Builder) build(r *http.Request, path string, params url.Values, signed bool) (string, error) {
	base := fmt.Sprintf("%s://%s%s", OriginalScheme(r), r.Host, path)

	if signed && b.Signer != nil {
		signedURL, err := b.Signer.Sign(base, params)
		if err != nil {
			return "", fmt.Errorf("signing url: %w", err)
		}
		return signedURL, nil
	}

	if len(params) == 0 {
		return base, nil
	}
	return base + "?" + params.Encode(), nil
}

// OriginalScheme recovers the client-facing scheme of a request. Forwarded
// headers win over the transport the proxy itself saw, so URLs emitted
// behind a TLS-terminating front end keep their https scheme.
func OriginalScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		// May be a list when multiple proxies are chained.
		if idx := strings.IndexByte(proto, ','); idx >= 0 {
			proto = proto[:idx]
		}
		proto = strings.TrimSpace(strings.ToLower(proto))
		if proto == "http" || proto == "https" {
			return proto
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
