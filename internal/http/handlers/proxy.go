// Package handlers provides the HTTP handlers for dashflow: the streaming
// proxy endpoints and the JSON status API.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/dashflow/internal/hls"
	"github.com/jmylchreest/dashflow/internal/httpclient"
	"github.com/jmylchreest/dashflow/internal/proxyurl"
	"github.com/jmylchreest/dashflow/internal/service"
)

// headerParamPrefix marks query parameters that become upstream request
// headers: h_User-Agent=foo sends User-Agent: foo upstream.
const headerParamPrefix = "h_"

// ProxyHandler serves the three streaming endpoints.
type ProxyHandler struct {
	Service *service.MPDService
	// APIPassword guards the endpoints when non-empty.
	APIPassword string
	Logger      *slog.Logger
}

// Register mounts the proxy routes.
func (h *ProxyHandler) Register(r chi.Router) {
	r.Get("/proxy/mpd/manifest.m3u8", h.Master)
	r.Get(proxyurl.DefaultPlaylistPath, h.Playlist)
	r.Get(proxyurl.DefaultSegmentPath, h.Segment)
}

// Master translates the manifest at ?d= into an HLS master playlist.
func (h *ProxyHandler) Master(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	q := r.URL.Query()
	manifestURL := q.Get("d")
	if manifestURL == "" {
		http.Error(w, "missing d parameter", http.StatusBadRequest)
		return
	}

	playlist, err := h.Service.Master(r.Context(), r, manifestURL, q.Get("key_id"), q.Get("key"), upstreamHeaders(q))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writePlaylist(w, playlist)
}

// Playlist renders the media playlist for ?profile_id=.
func (h *ProxyHandler) Playlist(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	q := r.URL.Query()
	manifestURL := q.Get("d")
	profileID := q.Get("profile_id")
	if manifestURL == "" || profileID == "" {
		http.Error(w, "missing d or profile_id parameter", http.StatusBadRequest)
		return
	}

	playlist, err := h.Service.Playlist(r.Context(), r, manifestURL, profileID, q.Get("key_id"), q.Get("key"), upstreamHeaders(q))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writePlaylist(w, playlist)
}

// Segment assembles and serves one media segment.
func (h *ProxyHandler) Segment(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	q := r.URL.Query()
	initURL := q.Get("init_url")
	segmentURL := q.Get("segment_url")
	if initURL == "" || segmentURL == "" {
		http.Error(w, "missing init_url or segment_url parameter", http.StatusBadRequest)
		return
	}

	mimeType := q.Get("mime_type")
	data, err := h.Service.Segment(r.Context(), initURL, segmentURL, mimeType, q.Get("key_id"), q.Get("key"), upstreamHeaders(q))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	_, _ = w.Write(data)
}

func (h *ProxyHandler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if h.APIPassword == "" {
		return true
	}
	if r.URL.Query().Get("api_password") == h.APIPassword {
		return true
	}
	http.Error(w, "invalid api password", http.StatusForbidden)
	return false
}

func (h *ProxyHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var downloadErr *httpclient.DownloadError

	switch {
	case errors.Is(err, service.ErrProfileNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &downloadErr):
		h.logger().ErrorContext(r.Context(), "upstream fetch failed",
			slog.String("path", r.URL.Path),
			slog.Int("upstream_status", downloadErr.StatusCode),
			slog.String("error", err.Error()),
		)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
	case errors.Is(err, httpclient.ErrCircuitOpen):
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	default:
		h.logger().ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *ProxyHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func writePlaylist(w http.ResponseWriter, playlist string) {
	w.Header().Set("Content-Type", hls.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(playlist))
}

// upstreamHeaders extracts h_-prefixed query parameters as upstream request
// headers.
func upstreamHeaders(q url.Values) http.Header {
	var headers http.Header
	for key, values := range q {
		if !strings.HasPrefix(key, headerParamPrefix) || len(values) == 0 {
			continue
		}
		if headers == nil {
			headers = make(http.Header)
		}
		headers.Set(strings.TrimPrefix(key, headerParamPrefix), values[0])
	}
	return headers
}
