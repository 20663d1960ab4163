package proxyurl

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSigner struct {
	calls int
}

func (s *fakeSigner) Sign(baseURL string, params url.Values) (string, error) {
	s.calls++
	return baseURL + "?token=opaque", nil
}

func TestBuilder_PlainURLs(t *testing.T) {
	b := NewBuilder(nil)
	r := httptest.NewRequest(http.MethodGet, "http://proxy.local/anything", nil)

	params := url.Values{"profile_id": {"video-1"}, "d": {"https://cdn.example.com/m.mpd"}}
	got, err := b.PlaylistURL(r, params, false)
	require.NoError(t, err)

	parsed, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "http", parsed.Scheme)
	assert.Equal(t, "proxy.local", parsed.Host)
	assert.Equal(t, DefaultPlaylistPath, parsed.Path)
	assert.Equal(t, "video-1", parsed.Query().Get("profile_id"))
}

func TestBuilder_EmptyParams(t *testing.T) {
	b := NewBuilder(nil)
	r := httptest.NewRequest(http.MethodGet, "http://proxy.local/", nil)

	got, err := b.SegmentURL(r, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.local"+DefaultSegmentPath, got)
}

func TestBuilder_SignedURL(t *testing.T) {
	signer := &fakeSigner{}
	b := NewBuilder(signer)
	r := httptest.NewRequest(http.MethodGet, "http://proxy.local/", nil)

	got, err := b.SegmentURL(r, url.Values{"segment_url": {"x"}}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, signer.calls)
	assert.Equal(t, "http://proxy.local"+DefaultSegmentPath+"?token=opaque", got)
}

func TestBuilder_SigningRequestedWithoutSigner(t *testing.T) {
	b := NewBuilder(nil)
	r := httptest.NewRequest(http.MethodGet, "http://proxy.local/", nil)

	got, err := b.SegmentURL(r, url.Values{"a": {"b"}}, true)
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.local"+DefaultSegmentPath+"?a=b", got, "no signer means plain parameters")
}

func TestOriginalScheme(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"plain http", func(r *http.Request) {}, "http"},
		{"tls connection", func(r *http.Request) { r.TLS = &tls.ConnectionState{} }, "https"},
		{"forwarded proto", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "https") }, "https"},
		{"forwarded proto list", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "https, http") }, "https"},
		{"forwarded proto uppercase", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "HTTPS") }, "https"},
		{"forwarded proto garbage", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "gopher") }, "http"},
		{
			"forwarded proto wins over tls",
			func(r *http.Request) {
				r.TLS = &tls.ConnectionState{}
				r.Header.Set("X-Forwarded-Proto", "http")
			},
			"http",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://proxy.local/", nil)
			tc.setup(r)
			assert.Equal(t, tc.want, OriginalScheme(r))
		})
	}
}
