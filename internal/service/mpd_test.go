package service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/dashflow/internal/cache"
	"github.com/jmylchreest/dashflow/internal/hls"
	"github.com/jmylchreest/dashflow/internal/mpd"
	"github.com/jmylchreest/dashflow/internal/proxyurl"
	"github.com/jmylchreest/dashflow/internal/segment"
)

const sourceManifest = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT10S">
  <Period>
    <AdaptationSet mimeType="video/mp4">
      <Representation id="video-1" bandwidth="2000000" width="1920" height="1080" codecs="avc1.640028" frameRate="25">
        <SegmentTemplate media="video/$Number$.m4s" initialization="video/init.mp4" timescale="1" duration="2" startNumber="1"/>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

// fakeUpstream serves canned bodies by URL and counts requests.
type fakeUpstream struct {
	bodies map[string][]byte
	calls  map[string]int
	err    error
}

func (u *fakeUpstream) Download(_ context.Context, url string, _ http.Header) ([]byte, error) {
	if u.calls == nil {
		u.calls = map[string]int{}
	}
	u.calls[url]++
	if u.err != nil {
		return nil, u.err
	}
	body, ok := u.bodies[url]
	if !ok {
		return nil, assert.AnError
	}
	return body, nil
}

func newService(t *testing.T, upstream *fakeUpstream) *MPDService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	initCache, err := cache.NewHybridCache(cache.HybridOptions{
		Dir:       t.TempDir(),
		TTL:       time.Hour,
		MaxMemory: 1 << 20,
		Logger:    logger,
	})
	require.NoError(t, err)

	return &MPDService{
		Manifests: &mpd.CachedResolver{
			Cache:      cache.NewMemoryCache(1<<20, time.Hour),
			Downloader: upstream,
			Parser:     mpd.DocumentParser{},
			Processor:  &mpd.TimelineProcessor{Logger: logger},
			Logger:     logger,
		},
		InitSegments: &segment.InitSegments{Cache: initCache, Downloader: upstream, Logger: logger},
		Assembler:    &segment.Assembler{Logger: logger},
		Translator: &hls.Translator{
			URLs:   proxyurl.NewBuilder(nil),
			Logger: logger,
		},
		Downloader: upstream,
		Logger:     logger,
	}
}

func testRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet, "http://proxy.local/proxy/mpd/manifest.m3u8?d=https%3A%2F%2Fcdn.example.com%2Flive.mpd", nil)
}

func TestMPDService_Master(t *testing.T) {
	upstream := &fakeUpstream{bodies: map[string][]byte{
		"https://cdn.example.com/live.mpd": []byte(sourceManifest),
	}}
	s := newService(t, upstream)

	out, err := s.Master(context.Background(), testRequest(), "https://cdn.example.com/live.mpd", "", "", nil)
	require.NoError(t, err)

	assert.Contains(t, out, "#EXTM3U")
	assert.Contains(t, out, "#EXT-X-STREAM-INF:BANDWIDTH=2000000")
	assert.Contains(t, out, "profile_id=video-1")
}

func TestMPDService_MasterCachesManifest(t *testing.T) {
	upstream := &fakeUpstream{bodies: map[string][]byte{
		"https://cdn.example.com/live.mpd": []byte(sourceManifest),
	}}
	s := newService(t, upstream)
	ctx := context.Background()

	_, err := s.Master(ctx, testRequest(), "https://cdn.example.com/live.mpd", "", "", nil)
	require.NoError(t, err)
	_, err = s.Master(ctx, testRequest(), "https://cdn.example.com/live.mpd", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.calls["https://cdn.example.com/live.mpd"])
}

func TestMPDService_Playlist(t *testing.T) {
	upstream := &fakeUpstream{bodies: map[string][]byte{
		"https://cdn.example.com/live.mpd": []byte(sourceManifest),
	}}
	s := newService(t, upstream)

	out, err := s.Playlist(context.Background(), testRequest(), "https://cdn.example.com/live.mpd", "video-1", "", "", nil)
	require.NoError(t, err)

	assert.Contains(t, out, "#EXT-X-PLAYLIST-TYPE:VOD")
	assert.Contains(t, out, "#EXTINF:2.000,")
	assert.Contains(t, out, "#EXT-X-ENDLIST")
	assert.Contains(t, out, "segment_url=")
}

func TestMPDService_PlaylistUnknownProfile(t *testing.T) {
	upstream := &fakeUpstream{bodies: map[string][]byte{
		"https://cdn.example.com/live.mpd": []byte(sourceManifest),
	}}
	s := newService(t, upstream)

	_, err := s.Playlist(context.Background(), testRequest(), "https://cdn.example.com/live.mpd", "no-such-profile", "", "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProfileNotFound)
	assert.Contains(t, err.Error(), "no-such-profile")
}

func TestMPDService_MasterDownloadErrorPropagates(t *testing.T) {
	upstream := &fakeUpstream{err: assert.AnError}
	s := newService(t, upstream)

	_, err := s.Master(context.Background(), testRequest(), "https://cdn.example.com/live.mpd", "", "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestMPDService_Segment(t *testing.T) {
	upstream := &fakeUpstream{bodies: map[string][]byte{
		"https://cdn.example.com/video/init.mp4": []byte("INIT"),
		"https://cdn.example.com/video/1.m4s":    []byte("MEDIA"),
	}}
	s := newService(t, upstream)
	ctx := context.Background()

	out, err := s.Segment(ctx, "https://cdn.example.com/video/init.mp4", "https://cdn.example.com/video/1.m4s", "video/mp4", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("INITMEDIA"), out)

	// The init segment is cached; only the media segment hits upstream again.
	_, err = s.Segment(ctx, "https://cdn.example.com/video/init.mp4", "https://cdn.example.com/video/2.m4s", "video/mp4", "", "", nil)
	require.Error(t, err, "unknown media segment")
	assert.Equal(t, 1, upstream.calls["https://cdn.example.com/video/init.mp4"])
	assert.Equal(t, 1, upstream.calls["https://cdn.example.com/video/1.m4s"])
}

func TestMPDService_SegmentMediaDownloadError(t *testing.T) {
	upstream := &fakeUpstream{bodies: map[string][]byte{
		"https://cdn.example.com/video/init.mp4": []byte("INIT"),
	}}
	s := newService(t, upstream)

	_, err := s.Segment(context.Background(), "https://cdn.example.com/video/init.mp4", "https://cdn.example.com/video/1.m4s", "video/mp4", "", "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestParseDRM(t *testing.T) {
	assert.False(t, parseDRM("", ""))
	assert.False(t, parseDRM("kid", ""))
	assert.False(t, parseDRM("", "key"))
	assert.True(t, parseDRM("kid", "key"))
}
