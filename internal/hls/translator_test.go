package hls

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/dashflow/internal/mpd"
	"github.com/jmylchreest/dashflow/internal/proxyurl"
)

type recordingSigner struct {
	calls []url.Values
}

func (s *recordingSigner) Sign(baseURL string, params url.Values) (string, error) {
	s.calls = append(s.calls, params)
	return baseURL + "?token=sealed", nil
}

func newTranslator(signer proxyurl.Signer) *Translator {
	builder := proxyurl.NewBuilder(signer)
	return &Translator{
		URLs:   builder,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testManifest() *mpd.Manifest {
	return &mpd.Manifest{
		Profiles: []mpd.Profile{
			{
				ID:        "video-1",
				MimeType:  "video/mp4",
				Bandwidth: 2_000_000,
				Width:     1920,
				Height:    1080,
				Codecs:    "avc1.640028",
				FrameRate: "25",
			},
			{ID: "audio-en", MimeType: "audio/mp4", Lang: "en"},
			{ID: "audio-2", MimeType: "audio/mp4"},
		},
	}
}

func requestWithQuery(query string) *http.Request {
	return httptest.NewRequest(http.MethodGet, "http://proxy.local/proxy/mpd/manifest.m3u8?"+query, nil)
}

func TestBuildMaster(t *testing.T) {
	tr := newTranslator(nil)
	r := requestWithQuery("d=https%3A%2F%2Fcdn.example.com%2Fmanifest.mpd")

	out, err := tr.BuildMaster(testManifest(), r, "kid", "key0")
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.GreaterOrEqual(t, len(lines), 6)
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXT-X-VERSION:6", lines[1])

	// Audio renditions come first; only the first is the default.
	assert.True(t, strings.HasPrefix(lines[2], `#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio",NAME="audio-en",DEFAULT=YES,AUTOSELECT=YES,LANGUAGE="en",URI="`), lines[2])
	assert.True(t, strings.HasPrefix(lines[3], `#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio",NAME="audio-2",DEFAULT=NO,AUTOSELECT=NO,LANGUAGE="und",URI="`), lines[3])

	assert.Equal(t, `#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1920x1080,CODECS="avc1.640028",FRAME-RATE=25,AUDIO="audio"`, lines[4])

	streamURL, err := url.Parse(lines[5])
	require.NoError(t, err)
	assert.Equal(t, "http", streamURL.Scheme)
	assert.Equal(t, "proxy.local", streamURL.Host)
	assert.Equal(t, proxyurl.DefaultPlaylistPath, streamURL.Path)

	q := streamURL.Query()
	assert.Equal(t, "video-1", q.Get("profile_id"))
	assert.Equal(t, "kid", q.Get("key_id"))
	assert.Equal(t, "key0", q.Get("key"))
	assert.Equal(t, "https://cdn.example.com/manifest.mpd", q.Get("d"), "inbound query parameters carry into rendition URLs")
}

func TestBuildMaster_SignsWhenEncryptedRequested(t *testing.T) {
	signer := &recordingSigner{}
	tr := newTranslator(signer)
	r := requestWithQuery("d=https%3A%2F%2Fcdn.example.com%2Fmanifest.mpd&has_encrypted=1")

	out, err := tr.BuildMaster(testManifest(), r, "", "")
	require.NoError(t, err)

	require.Len(t, signer.calls, 3, "every rendition URL gets signed")
	for _, params := range signer.calls {
		assert.NotContains(t, params, "has_encrypted", "the signing switch itself is never carried")
	}
	assert.Contains(t, out, "?token=sealed")
	assert.NotContains(t, out, "has_encrypted")
}

func TestBuildMaster_ForwardedProtoKeepsScheme(t *testing.T) {
	tr := newTranslator(nil)
	r := requestWithQuery("d=x")
	r.Header.Set("X-Forwarded-Proto", "https")

	out, err := tr.BuildMaster(testManifest(), r, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "https://proxy.local"+proxyurl.DefaultPlaylistPath)
}

func liveManifest() *mpd.Manifest {
	seq := int64(26)
	return &mpd.Manifest{
		IsLive: true,
		Profiles: []mpd.Profile{{
			ID:       "video-1",
			MimeType: "video/mp4",
			InitURL:  "https://cdn.example.com/video/init.mp4",
			Segments: []mpd.Segment{
				{Media: "https://cdn.example.com/video/26.m4s", Duration: 4.5, Number: 26, MediaSequence: &seq, ProgramDateTime: "2024-01-01T00:00:50.000Z"},
				{Media: "https://cdn.example.com/video/27.m4s", Duration: 6.006, Number: 27, ProgramDateTime: "2024-01-01T00:00:54.500Z"},
			},
		}},
	}
}

func TestBuildMediaPlaylist_Live(t *testing.T) {
	tr := newTranslator(nil)
	r := requestWithQuery("d=x&profile_id=video-1")

	m := liveManifest()
	out, err := tr.BuildMediaPlaylist(m, m.Profiles, r)
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXT-X-VERSION:6", lines[1])
	assert.Equal(t, "#EXT-X-TARGETDURATION:7", lines[2], "target duration is the ceiling of the longest segment")
	assert.Equal(t, "#EXT-X-MEDIA-SEQUENCE:26", lines[3])
	assert.Equal(t, "#EXT-X-PLAYLIST-TYPE:EVENT", lines[4])

	assert.Equal(t, "#EXT-X-PROGRAM-DATE-TIME:2024-01-01T00:00:50.000Z", lines[5])
	assert.Equal(t, "#EXTINF:4.500,", lines[6])

	segURL, err := url.Parse(lines[7])
	require.NoError(t, err)
	assert.Equal(t, proxyurl.DefaultSegmentPath, segURL.Path)
	q := segURL.Query()
	assert.Equal(t, "https://cdn.example.com/video/init.mp4", q.Get("init_url"))
	assert.Equal(t, "https://cdn.example.com/video/26.m4s", q.Get("segment_url"))
	assert.Equal(t, "video/mp4", q.Get("mime_type"))

	assert.Equal(t, "#EXTINF:6.006,", lines[9])
	assert.NotEqual(t, "#EXT-X-ENDLIST", lines[len(lines)-1], "live playlists never end")
}

func TestBuildMediaPlaylist_VOD(t *testing.T) {
	tr := newTranslator(nil)
	r := requestWithQuery("d=x&profile_id=video-1")

	m := liveManifest()
	m.IsLive = false
	out, err := tr.BuildMediaPlaylist(m, m.Profiles, r)
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	assert.Equal(t, "#EXT-X-PLAYLIST-TYPE:VOD", lines[4])
	assert.Equal(t, "#EXT-X-ENDLIST", lines[len(lines)-1])
	assert.NotContains(t, out, "#EXT-X-PROGRAM-DATE-TIME", "wall-clock tags are a live-only feature")
}

func TestBuildMediaPlaylist_MediaSequenceFallsBackToNumber(t *testing.T) {
	tr := newTranslator(nil)
	r := requestWithQuery("d=x")

	m := liveManifest()
	m.Profiles[0].Segments[0].MediaSequence = nil
	out, err := tr.BuildMediaPlaylist(m, m.Profiles, r)
	require.NoError(t, err)

	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:26")
}

func TestBuildMediaPlaylist_EmptyFirstProfileUsesDefaults(t *testing.T) {
	tr := newTranslator(nil)
	r := requestWithQuery("d=x")

	m := &mpd.Manifest{Profiles: []mpd.Profile{{ID: "video-1", MimeType: "video/mp4"}}}
	out, err := tr.BuildMediaPlaylist(m, m.Profiles, r)
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	assert.Equal(t, "#EXT-X-TARGETDURATION:5", lines[2])
	assert.Equal(t, "#EXT-X-MEDIA-SEQUENCE:0", lines[3])
	assert.NotContains(t, out, "#EXTINF")
}

func TestBuildMediaPlaylist_CarriesCredentialParams(t *testing.T) {
	tr := newTranslator(nil)
	r := requestWithQuery("d=x&key_id=kid&key=key0&api_password=secret")

	m := liveManifest()
	out, err := tr.BuildMediaPlaylist(m, m.Profiles, r)
	require.NoError(t, err)

	segURL, err := url.Parse(strings.Split(out, "\n")[7])
	require.NoError(t, err)
	q := segURL.Query()
	assert.Equal(t, "kid", q.Get("key_id"))
	assert.Equal(t, "key0", q.Get("key"))
	assert.Equal(t, "secret", q.Get("api_password"))
}

func TestBuildMediaPlaylist_SignsSegmentURLs(t *testing.T) {
	signer := &recordingSigner{}
	tr := newTranslator(signer)
	r := requestWithQuery("d=x&has_encrypted=true")

	m := liveManifest()
	out, err := tr.BuildMediaPlaylist(m, m.Profiles, r)
	require.NoError(t, err)

	assert.Len(t, signer.calls, 2)
	assert.Contains(t, out, "?token=sealed")
}

func TestBuildMediaPlaylist_OrderIsDeterministic(t *testing.T) {
	tr := newTranslator(nil)
	r := requestWithQuery("d=x")

	m := liveManifest()
	first, err := tr.BuildMediaPlaylist(m, m.Profiles, r)
	require.NoError(t, err)
	second, err := tr.BuildMediaPlaylist(m, m.Profiles, r)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestIsTruthy(t *testing.T) {
	for value, want := range map[string]bool{
		"":      false,
		"0":     false,
		"false": false,
		"no":    false,
		"FALSE": false,
		"1":     true,
		"true":  true,
		"yes":   true,
	} {
		t.Run(fmt.Sprintf("%q", value), func(t *testing.T) {
			assert.Equal(t, want, isTruthy(value))
		})
	}
}
