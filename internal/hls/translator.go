// Package hls translates a processed source manifest into HLS output: a
// master playlist enumerating renditions and per-profile media playlists
// whose segment URLs point back at the proxy.
package hls

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmylchreest/dashflow/internal/mpd"
	"github.com/jmylchreest/dashflow/internal/proxyurl"
)

// ContentType is the media type of generated playlists.
const ContentType = "application/vnd.apple.mpegurl"

// Playlist header defaults when the first profile has no usable segments.
const (
	defaultTargetDuration = 5
	defaultMediaSequence  = 0
)

// Inbound query parameters with special handling.
const (
	paramHasEncrypted = "has_encrypted"
	paramProfileID    = "profile_id"
	paramKeyID        = "key_id"
	paramKey          = "key"
	paramAPIPassword  = "api_password"
)

// Translator builds HLS playlists from processed manifests. Emission order
// always follows the input: profiles in manifest order, segments in timeline
// order. Clients observe this order across refreshes, so it is never
// changed.
type Translator struct {
	URLs   *proxyurl.Builder
	Logger *slog.Logger
}

// BuildMaster renders the master playlist. Audio renditions come first, the
// initial one marked default; video renditions follow as STREAM-INF records
// referencing the shared audio group. Query parameters of the inbound
// request are carried into every rendition URL, with has_encrypted stripped
// and remembered as the signing switch.
func (t *Translator) BuildMaster(m *mpd.Manifest, r *http.Request, keyID, key string) (string, error) {
	lines := []string{"#EXTM3U", "#EXT-X-VERSION:6"}

	carry := r.URL.Query()
	hasEncrypted := isTruthy(carry.Get(paramHasEncrypted))
	carry.Del(paramHasEncrypted)

	type rendition struct {
		profile mpd.Profile
		url     string
	}
	var audio, video []rendition

	for _, p := range m.Profiles {
		params := cloneValues(carry)
		params.Set(paramProfileID, p.ID)
		params.Set(paramKeyID, keyID)
		params.Set(paramKey, key)

		playlistURL, err := t.URLs.PlaylistURL(r, params, hasEncrypted)
		if err != nil {
			return "", fmt.Errorf("building playlist url for profile %s: %w", p.ID, err)
		}

		switch {
		case p.IsVideo():
			video = append(video, rendition{p, playlistURL})
		case p.IsAudio():
			audio = append(audio, rendition{p, playlistURL})
		}
	}

	for i, a := range audio {
		flag := "NO"
		if i == 0 {
			flag = "YES"
		}
		lang := a.profile.Lang
		if lang == "" {
			lang = "und"
		}
		lines = append(lines, fmt.Sprintf(
			`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio",NAME="%s",DEFAULT=%s,AUTOSELECT=%s,LANGUAGE="%s",URI="%s"`,
			a.profile.ID, flag, flag, lang, a.url,
		))
	}

	for _, v := range video {
		lines = append(lines, fmt.Sprintf(
			`#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,CODECS="%s",FRAME-RATE=%s,AUDIO="audio"`,
			v.profile.Bandwidth, v.profile.Width, v.profile.Height, v.profile.Codecs, v.profile.FrameRate,
		), v.url)
	}

	return strings.Join(lines, "\n"), nil
}

// BuildMediaPlaylist renders the media playlist for the given profiles.
// Headers derive from the first profile only; profiles without segments are
// skipped with a warning. Live playlists are EVENT typed with per-segment
// PROGRAM-DATE-TIME tags; VOD playlists end with ENDLIST.
func (t *Translator) BuildMediaPlaylist(m *mpd.Manifest, profiles []mpd.Profile, r *http.Request) (string, error) {
	lines := []string{"#EXTM3U", "#EXT-X-VERSION:6"}

	inbound := r.URL.Query()
	// The signing switch for segment URLs comes from the inbound request
	// verbatim, not from any cleaned-up copy.
	hasEncrypted := isTruthy(inbound.Get(paramHasEncrypted))

	addedSegments := 0
	for i, p := range profiles {
		if i == 0 {
			lines = append(lines, playlistHeaders(m, p.Segments)...)
		}

		if len(p.Segments) == 0 {
			t.logger().Warn("no segments found for profile",
				slog.String("profile_id", p.ID),
			)
			continue
		}

		for _, seg := range p.Segments {
			if m.IsLive && seg.ProgramDateTime != "" {
				lines = append(lines, "#EXT-X-PROGRAM-DATE-TIME:"+seg.ProgramDateTime)
			}
			lines = append(lines, fmt.Sprintf("#EXTINF:%.3f,", seg.Duration))

			params := url.Values{}
			params.Set("init_url", p.InitURL)
			params.Set("segment_url", seg.Media)
			params.Set("mime_type", p.MimeType)
			for _, name := range []string{paramKeyID, paramKey, paramAPIPassword} {
				if inbound.Has(name) {
					params.Set(name, inbound.Get(name))
				}
			}

			segmentURL, err := t.URLs.SegmentURL(r, params, hasEncrypted)
			if err != nil {
				return "", fmt.Errorf("building segment url for profile %s: %w", p.ID, err)
			}
			lines = append(lines, segmentURL)
			addedSegments++
		}
	}

	if !m.IsLive {
		lines = append(lines, "#EXT-X-ENDLIST")
	}

	t.logger().Debug("built media playlist",
		slog.Int("segments", addedSegments),
		slog.Bool("live", m.IsLive),
	)
	return strings.Join(lines, "\n"), nil
}

// playlistHeaders derives the playlist header lines from the first profile's
// segments: target duration is the ceiling of the largest finite segment
// duration, the media sequence comes from the first segment's HLS sequence
// number, falling back to its timeline number. Both default when the
// segment list is empty.
func playlistHeaders(m *mpd.Manifest, segments []mpd.Segment) []string {
	targetDuration := defaultTargetDuration
	sequence := int64(defaultMediaSequence)

	if len(segments) > 0 {
		first := segments[0]
		if first.MediaSequence != nil {
			sequence = *first.MediaSequence
		} else {
			sequence = first.Number
		}

		maxDuration := math.Inf(-1)
		for _, seg := range segments {
			if !math.IsNaN(seg.Duration) && !math.IsInf(seg.Duration, 0) && seg.Duration > maxDuration {
				maxDuration = seg.Duration
			}
		}
		if !math.IsInf(maxDuration, -1) {
			targetDuration = int(math.Ceil(maxDuration))
		}
	}

	headers := []string{
		fmt.Sprintf("#EXT-X-TARGETDURATION:%d", targetDuration),
		fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d", sequence),
	}
	if m.IsLive {
		headers = append(headers, "#EXT-X-PLAYLIST-TYPE:EVENT")
	} else {
		headers = append(headers, "#EXT-X-PLAYLIST-TYPE:VOD")
	}
	return headers
}

func (t *Translator) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// isTruthy interprets a query flag value. An absent or explicitly negative
// value is false, anything else counts as set.
func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "", "0", "false", "no":
		return false
	default:
		return true
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
