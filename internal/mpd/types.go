// Package mpd defines the parsed source-manifest model and the cached
// resolver that turns a manifest URL into a processed manifest.
//
// Parsing the manifest XML and expanding its timeline into segment lists are
// external collaborators; this package defines the interfaces dashflow calls
// and the typed view of their output.
package mpd

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// Segment is a single media segment of a profile.
type Segment struct {
	// Media is the absolute segment URL.
	Media string `json:"media"`
	// Duration is the segment duration in seconds (the EXTINF value).
	Duration float64 `json:"extinf"`
	// Number is the segment number within the timeline.
	Number int64 `json:"number"`
	// MediaSequence is the HLS media sequence number, when the processor
	// derived one for a live window.
	MediaSequence *int64 `json:"hls_media_sequence_num,omitempty"`
	// ProgramDateTime is the wall-clock timestamp of the segment start,
	// set only for live streams.
	ProgramDateTime string `json:"program_date_time,omitempty"`
}

// Profile is a single rendition of the source manifest.
type Profile struct {
	ID        string    `json:"id"`
	MimeType  string    `json:"mimeType"`
	Bandwidth int64     `json:"bandwidth"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Codecs    string    `json:"codecs"`
	FrameRate string    `json:"frameRate"`
	Lang      string    `json:"lang,omitempty"`
	InitURL   string    `json:"initUrl"`
	Segments  []Segment `json:"segments"`
}

// IsVideo reports whether the profile carries video.
func (p *Profile) IsVideo() bool {
	return strings.Contains(p.MimeType, "video")
}

// IsAudio reports whether the profile carries audio.
func (p *Profile) IsAudio() bool {
	return strings.Contains(p.MimeType, "audio")
}

// DRMInfo describes the content protection declared by the manifest.
type DRMInfo struct {
	// KeyID is the default key ID, lowercase hex without dashes.
	KeyID string `json:"keyId"`
}

// Manifest is the processed source manifest as consumed by the translator.
type Manifest struct {
	IsLive bool `json:"isLive"`
	// MinimumUpdatePeriod is the declared refresh bound in seconds.
	// Nil for VOD.
	MinimumUpdatePeriod *float64  `json:"minimumUpdatePeriod,omitempty"`
	Profiles            []Profile `json:"profiles"`
	// DRM is set when content protection was found and DRM parsing was
	// requested.
	DRM *DRMInfo `json:"drm,omitempty"`
}

// MatchingProfiles returns the profiles whose ID equals profileID,
// preserving manifest order.
func (m *Manifest) MatchingProfiles(profileID string) []Profile {
	var matched []Profile
	for _, p := range m.Profiles {
		if p.ID == profileID {
			matched = append(matched, p)
		}
	}
	return matched
}

// Downloader fetches a URL and returns the response body.
type Downloader interface {
	Download(ctx context.Context, url string, headers http.Header) ([]byte, error)
}

// Parser turns raw manifest XML into the parser's document form. The
// returned bytes are the unprocessed document; they are what gets cached so
// that per-request processing can be re-run on every hit.
type Parser interface {
	Parse(data []byte) (json.RawMessage, error)
}

// Processor enriches a raw parsed document into a Manifest: it derives
// liveness and the minimum update period, and expands the current segment
// window. profileID limits segment expansion to one rendition; empty means
// all. Processing depends on the current time for live streams, which is why
// it runs on every cache hit.
type Processor interface {
	Process(raw json.RawMessage, manifestURL string, parseDRM bool, profileID string) (*Manifest, error)
}
