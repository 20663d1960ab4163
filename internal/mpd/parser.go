package mpd

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
)

// Document is the parsed but unprocessed DASH manifest. This is the form that
// gets cached: it is time-independent, so live segment windows can be
// recomputed from it on every request without refetching.
type Document struct {
	Type                      string   `xml:"type,attr" json:"type"`
	MinimumUpdatePeriod       string   `xml:"minimumUpdatePeriod,attr" json:"minimumUpdatePeriod,omitempty"`
	AvailabilityStartTime     string   `xml:"availabilityStartTime,attr" json:"availabilityStartTime,omitempty"`
	TimeShiftBufferDepth      string   `xml:"timeShiftBufferDepth,attr" json:"timeShiftBufferDepth,omitempty"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr" json:"mediaPresentationDuration,omitempty"`
	BaseURL                   string   `xml:"BaseURL" json:"baseUrl,omitempty"`
	Periods                   []Period `xml:"Period" json:"periods"`
}

// Period is a DASH Period element.
type Period struct {
	ID             string          `xml:"id,attr" json:"id,omitempty"`
	Start          string          `xml:"start,attr" json:"start,omitempty"`
	Duration       string          `xml:"duration,attr" json:"duration,omitempty"`
	BaseURL        string          `xml:"BaseURL" json:"baseUrl,omitempty"`
	AdaptationSets []AdaptationSet `xml:"AdaptationSet" json:"adaptationSets"`
}

// AdaptationSet groups representations sharing a media type.
type AdaptationSet struct {
	ID                string              `xml:"id,attr" json:"id,omitempty"`
	MimeType          string              `xml:"mimeType,attr" json:"mimeType,omitempty"`
	ContentType       string              `xml:"contentType,attr" json:"contentType,omitempty"`
	Lang              string              `xml:"lang,attr" json:"lang,omitempty"`
	BaseURL           string              `xml:"BaseURL" json:"baseUrl,omitempty"`
	SegmentTemplate   *SegmentTemplate    `xml:"SegmentTemplate" json:"segmentTemplate,omitempty"`
	ContentProtection []ContentProtection `xml:"ContentProtection" json:"contentProtection,omitempty"`
	Representations   []Representation    `xml:"Representation" json:"representations"`
}

// Representation is a single rendition within an adaptation set.
type Representation struct {
	ID                string              `xml:"id,attr" json:"id"`
	MimeType          string              `xml:"mimeType,attr" json:"mimeType,omitempty"`
	Bandwidth         int64               `xml:"bandwidth,attr" json:"bandwidth"`
	Width             int                 `xml:"width,attr" json:"width,omitempty"`
	Height            int                 `xml:"height,attr" json:"height,omitempty"`
	Codecs            string              `xml:"codecs,attr" json:"codecs,omitempty"`
	FrameRate         string              `xml:"frameRate,attr" json:"frameRate,omitempty"`
	BaseURL           string              `xml:"BaseURL" json:"baseUrl,omitempty"`
	SegmentTemplate   *SegmentTemplate    `xml:"SegmentTemplate" json:"segmentTemplate,omitempty"`
	ContentProtection []ContentProtection `xml:"ContentProtection" json:"contentProtection,omitempty"`
}

// SegmentTemplate describes how segment URLs and timings derive from a
// template, either duration-based or via an explicit timeline.
type SegmentTemplate struct {
	Media                  string           `xml:"media,attr" json:"media"`
	Initialization         string           `xml:"initialization,attr" json:"initialization,omitempty"`
	Timescale              int64            `xml:"timescale,attr" json:"timescale,omitempty"`
	Duration               int64            `xml:"duration,attr" json:"duration,omitempty"`
	StartNumber            *int64           `xml:"startNumber,attr" json:"startNumber,omitempty"`
	PresentationTimeOffset int64            `xml:"presentationTimeOffset,attr" json:"presentationTimeOffset,omitempty"`
	Timeline               *SegmentTimeline `xml:"SegmentTimeline" json:"timeline,omitempty"`
}

// SegmentTimeline is an explicit list of segment timings.
type SegmentTimeline struct {
	Entries []TimelineEntry `xml:"S" json:"entries"`
}

// TimelineEntry is a single S element: start time T (in timescale units),
// duration D, and R additional repeats. R of -1 means repeat until the
// period or live edge.
type TimelineEntry struct {
	T *int64 `xml:"t,attr" json:"t,omitempty"`
	D int64  `xml:"d,attr" json:"d"`
	R int64  `xml:"r,attr" json:"r,omitempty"`
}

// ContentProtection declares a DRM scheme for an element.
type ContentProtection struct {
	SchemeIDURI string `xml:"schemeIdUri,attr" json:"schemeIdUri,omitempty"`
	DefaultKID  string `xml:"default_KID,attr" json:"defaultKid,omitempty"`
	Value       string `xml:"value,attr" json:"value,omitempty"`
}

// DocumentParser parses DASH manifest XML into the cacheable document form.
type DocumentParser struct{}

var _ Parser = DocumentParser{}

// Parse decodes manifest XML and returns the document as JSON. Lenient
// decoding tolerates the HTML-ish entity and close tag habits seen in the
// wild.
func (DocumentParser) Parse(data []byte) (json.RawMessage, error) {
	var doc Document
	if err := lenientUnmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding manifest xml: %w", err)
	}
	if len(doc.Periods) == 0 {
		return nil, fmt.Errorf("manifest has no periods")
	}

	raw, err := json.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest document: %w", err)
	}
	return raw, nil
}

func lenientUnmarshal(data []byte, doc *Document) error {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity
	return decoder.Decode(doc)
}
