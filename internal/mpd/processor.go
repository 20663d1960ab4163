package mpd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Live window fallbacks.
const (
	// defaultLiveWindow bounds the segment window when the manifest declares
	// no time shift buffer.
	defaultLiveWindow = 10
	// defaultTimescale applies when a segment template omits one.
	defaultTimescale = 1
)

// TimelineProcessor turns a parsed document into a Manifest by expanding the
// segment templates. The current time feeds the live window computation, so
// the same cached document yields a fresh window on every call.
type TimelineProcessor struct {
	Logger *slog.Logger
	// Now is the clock used for live window computation. Defaults to
	// time.Now.
	Now func() time.Time
}

var _ Processor = (*TimelineProcessor)(nil)

// Process expands raw into a Manifest. profileID limits segment expansion to
// the matching representation; all representations still appear as profiles.
// parseDRM controls whether content protection is examined.
func (p *TimelineProcessor) Process(raw json.RawMessage, manifestURL string, parseDRM bool, profileID string) (*Manifest, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding manifest document: %w", err)
	}
	if len(doc.Periods) == 0 {
		return nil, fmt.Errorf("manifest has no periods")
	}

	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest url: %w", err)
	}

	manifest := &Manifest{IsLive: doc.Type == "dynamic"}
	if doc.MinimumUpdatePeriod != "" {
		mup, err := parseISODuration(doc.MinimumUpdatePeriod)
		if err != nil {
			p.logger().Warn("unparseable minimumUpdatePeriod",
				slog.String("value", doc.MinimumUpdatePeriod),
			)
		} else {
			seconds := mup.Seconds()
			manifest.MinimumUpdatePeriod = &seconds
		}
	}

	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}

	for _, period := range doc.Periods {
		periodBase := resolveBase(base, doc.BaseURL, period.BaseURL)
		periodStart := parseDurationOr(period.Start, 0)

		for _, set := range period.AdaptationSets {
			setBase := resolveBase(periodBase, set.BaseURL)

			if parseDRM && manifest.DRM == nil {
				if kid := defaultKID(set.ContentProtection); kid != "" {
					manifest.DRM = &DRMInfo{KeyID: kid}
				}
			}

			for _, rep := range set.Representations {
				if parseDRM && manifest.DRM == nil {
					if kid := defaultKID(rep.ContentProtection); kid != "" {
						manifest.DRM = &DRMInfo{KeyID: kid}
					}
				}

				profile := Profile{
					ID:        rep.ID,
					MimeType:  firstNonEmpty(rep.MimeType, set.MimeType),
					Bandwidth: rep.Bandwidth,
					Width:     rep.Width,
					Height:    rep.Height,
					Codecs:    rep.Codecs,
					FrameRate: rep.FrameRate,
					Lang:      set.Lang,
				}

				tpl := rep.SegmentTemplate
				if tpl == nil {
					tpl = set.SegmentTemplate
				}
				if tpl == nil {
					p.logger().Warn("representation has no segment template",
						slog.String("representation", rep.ID),
					)
					manifest.Profiles = append(manifest.Profiles, profile)
					continue
				}

				repBase := resolveBase(setBase, rep.BaseURL)
				if tpl.Initialization != "" {
					profile.InitURL = resolveTemplate(repBase, tpl.Initialization, templateVars{
						RepresentationID: rep.ID,
						Bandwidth:        rep.Bandwidth,
					})
				}

				if profileID == "" || profileID == rep.ID {
					profile.Segments = p.expandSegments(expandInput{
						doc:         &doc,
						manifest:    manifest,
						template:    tpl,
						rep:         rep,
						base:        repBase,
						periodStart: periodStart,
						periodDur:   parseDurationOr(period.Duration, 0),
						now:         now,
					})
				}

				manifest.Profiles = append(manifest.Profiles, profile)
			}
		}
	}

	return manifest, nil
}

type expandInput struct {
	doc         *Document
	manifest    *Manifest
	template    *SegmentTemplate
	rep         Representation
	base        *url.URL
	periodStart time.Duration
	periodDur   time.Duration
	now         time.Time
}

func (p *TimelineProcessor) expandSegments(in expandInput) []Segment {
	if in.template.Timeline != nil {
		return p.expandTimeline(in)
	}
	if in.template.Duration > 0 {
		return p.expandNumbered(in)
	}
	p.logger().Warn("segment template has neither timeline nor duration",
		slog.String("representation", in.rep.ID),
	)
	return nil
}

// expandTimeline walks explicit S entries. An R of -1 repeats until the
// period end for VOD, or the live edge for dynamic manifests.
func (p *TimelineProcessor) expandTimeline(in expandInput) []Segment {
	tpl := in.template
	timescale := tpl.Timescale
	if timescale <= 0 {
		timescale = defaultTimescale
	}

	startNumber := int64(1)
	if tpl.StartNumber != nil {
		startNumber = *tpl.StartNumber
	}

	var endTime int64
	if in.manifest.IsLive {
		ast := availabilityStart(in.doc)
		elapsed := in.now.Sub(ast) - in.periodStart
		endTime = tpl.PresentationTimeOffset + int64(elapsed.Seconds()*float64(timescale))
	} else if in.periodDur > 0 {
		endTime = tpl.PresentationTimeOffset + int64(in.periodDur.Seconds()*float64(timescale))
	} else if dur := parseDurationOr(in.doc.MediaPresentationDuration, 0); dur > 0 {
		endTime = tpl.PresentationTimeOffset + int64(dur.Seconds()*float64(timescale))
	}

	// Repeats entirely before the live window are skipped arithmetically, so
	// expansion cost tracks the window size rather than the stream age. A
	// long-running stream with r=-1 would otherwise materialize every segment
	// since availability start only to throw them away in trimToWindow.
	windowFloor := int64(math.MinInt64)
	if in.manifest.IsLive {
		if buffer := parseDurationOr(in.doc.TimeShiftBufferDepth, 0); buffer > 0 {
			windowFloor = endTime - int64(buffer.Seconds()*float64(timescale))
		} else if maxD := maxTimelineDuration(in.template.Timeline); maxD > 0 {
			windowFloor = endTime - int64(defaultLiveWindow)*maxD
		}
	}

	var segments []Segment
	number := startNumber
	var current int64
	for _, entry := range in.template.Timeline.Entries {
		if entry.T != nil {
			current = *entry.T
		}

		repeats := entry.R
		if repeats < 0 {
			if endTime <= current || entry.D <= 0 {
				repeats = 0
			} else {
				repeats = (endTime - current) / entry.D
			}
		}

		if entry.D > 0 && current < windowFloor {
			skip := (windowFloor - current) / entry.D
			if skip > 0 {
				// Keep one repeat straddling the floor so the trimmed
				// window never comes up short.
				skip--
			}
			if skip > repeats+1 {
				skip = repeats + 1
			}
			current += skip * entry.D
			number += skip
			repeats -= skip
		}

		for i := int64(0); i <= repeats; i++ {
			segments = append(segments, p.buildSegment(in, number, current, timescale))
			current += entry.D
			number++
		}
	}

	if in.manifest.IsLive {
		segments = p.trimToWindow(in, segments, timescale)
	}
	return segments
}

// expandNumbered derives segments from a fixed per-segment duration. For
// live manifests the window tracks the wall clock; for VOD the count comes
// from the presentation duration.
func (p *TimelineProcessor) expandNumbered(in expandInput) []Segment {
	tpl := in.template
	timescale := tpl.Timescale
	if timescale <= 0 {
		timescale = defaultTimescale
	}
	segSeconds := float64(tpl.Duration) / float64(timescale)
	if segSeconds <= 0 {
		return nil
	}

	startNumber := int64(1)
	if tpl.StartNumber != nil {
		startNumber = *tpl.StartNumber
	}

	if !in.manifest.IsLive {
		total := in.periodDur
		if total == 0 {
			total = parseDurationOr(in.doc.MediaPresentationDuration, 0)
		}
		if total <= 0 {
			return nil
		}
		count := int64(math.Ceil(total.Seconds() / segSeconds))
		segments := make([]Segment, 0, count)
		for i := int64(0); i < count; i++ {
			number := startNumber + i
			segments = append(segments, p.buildSegment(in, number, (number-startNumber)*tpl.Duration, timescale))
		}
		return segments
	}

	ast := availabilityStart(in.doc)
	elapsed := in.now.Sub(ast) - in.periodStart
	if elapsed < 0 {
		return nil
	}

	// Stay one segment behind the edge so the newest segment is complete.
	edge := startNumber + int64(elapsed.Seconds()/segSeconds) - 1
	if edge < startNumber {
		return nil
	}

	window := int64(defaultLiveWindow)
	if buffer := parseDurationOr(in.doc.TimeShiftBufferDepth, 0); buffer > 0 {
		window = int64(buffer.Seconds() / segSeconds)
		if window < 1 {
			window = 1
		}
	}

	first := edge - window + 1
	if first < startNumber {
		first = startNumber
	}

	segments := make([]Segment, 0, edge-first+1)
	for number := first; number <= edge; number++ {
		segments = append(segments, p.buildSegment(in, number, (number-startNumber)*tpl.Duration, timescale))
	}
	return segments
}

// buildSegment renders one segment from the template at the given number and
// presentation time (timescale units).
func (p *TimelineProcessor) buildSegment(in expandInput, number, presentationTime int64, timescale int64) Segment {
	tpl := in.template

	var duration float64
	if tpl.Timeline != nil {
		duration = timelineDurationAt(tpl.Timeline, presentationTime) / float64(timescale)
	}
	if duration == 0 {
		duration = float64(tpl.Duration) / float64(timescale)
	}

	seg := Segment{
		Media: resolveTemplate(in.base, tpl.Media, templateVars{
			RepresentationID: in.rep.ID,
			Number:           number,
			Time:             presentationTime,
			Bandwidth:        in.rep.Bandwidth,
		}),
		Duration: duration,
		Number:   number,
	}

	if in.manifest.IsLive {
		ast := availabilityStart(in.doc)
		offset := time.Duration(float64(presentationTime-tpl.PresentationTimeOffset) / float64(timescale) * float64(time.Second))
		seg.ProgramDateTime = ast.Add(in.periodStart + offset).UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return seg
}

// trimToWindow keeps the tail of a live timeline bounded by the time shift
// buffer, and stamps the HLS media sequence from the first kept segment.
func (p *TimelineProcessor) trimToWindow(in expandInput, segments []Segment, timescale int64) []Segment {
	if len(segments) == 0 {
		return segments
	}

	if buffer := parseDurationOr(in.doc.TimeShiftBufferDepth, 0); buffer > 0 {
		var total float64
		keep := len(segments)
		for keep > 0 && total < buffer.Seconds() {
			keep--
			total += segments[keep].Duration
		}
		segments = segments[keep:]
	} else if len(segments) > defaultLiveWindow {
		segments = segments[len(segments)-defaultLiveWindow:]
	}

	if len(segments) > 0 {
		sequence := segments[0].Number
		segments[0].MediaSequence = &sequence
	}
	return segments
}

// maxTimelineDuration returns the largest declared segment duration, in
// timescale units.
func maxTimelineDuration(timeline *SegmentTimeline) int64 {
	var max int64
	for _, entry := range timeline.Entries {
		if entry.D > max {
			max = entry.D
		}
	}
	return max
}

// timelineDurationAt finds the declared duration for the entry covering the
// given presentation time. Returns 0 when no entry matches.
func timelineDurationAt(timeline *SegmentTimeline, at int64) float64 {
	var current int64
	for _, entry := range timeline.Entries {
		if entry.T != nil {
			current = *entry.T
		}
		repeats := entry.R
		if repeats < 0 {
			if entry.D > 0 && at >= current {
				return float64(entry.D)
			}
			repeats = 0
		}
		span := entry.D * (repeats + 1)
		if at >= current && at < current+span {
			return float64(entry.D)
		}
		current += span
	}
	return 0
}

func (p *TimelineProcessor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// templateVars are the substitution values for a DASH URL template.
type templateVars struct {
	RepresentationID string
	Number           int64
	Time             int64
	Bandwidth        int64
}

var templateIdentifier = regexp.MustCompile(`\$(RepresentationID|Number|Time|Bandwidth)?(%0\d+d)?\$`)

// resolveTemplate substitutes DASH template identifiers, including padded
// forms like $Number%05d$, and resolves the result against base.
func resolveTemplate(base *url.URL, template string, vars templateVars) string {
	expanded := templateIdentifier.ReplaceAllStringFunc(template, func(match string) string {
		groups := templateIdentifier.FindStringSubmatch(match)
		name, format := groups[1], groups[2]
		if name == "" {
			// $$ escapes a literal dollar sign.
			return "$"
		}
		if format == "" {
			format = "%d"
		}
		switch name {
		case "RepresentationID":
			return vars.RepresentationID
		case "Number":
			return fmt.Sprintf(format, vars.Number)
		case "Time":
			return fmt.Sprintf(format, vars.Time)
		case "Bandwidth":
			return fmt.Sprintf(format, vars.Bandwidth)
		}
		return match
	})

	ref, err := url.Parse(expanded)
	if err != nil {
		return expanded
	}
	return base.ResolveReference(ref).String()
}

// resolveBase resolves each non-empty base URL fragment in order against the
// manifest URL, per DASH BaseURL nesting.
func resolveBase(base *url.URL, fragments ...string) *url.URL {
	resolved := base
	for _, fragment := range fragments {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			continue
		}
		ref, err := url.Parse(fragment)
		if err != nil {
			continue
		}
		resolved = resolved.ResolveReference(ref)
	}
	return resolved
}

func availabilityStart(doc *Document) time.Time {
	if doc.AvailabilityStartTime == "" {
		return time.Unix(0, 0).UTC()
	}
	t, err := time.Parse(time.RFC3339, doc.AvailabilityStartTime)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t
}

func defaultKID(protections []ContentProtection) string {
	for _, cp := range protections {
		if cp.DefaultKID != "" {
			return strings.ToLower(strings.ReplaceAll(cp.DefaultKID, "-", ""))
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseDurationOr(iso string, fallback time.Duration) time.Duration {
	if iso == "" {
		return fallback
	}
	d, err := parseISODuration(iso)
	if err != nil {
		return fallback
	}
	return d
}

var isoDuration = regexp.MustCompile(`^(-)?P(?:(\d+(?:\.\d+)?)Y)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// parseISODuration parses an ISO 8601 duration like PT6.006S. Years and
// months use the nominal 365/30 day lengths, which is what manifests in the
// wild expect.
func parseISODuration(s string) (time.Duration, error) {
	groups := isoDuration.FindStringSubmatch(strings.TrimSpace(s))
	if groups == nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	units := []time.Duration{
		365 * 24 * time.Hour, // years
		30 * 24 * time.Hour,  // months
		24 * time.Hour,       // days
		time.Hour,
		time.Minute,
		time.Second,
	}

	var total float64
	matched := false
	for i, unit := range units {
		field := groups[i+2]
		if field == "" {
			continue
		}
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += value * float64(unit)
		matched = true
	}
	if !matched {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	if groups[1] == "-" {
		total = -total
	}
	return time.Duration(total), nil
}
