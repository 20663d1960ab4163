package mpd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT10S">
  <Period>
    <AdaptationSet mimeType="video/mp4" lang="en">
      <Representation id="video-1" bandwidth="2000000" width="1920" height="1080" codecs="avc1.640028" frameRate="25">
        <SegmentTemplate media="video/$Number$.m4s" initialization="video/init.mp4" timescale="1" duration="2" startNumber="1"/>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

func TestDocumentParser_Parse(t *testing.T) {
	raw, err := DocumentParser{}.Parse([]byte(sampleMPD))
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "static", doc.Type)
	assert.Equal(t, "PT10S", doc.MediaPresentationDuration)
	require.Len(t, doc.Periods, 1)
	require.Len(t, doc.Periods[0].AdaptationSets, 1)

	set := doc.Periods[0].AdaptationSets[0]
	assert.Equal(t, "video/mp4", set.MimeType)
	require.Len(t, set.Representations, 1)

	rep := set.Representations[0]
	assert.Equal(t, "video-1", rep.ID)
	assert.Equal(t, int64(2000000), rep.Bandwidth)
	require.NotNil(t, rep.SegmentTemplate)
	assert.Equal(t, "video/$Number$.m4s", rep.SegmentTemplate.Media)
	require.NotNil(t, rep.SegmentTemplate.StartNumber)
	assert.Equal(t, int64(1), *rep.SegmentTemplate.StartNumber)
}

func TestDocumentParser_RejectsNonManifest(t *testing.T) {
	_, err := DocumentParser{}.Parse([]byte("<html><body>not a manifest</body></html>"))
	assert.Error(t, err)
}

func TestDocumentParser_RejectsEmpty(t *testing.T) {
	_, err := DocumentParser{}.Parse(nil)
	assert.Error(t, err)
}
