package replay

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/navfusion/internal/ekf"
)

func TestReadFrames_Testdata(t *testing.T) {
	t.Parallel()
	fh, err := os.Open("testdata/hover.jsonl")
	require.NoError(t, err)
	defer fh.Close()

	frames, err := ReadFrames(fh)
	require.NoError(t, err)
	require.Len(t, frames, 40)

	first := frames[0]
	assert.Equal(t, uint64(1_000_000), first.TimeUS)
	assert.Equal(t, ekf.HeightBaro, first.Control.HeightSource)
	assert.False(t, first.Control.TiltAlign)
	require.NotNil(t, first.GPS)
	assert.Equal(t, [2]float64{0.2, -0.1}, first.GPS.PosNE)
	assert.Nil(t, first.RngToEarthCos)

	tilted := frames[35]
	assert.Equal(t, ekf.HeightRange, tilted.Control.HeightSource)
	require.NotNil(t, tilted.RngToEarthCos)
	assert.Equal(t, 0.5, *tilted.RngToEarthCos)
}

func TestReadFrames_SkipsBlankAndComments(t *testing.T) {
	t.Parallel()
	in := "# header\n\n{\"time_us\":1}\n   \n# trailing\n{\"time_us\":2,\"dt\":0.01}\n"

	frames, err := ReadFrames(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, 0.01, frames[1].DtS)
}

func TestReadFrames_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"bad json", `{"time_us":`, "line 1"},
		{"unknown field", `{"time_us":1,"altitude":3}`, "unknown field"},
		{"unknown height source", `{"time_us":1,"control":{"height_source":"sonar"}}`, "line 1"},
		{"out of order", "{\"time_us\":5}\n{\"time_us\":4}", "line 2: time_us 4 precedes"},
		{"gnss request without sample", `{"time_us":1,"request":{"pos":true}}`, "without a gps sample"},
		{"aux without measurement", `{"time_us":1,"request":{"hor_vel_aux":true}}`, "aux_vel_ne"},
		{"height without sample", `{"time_us":1,"control":{"height_source":"range"},"request":{"height":true}}`, "range"},
		{"negative dt", `{"time_us":1,"dt":-0.1}`, "non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadFrames(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFrame_ValidateHeightNone(t *testing.T) {
	t.Parallel()
	// With no height source the filter reports the skip itself.
	fr := Frame{Request: ekf.FusionRequest{Height: true}}
	assert.NoError(t, fr.Validate())
}
