package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/banshee-data/navfusion/internal/ekf"
)

// maxLineBytes bounds a single JSON-lines record.
const maxLineBytes = 1 << 20

// Frame is one estimator cycle of a recorded log: the samples that reached
// the fusion time horizon, the control flags and the requested fusions.
type Frame struct {
	TimeUS uint64 `json:"time_us"`
	// DtS overrides the prediction interval. When zero the interval is the
	// difference to the previous frame's TimeUS.
	DtS float64 `json:"dt,omitempty"`

	Control ekf.ControlStatus `json:"control"`
	Request ekf.FusionRequest `json:"request"`

	GPS    *ekf.GPSSample    `json:"gps,omitempty"`
	Baro   *ekf.BaroSample   `json:"baro,omitempty"`
	Range  *ekf.RangeSample  `json:"range,omitempty"`
	Vision *ekf.VisionSample `json:"vision,omitempty"`
	// AuxVelNE is a horizontal velocity measurement from an auxiliary
	// source, used when Request.HorVelAux is set.
	AuxVelNE *[2]float64 `json:"aux_vel_ne,omitempty"`

	BaroHgtOffset   float64 `json:"baro_hgt_offset,omitempty"`
	HgtSensorOffset float64 `json:"hgt_sensor_offset,omitempty"`
	GPSAltRef       float64 `json:"gps_alt_ref,omitempty"`
	// RngToEarthCos defaults to 1 (sensor pointing straight down).
	RngToEarthCos *float64 `json:"rng_to_earth_cos,omitempty"`
}

// Validate checks that every requested observation has a measurement.
func (fr *Frame) Validate() error {
	r := fr.Request
	if (r.HorVel || r.VertVel || r.Pos) && fr.GPS == nil {
		return fmt.Errorf("GNSS fusion requested without a gps sample")
	}
	if r.HorVelAux && !r.HorVel && fr.AuxVelNE == nil {
		return fmt.Errorf("auxiliary velocity fusion requested without aux_vel_ne")
	}
	if r.Height {
		var missing bool
		switch fr.Control.HeightSource {
		case ekf.HeightBaro:
			missing = fr.Baro == nil
		case ekf.HeightGPS:
			missing = fr.GPS == nil
		case ekf.HeightRange:
			missing = fr.Range == nil
		case ekf.HeightVision:
			missing = fr.Vision == nil
		}
		if missing {
			return fmt.Errorf("height fusion from %s requested without a sample", fr.Control.HeightSource)
		}
	}
	if fr.DtS < 0 {
		return fmt.Errorf("dt must be non-negative, got %g", fr.DtS)
	}
	return nil
}

// ReadFrames parses a JSON-lines log. Blank lines and lines starting with
// '#' are skipped. Frames must be in non-decreasing time order.
func ReadFrames(r io.Reader) ([]Frame, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		frames []Frame
		lineNo int
	)
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(line))
		dec.DisallowUnknownFields()
		var fr Frame
		if err := dec.Decode(&fr); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := fr.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if n := len(frames); n > 0 && fr.TimeUS < frames[n-1].TimeUS {
			return nil, fmt.Errorf("line %d: time_us %d precedes previous frame %d", lineNo, fr.TimeUS, frames[n-1].TimeUS)
		}
		frames = append(frames, fr)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	return frames, nil
}
