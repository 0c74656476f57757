package ekf

import "fmt"

// HeightSource selects the sensor that feeds the height channel. Exactly one
// source is authoritative at a time; the control-mode logic picks it.
type HeightSource uint8

const (
	HeightNone HeightSource = iota
	HeightBaro
	HeightGPS
	HeightRange
	HeightVision
)

func (s HeightSource) String() string {
	switch s {
	case HeightNone:
		return "none"
	case HeightBaro:
		return "baro"
	case HeightGPS:
		return "gps"
	case HeightRange:
		return "range"
	case HeightVision:
		return "vision"
	}
	return fmt.Sprintf("height_source(%d)", uint8(s))
}

// ParseHeightSource maps a name produced by String back to its value.
func ParseHeightSource(name string) (HeightSource, error) {
	for s := HeightNone; s <= HeightVision; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return HeightNone, fmt.Errorf("unknown height source %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s HeightSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *HeightSource) UnmarshalText(b []byte) error {
	v, err := ParseHeightSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// GPSSample is a delayed GNSS measurement.
type GPSSample struct {
	TimeUS uint64     `json:"time_us"`
	Vel    [3]float64 `json:"vel"`    // NED velocity (m/s)
	PosNE  [2]float64 `json:"pos_ne"` // local NE position (m)
	Hgt    float64    `json:"hgt"`    // height above the altitude reference (m)
	HAcc   float64    `json:"hacc"`   // 1-sigma horizontal position accuracy (m)
	VAcc   float64    `json:"vacc"`   // 1-sigma vertical position accuracy (m)
	SAcc   float64    `json:"sacc"`   // 1-sigma speed accuracy (m/s)
}

// BaroSample is a delayed barometric height measurement.
type BaroSample struct {
	TimeUS uint64  `json:"time_us"`
	Hgt    float64 `json:"hgt"`
}

// RangeSample is a delayed rangefinder measurement along the sensor axis.
type RangeSample struct {
	TimeUS uint64  `json:"time_us"`
	Rng    float64 `json:"rng"`
}

// VisionSample is a delayed external-vision position in the local NED frame.
type VisionSample struct {
	TimeUS uint64     `json:"time_us"`
	PosNED [3]float64 `json:"pos_ned"`
	PosErr float64    `json:"pos_err"` // 1-sigma position error (m)
}

// ControlStatus carries the control-mode flags consumed by the fusion stage.
type ControlStatus struct {
	HeightSource   HeightSource `json:"height_source"`
	GroundEffect   bool         `json:"gnd_effect"`
	TiltAlign      bool         `json:"tilt_align"`
	FuseHposAsOdom bool         `json:"fuse_hpos_as_odom"`
}

// FusionRequest holds the single-shot fusion requests for one cycle. All
// fields are cleared by FuseVelPosHeight whatever the outcome.
type FusionRequest struct {
	HorVel    bool `json:"hor_vel"`
	HorVelAux bool `json:"hor_vel_aux"`
	VertVel   bool `json:"vert_vel"`
	Pos       bool `json:"pos"`
	Height    bool `json:"height"`
}

// Any reports whether any fusion is requested.
func (r FusionRequest) Any() bool {
	return r.HorVel || r.HorVelAux || r.VertVel || r.Pos || r.Height
}

// Aiding holds values the surrounding estimator computes before each cycle.
// Innovations follow the predicted-minus-measured convention.
type Aiding struct {
	VelPosInnov   [NumChannels]float64 `json:"vel_pos_innov"`
	AuxVelInnov   [2]float64           `json:"aux_vel_innov"`
	VelObsVarNE   [2]float64           `json:"vel_obs_var_ne"`
	HvelInnovGate float64              `json:"hvel_innov_gate"`
	PosObsNoiseNE float64              `json:"pos_obs_noise_ne"`
	PosInnovGate  float64              `json:"pos_innov_gate"`

	BaroHgtOffset   float64 `json:"baro_hgt_offset"`
	HgtSensorOffset float64 `json:"hgt_sensor_offset"`
	GPSAltRef       float64 `json:"gps_alt_ref"`
	// RngToEarthCos is element [2][2] of the range sensor to earth rotation,
	// the cosine of the angle between the sensor axis and local down.
	RngToEarthCos float64 `json:"rng_to_earth_cos"`
}
