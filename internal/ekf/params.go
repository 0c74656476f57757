package ekf

import "github.com/banshee-data/navfusion/internal/config"

// Internal numerical constants, not user-tunable.
const (
	// noiseFloor is the lower bound applied to every observation noise (m or m/s).
	noiseFloor = 0.01
	// minGateSize is the smallest innovation gate, in standard deviations.
	minGateSize = 1.0
	// vdopHdopRatio scales horizontal accuracy figures to vertical ones.
	vdopHdopRatio = 1.5
)

// Params holds the tunable scalars used to build observation variances and
// gate sizes.
type Params struct {
	GPSVelNoise   float64 // m/s
	GPSPosNoise   float64 // m
	PosNoaidNoise float64 // m

	BaroNoise         float64 // m
	BaroInnovGate     float64 // SD
	GndEffectDeadzone float64 // m

	VelInnovGate float64 // SD
	PosInnovGate float64 // SD

	RangeNoise       float64 // m
	RangeNoiseScaler float64 // m/m
	RangeInnovGate   float64 // SD
	RangeCosMaxTilt  float64
	RngGndClearance  float64 // m

	EVInnovGate float64 // SD

	VelVarianceMax   float64
	PosVarianceMax   float64
	OtherVarianceMax float64
}

// DefaultParams returns the built-in defaults.
func DefaultParams() Params {
	return ParamsFromConfig(config.EmptyTuningConfig())
}

// ParamsFromConfig builds Params from a loaded TuningConfig.
func ParamsFromConfig(cfg *config.TuningConfig) Params {
	return Params{
		GPSVelNoise:       cfg.GetGPSVelNoise(),
		GPSPosNoise:       cfg.GetGPSPosNoise(),
		PosNoaidNoise:     cfg.GetPosNoaidNoise(),
		BaroNoise:         cfg.GetBaroNoise(),
		BaroInnovGate:     cfg.GetBaroInnovGate(),
		GndEffectDeadzone: cfg.GetGndEffectDeadzone(),
		VelInnovGate:      cfg.GetVelInnovGate(),
		PosInnovGate:      cfg.GetPosInnovGate(),
		RangeNoise:        cfg.GetRangeNoise(),
		RangeNoiseScaler:  cfg.GetRangeNoiseScaler(),
		RangeInnovGate:    cfg.GetRangeInnovGate(),
		RangeCosMaxTilt:   cfg.GetRangeCosMaxTilt(),
		RngGndClearance:   cfg.GetRngGndClearance(),
		EVInnovGate:       cfg.GetEVInnovGate(),
		VelVarianceMax:    cfg.GetVelVarianceMax(),
		PosVarianceMax:    cfg.GetPosVarianceMax(),
		OtherVarianceMax:  cfg.GetOtherVarianceMax(),
	}
}
