package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical fusion tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/fusion.defaults.json"

// TuningConfig represents the root configuration for the fusion stage and
// the replay time update. Every field is optional; the Get* accessors supply
// defaults for anything left out of the JSON.
type TuningConfig struct {
	// GNSS observation noise
	GPSVelNoise   *float64 `json:"gps_vel_noise,omitempty"`   // m/s
	GPSPosNoise   *float64 `json:"gps_pos_noise,omitempty"`   // m
	PosNoaidNoise *float64 `json:"pos_noaid_noise,omitempty"` // m

	// Barometer
	BaroNoise         *float64 `json:"baro_noise,omitempty"` // m
	BaroInnovGate     *float64 `json:"baro_innov_gate,omitempty"`
	GndEffectDeadzone *float64 `json:"gnd_effect_deadzone,omitempty"` // m

	// Velocity and position gates
	VelInnovGate *float64 `json:"vel_innov_gate,omitempty"`
	PosInnovGate *float64 `json:"pos_innov_gate,omitempty"`

	// Rangefinder
	RangeNoise       *float64 `json:"range_noise,omitempty"`        // m
	RangeNoiseScaler *float64 `json:"range_noise_scaler,omitempty"` // m/m
	RangeInnovGate   *float64 `json:"range_innov_gate,omitempty"`
	RangeCosMaxTilt  *float64 `json:"range_cos_max_tilt,omitempty"`
	RngGndClearance  *float64 `json:"rng_gnd_clearance,omitempty"` // m

	// External vision
	EVInnovGate *float64 `json:"ev_innov_gate,omitempty"`

	// Covariance repair limits
	VelVarianceMax   *float64 `json:"vel_variance_max,omitempty"`
	PosVarianceMax   *float64 `json:"pos_variance_max,omitempty"`
	OtherVarianceMax *float64 `json:"other_variance_max,omitempty"`

	// Replay time update
	AccelNoise        *float64 `json:"accel_noise,omitempty"`         // m/s^2
	BiasProcessNoise  *float64 `json:"bias_process_noise,omitempty"`  // per sqrt(s)
	InitialVelStdDev  *float64 `json:"initial_vel_std_dev,omitempty"` // m/s
	InitialPosStdDev  *float64 `json:"initial_pos_std_dev,omitempty"` // m
	InitialBiasStdDev *float64 `json:"initial_bias_std_dev,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		GPSVelNoise:       ptrFloat64(e.GetGPSVelNoise()),
		GPSPosNoise:       ptrFloat64(e.GetGPSPosNoise()),
		PosNoaidNoise:     ptrFloat64(e.GetPosNoaidNoise()),
		BaroNoise:         ptrFloat64(e.GetBaroNoise()),
		BaroInnovGate:     ptrFloat64(e.GetBaroInnovGate()),
		GndEffectDeadzone: ptrFloat64(e.GetGndEffectDeadzone()),
		VelInnovGate:      ptrFloat64(e.GetVelInnovGate()),
		PosInnovGate:      ptrFloat64(e.GetPosInnovGate()),
		RangeNoise:        ptrFloat64(e.GetRangeNoise()),
		RangeNoiseScaler:  ptrFloat64(e.GetRangeNoiseScaler()),
		RangeInnovGate:    ptrFloat64(e.GetRangeInnovGate()),
		RangeCosMaxTilt:   ptrFloat64(e.GetRangeCosMaxTilt()),
		RngGndClearance:   ptrFloat64(e.GetRngGndClearance()),
		EVInnovGate:       ptrFloat64(e.GetEVInnovGate()),
		VelVarianceMax:    ptrFloat64(e.GetVelVarianceMax()),
		PosVarianceMax:    ptrFloat64(e.GetPosVarianceMax()),
		OtherVarianceMax:  ptrFloat64(e.GetOtherVarianceMax()),
		AccelNoise:        ptrFloat64(e.GetAccelNoise()),
		BiasProcessNoise:  ptrFloat64(e.GetBiasProcessNoise()),
		InitialVelStdDev:  ptrFloat64(e.GetInitialVelStdDev()),
		InitialPosStdDev:  ptrFloat64(e.GetInitialPosStdDev()),
		InitialBiasStdDev: ptrFloat64(e.GetInitialBiasStdDev()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"gps_vel_noise", c.GPSVelNoise},
		{"gps_pos_noise", c.GPSPosNoise},
		{"pos_noaid_noise", c.PosNoaidNoise},
		{"baro_noise", c.BaroNoise},
		{"gnd_effect_deadzone", c.GndEffectDeadzone},
		{"range_noise", c.RangeNoise},
		{"range_noise_scaler", c.RangeNoiseScaler},
		{"rng_gnd_clearance", c.RngGndClearance},
		{"accel_noise", c.AccelNoise},
		{"bias_process_noise", c.BiasProcessNoise},
		{"initial_vel_std_dev", c.InitialVelStdDev},
		{"initial_pos_std_dev", c.InitialPosStdDev},
		{"initial_bias_std_dev", c.InitialBiasStdDev},
	}
	for _, f := range nonNegative {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", f.name, *f.v)
		}
	}

	positive := []struct {
		name string
		v    *float64
	}{
		{"baro_innov_gate", c.BaroInnovGate},
		{"vel_innov_gate", c.VelInnovGate},
		{"pos_innov_gate", c.PosInnovGate},
		{"range_innov_gate", c.RangeInnovGate},
		{"ev_innov_gate", c.EVInnovGate},
		{"vel_variance_max", c.VelVarianceMax},
		{"pos_variance_max", c.PosVarianceMax},
		{"other_variance_max", c.OtherVarianceMax},
	}
	for _, f := range positive {
		if f.v != nil && *f.v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", f.name, *f.v)
		}
	}

	if c.RangeCosMaxTilt != nil {
		if *c.RangeCosMaxTilt < 0 || *c.RangeCosMaxTilt > 1 {
			return fmt.Errorf("range_cos_max_tilt must be between 0 and 1, got %f", *c.RangeCosMaxTilt)
		}
	}

	return nil
}

// GetGPSVelNoise returns the gps_vel_noise value or the default.
func (c *TuningConfig) GetGPSVelNoise() float64 {
	if c.GPSVelNoise == nil {
		return 0.5
	}
	return *c.GPSVelNoise
}

// GetGPSPosNoise returns the gps_pos_noise value or the default.
func (c *TuningConfig) GetGPSPosNoise() float64 {
	if c.GPSPosNoise == nil {
		return 0.5
	}
	return *c.GPSPosNoise
}

// GetPosNoaidNoise returns the pos_noaid_noise value or the default.
func (c *TuningConfig) GetPosNoaidNoise() float64 {
	if c.PosNoaidNoise == nil {
		return 10.0
	}
	return *c.PosNoaidNoise
}

// GetBaroNoise returns the baro_noise value or the default.
func (c *TuningConfig) GetBaroNoise() float64 {
	if c.BaroNoise == nil {
		return 2.0
	}
	return *c.BaroNoise
}

// GetBaroInnovGate returns the baro_innov_gate value or the default.
func (c *TuningConfig) GetBaroInnovGate() float64 {
	if c.BaroInnovGate == nil {
		return 5.0
	}
	return *c.BaroInnovGate
}

// GetGndEffectDeadzone returns the gnd_effect_deadzone value or the default.
func (c *TuningConfig) GetGndEffectDeadzone() float64 {
	if c.GndEffectDeadzone == nil {
		return 5.0
	}
	return *c.GndEffectDeadzone
}

// GetVelInnovGate returns the vel_innov_gate value or the default.
func (c *TuningConfig) GetVelInnovGate() float64 {
	if c.VelInnovGate == nil {
		return 5.0
	}
	return *c.VelInnovGate
}

// GetPosInnovGate returns the pos_innov_gate value or the default.
func (c *TuningConfig) GetPosInnovGate() float64 {
	if c.PosInnovGate == nil {
		return 5.0
	}
	return *c.PosInnovGate
}

// GetRangeNoise returns the range_noise value or the default.
func (c *TuningConfig) GetRangeNoise() float64 {
	if c.RangeNoise == nil {
		return 0.1
	}
	return *c.RangeNoise
}

// GetRangeNoiseScaler returns the range_noise_scaler value or the default.
func (c *TuningConfig) GetRangeNoiseScaler() float64 {
	if c.RangeNoiseScaler == nil {
		return 0
	}
	return *c.RangeNoiseScaler
}

// GetRangeInnovGate returns the range_innov_gate value or the default.
func (c *TuningConfig) GetRangeInnovGate() float64 {
	if c.RangeInnovGate == nil {
		return 5.0
	}
	return *c.RangeInnovGate
}

// GetRangeCosMaxTilt returns the range_cos_max_tilt value or the default.
func (c *TuningConfig) GetRangeCosMaxTilt() float64 {
	if c.RangeCosMaxTilt == nil {
		return 0.7071 // 45 degrees
	}
	return *c.RangeCosMaxTilt
}

// GetRngGndClearance returns the rng_gnd_clearance value or the default.
func (c *TuningConfig) GetRngGndClearance() float64 {
	if c.RngGndClearance == nil {
		return 0.1
	}
	return *c.RngGndClearance
}

// GetEVInnovGate returns the ev_innov_gate value or the default.
func (c *TuningConfig) GetEVInnovGate() float64 {
	if c.EVInnovGate == nil {
		return 5.0
	}
	return *c.EVInnovGate
}

// GetVelVarianceMax returns the vel_variance_max value or the default.
func (c *TuningConfig) GetVelVarianceMax() float64 {
	if c.VelVarianceMax == nil {
		return 1e3
	}
	return *c.VelVarianceMax
}

// GetPosVarianceMax returns the pos_variance_max value or the default.
func (c *TuningConfig) GetPosVarianceMax() float64 {
	if c.PosVarianceMax == nil {
		return 1e6
	}
	return *c.PosVarianceMax
}

// GetOtherVarianceMax returns the other_variance_max value or the default.
func (c *TuningConfig) GetOtherVarianceMax() float64 {
	if c.OtherVarianceMax == nil {
		return 1.0
	}
	return *c.OtherVarianceMax
}

// GetAccelNoise returns the accel_noise value or the default.
func (c *TuningConfig) GetAccelNoise() float64 {
	if c.AccelNoise == nil {
		return 0.35
	}
	return *c.AccelNoise
}

// GetBiasProcessNoise returns the bias_process_noise value or the default.
func (c *TuningConfig) GetBiasProcessNoise() float64 {
	if c.BiasProcessNoise == nil {
		return 1e-3
	}
	return *c.BiasProcessNoise
}

// GetInitialVelStdDev returns the initial_vel_std_dev value or the default.
func (c *TuningConfig) GetInitialVelStdDev() float64 {
	if c.InitialVelStdDev == nil {
		return 0.5
	}
	return *c.InitialVelStdDev
}

// GetInitialPosStdDev returns the initial_pos_std_dev value or the default.
func (c *TuningConfig) GetInitialPosStdDev() float64 {
	if c.InitialPosStdDev == nil {
		return 0.5
	}
	return *c.InitialPosStdDev
}

// GetInitialBiasStdDev returns the initial_bias_std_dev value or the default.
func (c *TuningConfig) GetInitialBiasStdDev() float64 {
	if c.InitialBiasStdDev == nil {
		return 0.01
	}
	return *c.InitialBiasStdDev
}
