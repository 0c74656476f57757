package replay

import (
	"github.com/banshee-data/navfusion/internal/config"
	"github.com/banshee-data/navfusion/internal/ekf"
)

// Predictor is a constant-velocity time update over the filter's fixed
// arrays. It stands in for the full strapdown prediction when replaying
// logs through the correction stage.
type Predictor struct {
	AccelNoise       float64 // m/s², white acceleration driving velocity
	BiasProcessNoise float64 // random walk on the IMU bias states

	InitialVelStdDev  float64
	InitialPosStdDev  float64
	InitialBiasStdDev float64
}

// PredictorFromConfig reads the process noise and initial uncertainty.
func PredictorFromConfig(cfg *config.TuningConfig) Predictor {
	return Predictor{
		AccelNoise:        cfg.GetAccelNoise(),
		BiasProcessNoise:  cfg.GetBiasProcessNoise(),
		InitialVelStdDev:  cfg.GetInitialVelStdDev(),
		InitialPosStdDev:  cfg.GetInitialPosStdDev(),
		InitialBiasStdDev: cfg.GetInitialBiasStdDev(),
	}
}

// InitialVariances returns the diagonal used to seed P.
func (p Predictor) InitialVariances() [ekf.NumStates]float64 {
	var v [ekf.NumStates]float64
	for i := range v {
		switch {
		case i <= ekf.VelD:
			v[i] = p.InitialVelStdDev * p.InitialVelStdDev
		case i <= ekf.PosD:
			v[i] = p.InitialPosStdDev * p.InitialPosStdDev
		default:
			v[i] = p.InitialBiasStdDev * p.InitialBiasStdDev
		}
	}
	return v
}

// Predict propagates the state and covariance by dt seconds:
// pos += vel·dt, P = F·P·Fᵀ + Q. Non-positive dt is a no-op.
func (p Predictor) Predict(f *ekf.Filter, dt float64) {
	if !(dt > 0) {
		return
	}

	for i := 0; i < 3; i++ {
		f.State[ekf.PosN+i] += f.State[ekf.VelN+i] * dt
	}

	// F = I + dt·E with E[pos_i][vel_i] = 1. Row operations give F·P,
	// column operations on the result give F·P·Fᵀ.
	for i := 0; i < 3; i++ {
		for c := 0; c < ekf.NumStates; c++ {
			f.P[ekf.PosN+i][c] += dt * f.P[ekf.VelN+i][c]
		}
	}
	for i := 0; i < 3; i++ {
		for r := 0; r < ekf.NumStates; r++ {
			f.P[r][ekf.PosN+i] += dt * f.P[r][ekf.VelN+i]
		}
	}

	velQ := sq(p.AccelNoise * dt)
	posQ := sq(0.5 * p.AccelNoise * dt * dt)
	biasQ := sq(p.BiasProcessNoise * dt)
	for i := 0; i < 3; i++ {
		f.P[ekf.VelN+i][ekf.VelN+i] += velQ
		f.P[ekf.PosN+i][ekf.PosN+i] += posQ
		f.P[ekf.GyroBiasX+i][ekf.GyroBiasX+i] += biasQ
		f.P[ekf.AccelBiasX+i][ekf.AccelBiasX+i] += biasQ
	}

	ekf.LimitsFromParams(f.Params).Repair(&f.P)
}

func sq(v float64) float64 { return v * v }
