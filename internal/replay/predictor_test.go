package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/navfusion/internal/config"
	"github.com/banshee-data/navfusion/internal/ekf"
	"github.com/banshee-data/navfusion/internal/testutil"
)

func TestPredictorFromConfig(t *testing.T) {
	t.Parallel()
	p := PredictorFromConfig(config.EmptyTuningConfig())

	assert.Equal(t, 0.35, p.AccelNoise)
	assert.Equal(t, 0.001, p.BiasProcessNoise)

	v := p.InitialVariances()
	assert.InDelta(t, 0.25, v[ekf.VelE], 1e-12)
	assert.InDelta(t, 0.25, v[ekf.PosD], 1e-12)
	assert.InDelta(t, 1e-4, v[ekf.AccelBiasZ], 1e-12)
	assert.InDelta(t, 1e-4, v[ekf.WindE], 1e-12)
}

func TestPredictor_Predict(t *testing.T) {
	t.Parallel()

	t.Run("propagates position and covariance", func(t *testing.T) {
		t.Parallel()
		f := ekf.NewFilter(ekf.DefaultParams())
		f.P = testutil.DiagonalCovariance(1)
		f.State[ekf.VelN] = 2
		f.State[ekf.VelD] = -1

		Predictor{}.Predict(f, 0.5)

		assert.InDelta(t, 1.0, f.State[ekf.PosN], 1e-12)
		assert.InDelta(t, -0.5, f.State[ekf.PosD], 1e-12)
		// F·I·Fᵀ: pos variance 1 + dt², pos/vel covariance dt.
		assert.InDelta(t, 1.25, f.P[ekf.PosN][ekf.PosN], 1e-12)
		assert.InDelta(t, 0.5, f.P[ekf.PosN][ekf.VelN], 1e-12)
		assert.InDelta(t, 0.5, f.P[ekf.VelN][ekf.PosN], 1e-12)
		assert.InDelta(t, 1.0, f.P[ekf.VelN][ekf.VelN], 1e-12)
		assert.Zero(t, f.P[ekf.PosN][ekf.VelE])
		testutil.AssertCovarianceHealthy(t, &f.P, 1e-12)
	})

	t.Run("adds process noise", func(t *testing.T) {
		t.Parallel()
		f := ekf.NewFilter(ekf.DefaultParams())
		p := Predictor{AccelNoise: 2, BiasProcessNoise: 0.1}

		p.Predict(f, 0.5)

		assert.InDelta(t, 1.0, f.P[ekf.VelE][ekf.VelE], 1e-12)
		assert.InDelta(t, 0.0625, f.P[ekf.PosE][ekf.PosE], 1e-12)
		assert.InDelta(t, 0.0025, f.P[ekf.GyroBiasY][ekf.GyroBiasY], 1e-12)
		assert.InDelta(t, 0.0025, f.P[ekf.AccelBiasX][ekf.AccelBiasX], 1e-12)
		assert.Zero(t, f.P[ekf.WindN][ekf.WindN])
	})

	t.Run("clamps to variance limits", func(t *testing.T) {
		t.Parallel()
		f := ekf.NewFilter(ekf.DefaultParams())
		f.P[ekf.VelN][ekf.VelN] = 999.9

		Predictor{AccelNoise: 10}.Predict(f, 1)

		assert.Equal(t, f.Params.VelVarianceMax, f.P[ekf.VelN][ekf.VelN])
	})

	t.Run("non-positive dt is a no-op", func(t *testing.T) {
		t.Parallel()
		f := ekf.NewFilter(ekf.DefaultParams())
		f.P = testutil.DiagonalCovariance(1)
		f.State[ekf.VelN] = 3
		before := *f

		Predictor{AccelNoise: 1}.Predict(f, 0)
		Predictor{AccelNoise: 1}.Predict(f, -1)

		assert.Equal(t, before.State, f.State)
		assert.Equal(t, before.P, f.P)
	})
}
