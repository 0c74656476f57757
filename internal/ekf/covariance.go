package ekf

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// VarianceLimits is the default CovarianceRepairer. It re-symmetrises P and
// bounds each variance to [0, limit] for its state group.
type VarianceLimits struct {
	Vel   float64
	Pos   float64
	Other float64
}

// LimitsFromParams returns the variance limits configured in p.
func LimitsFromParams(p Params) VarianceLimits {
	return VarianceLimits{
		Vel:   p.VelVarianceMax,
		Pos:   p.PosVarianceMax,
		Other: p.OtherVarianceMax,
	}
}

func (l VarianceLimits) limit(i int) float64 {
	switch {
	case i <= VelD:
		return l.Vel
	case i <= PosD:
		return l.Pos
	}
	return l.Other
}

// Repair implements CovarianceRepairer.
func (l VarianceLimits) Repair(p *Covariance) {
	for i := 0; i < NumStates; i++ {
		d := p[i][i]
		if d < 0 || math.IsNaN(d) {
			// A state with no variance cannot be correlated with anything.
			p.ZeroRowCol(i)
			continue
		}
		if lim := l.limit(i); lim > 0 && d > lim {
			p[i][i] = lim
		}
	}
	for i := 0; i < NumStates; i++ {
		for j := i + 1; j < NumStates; j++ {
			avg := 0.5 * (p[i][j] + p[j][i])
			p[i][j] = avg
			p[j][i] = avg
		}
	}
}

// MinEigenvalue returns the smallest eigenvalue of the symmetric part of P.
// ok is false if the decomposition fails. It allocates and is meant for
// diagnostics, not for the fusion path.
func MinEigenvalue(p *Covariance) (float64, bool) {
	data := make([]float64, NumStates*NumStates)
	for i := 0; i < NumStates; i++ {
		for j := 0; j < NumStates; j++ {
			data[i*NumStates+j] = 0.5 * (p[i][j] + p[j][i])
		}
	}
	sym := mat.NewSymDense(NumStates, data)

	var eig mat.EigenSym
	if !eig.Factorize(sym, false) {
		return 0, false
	}
	values := eig.Values(nil)
	lo := values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
	}
	return lo, true
}

// IsFinite reports whether every element of P is finite.
func (p *Covariance) IsFinite() bool {
	for i := 0; i < NumStates; i++ {
		for j := 0; j < NumStates; j++ {
			if math.IsNaN(p[i][j]) || math.IsInf(p[i][j], 0) {
				return false
			}
		}
	}
	return true
}

// IsFinite reports whether every state is finite.
func (s *StateVector) IsFinite() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
