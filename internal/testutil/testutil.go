// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/navfusion/internal/ekf"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertDiagonalNonNegative fails the test if any variance in p is negative
// or not finite.
func AssertDiagonalNonNegative(t testing.TB, p *ekf.Covariance) {
	t.Helper()
	for i := 0; i < ekf.NumStates; i++ {
		d := p[i][i]
		if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			t.Errorf("P[%d][%d] = %g, want finite and >= 0", i, i, d)
		}
	}
}

// AssertSymmetric fails the test if p differs from its transpose by more
// than tol anywhere.
func AssertSymmetric(t testing.TB, p *ekf.Covariance, tol float64) {
	t.Helper()
	for i := 0; i < ekf.NumStates; i++ {
		for j := i + 1; j < ekf.NumStates; j++ {
			if math.Abs(p[i][j]-p[j][i]) > tol {
				t.Errorf("P[%d][%d] = %g but P[%d][%d] = %g", i, j, p[i][j], j, i, p[j][i])
			}
		}
	}
}

// AssertCovarianceHealthy combines the diagonal and symmetry checks.
func AssertCovarianceHealthy(t testing.TB, p *ekf.Covariance, tol float64) {
	t.Helper()
	AssertDiagonalNonNegative(t, p)
	AssertSymmetric(t, p, tol)
}

// DiagonalCovariance returns a covariance with every variance set to v.
func DiagonalCovariance(v float64) ekf.Covariance {
	var d [ekf.NumStates]float64
	for i := range d {
		d[i] = v
	}
	var p ekf.Covariance
	p.SetDiagonal(d)
	return p
}
