package testutil

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/banshee-data/navfusion/internal/ekf"
)

// recordingT captures failures without stopping the calling goroutine.
type recordingT struct {
	testing.TB
	failed bool
	msgs   []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...any) {
	r.failed = true
	r.msgs = append(r.msgs, fmt.Sprintf(format, args...))
}

func (r *recordingT) Fatalf(format string, args ...any) {
	r.Errorf(format, args...)
}

func (r *recordingT) Fatal(args ...any) {
	r.failed = true
	r.msgs = append(r.msgs, fmt.Sprint(args...))
}

func TestAssertNoError(t *testing.T) {
	rt := &recordingT{TB: t}
	AssertNoError(rt, nil)
	if rt.failed {
		t.Error("expected no failure for nil error")
	}

	AssertNoError(rt, errors.New("boom"))
	if !rt.failed {
		t.Error("expected failure for non-nil error")
	}
}

func TestAssertError(t *testing.T) {
	rt := &recordingT{TB: t}
	AssertError(rt, errors.New("something wrong"))
	if rt.failed {
		t.Error("expected no failure when error is present")
	}

	AssertError(rt, nil)
	if !rt.failed {
		t.Error("expected failure for nil error")
	}
}

func TestAssertCovarianceHealthy(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		rt := &recordingT{TB: t}
		p := DiagonalCovariance(1)
		p[0][1], p[1][0] = 0.2, 0.2
		AssertCovarianceHealthy(rt, &p, 1e-12)
		if rt.failed {
			t.Errorf("unexpected failure: %v", rt.msgs)
		}
	})

	t.Run("negative variance", func(t *testing.T) {
		rt := &recordingT{TB: t}
		p := DiagonalCovariance(1)
		p[ekf.PosD][ekf.PosD] = -1e-9
		AssertDiagonalNonNegative(rt, &p)
		if !rt.failed {
			t.Error("expected failure for negative variance")
		}
	})

	t.Run("nan variance", func(t *testing.T) {
		rt := &recordingT{TB: t}
		p := DiagonalCovariance(1)
		p[ekf.VelN][ekf.VelN] = math.NaN()
		AssertDiagonalNonNegative(rt, &p)
		if !rt.failed {
			t.Error("expected failure for NaN variance")
		}
	})

	t.Run("asymmetric", func(t *testing.T) {
		rt := &recordingT{TB: t}
		p := DiagonalCovariance(1)
		p[2][3] = 0.5
		AssertSymmetric(rt, &p, 1e-6)
		if !rt.failed {
			t.Error("expected failure for asymmetric matrix")
		}
	})
}

func TestDiagonalCovariance(t *testing.T) {
	p := DiagonalCovariance(2.5)
	for i := 0; i < ekf.NumStates; i++ {
		for j := 0; j < ekf.NumStates; j++ {
			want := 0.0
			if i == j {
				want = 2.5
			}
			if p[i][j] != want {
				t.Fatalf("P[%d][%d] = %g, want %g", i, j, p[i][j], want)
			}
		}
	}
}
