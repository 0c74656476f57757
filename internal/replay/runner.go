package replay

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/navfusion/internal/ekf"
	"github.com/banshee-data/navfusion/internal/monitoring"
	"github.com/banshee-data/navfusion/internal/telemetry"
)

// Summary aggregates the outcome of a replay.
type Summary struct {
	Frames int `json:"frames"`
	Cycles int `json:"cycles"` // frames with at least one request

	Active    [ekf.NumChannels]int `json:"active"`
	Fused     [ekf.NumChannels]int `json:"fused"`
	Unhealthy [ekf.NumChannels]int `json:"unhealthy"`

	VelRejects int `json:"vel_rejects"`
	PosRejects int `json:"pos_rejects"`
	HgtRejects int `json:"hgt_rejects"`

	HeightNoSource      int `json:"height_no_source"`
	HeightExcessiveTilt int `json:"height_excessive_tilt"`

	// MinEigenvalue of P after the last frame; NaN if the decomposition
	// failed.
	MinEigenvalue float64         `json:"min_eigenvalue"`
	FinalState    ekf.StateVector `json:"final_state"`
}

// Runner drives a Filter through recorded frames.
type Runner struct {
	filter    *ekf.Filter
	predictor Predictor
	sink      telemetry.Sink
}

// NewRunner returns a runner publishing one snapshot per frame to sink.
// A nil sink discards snapshots.
func NewRunner(filter *ekf.Filter, predictor Predictor, sink telemetry.Sink) *Runner {
	if sink == nil {
		sink = telemetry.Discard
	}
	return &Runner{filter: filter, predictor: predictor, sink: sink}
}

// Run replays frames in order. It stops at the first sink error or when
// ctx is cancelled, returning the summary so far.
func (r *Runner) Run(ctx context.Context, frames []Frame) (Summary, error) {
	var (
		sum    Summary
		prevUS uint64
	)
	f := r.filter

	for i := range frames {
		if err := ctx.Err(); err != nil {
			return r.finish(sum), err
		}
		fr := &frames[i]

		dt := fr.DtS
		if dt == 0 && i > 0 && fr.TimeUS > prevUS {
			dt = float64(fr.TimeUS-prevUS) / 1e6
		}
		prevUS = fr.TimeUS
		r.predictor.Predict(f, dt)

		r.prepare(fr)

		sum.Frames++
		if fr.Request.Any() {
			sum.Cycles++
		}
		res := f.FuseVelPosHeight()
		r.account(&sum, fr, res)

		if err := r.sink.Publish(ctx, f.Snapshot()); err != nil {
			return r.finish(sum), fmt.Errorf("publish frame %d: %w", i, err)
		}
	}
	return r.finish(sum), nil
}

// prepare loads one frame into the filter and derives the aiding inputs
// the surrounding estimator would normally compute.
func (r *Runner) prepare(fr *Frame) {
	f := r.filter
	p := &f.Params

	f.SetIMUTime(fr.TimeUS)
	f.Control = fr.Control

	a := &f.Aiding
	a.BaroHgtOffset = fr.BaroHgtOffset
	a.HgtSensorOffset = fr.HgtSensorOffset
	a.GPSAltRef = fr.GPSAltRef
	a.RngToEarthCos = 1
	if fr.RngToEarthCos != nil {
		a.RngToEarthCos = *fr.RngToEarthCos
	}

	if fr.GPS != nil {
		g := *fr.GPS
		f.SetGPSSample(g)
		for i := 0; i < 3; i++ {
			a.VelPosInnov[ekf.ChanVelN+ekf.Channel(i)] = f.State[ekf.VelN+i] - g.Vel[i]
		}
		a.VelPosInnov[ekf.ChanPosN] = f.State[ekf.PosN] - g.PosNE[0]
		a.VelPosInnov[ekf.ChanPosE] = f.State[ekf.PosE] - g.PosNE[1]

		velR := sq(math.Max(g.SAcc, p.GPSVelNoise))
		a.VelObsVarNE = [2]float64{velR, velR}
		lower := math.Max(p.GPSPosNoise, 0.01)
		a.PosObsNoiseNE = math.Min(math.Max(g.HAcc, lower), math.Max(p.PosNoaidNoise, lower))
	}
	a.HvelInnovGate = math.Max(p.VelInnovGate, 1)
	a.PosInnovGate = math.Max(p.PosInnovGate, 1)

	if fr.AuxVelNE != nil {
		a.AuxVelInnov[0] = f.State[ekf.VelN] - fr.AuxVelNE[0]
		a.AuxVelInnov[1] = f.State[ekf.VelE] - fr.AuxVelNE[1]
		if fr.GPS == nil {
			velR := sq(math.Max(p.GPSVelNoise, 0.01))
			a.VelObsVarNE = [2]float64{velR, velR}
		}
	}

	if fr.Baro != nil {
		f.SetBaroSample(*fr.Baro)
	}
	if fr.Range != nil {
		f.SetRangeSample(*fr.Range)
	}
	if fr.Vision != nil {
		f.SetVisionSample(*fr.Vision)
	}

	f.RequestFusion(fr.Request)
}

func (r *Runner) account(sum *Summary, fr *Frame, res ekf.CycleResult) {
	f := r.filter
	for ch := ekf.ChanVelN; ch < ekf.NumChannels; ch++ {
		if res.Active[ch] {
			sum.Active[ch]++
		}
		if res.Fused[ch] {
			sum.Fused[ch]++
		}
		if res.Unhealthy[ch] {
			sum.Unhealthy[ch]++
			monitoring.Logf("replay: t=%d %s correction refused, covariance unhealthy", fr.TimeUS, ch)
		}
	}

	if (res.Active[ekf.ChanVelN] || res.Active[ekf.ChanVelD]) && !res.VelPass {
		sum.VelRejects++
		monitoring.Debugf("replay: t=%d velocity rejected, ratios %.3g/%.3g/%.3g", fr.TimeUS,
			f.Innovations.TestRatio[ekf.ChanVelN], f.Innovations.TestRatio[ekf.ChanVelE], f.Innovations.TestRatio[ekf.ChanVelD])
	}
	if res.Active[ekf.ChanPosN] && !res.PosPass {
		sum.PosRejects++
		monitoring.Debugf("replay: t=%d position rejected, ratios %.3g/%.3g", fr.TimeUS,
			f.Innovations.TestRatio[ekf.ChanPosN], f.Innovations.TestRatio[ekf.ChanPosE])
	}
	if res.Active[ekf.ChanPosD] && !res.HgtPass {
		sum.HgtRejects++
		monitoring.Debugf("replay: t=%d %s height rejected, ratio %.3g", fr.TimeUS,
			fr.Control.HeightSource, f.Innovations.TestRatio[ekf.ChanPosD])
	}

	switch res.HeightSkipped {
	case ekf.HeightNoSource:
		sum.HeightNoSource++
	case ekf.HeightExcessiveTilt:
		sum.HeightExcessiveTilt++
		monitoring.Debugf("replay: t=%d range height skipped, tilt cosine %.3f", fr.TimeUS, f.Aiding.RngToEarthCos)
	}
}

func (r *Runner) finish(sum Summary) Summary {
	sum.FinalState = r.filter.State
	sum.MinEigenvalue = math.NaN()
	if v, ok := ekf.MinEigenvalue(&r.filter.P); ok {
		sum.MinEigenvalue = v
	}
	return sum
}
