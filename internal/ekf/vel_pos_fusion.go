package ekf

import "math"

// HeightSkipReason explains why the height channel was not built in a cycle.
type HeightSkipReason uint8

const (
	HeightBuilt HeightSkipReason = iota
	HeightNotRequested
	HeightNoSource
	HeightExcessiveTilt
)

func (r HeightSkipReason) String() string {
	switch r {
	case HeightBuilt:
		return "built"
	case HeightNotRequested:
		return "not_requested"
	case HeightNoSource:
		return "no_source"
	case HeightExcessiveTilt:
		return "excessive_tilt"
	}
	return "unknown"
}

// CycleResult summarises one correction cycle for monitoring. It carries no
// state of its own; the authoritative status lives on the Filter.
type CycleResult struct {
	Active    [NumChannels]bool // channel built this cycle
	Fused     [NumChannels]bool // state and covariance corrected
	Unhealthy [NumChannels]bool // correction refused by the health guard

	VelPass bool
	PosPass bool
	HgtPass bool

	HeightSkipped HeightSkipReason
}

// FusedAny reports whether any channel corrected the state.
func (r CycleResult) FusedAny() bool {
	for _, ok := range r.Fused {
		if ok {
			return true
		}
	}
	return false
}

// TestRatio returns innov² / (gate² · innovVar). A ratio above 1 means the
// innovation lies outside the gate. A non-positive or non-finite denominator
// yields +Inf so the observation can never pass.
func TestRatio(innov, gate, innovVar float64) float64 {
	den := gate * gate * innovVar
	if !(den > 0) || math.IsInf(den, 0) {
		return math.Inf(1)
	}
	return innov * innov / den
}

// ApplyDeadzone applies the ground-effect dead-band to a barometric height
// innovation. Innovations in (-deadzone, 0) become 0, those at or below
// -deadzone move toward zero by deadzone; positive values pass unchanged.
func ApplyDeadzone(innov, deadzone float64) float64 {
	if innov < 0 {
		if innov <= -deadzone {
			return innov + deadzone
		}
		return 0
	}
	return innov
}

// FuseVelPosHeight runs one correction cycle over the velocity, horizontal
// position and height channels. Requests are consumed whatever the outcome.
//
// Innovations are predicted minus measured, so an accepted observation
// corrects the state by -K·innovation.
func (f *Filter) FuseVelPosHeight() CycleResult {
	var (
		res      CycleResult
		fuseMap  [NumChannels]bool
		R        [NumChannels]float64
		gateSize [NumChannels]float64
		ratio    [NumChannels]float64 // this cycle only; inactive channels stay 0
	)
	innov := f.Aiding.VelPosInnov
	req := f.Request

	if req.HorVel || req.HorVelAux {
		fuseMap[ChanVelN], fuseMap[ChanVelE] = true, true

		// Auxiliary velocity substitutes for GNSS when only it is requested.
		if !req.HorVel {
			innov[ChanVelN] = f.Aiding.AuxVelInnov[0]
			innov[ChanVelE] = f.Aiding.AuxVelInnov[1]
		}

		R[ChanVelN] = f.Aiding.VelObsVarNE[0]
		R[ChanVelE] = f.Aiding.VelObsVarNE[1]
		gateSize[ChanVelN] = f.Aiding.HvelInnovGate
		gateSize[ChanVelE] = f.Aiding.HvelInnovGate
	}

	if req.VertVel {
		fuseMap[ChanVelD] = true
		// Receiver speed accuracy scaled by a typical VDOP/HDOP ratio, floored
		// by the parameter.
		r := math.Max(f.Params.GPSVelNoise, noiseFloor)
		r = vdopHdopRatio * math.Max(r, f.gpsSample.SAcc)
		R[ChanVelD] = r * r
		gateSize[ChanVelD] = math.Max(f.Params.VelInnovGate, minGateSize)
	}

	if req.Pos {
		fuseMap[ChanPosN], fuseMap[ChanPosE] = true, true
		R[ChanPosN] = sq(f.Aiding.PosObsNoiseNE)
		R[ChanPosE] = R[ChanPosN]
		gateSize[ChanPosN] = f.Aiding.PosInnovGate
		gateSize[ChanPosE] = f.Aiding.PosInnovGate
	}

	res.HeightSkipped = HeightNotRequested
	if req.Height {
		hInnov, hR, hGate, reason := f.heightObservation()
		res.HeightSkipped = reason
		if reason == HeightBuilt {
			fuseMap[ChanPosD] = true
			innov[ChanPosD] = hInnov
			R[ChanPosD] = hR
			gateSize[ChanPosD] = hGate
		}
	}

	for ch := ChanVelN; ch < NumChannels; ch++ {
		if !fuseMap[ch] {
			continue
		}
		s := ch.StateIndex()
		innovVar := f.P[s][s] + R[ch]
		ratio[ch] = TestRatio(innov[ch], gateSize[ch], innovVar)

		f.Innovations.Innov[ch] = innov[ch]
		f.Innovations.InnovVar[ch] = innovVar
		f.Innovations.TestRatio[ch] = ratio[ch]
	}
	res.Active = fuseMap

	// 3D velocity, 2D position and height are checked as separate sensors.
	// Position and height bypass the check until tilt alignment completes.
	res.VelPass = ratio[ChanVelN] <= 1 && ratio[ChanVelE] <= 1 && ratio[ChanVelD] <= 1
	res.PosPass = (ratio[ChanPosN] <= 1 && ratio[ChanPosE] <= 1) || !f.Control.TiltAlign
	res.HgtPass = ratio[ChanPosD] <= 1 || !f.Control.TiltAlign

	pass := [NumChannels]bool{
		res.VelPass, res.VelPass, res.VelPass,
		res.PosPass, res.PosPass,
		res.HgtPass,
	}

	now := f.timeLastIMU
	if fuseMap[ChanVelN] || fuseMap[ChanVelD] {
		if res.VelPass {
			f.Times.LastVelFuseUS = now
			f.InnovCheck.RejectVelNED = false
		} else {
			f.InnovCheck.RejectVelNED = true
		}
	}
	if fuseMap[ChanPosN] {
		if res.PosPass {
			if f.Control.FuseHposAsOdom {
				f.Times.LastDelPosFuseUS = now
			} else {
				f.Times.LastPosFuseUS = now
			}
			f.InnovCheck.RejectPosNE = false
		} else {
			f.InnovCheck.RejectPosNE = true
		}
	}
	if fuseMap[ChanPosD] {
		if res.HgtPass {
			f.Times.LastHgtFuseUS = now
			f.InnovCheck.RejectPosD = false
		} else {
			f.InnovCheck.RejectPosD = true
		}
	}

	f.Request = FusionRequest{}

	var attempt [NumChannels]bool
	attempted := false
	for ch := ChanVelN; ch < NumChannels; ch++ {
		innovVar := f.Innovations.InnovVar[ch]
		attempt[ch] = fuseMap[ch] && pass[ch] &&
			innovVar > 0 && !math.IsInf(innovVar, 0) &&
			!math.IsNaN(innov[ch]) && !math.IsInf(innov[ch], 0)
		attempted = attempted || attempt[ch]
	}

	// Per-state flags describe the whole cycle: reset once, then every
	// violation found by any channel is kept.
	if attempted {
		f.Faults.BadState = [NumStates]bool{}
	}

	for ch := ChanVelN; ch < NumChannels; ch++ {
		if !attempt[ch] {
			continue
		}
		innovVar := f.Innovations.InnovVar[ch]
		healthy := f.fuseScalar(ch, innov[ch], innovVar)
		res.Fused[ch] = healthy
		res.Unhealthy[ch] = !healthy
	}

	return res
}

// heightObservation builds the height innovation, observation variance and
// gate for the active height source.
func (f *Filter) heightObservation() (innov, r, gate float64, reason HeightSkipReason) {
	p := &f.Params
	a := &f.Aiding
	posD := f.State[PosD]

	switch f.Control.HeightSource {
	case HeightBaro:
		// Baro height is positive up, the state is positive down.
		innov = posD + f.baroSample.Hgt - a.BaroHgtOffset - a.HgtSensorOffset
		r = sq(math.Max(p.BaroNoise, noiseFloor))
		gate = math.Max(p.BaroInnovGate, minGateSize)

		// Rotor wash near the ground raises static pressure and produces
		// negative innovations.
		if f.Control.GroundEffect {
			innov = ApplyDeadzone(innov, p.GndEffectDeadzone)
		}

	case HeightGPS:
		innov = posD + f.gpsSample.Hgt - a.GPSAltRef - a.HgtSensorOffset
		lower := math.Max(p.GPSPosNoise, noiseFloor)
		upper := math.Max(p.PosNoaidNoise, lower)
		r = sq(vdopHdopRatio * clamp(f.gpsSample.VAcc, lower, upper))
		// Shares the barometer gate parameter.
		gate = math.Max(p.BaroInnovGate, minGateSize)

	case HeightRange:
		cosTilt := a.RngToEarthCos
		if !(cosTilt > p.RangeCosMaxTilt) {
			return 0, 0, 0, HeightExcessiveTilt
		}
		innov = posD + rangeHeight(f.rangeSample.Rng, cosTilt, p.RngGndClearance) - a.HgtSensorOffset
		r = math.Max((sq(p.RangeNoise)+sq(p.RangeNoiseScaler*f.rangeSample.Rng))*sq(cosTilt), noiseFloor)
		gate = math.Max(p.RangeInnovGate, minGateSize)

	case HeightVision:
		innov = posD - f.visionSample.PosNED[2]
		r = sq(math.Max(f.visionSample.PosErr, noiseFloor))
		gate = math.Max(p.EVInnovGate, minGateSize)

	default:
		return 0, 0, 0, HeightNoSource
	}

	return innov, r, gate, HeightBuilt
}

// fuseScalar applies one scalar observation of state ch.StateIndex() using
// sequential fusion. It returns false when the health guard refused the
// correction.
func (f *Filter) fuseScalar(ch Channel, innov, innovVar float64) bool {
	s := ch.StateIndex()

	// Kalman gain K = P·Hᵀ / S. H selects a single state, so P·Hᵀ is column s.
	var k [NumStates]float64
	for row := 0; row < NumStates; row++ {
		k[row] = f.P[row][s] / innovVar
	}

	// KHP = K · (row s of P)
	var khp Covariance
	for row := 0; row < NumStates; row++ {
		for col := 0; col < NumStates; col++ {
			khp[row][col] = k[row] * f.P[s][col]
		}
	}

	// A correction that would make any variance negative means P is
	// unhealthy: decorrelate the offending states and skip this observation.
	// Flags are only raised here; FuseVelPosHeight clears them per cycle.
	healthy := true
	for i := 0; i < NumStates; i++ {
		if f.P[i][i] < khp[i][i] {
			f.P.ZeroRowCol(i)
			f.Faults.BadState[i] = true
			healthy = false
		}
	}
	f.Faults.setChannel(ch, !healthy)
	if !healthy {
		return false
	}

	for row := 0; row < NumStates; row++ {
		for col := 0; col < NumStates; col++ {
			f.P[row][col] -= khp[row][col]
		}
	}
	f.repair.Repair(&f.P)

	for i := 0; i < NumStates; i++ {
		f.State[i] -= k[i] * innov
	}
	return true
}

// rangeHeight returns the height above ground implied by a slant range,
// floored at the minimum ground clearance.
func rangeHeight(rng, cosTilt, clearance float64) float64 {
	return math.Max(rng*cosTilt, clearance)
}

func sq(v float64) float64 { return v * v }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
