package ekf

// Innovations holds the per-channel innovation statistics of the most recent
// cycle in which each channel was active. They are kept for logging.
type Innovations struct {
	Innov     [NumChannels]float64
	InnovVar  [NumChannels]float64
	TestRatio [NumChannels]float64
}

// FusionTimes records the IMU time of the last successful fusion per group.
type FusionTimes struct {
	LastVelFuseUS    uint64
	LastPosFuseUS    uint64 // absolute position
	LastDelPosFuseUS uint64 // position fused as odometry
	LastHgtFuseUS    uint64
}

// InnovCheckFailStatus flags groups whose last consistency check failed.
type InnovCheckFailStatus struct {
	RejectVelNED bool
	RejectPosNE  bool
	RejectPosD   bool
}

// FaultStatus flags numerical faults found by the covariance health guard.
// Channel flags persist until the channel next fuses cleanly; BadState marks
// the states whose variance any correction in the last fusing cycle would
// have driven negative.
type FaultStatus struct {
	BadVelN bool
	BadVelE bool
	BadVelD bool
	BadPosN bool
	BadPosE bool
	BadPosD bool

	BadState [NumStates]bool
}

func (f *FaultStatus) setChannel(ch Channel, bad bool) {
	switch ch {
	case ChanVelN:
		f.BadVelN = bad
	case ChanVelE:
		f.BadVelE = bad
	case ChanVelD:
		f.BadVelD = bad
	case ChanPosN:
		f.BadPosN = bad
	case ChanPosE:
		f.BadPosE = bad
	case ChanPosD:
		f.BadPosD = bad
	}
}

// Channel reports the fault flag for ch.
func (f FaultStatus) Channel(ch Channel) bool {
	switch ch {
	case ChanVelN:
		return f.BadVelN
	case ChanVelE:
		return f.BadVelE
	case ChanVelD:
		return f.BadVelD
	case ChanPosN:
		return f.BadPosN
	case ChanPosE:
		return f.BadPosE
	case ChanPosD:
		return f.BadPosD
	}
	return false
}

// CovarianceRepairer corrects gross errors in P after every healthy
// correction. Implementations must work in place and must not allocate.
type CovarianceRepairer interface {
	Repair(p *Covariance)
}

// Filter owns the state estimate, its covariance and all cross-cycle status
// of the correction stage. A Filter is not safe for concurrent use; the time
// update and FuseVelPosHeight must be serialised by the caller.
type Filter struct {
	State StateVector
	P     Covariance

	Params  Params
	Control ControlStatus
	Request FusionRequest
	Aiding  Aiding

	gpsSample    GPSSample
	baroSample   BaroSample
	rangeSample  RangeSample
	visionSample VisionSample
	timeLastIMU  uint64

	Innovations Innovations
	Times       FusionTimes
	InnovCheck  InnovCheckFailStatus
	Faults      FaultStatus

	repair CovarianceRepairer
}

// Option configures a Filter.
type Option func(*Filter)

// WithRepairer replaces the default covariance repair routine.
func WithRepairer(r CovarianceRepairer) Option {
	return func(f *Filter) {
		f.repair = r
	}
}

// WithInitialCovariance seeds P with the given diagonal variances.
func WithInitialCovariance(variances [NumStates]float64) Option {
	return func(f *Filter) {
		f.P.SetDiagonal(variances)
	}
}

// NewFilter creates a filter with a zero state and the given parameters.
func NewFilter(params Params, opts ...Option) *Filter {
	f := &Filter{Params: params}
	f.repair = LimitsFromParams(params)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetGPSSample stores the GNSS sample at the fusion time horizon.
func (f *Filter) SetGPSSample(s GPSSample) { f.gpsSample = s }

// SetBaroSample stores the barometer sample at the fusion time horizon.
func (f *Filter) SetBaroSample(s BaroSample) { f.baroSample = s }

// SetRangeSample stores the rangefinder sample at the fusion time horizon.
func (f *Filter) SetRangeSample(s RangeSample) { f.rangeSample = s }

// SetVisionSample stores the external vision sample at the fusion time horizon.
func (f *Filter) SetVisionSample(s VisionSample) { f.visionSample = s }

// SetIMUTime sets the timestamp recorded against successful fusions.
func (f *Filter) SetIMUTime(us uint64) { f.timeLastIMU = us }

// IMUTime returns the current IMU timestamp in microseconds.
func (f *Filter) IMUTime() uint64 { return f.timeLastIMU }

// RequestFusion merges r into the pending requests.
func (f *Filter) RequestFusion(r FusionRequest) {
	f.Request.HorVel = f.Request.HorVel || r.HorVel
	f.Request.HorVelAux = f.Request.HorVelAux || r.HorVelAux
	f.Request.VertVel = f.Request.VertVel || r.VertVel
	f.Request.Pos = f.Request.Pos || r.Pos
	f.Request.Height = f.Request.Height || r.Height
}
