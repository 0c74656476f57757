package ekf

import "fmt"

// NumStates is the length of the filter state vector.
const NumStates = 14

// State vector layout. Velocity and position are NED, metres and m/s.
const (
	VelN = iota
	VelE
	VelD
	PosN
	PosE
	PosD
	GyroBiasX
	GyroBiasY
	GyroBiasZ
	AccelBiasX
	AccelBiasY
	AccelBiasZ
	WindN
	WindE
)

// StateVector is the filter state estimate.
type StateVector [NumStates]float64

// Covariance is the state error covariance matrix, row-major.
type Covariance [NumStates][NumStates]float64

// ZeroRowCol zeroes row i and column i, decorrelating state i from the rest.
func (p *Covariance) ZeroRowCol(i int) {
	for k := 0; k < NumStates; k++ {
		p[i][k] = 0
		p[k][i] = 0
	}
}

// Diagonal returns a copy of the variances.
func (p *Covariance) Diagonal() [NumStates]float64 {
	var d [NumStates]float64
	for i := 0; i < NumStates; i++ {
		d[i] = p[i][i]
	}
	return d
}

// SetDiagonal resets P to a diagonal matrix with the given variances.
func (p *Covariance) SetDiagonal(d [NumStates]float64) {
	*p = Covariance{}
	for i := 0; i < NumStates; i++ {
		p[i][i] = d[i]
	}
}

// Channel identifies one of the six scalar observation slots.
type Channel int

const (
	ChanVelN Channel = iota
	ChanVelE
	ChanVelD
	ChanPosN
	ChanPosE
	ChanPosD

	// NumChannels is the number of observation slots fused per cycle.
	NumChannels = 6
)

// StateIndex returns the state observed directly by the channel.
func (c Channel) StateIndex() int {
	return VelN + int(c)
}

func (c Channel) String() string {
	switch c {
	case ChanVelN:
		return "vel_n"
	case ChanVelE:
		return "vel_e"
	case ChanVelD:
		return "vel_d"
	case ChanPosN:
		return "pos_n"
	case ChanPosE:
		return "pos_e"
	case ChanPosD:
		return "pos_d"
	}
	return fmt.Sprintf("channel(%d)", int(c))
}
