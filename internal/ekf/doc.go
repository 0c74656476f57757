// Package ekf owns the measurement-update (correction) stage of the
// navigation filter.
//
// Responsibilities: building innovations, observation variances and gate
// sizes for the velocity, horizontal position and height channels, grouped
// innovation consistency checks, and sequential scalar Kalman corrections
// with a covariance health guard.
// Key types: Filter, StateVector, Covariance, HeightSource.
//
// Dependency rule: the time update, sensor buffering and control-mode logic
// live outside this package and talk to it only through the Filter's inputs.
// No I/O is allowed here; fusion cycles run on fixed-size arrays.
package ekf
