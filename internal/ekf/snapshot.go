package ekf

// DebugSnapshot is a read-only copy of the height-fusion debug values and
// the per-channel status, for an external reporter.
//
// The measurement fields are expressed on the down axis so that
// PosDEstimate - measurement equals the raw height innovation for that
// sensor.
type DebugSnapshot struct {
	TimeUS       uint64       `json:"time_us"`
	PosDEstimate float64      `json:"pos_d_estimate"`
	HeightSource HeightSource `json:"height_source"`

	// BaroMeasurementD is -hgt + BaroHgtOffset + HgtSensorOffset. The offsets
	// enter with the opposite sign to a sensor-frame value such as
	// -hgt - baro_offset - sensor_offset, so the two do not compare directly.
	BaroMeasurementD float64 `json:"baro_measurement_d"`
	BaroHgtOffset    float64 `json:"baro_hgt_offset"`
	// RangeMeasurementD is -rangeHeight + HgtSensorOffset, not the
	// sensor-frame -hgt - sensor_offset.
	RangeMeasurementD float64 `json:"range_measurement_d"`
	HgtSensorOffset   float64 `json:"hgt_sensor_offset"`
	RangeAiding       bool    `json:"range_aiding"`

	Innov     [NumChannels]float64 `json:"innov"`
	InnovVar  [NumChannels]float64 `json:"innov_var"`
	TestRatio [NumChannels]float64 `json:"test_ratio"`

	InnovCheck InnovCheckFailStatus `json:"innov_check"`
	Faults     FaultStatus          `json:"faults"`
	Times      FusionTimes          `json:"times"`
}

// Snapshot captures the current debug values. It does not modify the filter.
func (f *Filter) Snapshot() DebugSnapshot {
	a := &f.Aiding
	return DebugSnapshot{
		TimeUS:       f.timeLastIMU,
		PosDEstimate: f.State[PosD],
		HeightSource: f.Control.HeightSource,

		BaroMeasurementD:  -f.baroSample.Hgt + a.BaroHgtOffset + a.HgtSensorOffset,
		BaroHgtOffset:     a.BaroHgtOffset,
		RangeMeasurementD: -rangeHeight(f.rangeSample.Rng, a.RngToEarthCos, f.Params.RngGndClearance) + a.HgtSensorOffset,
		HgtSensorOffset:   a.HgtSensorOffset,
		RangeAiding:       f.Control.HeightSource == HeightRange,

		Innov:     f.Innovations.Innov,
		InnovVar:  f.Innovations.InnovVar,
		TestRatio: f.Innovations.TestRatio,

		InnovCheck: f.InnovCheck,
		Faults:     f.Faults,
		Times:      f.Times,
	}
}
