package core

// Measurements is one synchronised set of raw ADC samples
type Measurements struct {
	PhaseVoltage [PhaseCount]uint16
	PhaseCurrent [PhaseCount]uint16
	BusVoltage   uint16
}

// MotorSensor provides the latest sampled measurements. ok is false when no
// new sample has been produced since the last call.
type MotorSensor interface {
	Latest() (m Measurements, ok bool)
}
