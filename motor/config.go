package motor

import (
	"time"

	"escore/bemf"
	"escore/ramp"
)

// OpenLoopConfig is the startup ramp
type OpenLoopConfig struct {
	DutyStart   float32
	DutyEnd     float32
	FreqStartHz float32
	FreqEndHz   float32
	Duration    time.Duration
	Profile     ramp.Profile
}

// PIDConfig holds the speed loop gains and limits
type PIDConfig struct {
	Kp, Ki, Kd      float32
	Dt              float32
	OutMin, OutMax  float32
	IntegratorLimit float32
}

// Config is the complete controller tuning
type Config struct {
	PolePairs uint8

	// Closed-loop commutation fires LeadFactor periods after a crossing,
	// clamped to [CommDelayMinUS, CommDelayMaxUS]
	LeadFactor     float32
	CommDelayMinUS uint32
	CommDelayMaxUS uint32

	// Handover needs HandoverMinEvents consecutive crossings on the
	// expected phase at or above HandoverMinHz electrical
	HandoverMinEvents uint8
	HandoverMinHz     float32
	HandoverMinDuty   float32

	// RPM per slow-loop tick
	RampSlope    float32
	RampSlopeMin float32
	RampSlopeMax float32

	ReverseBelowRPM float32
	ReportFloorRPM  float32

	AlignDuty     float32
	AlignDuration time.Duration

	// Realign-and-ramp attempts after a ramp ends without handover
	StartRetries uint8

	OpenLoop OpenLoopConfig
	PID      PIDConfig
	BEMF     bemf.Config
}

// DefaultConfig returns the tuning for a 6 pole-pair outrunner on a 12-bit
// ADC
func DefaultConfig() Config {
	return Config{
		PolePairs:         6,
		LeadFactor:        0.45,
		CommDelayMinUS:    80,
		CommDelayMaxUS:    30000,
		HandoverMinEvents: 4,
		HandoverMinHz:     200,
		HandoverMinDuty:   0.20,
		RampSlope:         10,
		RampSlopeMin:      1,
		RampSlopeMax:      500,
		ReverseBelowRPM:   400,
		ReportFloorRPM:    300,
		AlignDuty:         0.10,
		AlignDuration:     500 * time.Millisecond,
		StartRetries:      2,
		OpenLoop: OpenLoopConfig{
			DutyStart:   0.5,
			DutyEnd:     0.6,
			FreqStartHz: 25,
			FreqEndHz:   500,
			Duration:    1000 * time.Millisecond,
			Profile:     ramp.Exponential,
		},
		PID: PIDConfig{
			Kp:              0.0005,
			Ki:              0.001,
			Kd:              0,
			Dt:              0.001,
			OutMin:          0.05,
			OutMax:          0.95,
			IntegratorLimit: 0.5,
		},
		BEMF: bemf.DefaultConfig(),
	}
}
