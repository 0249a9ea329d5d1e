package motor

import "escore/core"

// Mode is the top-level motor state
type Mode uint32

const (
	Stopped Mode = iota
	OpenLoop
	ClosedLoop
)

func (m Mode) String() string {
	switch m {
	case Stopped:
		return "STOPPED"
	case OpenLoop:
		return "OPEN_LOOP"
	case ClosedLoop:
		return "CLOSED_LOOP"
	default:
		return "UNKNOWN"
	}
}

// CommutationContext is the commutation state shared between the fast
// loop, the one-shot handlers and the slow loop
type CommutationContext struct {
	Step      uint8
	Direction core.Direction
	Duty      float32

	CommArmed           bool // a closed-loop commutation is pending
	TransitionScheduled bool // the handover commutation is pending
	HandoverArmed       bool
}

// Snapshot is a consistent copy of the controller state for telemetry
type Snapshot struct {
	Mode          Mode
	Direction     core.Direction
	Step          uint8
	Duty          float32
	FloatingPhase core.Phase

	MeasuredRPM  float32
	TargetRPM    float32
	CommandedRPM float32
	RampSlope    float32

	PeriodUS       float32
	BemfValid      bool
	ReversePending bool
	Aligning       bool

	ZeroCrosses      uint32
	ValidZeroCrosses uint32
	Commutations     uint32
	Handovers        uint32
	StartAttempts    uint32
	StartupFailures  uint32
}

// Summary formats the snapshot as one log line
func (s Snapshot) Summary() string {
	valid := "0"
	if s.BemfValid {
		valid = "1"
	}
	return "mode=" + s.Mode.String() +
		" dir=" + s.Direction.String() +
		" rpm=" + core.Ftoa(s.MeasuredRPM, 0) +
		" target=" + core.Ftoa(s.TargetRPM, 0) +
		" cmd=" + core.Ftoa(s.CommandedRPM, 0) +
		" duty=" + core.Ftoa(s.Duty, 3) +
		" period=" + core.Ftoa(s.PeriodUS, 1) +
		" valid=" + valid +
		" zc=" + core.Utoa(s.ZeroCrosses) +
		" comm=" + core.Utoa(s.Commutations) +
		" valid_zc=" + core.Utoa(s.ValidZeroCrosses)
}
