package core

// Phase identifies one of the three motor phases
type Phase uint8

const (
	PhaseA Phase = iota
	PhaseB
	PhaseC
	PhaseCount
)

func (p Phase) Valid() bool { return p < PhaseCount }

func (p Phase) String() string {
	switch p {
	case PhaseA:
		return "A"
	case PhaseB:
		return "B"
	case PhaseC:
		return "C"
	default:
		return "?"
	}
}

// OutputState is the drive state of one inverter half-bridge
type OutputState uint8

const (
	// Floating turns both switches off (high impedance)
	Floating OutputState = iota
	// PWMActive runs complementary PWM on the half-bridge
	PWMActive
	ForcedHigh
	ForcedLow
	// PWMHighOnly modulates the high side, low side off
	PWMHighOnly
	// PWMLowOnly holds the low side on, high side off
	PWMLowOnly
)

func (s OutputState) String() string {
	switch s {
	case Floating:
		return "Z"
	case PWMActive:
		return "PWM"
	case ForcedHigh:
		return "HI"
	case ForcedLow:
		return "LO"
	case PWMHighOnly:
		return "H"
	case PWMLowOnly:
		return "L"
	default:
		return "?"
	}
}

// Direction of rotation
type Direction uint8

const (
	Clockwise Direction = iota
	CounterClockwise
)

func (d Direction) Reverse() Direction {
	if d == Clockwise {
		return CounterClockwise
	}
	return Clockwise
}

func (d Direction) String() string {
	if d == Clockwise {
		return "CW"
	}
	return "CCW"
}

// Duties holds per-phase duty cycles in [0,1], indexed by Phase
type Duties [PhaseCount]float32

// Inverter is the three-phase power stage. Platform code implements it on
// top of the PWM peripheral; the simulator implements it on the plant.
type Inverter interface {
	// SetOutputState sets the drive state of one phase
	SetOutputState(phase Phase, state OutputState)

	// SetAllDuties applies all three duties in one update
	SetAllDuties(d Duties)

	// Arm readies the gate driver (clears latched faults)
	Arm()

	// Enable turns the bridge outputs on
	Enable()

	// Disable turns every output off (all phases floating)
	Disable()
}
