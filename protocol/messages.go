package protocol

import "fmt"

// Status flag bits
const (
	FlagBemfValid uint8 = 1 << iota
	FlagReversePending
	FlagAligning
)

// Status is the wire form of the controller snapshot. Speeds are whole
// RPM, duty is per-mille.
type Status struct {
	Mode            uint8
	Direction       uint8
	Step            uint8
	FloatingPhase   uint8
	DutyPermille    uint16
	MeasuredRPM     int32
	TargetRPM       int32
	CommandedRPM    int32
	RampSlope       uint32
	PeriodUS        uint32
	Flags           uint8
	ZeroCrosses     uint32
	Commutations    uint32
	Handovers       uint32
	StartupFailures uint32
}

// Encode writes the status arguments (without the response id)
func (s *Status) Encode(out OutputBuffer) {
	EncodeVLQUint(out, uint32(s.Mode))
	EncodeVLQUint(out, uint32(s.Direction))
	EncodeVLQUint(out, uint32(s.Step))
	EncodeVLQUint(out, uint32(s.FloatingPhase))
	EncodeVLQUint(out, uint32(s.DutyPermille))
	EncodeVLQInt(out, s.MeasuredRPM)
	EncodeVLQInt(out, s.TargetRPM)
	EncodeVLQInt(out, s.CommandedRPM)
	EncodeVLQUint(out, s.RampSlope)
	EncodeVLQUint(out, s.PeriodUS)
	EncodeVLQUint(out, uint32(s.Flags))
	EncodeVLQUint(out, s.ZeroCrosses)
	EncodeVLQUint(out, s.Commutations)
	EncodeVLQUint(out, s.Handovers)
	EncodeVLQUint(out, s.StartupFailures)
}

// DecodeStatus reads status arguments
func DecodeStatus(data *[]byte) (Status, error) {
	var s Status
	var v [15]uint32
	for i := range v {
		x, err := DecodeVLQUint(data)
		if err != nil {
			return Status{}, fmt.Errorf("status field %d: %w", i, err)
		}
		v[i] = x
	}
	s.Mode = uint8(v[0])
	s.Direction = uint8(v[1])
	s.Step = uint8(v[2])
	s.FloatingPhase = uint8(v[3])
	s.DutyPermille = uint16(v[4])
	s.MeasuredRPM = int32(v[5])
	s.TargetRPM = int32(v[6])
	s.CommandedRPM = int32(v[7])
	s.RampSlope = v[8]
	s.PeriodUS = v[9]
	s.Flags = uint8(v[10])
	s.ZeroCrosses = v[11]
	s.Commutations = v[12]
	s.Handovers = v[13]
	s.StartupFailures = v[14]
	return s, nil
}

// LoopStats is the wire form of one loop's execution statistics
type LoopStats struct {
	Loop       uint8 // 0 fast, 1 slow
	FreqHz     uint32
	Ticks      uint32
	LastExecUS uint32
	AvgExecUS  uint32
}

func (l *LoopStats) Encode(out OutputBuffer) {
	EncodeVLQUint(out, uint32(l.Loop))
	EncodeVLQUint(out, l.FreqHz)
	EncodeVLQUint(out, l.Ticks)
	EncodeVLQUint(out, l.LastExecUS)
	EncodeVLQUint(out, l.AvgExecUS)
}

func DecodeLoopStats(data *[]byte) (LoopStats, error) {
	var v [5]uint32
	for i := range v {
		x, err := DecodeVLQUint(data)
		if err != nil {
			return LoopStats{}, fmt.Errorf("loop_stats field %d: %w", i, err)
		}
		v[i] = x
	}
	return LoopStats{
		Loop:       uint8(v[0]),
		FreqHz:     v[1],
		Ticks:      v[2],
		LastExecUS: v[3],
		AvgExecUS:  v[4],
	}, nil
}

// Event is one entry of the timing ring
type Event struct {
	Kind  uint8
	Clock uint32
	V1    uint32
	V2    uint32
}

func (e *Event) Encode(out OutputBuffer) {
	EncodeVLQUint(out, uint32(e.Kind))
	EncodeVLQUint(out, e.Clock)
	EncodeVLQUint(out, e.V1)
	EncodeVLQUint(out, e.V2)
}

func DecodeEvent(data *[]byte) (Event, error) {
	var v [4]uint32
	for i := range v {
		x, err := DecodeVLQUint(data)
		if err != nil {
			return Event{}, fmt.Errorf("event field %d: %w", i, err)
		}
		v[i] = x
	}
	return Event{Kind: uint8(v[0]), Clock: v[1], V1: v[2], V2: v[3]}, nil
}
