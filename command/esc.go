package command

import (
	"escore/core"
	"escore/motor"
	"escore/protocol"
)

// Motor is the controller surface the link drives
type Motor interface {
	SetSpeed(rpm float32)
	Stop()
	SetRampSlope(rpmPerTick float32)
	Snapshot() motor.Snapshot
}

// LoopSource is a periodic loop with execution statistics
type LoopSource interface {
	FrequencyHz() uint32
	Stats() core.LoopStats
}

// Responder sends one response frame
type Responder interface {
	SendResponse(id uint16, args func(out protocol.OutputBuffer))
}

// ESC binds the motor commands to a registry
type ESC struct {
	Registry *Registry

	motor Motor
	loops [2]LoopSource
	resp  Responder
}

// NewESC registers the ESC command set. fast and slow may be nil when
// loop statistics are unavailable.
func NewESC(m Motor, fast, slow LoopSource) *ESC {
	e := &ESC{Registry: NewRegistry(), motor: m, loops: [2]LoopSource{fast, slow}}
	r := e.Registry
	// fixed ids, Register cannot fail here
	_ = r.Register(protocol.CmdSetSpeed, "set_speed", "rpm=%i", e.setSpeed)
	_ = r.Register(protocol.CmdStop, "stop", "", e.stop)
	_ = r.Register(protocol.CmdSetRampSlope, "set_ramp_slope", "slope=%u", e.setRampSlope)
	_ = r.Register(protocol.CmdGetStatus, "get_status", "", e.getStatus)
	_ = r.Register(protocol.CmdGetLoopStats, "get_loop_stats", "", e.getLoopStats)
	_ = r.Register(protocol.CmdDumpEvents, "dump_events", "", e.dumpEvents)
	_ = r.RegisterResponse(protocol.RespStatus, "status",
		"mode=%c dir=%c step=%c floating=%c duty=%hu rpm=%i target=%i cmd=%i slope=%u period=%u flags=%c zc=%u comm=%u handovers=%u failures=%u")
	_ = r.RegisterResponse(protocol.RespLoopStats, "loop_stats", "loop=%c freq=%u ticks=%u last=%u avg=%u")
	_ = r.RegisterResponse(protocol.RespEvent, "event", "kind=%c clock=%u v1=%u v2=%u")
	return e
}

// SetResponder sets where responses go, usually the device transport
func (e *ESC) SetResponder(r Responder) { e.resp = r }

// Dispatch matches protocol.CommandHandler
func (e *ESC) Dispatch(id uint16, data *[]byte) error {
	return e.Registry.Dispatch(id, data)
}

func (e *ESC) setSpeed(data *[]byte) error {
	rpm, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	e.motor.SetSpeed(float32(rpm))
	return nil
}

func (e *ESC) stop(data *[]byte) error {
	e.motor.Stop()
	return nil
}

func (e *ESC) setRampSlope(data *[]byte) error {
	slope, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	e.motor.SetRampSlope(float32(slope))
	return nil
}

func (e *ESC) getStatus(data *[]byte) error {
	if e.resp == nil {
		return nil
	}
	st := StatusFromSnapshot(e.motor.Snapshot())
	e.resp.SendResponse(protocol.RespStatus, st.Encode)
	return nil
}

func (e *ESC) getLoopStats(data *[]byte) error {
	if e.resp == nil {
		return nil
	}
	for i, l := range e.loops {
		if l == nil {
			continue
		}
		s := l.Stats()
		ls := protocol.LoopStats{
			Loop:       uint8(i),
			FreqHz:     l.FrequencyHz(),
			Ticks:      s.Ticks,
			LastExecUS: s.LastExecUS,
			AvgExecUS:  uint32(s.AvgExecUS + 0.5),
		}
		e.resp.SendResponse(protocol.RespLoopStats, ls.Encode)
	}
	return nil
}

func (e *ESC) dumpEvents(data *[]byte) error {
	if e.resp == nil {
		return nil
	}
	for _, ev := range core.EventRing() {
		pe := protocol.Event{Kind: ev.Kind, Clock: ev.Clock, V1: ev.Value1, V2: ev.Value2}
		e.resp.SendResponse(protocol.RespEvent, pe.Encode)
	}
	return nil
}

// StatusFromSnapshot converts a snapshot to its wire form. Speeds carry
// the direction as their sign.
func StatusFromSnapshot(s motor.Snapshot) protocol.Status {
	sign := float32(1)
	if s.Direction == core.CounterClockwise {
		sign = -1
	}
	var flags uint8
	if s.BemfValid {
		flags |= protocol.FlagBemfValid
	}
	if s.ReversePending {
		flags |= protocol.FlagReversePending
	}
	if s.Aligning {
		flags |= protocol.FlagAligning
	}
	return protocol.Status{
		Mode:            uint8(s.Mode),
		Direction:       uint8(s.Direction),
		Step:            s.Step,
		FloatingPhase:   uint8(s.FloatingPhase),
		DutyPermille:    uint16(s.Duty*1000 + 0.5),
		MeasuredRPM:     round(sign * s.MeasuredRPM),
		TargetRPM:       round(sign * s.TargetRPM),
		CommandedRPM:    round(sign * s.CommandedRPM),
		RampSlope:       uint32(s.RampSlope + 0.5),
		PeriodUS:        uint32(s.PeriodUS + 0.5),
		Flags:           flags,
		ZeroCrosses:     s.ZeroCrosses,
		Commutations:    s.Commutations,
		Handovers:       s.Handovers,
		StartupFailures: s.StartupFailures,
	}
}

func round(f float32) int32 {
	if f < 0 {
		return int32(f - 0.5)
	}
	return int32(f + 0.5)
}
