package ramp

import (
	"time"

	"escore/core"
)

// Aligner pulls the rotor to a known position before the ramp: phase A
// driven at a low duty, phase B held low, phase C floating. It shares the
// ramp's one-shot slot; alignment and ramp never overlap.
type Aligner struct {
	inv    core.Inverter
	slot   *core.OneShot
	clock  core.Clock
	done   func()
	active bool
}

// NewAligner creates an idle aligner
func NewAligner(inv core.Inverter, slot *core.OneShot, clock core.Clock) *Aligner {
	return &Aligner{inv: inv, slot: slot, clock: clock}
}

// Align energises the alignment vector and calls done after duration,
// with the inverter disabled
func (a *Aligner) Align(duty float32, duration time.Duration, done func()) bool {
	a.slot.Cancel()

	us := duration.Microseconds()
	if us < 0 {
		us = 0
	}
	if us > 0x7FFFFFFF {
		us = 0x7FFFFFFF
	}

	a.inv.Disable()
	a.inv.SetAllDuties(core.Duties{duty, 0, 0})
	a.inv.SetOutputState(core.PhaseA, core.PWMActive)
	a.inv.SetOutputState(core.PhaseB, core.PWMActive)
	a.inv.SetOutputState(core.PhaseC, core.Floating)
	a.inv.Arm()
	a.inv.Enable()

	state := core.EnterCritical()
	a.done = done
	a.active = true
	core.ExitCritical(state)

	return a.slot.Start(uint32(us), core.EventAlignDone)
}

// Active reports whether the rotor is being aligned
func (a *Aligner) Active() bool {
	state := core.EnterCritical()
	v := a.active
	core.ExitCritical(state)
	return v
}

// Cancel aborts alignment without calling done. Outputs are left to the
// caller.
func (a *Aligner) Cancel() {
	state := core.EnterCritical()
	wasActive := a.active
	a.active = false
	a.done = nil
	core.ExitCritical(state)
	if wasActive {
		a.slot.Cancel()
	}
}

// HandleDone ends alignment. It is the handler for EventAlignDone.
func (a *Aligner) HandleDone() {
	state := core.EnterCritical()
	if !a.active {
		core.ExitCritical(state)
		return
	}
	a.active = false
	done := a.done
	a.done = nil
	core.ExitCritical(state)

	a.inv.Disable()
	core.RecordEvent(core.EvtAlignDone, a.clock.NowUS(), 0, 0)
	if done != nil {
		done()
	}
}
