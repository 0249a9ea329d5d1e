// Package ramp drives the motor open loop: a timed sequence of six-step
// commutations whose frequency and duty rise along a profile, plus the
// rotor alignment that precedes it.
package ramp

import (
	"time"

	"escore/core"
	"escore/sixstep"
)

const (
	MinStepDelayUS = 100
	MaxStepDelayUS = 1000000
)

// CompletionFunc is called with Params.Context when a ramp runs to its end
type CompletionFunc func(ctx any)

// Params describes one open-loop ramp
type Params struct {
	DutyStart   float32
	DutyEnd     float32
	FreqStartHz float32
	FreqEndHz   float32
	Duration    time.Duration
	Direction   core.Direction
	Profile     Profile
	OnComplete  CompletionFunc
	Context     any
}

// Ramp is the open-loop scheduler. It owns the ramp one-shot slot for the
// duration of a ramp; the step handler runs from event dispatch.
type Ramp struct {
	inv   core.Inverter
	slot  *core.OneShot
	clock core.Clock

	params     Params
	durationUS uint32
	startUS    uint32
	step       uint8
	duty       float32
	freqHz     float32
	active     bool
}

// New creates an idle ramp
func New(inv core.Inverter, slot *core.OneShot, clock core.Clock) *Ramp {
	return &Ramp{inv: inv, slot: slot, clock: clock}
}

// Start begins a ramp: commutates step 0 immediately and schedules the
// next step. Any ramp in progress is replaced. Returns false if params are
// unusable.
func (r *Ramp) Start(p Params) bool {
	if p.FreqStartHz <= 0 || p.FreqEndHz <= 0 || p.Duration <= 0 {
		return false
	}
	r.slot.Cancel()

	durUS := p.Duration.Microseconds()
	if durUS > 0xFFFFFFFF {
		durUS = 0xFFFFFFFF
	}

	state := core.EnterCritical()
	r.params = p
	r.durationUS = uint32(durUS)
	r.startUS = r.clock.NowUS()
	r.step = 0
	r.duty = p.DutyStart
	r.freqHz = p.FreqStartHz
	r.active = true
	core.ExitCritical(state)

	r.inv.Enable()
	sixstep.Commutate(r.inv, 0, p.DutyStart, p.Direction)
	r.slot.Start(StepDelayUS(p.FreqStartHz), core.EventRampStep)
	return true
}

// Stop cancels the ramp and turns the inverter off
func (r *Ramp) Stop() {
	r.StopSoft()
	r.inv.Disable()
}

// StopSoft cancels the ramp and leaves the outputs as they are
func (r *Ramp) StopSoft() {
	r.slot.Cancel()
	state := core.EnterCritical()
	r.params = Params{}
	r.durationUS = 0
	r.step = 0
	r.duty = 0
	r.freqHz = 0
	r.active = false
	core.ExitCritical(state)
}

// Active reports whether a ramp is running
func (r *Ramp) Active() bool {
	state := core.EnterCritical()
	a := r.active
	core.ExitCritical(state)
	return a
}

// State returns step, duty and direction as one consistent snapshot
func (r *Ramp) State() (step uint8, duty float32, dir core.Direction) {
	state := core.EnterCritical()
	step, duty, dir = r.step, r.duty, r.params.Direction
	core.ExitCritical(state)
	return
}

// FrequencyHz returns the current commutation frequency
func (r *Ramp) FrequencyHz() float32 {
	state := core.EnterCritical()
	f := r.freqHz
	core.ExitCritical(state)
	return f
}

// Elapsed returns the time since Start
func (r *Ramp) Elapsed() time.Duration {
	state := core.EnterCritical()
	start, active := r.startUS, r.active
	core.ExitCritical(state)
	if !active {
		return 0
	}
	return time.Duration(core.ElapsedUS(start, r.clock.NowUS())) * time.Microsecond
}

// HandleStep advances the ramp by one step. It is the handler for
// EventRampStep.
func (r *Ramp) HandleStep() {
	now := r.clock.NowUS()

	state := core.EnterCritical()
	if !r.active {
		core.ExitCritical(state)
		return
	}
	p := r.params
	elapsed := core.ElapsedUS(r.startUS, now)

	if elapsed >= r.durationUS {
		r.active = false
		core.ExitCritical(state)

		r.inv.Disable()
		core.RecordEvent(core.EvtRampDone, now, elapsed, 0)
		if p.OnComplete != nil {
			p.OnComplete(p.Context)
		}
		return
	}

	ratio := float32(elapsed) / float32(r.durationUS)
	r.freqHz = FrequencyAt(p.Profile, p.FreqStartHz, p.FreqEndHz, ratio)
	r.duty = DutyAt(p.DutyStart, p.DutyEnd, ratio)
	r.step = sixstep.NextStep(r.step)
	step, duty, freq := r.step, r.duty, r.freqHz
	core.ExitCritical(state)

	sixstep.Commutate(r.inv, step, duty, p.Direction)
	core.RecordEvent(core.EvtRampStep, now, uint32(step), uint32(freq))
	r.slot.Start(StepDelayUS(freq), core.EventRampStep)
}
