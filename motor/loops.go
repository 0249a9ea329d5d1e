package motor

import (
	"escore/bemf"
	"escore/core"
	"escore/sixstep"
)

// FastTick runs zero-cross detection and drives the handover and
// closed-loop commutation scheduling. Call it at the fast loop rate.
func (c *Controller) FastTick() {
	mode := c.Mode()
	if mode == Stopped {
		return
	}

	if mode == OpenLoop && !c.Context().TransitionScheduled && c.ramp.Active() {
		step, _, dir := c.ramp.State()
		state := core.EnterCritical()
		c.floating = sixstep.FloatingPhaseOf(step, dir)
		core.ExitCritical(state)
	}

	c.det.Process(c.FloatingPhase())
	st := c.det.Status()

	state := core.EnterCritical()
	c.status = st
	core.ExitCritical(state)

	if !st.ZeroCrossDetected {
		return
	}

	now := c.clock.NowUS()
	c.zeroCrosses.Add(1)
	if st.Valid {
		c.validCrosses.Add(1)
	}
	core.RecordEvent(core.EvtZeroCross, now, uint32(st.PeriodUS), uint32(st.FloatingPhase))

	switch mode {
	case OpenLoop:
		c.evaluateHandover(st, now)
	case ClosedLoop:
		c.evaluateCommutation(st)
	}

	c.det.ClearFlag()
}

// evaluateHandover counts crossings on the expected phase at handover
// speed and, once enough are seen, schedules the synchronous handover
// commutation
func (c *Controller) evaluateHandover(st bemf.Status, now uint32) {
	if !st.Valid || st.PeriodUS <= 0 || c.Context().TransitionScheduled {
		return
	}
	fElec := 1e6 / (6 * st.PeriodUS)
	if fElec < c.cfg.HandoverMinHz {
		return
	}
	if st.FloatingPhase != c.FloatingPhase() {
		c.zcStreak = 0
		return
	}
	if c.zcStreak < 255 {
		c.zcStreak++
	}
	if c.zcStreak < c.cfg.HandoverMinEvents {
		return
	}
	c.zcStreak = 0

	step, duty, dir := c.ramp.State()
	if duty < c.cfg.HandoverMinDuty {
		duty = c.cfg.HandoverMinDuty
	}
	// the ramp must not step between capture and handover
	c.ramp.StopSoft()

	state := core.EnterCritical()
	c.ctx.Step = step
	c.ctx.Direction = dir
	c.ctx.Duty = duty
	c.ctx.TransitionScheduled = true
	c.ctx.HandoverArmed = true
	c.floating = sixstep.FloatingPhaseOf(step, dir)
	core.ExitCritical(state)
	c.duty.Store(duty)

	age := core.ElapsedUS(c.det.LastZeroCrossUS(), now)
	remaining := st.PeriodUS*c.cfg.LeadFactor - float32(age)

	if remaining < float32(c.cfg.CommDelayMinUS) {
		core.RecordEvent(core.EvtHandoverArm, now, 0, uint32(step))
		c.handover()
		return
	}

	delay := uint32(remaining)
	if delay > c.cfg.CommDelayMaxUS {
		delay = c.cfg.CommDelayMaxUS
	}
	core.RecordEvent(core.EvtHandoverArm, now, delay, uint32(step))
	if !c.commSlot.Start(delay, core.EventHandover) {
		core.RecordEvent(core.EvtSchedBusy, now, uint32(core.EventHandover), 0)
		c.commSlot.Cancel()
		c.commSlot.Start(delay, core.EventHandover)
	}
}

// evaluateCommutation arms the next closed-loop commutation off a crossing
// on the watched phase
func (c *Controller) evaluateCommutation(st bemf.Status) {
	if !st.Valid {
		return
	}
	state := core.EnterCritical()
	ok := st.FloatingPhase == c.floating && !c.ctx.CommArmed
	core.ExitCritical(state)
	if ok {
		c.armCommutation(st.PeriodUS)
	}
}

func (c *Controller) armCommutation(periodUS float32) {
	if !c.commSlot.Start(c.commDelay(periodUS), core.EventCommutation) {
		core.RecordEvent(core.EvtSchedBusy, c.clock.NowUS(), uint32(core.EventCommutation), 0)
		return
	}
	state := core.EnterCritical()
	c.ctx.CommArmed = true
	core.ExitCritical(state)
}

// handover performs the open-to-closed loop switch: one commutation past
// the captured ramp step, then closed-loop control from the measured speed
func (c *Controller) handover() {
	state := core.EnterCritical()
	if !c.ctx.TransitionScheduled {
		core.ExitCritical(state)
		return
	}
	c.ctx.TransitionScheduled = false
	c.ctx.HandoverArmed = false
	c.ctx.CommArmed = false
	c.ctx.Step = sixstep.NextStep(c.ctx.Step)
	step, duty, dir := c.ctx.Step, c.ctx.Duty, c.ctx.Direction
	c.floating = sixstep.FloatingPhaseOf(step, dir)
	st := c.status
	core.ExitCritical(state)

	sixstep.Commutate(c.inv, step, duty, dir)
	c.setMode(ClosedLoop)
	c.ramp.StopSoft()

	var rpm float32
	if st.Valid {
		rpm = c.rpmFromPeriod(st.PeriodUS)
	}
	c.measured.Store(rpm)
	c.target.Store(rpm)

	c.commutations.Add(1)
	c.handovers.Add(1)
	core.RecordEvent(core.EvtHandover, c.clock.NowUS(), uint32(step), uint32(st.PeriodUS))
	if c.obs != nil {
		c.obs.OnCommutation(step, dir)
	}

	if st.Valid {
		c.armCommutation(st.PeriodUS)
	}
}

// commutate is the closed-loop commutation handler
func (c *Controller) commutate() {
	if c.Mode() != ClosedLoop {
		return
	}
	state := core.EnterCritical()
	c.ctx.CommArmed = false
	c.ctx.Step = sixstep.NextStep(c.ctx.Step)
	step, duty, dir := c.ctx.Step, c.ctx.Duty, c.ctx.Direction
	c.floating = sixstep.FloatingPhaseOf(step, dir)
	core.ExitCritical(state)

	sixstep.Commutate(c.inv, step, duty, dir)
	c.commutations.Add(1)
	core.RecordEvent(core.EvtCommutate, c.clock.NowUS(), uint32(step), uint32(duty*1000))
	if c.obs != nil {
		c.obs.OnCommutation(step, dir)
	}
}

// SlowTick measures speed, handles a pending reversal and runs the speed
// loop. Call it at the slow loop rate.
func (c *Controller) SlowTick() {
	st := c.det.Status()
	var rpm float32
	if st.Valid {
		rpm = c.rpmFromPeriod(st.PeriodUS)
	}
	c.measured.Store(rpm)

	mode := c.Mode()
	if c.reversePend.Load() && mode != Stopped && rpm < c.cfg.ReverseBelowRPM {
		c.reverse()
		return
	}

	if mode != ClosedLoop {
		c.target.Store(0)
		c.pid.Reset()
		return
	}

	target := c.target.Load()
	cmd := c.commanded.Load()
	slope := c.rampSlope.Load()
	if target < cmd {
		target += slope
		if target > cmd {
			target = cmd
		}
	} else if target > cmd {
		target -= slope
		if target < cmd {
			target = cmd
		}
	}
	c.target.Store(target)

	// duty holds while the monitor has no lock
	if !st.Valid {
		return
	}
	duty := c.pid.Update(target, rpm)
	state := core.EnterCritical()
	c.ctx.Duty = duty
	core.ExitCritical(state)
	c.duty.Store(duty)
}

// DispatchEvents delivers due one-shot events. Call it from the main loop
// (or the timer interrupt) as often as possible. Returns the number of
// events handled.
func (c *Controller) DispatchEvents() int {
	now := c.clock.NowUS()
	n := 0
	if kind, ok := c.commSlot.Expire(now); ok {
		c.HandleEvent(kind)
		n++
	}
	if kind, ok := c.rampSlot.Expire(now); ok {
		c.HandleEvent(kind)
		n++
	}
	return n
}

// HandleEvent runs the handler for an expired one-shot event
func (c *Controller) HandleEvent(kind core.EventKind) {
	switch kind {
	case core.EventCommutation:
		c.commutate()
	case core.EventHandover:
		c.handover()
	case core.EventRampStep:
		c.ramp.HandleStep()
	case core.EventAlignDone:
		c.aligner.HandleDone()
	}
}

// NextEventDue returns the earliest pending one-shot deadline
func (c *Controller) NextEventDue() (uint32, bool) {
	_, a, okA := c.commSlot.Pending()
	_, b, okB := c.rampSlot.Pending()
	switch {
	case okA && okB:
		if int32(a-b) <= 0 {
			return a, true
		}
		return b, true
	case okA:
		return a, true
	case okB:
		return b, true
	}
	return 0, false
}
