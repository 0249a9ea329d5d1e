package motor

import (
	"escore/core"
	"escore/ramp"
	"escore/sixstep"
)

// SetSpeed commands a signed speed in RPM; negative is counter-clockwise.
//
// From Stopped a non-zero command starts the motor. While running, a
// command in the current direction (or zero) retargets the speed loop. A
// command in the opposite direction decelerates to zero first; the
// reversal happens in SlowTick once the rotor is slow enough.
func (c *Controller) SetSpeed(rpm float32) {
	dir := core.Clockwise
	mag := rpm
	if rpm < 0 {
		dir = core.CounterClockwise
		mag = -rpm
	}

	if c.Mode() == Stopped {
		c.commanded.Store(mag)
		if mag == 0 {
			return
		}
		c.reversePend.Store(false)
		c.setDirection(dir)
		if c.aligning.Load() {
			return
		}
		core.LogInfo("motor: start dir=" + dir.String() + " rpm=" + core.Ftoa(mag, 0))
		c.beginStart()
		return
	}

	if mag == 0 || dir == c.Direction() {
		c.reversePend.Store(false)
		c.commanded.Store(mag)
		return
	}

	c.buffered.Store(mag)
	c.commanded.Store(0)
	c.reversePend.Store(true)
	core.LogInfo("motor: reversal pending to " + dir.String())
}

// Stop removes drive immediately and returns to Stopped. Safe to call in
// any mode, any number of times.
func (c *Controller) Stop() {
	c.commanded.Store(0)
	c.halt()
}

// GetTargetSpeed returns the measured speed, or 0 while it is below the
// reporting floor
func (c *Controller) GetTargetSpeed() float32 {
	rpm := c.measured.Load()
	if rpm < c.cfg.ReportFloorRPM {
		return 0
	}
	return rpm
}

// SetRampSlope sets the target slew rate in RPM per slow-loop tick,
// clamped to the configured range
func (c *Controller) SetRampSlope(rpmPerTick float32) {
	c.rampSlope.Store(c.clampSlope(rpmPerTick))
}

func (c *Controller) setDirection(dir core.Direction) {
	state := core.EnterCritical()
	c.ctx.Direction = dir
	core.ExitCritical(state)
}

// halt cancels every pending event, turns the bridge off and clears the
// run state. Direction is kept.
func (c *Controller) halt() {
	c.commSlot.Cancel()
	c.aligner.Cancel()
	c.ramp.Stop()
	c.inv.Disable()

	state := core.EnterCritical()
	dir := c.ctx.Direction
	c.ctx = CommutationContext{Direction: dir}
	c.floating = floatingAtStart(dir)
	core.ExitCritical(state)

	c.aligning.Store(false)
	c.reversePend.Store(false)
	c.zcStreak = 0
	c.setMode(Stopped)
	c.target.Store(0)
	c.measured.Store(0)
	c.duty.Store(0)
	c.pid.Reset()
}

func floatingAtStart(dir core.Direction) core.Phase {
	return sixstep.FloatingPhaseOf(0, dir)
}

// reverse is called from SlowTick once a pending reversal may proceed
func (c *Controller) reverse() {
	c.reversePend.Store(false)
	dir := c.Direction().Reverse()
	speed := c.buffered.Load()

	c.halt()
	c.setDirection(dir)
	c.commanded.Store(speed)

	core.RecordEvent(core.EvtReverse, c.clock.NowUS(), uint32(dir), uint32(speed))
	core.LogInfo("motor: reversing to " + dir.String() + " rpm=" + core.Ftoa(speed, 0))
	c.beginStart()
}

// beginStart runs a fresh start sequence: alignment, then the ramp
func (c *Controller) beginStart() {
	c.startAttempts.Store(0)
	c.align()
}

func (c *Controller) align() {
	c.aligning.Store(true)
	if !c.aligner.Align(c.cfg.AlignDuty, c.cfg.AlignDuration, c.onAligned) {
		core.LogWarn("motor: alignment could not be scheduled")
		c.halt()
	}
}

func (c *Controller) onAligned() {
	c.aligning.Store(false)
	c.startOpenLoop()
}

// startOpenLoop resets detection and counters and launches the ramp
func (c *Controller) startOpenLoop() {
	c.det.Reset()

	state := core.EnterCritical()
	dir := c.ctx.Direction
	c.ctx = CommutationContext{Direction: dir, Duty: c.cfg.OpenLoop.DutyStart}
	c.floating = floatingAtStart(dir)
	c.status = c.det.Status()
	core.ExitCritical(state)

	c.zcStreak = 0
	c.zeroCrosses.Store(0)
	c.validCrosses.Store(0)
	c.commutations.Store(0)
	c.duty.Store(c.cfg.OpenLoop.DutyStart)
	attempt := c.startAttempts.Add(1)

	ol := c.cfg.OpenLoop
	c.setMode(OpenLoop)
	ok := c.ramp.Start(ramp.Params{
		DutyStart:   ol.DutyStart,
		DutyEnd:     ol.DutyEnd,
		FreqStartHz: ol.FreqStartHz,
		FreqEndHz:   ol.FreqEndHz,
		Duration:    ol.Duration,
		Direction:   dir,
		Profile:     ol.Profile,
		OnComplete:  c.onRampComplete,
		Context:     attempt,
	})
	if !ok {
		core.LogWarn("motor: invalid open-loop ramp parameters")
		c.Stop()
	}
}

// onRampComplete runs when the ramp reaches its end without a handover
func (c *Controller) onRampComplete(ctx any) {
	if c.Mode() != OpenLoop || c.Context().TransitionScheduled {
		return
	}
	attempt, _ := ctx.(uint32)
	c.startupFailures.Add(1)
	core.RecordEvent(core.EvtStartupFailure, c.clock.NowUS(), attempt, 0)

	if attempt > uint32(c.cfg.StartRetries) {
		core.LogWarn("motor: startup failed after " + core.Utoa(attempt) + " attempts")
		c.Stop()
		return
	}
	core.LogWarn("motor: no handover, retrying start")
	c.setMode(Stopped)
	c.align()
}
