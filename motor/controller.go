// Package motor is the sensorless six-step control state machine.
//
// A motor starts Stopped. SetSpeed aligns the rotor, then drives it open
// loop along a frequency ramp until the back-EMF monitor reports a stable
// crossing train; the handover then commutates once in sync with the rotor
// and the controller runs ClosedLoop, commutating a fixed lead after each
// crossing while a PID regulates duty toward a slew-limited speed target.
//
// Three contexts touch the controller: FastTick (zero-cross processing,
// around 24kHz), SlowTick (speed loop, 1kHz) and DispatchEvents (one-shot
// commutation and ramp events). Commands (SetSpeed, Stop, SetRampSlope)
// come from a fourth, lower-priority context.
package motor

import (
	"sync/atomic"

	"escore/bemf"
	"escore/core"
	"escore/pid"
	"escore/ramp"
	"escore/sixstep"
)

// ZeroCrossDetector is the back-EMF monitor as seen by the controller
type ZeroCrossDetector interface {
	Reset()
	Process(floating core.Phase)
	Status() bemf.Status
	ClearFlag()
	LastZeroCrossUS() uint32
}

// Observer receives notifications from control context. Implementations
// must not block.
type Observer interface {
	OnCommutation(step uint8, dir core.Direction)
	OnModeChange(m Mode)
}

// Deps are the controller's collaborators. Detector may be nil, in which
// case a bemf.Monitor is built on Sensor.
type Deps struct {
	Inverter core.Inverter
	Sensor   core.MotorSensor
	Clock    core.Clock
	Detector ZeroCrossDetector
	Observer Observer
}

// Controller is the motor control state machine
type Controller struct {
	cfg   Config
	inv   core.Inverter
	det   ZeroCrossDetector
	clock core.Clock
	obs   Observer

	commSlot *core.OneShot // commutation and handover
	rampSlot *core.OneShot // ramp steps and alignment
	ramp     *ramp.Ramp
	aligner  *ramp.Aligner
	pid      *pid.Controller

	mode atomic.Uint32

	// guarded by critical sections
	ctx      CommutationContext
	floating core.Phase
	status   bemf.Status

	// fast loop only
	zcStreak uint8

	measured      core.Float32
	target        core.Float32
	commanded     core.Float32
	buffered      core.Float32
	rampSlope     core.Float32
	duty          core.Float32
	reversePend   atomic.Bool
	aligning      atomic.Bool
	startAttempts atomic.Uint32

	zeroCrosses     atomic.Uint32
	validCrosses    atomic.Uint32
	commutations    atomic.Uint32
	handovers       atomic.Uint32
	startupFailures atomic.Uint32
}

// New creates a stopped controller
func New(cfg Config, deps Deps) *Controller {
	c := &Controller{
		cfg:   cfg,
		inv:   deps.Inverter,
		det:   deps.Detector,
		clock: deps.Clock,
		obs:   deps.Observer,
	}
	if c.det == nil {
		c.det = bemf.New(deps.Sensor, deps.Clock, cfg.BEMF)
	}
	c.commSlot = core.NewOneShot(c.clock)
	c.rampSlot = core.NewOneShot(c.clock)
	c.ramp = ramp.New(c.inv, c.rampSlot, c.clock)
	c.aligner = ramp.NewAligner(c.inv, c.rampSlot, c.clock)

	c.pid = pid.New(cfg.PID.Kp, cfg.PID.Ki, cfg.PID.Kd, cfg.PID.Dt)
	c.pid.SetOutputLimits(cfg.PID.OutMin, cfg.PID.OutMax)
	c.pid.SetIntegratorLimit(cfg.PID.IntegratorLimit)

	c.rampSlope.Store(c.clampSlope(cfg.RampSlope))
	c.floating = sixstep.FloatingPhaseOf(0, core.Clockwise)
	c.inv.Disable()
	return c
}

// Attach runs FastTick and SlowTick on the two loop services and starts
// them
func (c *Controller) Attach(fast, slow *core.LoopService) error {
	fast.RegisterCallback(c.FastTick)
	slow.RegisterCallback(c.SlowTick)
	if err := fast.Init(); err != nil {
		return err
	}
	if err := slow.Init(); err != nil {
		return err
	}
	fast.Start()
	slow.Start()
	return nil
}

// Mode returns the current mode
func (c *Controller) Mode() Mode {
	return Mode(c.mode.Load())
}

func (c *Controller) setMode(m Mode) {
	if Mode(c.mode.Swap(uint32(m))) != m && c.obs != nil {
		c.obs.OnModeChange(m)
	}
}

// Direction returns the commanded rotation direction
func (c *Controller) Direction() core.Direction {
	state := core.EnterCritical()
	d := c.ctx.Direction
	core.ExitCritical(state)
	return d
}

// Context returns a copy of the commutation context
func (c *Controller) Context() CommutationContext {
	state := core.EnterCritical()
	ctx := c.ctx
	core.ExitCritical(state)
	return ctx
}

// FloatingPhase returns the phase the fast loop is watching
func (c *Controller) FloatingPhase() core.Phase {
	state := core.EnterCritical()
	p := c.floating
	core.ExitCritical(state)
	return p
}

// MeasuredSpeed returns the last speed measured by the slow loop (RPM)
func (c *Controller) MeasuredSpeed() float32 { return c.measured.Load() }

// CommandedSpeed returns the speed magnitude the user asked for (RPM)
func (c *Controller) CommandedSpeed() float32 { return c.commanded.Load() }

// TargetSpeed returns the slew-limited setpoint of the speed loop (RPM)
func (c *Controller) TargetSpeed() float32 { return c.target.Load() }

// ReversalPending reports whether a direction change waits for the rotor
// to slow down
func (c *Controller) ReversalPending() bool { return c.reversePend.Load() }

// RampSlope returns the target slew rate in RPM per slow-loop tick
func (c *Controller) RampSlope() float32 { return c.rampSlope.Load() }

// rpmFromPeriod converts a crossing period to mechanical RPM. Six crossings
// make one electrical revolution.
func (c *Controller) rpmFromPeriod(periodUS float32) float32 {
	if periodUS <= 0 || c.cfg.PolePairs == 0 {
		return 0
	}
	fElec := 1e6 / (6 * periodUS)
	return fElec * 60 / float32(c.cfg.PolePairs)
}

func (c *Controller) commDelay(periodUS float32) uint32 {
	d := periodUS * c.cfg.LeadFactor
	if d < float32(c.cfg.CommDelayMinUS) {
		return c.cfg.CommDelayMinUS
	}
	if d > float32(c.cfg.CommDelayMaxUS) {
		return c.cfg.CommDelayMaxUS
	}
	return uint32(d)
}

func (c *Controller) clampSlope(s float32) float32 {
	if s < c.cfg.RampSlopeMin {
		return c.cfg.RampSlopeMin
	}
	if s > c.cfg.RampSlopeMax {
		return c.cfg.RampSlopeMax
	}
	return s
}

// Snapshot returns the telemetry view of the controller
func (c *Controller) Snapshot() Snapshot {
	state := core.EnterCritical()
	ctx := c.ctx
	floating := c.floating
	st := c.status
	core.ExitCritical(state)

	return Snapshot{
		Mode:             c.Mode(),
		Direction:        ctx.Direction,
		Step:             ctx.Step,
		Duty:             c.duty.Load(),
		FloatingPhase:    floating,
		MeasuredRPM:      c.measured.Load(),
		TargetRPM:        c.target.Load(),
		CommandedRPM:     c.commanded.Load(),
		RampSlope:        c.rampSlope.Load(),
		PeriodUS:         st.PeriodUS,
		BemfValid:        st.Valid,
		ReversePending:   c.reversePend.Load(),
		Aligning:         c.aligning.Load(),
		ZeroCrosses:      c.zeroCrosses.Load(),
		ValidZeroCrosses: c.validCrosses.Load(),
		Commutations:     c.commutations.Load(),
		Handovers:        c.handovers.Load(),
		StartAttempts:    c.startAttempts.Load(),
		StartupFailures:  c.startupFailures.Load(),
	}
}
