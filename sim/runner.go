package sim

import (
	"time"

	"escore/core"
	"escore/motor"
)

// Options configure a Runner
type Options struct {
	Plant       PlantParams
	Motor       motor.Config
	FastHz      uint32
	SlowHz      uint32
	StepUS      uint32        // plant integration step
	RecordEvery time.Duration // 0 disables recording
	Script      []Action
}

func DefaultOptions() Options {
	return Options{
		Plant:  DefaultPlantParams(),
		Motor:  motor.DefaultConfig(),
		FastHz: 24000,
		SlowHz: 1000,
		StepUS: 5,
	}
}

// Record is one sample of a run
type Record struct {
	TimeUS   uint32
	RotorRPM float64
	AngleDeg float64
	Snapshot motor.Snapshot
}

// ModeChange is one controller mode transition
type ModeChange struct {
	TimeUS uint32
	Mode   motor.Mode
}

// Runner drives a controller and a plant in lockstep simulated time
type Runner struct {
	Clock      *core.TickClock
	Plant      *Plant
	Controller *motor.Controller
	Fast       *core.LoopService
	Slow       *core.LoopService

	fastTrig *core.PolledTrigger
	slowTrig *core.PolledTrigger
	opts     Options

	script      []Action
	nextRecord  uint32
	records     []Record
	modes       []ModeChange
	commutation uint32
}

// NewRunner builds the plant, clock, loops and controller
func NewRunner(opts Options) (*Runner, error) {
	if opts.StepUS == 0 {
		opts.StepUS = 5
	}
	if opts.FastHz == 0 {
		opts.FastHz = 24000
	}
	if opts.SlowHz == 0 {
		opts.SlowHz = 1000
	}

	r := &Runner{
		Clock:    core.NewTickClock(0),
		Plant:    NewPlant(opts.Plant),
		fastTrig: core.NewPolledTrigger(opts.FastHz),
		slowTrig: core.NewPolledTrigger(opts.SlowHz),
		opts:     opts,
		script:   sortActions(opts.Script),
	}
	r.Fast = core.NewLoopService(r.fastTrig, r.Clock)
	r.Slow = core.NewLoopService(r.slowTrig, r.Clock)
	r.Controller = motor.New(opts.Motor, motor.Deps{
		Inverter: r.Plant,
		Sensor:   r.Plant,
		Clock:    r.Clock,
		Observer: r,
	})
	if err := r.Controller.Attach(r.Fast, r.Slow); err != nil {
		return nil, err
	}
	return r, nil
}

// OnCommutation implements motor.Observer
func (r *Runner) OnCommutation(step uint8, dir core.Direction) {
	r.commutation++
}

// OnModeChange implements motor.Observer
func (r *Runner) OnModeChange(m motor.Mode) {
	r.modes = append(r.modes, ModeChange{TimeUS: r.Clock.NowUS(), Mode: m})
	core.LogInfo("sim: t=" + core.Utoa(r.Clock.NowUS()/1000) + "ms mode " + m.String())
}

// Step advances simulated time by one plant step
func (r *Runner) Step() {
	now := r.Clock.Advance(r.opts.StepUS)
	r.Plant.Step(float64(r.opts.StepUS) * 1e-6)

	r.applyScript(now)
	r.fastTrig.Poll(now)
	r.slowTrig.Poll(now)
	r.Controller.DispatchEvents()

	if r.opts.RecordEvery > 0 && core.Reached(now, r.nextRecord) {
		r.records = append(r.records, Record{
			TimeUS:   now,
			RotorRPM: r.Plant.RPM(),
			AngleDeg: r.Plant.AngleDeg(),
			Snapshot: r.Controller.Snapshot(),
		})
		r.nextRecord = now + uint32(r.opts.RecordEvery.Microseconds())
	}
}

// Run advances simulated time by d
func (r *Runner) Run(d time.Duration) {
	end := r.Clock.NowUS() + uint32(d.Microseconds())
	for !core.Reached(r.Clock.NowUS(), end) {
		r.Step()
	}
}

func (r *Runner) applyScript(now uint32) {
	for len(r.script) > 0 && core.Reached(now, r.script[0].atUS()) {
		a := r.script[0]
		r.script = r.script[1:]
		a.apply(r.Controller)
	}
}

// Now is the simulated time in µs
func (r *Runner) Now() uint32 { return r.Clock.NowUS() }

// Records returns the recorded samples
func (r *Runner) Records() []Record { return r.records }

// Modes returns every mode change so far
func (r *Runner) Modes() []ModeChange { return r.modes }

// Commutations counts commutations reported by the controller
func (r *Runner) Commutations() uint32 { return r.commutation }
