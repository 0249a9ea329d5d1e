package motor

import (
	"math"
	"testing"
	"time"

	"escore/bemf"
	"escore/core"
	"escore/sixstep"
)

type fakeInverter struct {
	duties   core.Duties
	states   [core.PhaseCount]core.OutputState
	enabled  bool
	disables int
}

func (f *fakeInverter) SetOutputState(ph core.Phase, s core.OutputState) { f.states[ph] = s }
func (f *fakeInverter) SetAllDuties(d core.Duties)                      { f.duties = d }
func (f *fakeInverter) Arm()                                            {}
func (f *fakeInverter) Enable()                                         { f.enabled = true }
func (f *fakeInverter) Disable() {
	f.enabled = false
	f.disables++
}

func (f *fakeInverter) floating() core.Phase {
	for ph := core.PhaseA; ph < core.PhaseCount; ph++ {
		if f.states[ph] == core.Floating {
			return ph
		}
	}
	return core.PhaseCount
}

// scriptedDetector reports a crossing on the next Process call after
// emit, on whichever phase the controller is watching unless a phase is
// forced
type scriptedDetector struct {
	clock  *core.TickClock
	status bemf.Status
	lastZC uint32
	resets int

	next     *bemf.Status
	nextAge  uint32
	forceOn  bool
	forcePh  core.Phase
	watching core.Phase
}

func (d *scriptedDetector) Reset() {
	d.status = bemf.Status{}
	d.next = nil
	d.resets++
}

func (d *scriptedDetector) Process(floating core.Phase) {
	d.watching = floating
	if d.next == nil {
		return
	}
	s := *d.next
	d.next = nil
	s.ZeroCrossDetected = true
	s.FloatingPhase = floating
	if d.forceOn {
		s.FloatingPhase = d.forcePh
	}
	d.status = s
	d.lastZC = d.clock.NowUS() - d.nextAge
}

func (d *scriptedDetector) Status() bemf.Status     { return d.status }
func (d *scriptedDetector) ClearFlag()              { d.status.ZeroCrossDetected = false }
func (d *scriptedDetector) LastZeroCrossUS() uint32 { return d.lastZC }

// emit queues a crossing for the next fast tick
func (d *scriptedDetector) emit(periodUS float32, valid bool, ageUS uint32) {
	d.next = &bemf.Status{PeriodUS: periodUS, Valid: valid}
	d.nextAge = ageUS
}

// hold sets a steady locked state without a new crossing
func (d *scriptedDetector) hold(periodUS float32, valid bool) {
	d.status = bemf.Status{PeriodUS: periodUS, Valid: valid, FloatingPhase: d.watching}
}

type modeLog struct {
	modes []Mode
	comms int
}

func (m *modeLog) OnCommutation(step uint8, dir core.Direction) { m.comms++ }
func (m *modeLog) OnModeChange(mode Mode)                       { m.modes = append(m.modes, mode) }

type rig struct {
	t     *testing.T
	clock *core.TickClock
	inv   *fakeInverter
	det   *scriptedDetector
	obs   *modeLog
	c     *Controller
}

func newRig(t *testing.T, cfg Config) *rig {
	clock := core.NewTickClock(1000)
	inv := &fakeInverter{}
	det := &scriptedDetector{clock: clock}
	obs := &modeLog{}
	c := New(cfg, Deps{Inverter: inv, Clock: clock, Detector: det, Observer: obs})
	return &rig{t: t, clock: clock, inv: inv, det: det, obs: obs, c: c}
}

// advance moves time forward by us, delivering one-shot events at their
// due times
func (r *rig) advance(us uint32) {
	end := r.clock.NowUS() + us
	for i := 0; i < 1000000; i++ {
		due, ok := r.c.NextEventDue()
		if !ok || int32(due-end) > 0 {
			break
		}
		if int32(due-r.clock.NowUS()) > 0 {
			r.clock.Set(due)
		}
		r.c.DispatchEvents()
	}
	r.clock.Set(end)
	r.c.DispatchEvents()
}

// crossings feeds n crossings of the given period through the fast loop
func (r *rig) crossings(n int, periodUS float32) {
	for i := 0; i < n; i++ {
		r.det.emit(periodUS, true, 0)
		r.c.FastTick()
	}
}

func (r *rig) checkDrive() {
	r.t.Helper()
	fl := r.inv.floating()
	if fl == core.PhaseCount {
		return
	}
	var driven []float32
	for ph := core.PhaseA; ph < core.PhaseCount; ph++ {
		d := r.inv.duties[ph]
		if d < 0 || d > 1 {
			r.t.Fatalf("Duty out of range on %v: %f", ph, d)
		}
		if ph == fl {
			if d != 0 {
				r.t.Fatalf("Floating phase %v has duty %f", ph, d)
			}
			continue
		}
		driven = append(driven, d)
	}
	if driven[0] != driven[1] {
		r.t.Fatalf("Driven phases have different duties: %v", r.inv.duties)
	}
}

// toClosedLoop starts the motor and completes a handover at 500us period
func (r *rig) toClosedLoop(rpm float32) {
	r.t.Helper()
	r.c.SetSpeed(rpm)
	r.advance(500000)
	if r.c.Mode() != OpenLoop {
		r.t.Fatalf("Expected OpenLoop after alignment, got %v", r.c.Mode())
	}
	r.crossings(4, 500)
	r.advance(225)
	if r.c.Mode() != ClosedLoop {
		r.t.Fatalf("Expected ClosedLoop after handover, got %v", r.c.Mode())
	}
}

func approx(a, b, tol float32) bool {
	return math.Abs(float64(a-b)) <= float64(tol)
}

func TestStartToClosedLoop(t *testing.T) {
	r := newRig(t, DefaultConfig())

	r.c.SetSpeed(1500)
	if r.c.Mode() != Stopped {
		t.Fatalf("Mode during alignment = %v", r.c.Mode())
	}
	if !r.c.Snapshot().Aligning {
		t.Fatal("Alignment not started")
	}
	if r.inv.duties != (core.Duties{0.1, 0, 0}) || !r.inv.enabled {
		t.Errorf("Alignment drive %v enabled=%v", r.inv.duties, r.inv.enabled)
	}

	r.advance(500000)
	if r.c.Mode() != OpenLoop {
		t.Fatalf("Expected OpenLoop, got %v", r.c.Mode())
	}
	if r.det.resets == 0 {
		t.Error("Monitor not reset at open-loop start")
	}
	if r.inv.floating() != sixstep.FloatingPhaseOf(0, core.Clockwise) {
		t.Errorf("Ramp did not start at step 0")
	}
	r.checkDrive()

	// 500us period = 333Hz electrical, above the 200Hz handover speed
	r.crossings(3, 500)
	if r.c.Context().TransitionScheduled {
		t.Fatal("Handover scheduled after only 3 crossings")
	}
	r.crossings(1, 500)

	ctx := r.c.Context()
	if !ctx.TransitionScheduled || !ctx.HandoverArmed {
		t.Fatalf("Handover not scheduled: %+v", ctx)
	}
	if r.c.Mode() != OpenLoop {
		t.Error("Mode must stay OpenLoop until the handover commutation")
	}
	if r.c.ramp.Active() {
		t.Error("Ramp should be frozen once the handover is captured")
	}

	// crossings while waiting must not schedule a second handover
	r.crossings(2, 500)

	r.advance(224)
	if r.c.Mode() != OpenLoop {
		t.Fatal("Handover fired early")
	}
	r.advance(1)

	if r.c.Mode() != ClosedLoop {
		t.Fatalf("Expected ClosedLoop, got %v", r.c.Mode())
	}
	snap := r.c.Snapshot()
	if snap.Handovers != 1 {
		t.Errorf("Expected exactly one handover, got %d", snap.Handovers)
	}
	if snap.Step != 1 {
		t.Errorf("Handover should commutate to step 1, got %d", snap.Step)
	}
	if r.inv.floating() != sixstep.FloatingPhaseOf(1, core.Clockwise) {
		t.Errorf("Inverter floating %v after handover", r.inv.floating())
	}
	if r.inv.duties[core.PhaseA] != 0.5 {
		t.Errorf("Handover duty %f, want ramp duty 0.5", r.inv.duties[core.PhaseA])
	}
	r.checkDrive()

	wantRPM := float32(1e6 / 3000.0 * 10)
	if !approx(r.c.MeasuredSpeed(), wantRPM, 0.5) || !approx(r.c.TargetSpeed(), wantRPM, 0.5) {
		t.Errorf("Speeds not resynced: measured=%f target=%f", r.c.MeasuredSpeed(), r.c.TargetSpeed())
	}
	if !r.c.Context().CommArmed {
		t.Error("Next commutation should be armed after handover")
	}

	r.advance(225)
	if s := r.c.Snapshot(); s.Step != 2 || s.Commutations != 2 {
		t.Errorf("Expected step 2 after two commutations, got step=%d comm=%d", s.Step, s.Commutations)
	}
	r.checkDrive()

	// speed loop: target slews to 1500 at 10 RPM per tick
	r.det.hold(500, true)
	prev := r.c.TargetSpeed()
	for i := 0; i < 300; i++ {
		r.c.SlowTick()
		tgt := r.c.TargetSpeed()
		if math.Abs(float64(tgt-1500)) > math.Abs(float64(prev-1500)) {
			t.Fatalf("Target moved away from command at tick %d: %f", i, tgt)
		}
		if prev-tgt > 10.001 {
			t.Fatalf("Target slewed faster than the ramp slope: %f -> %f", prev, tgt)
		}
		prev = tgt
		d := r.c.Context().Duty
		if d < 0.05 || d > 0.95 {
			t.Fatalf("PID duty %f outside output limits", d)
		}
	}
	if r.c.TargetSpeed() != 1500 {
		t.Errorf("Target did not converge: %f", r.c.TargetSpeed())
	}
	// 500us between crossings is 3333 RPM with six pole pairs
	if !approx(r.c.GetTargetSpeed(), 3333.33, 0.1) {
		t.Errorf("GetTargetSpeed = %f, want the measured speed", r.c.GetTargetSpeed())
	}
	if r.c.Snapshot().Handovers != 1 {
		t.Error("Handover happened more than once")
	}

	if len(r.obs.modes) != 2 || r.obs.modes[0] != OpenLoop || r.obs.modes[1] != ClosedLoop {
		t.Errorf("Mode changes %v", r.obs.modes)
	}
}

func TestImmediateHandoverWhenLate(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.c.SetSpeed(2000)
	r.advance(500000)

	r.crossings(3, 500)
	// crossing seen 200us late: 225-200 is below the 80us minimum delay
	r.det.emit(500, true, 200)
	r.c.FastTick()

	if r.c.Mode() != ClosedLoop {
		t.Fatalf("Expected immediate handover, mode %v", r.c.Mode())
	}
	ctx := r.c.Context()
	if ctx.TransitionScheduled || ctx.HandoverArmed {
		t.Errorf("Handover latches left set: %+v", ctx)
	}
	if r.c.Snapshot().Handovers != 1 {
		t.Error("Expected one handover")
	}
}

func TestHandoverNeedsExpectedPhase(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.c.SetSpeed(2000)
	r.advance(500000)

	r.det.forceOn = true
	r.det.forcePh = core.PhaseA // ramp step 0 floats C
	r.crossings(8, 500)

	if r.c.Context().TransitionScheduled {
		t.Error("Crossings on the wrong phase must not trigger handover")
	}
}

func TestHandoverNeedsSpeed(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.c.SetSpeed(2000)
	r.advance(500000)

	// 1000us period = 166Hz electrical
	r.crossings(8, 1000)
	if r.c.Context().TransitionScheduled {
		t.Error("Handover below the entry speed")
	}

	r.det.next = nil
	for i := 0; i < 8; i++ {
		r.det.emit(500, false, 0)
		r.c.FastTick()
	}
	if r.c.Context().TransitionScheduled {
		t.Error("Handover on an unlocked signal")
	}
}

func TestHandoverMinimumDuty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OpenLoop.DutyStart = 0.1
	cfg.OpenLoop.DutyEnd = 0.15
	r := newRig(t, cfg)

	r.toClosedLoop(2000)
	if r.c.Context().Duty != 0.2 {
		t.Errorf("Handover duty %f, want floor 0.2", r.c.Context().Duty)
	}
	if r.inv.duties[core.PhaseA] != 0.2 {
		t.Errorf("Inverter duty %v", r.inv.duties)
	}
}

func TestClosedLoopIgnoresInvalidCrossings(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.toClosedLoop(2000)
	r.advance(225) // consume the armed commutation

	before := r.c.Snapshot().Commutations
	r.det.emit(500, false, 0)
	r.c.FastTick()
	if r.c.Context().CommArmed {
		t.Error("Commutation armed off an invalid crossing")
	}
	r.advance(30000)
	if r.c.Snapshot().Commutations != before {
		t.Error("Unexpected commutation")
	}

	r.det.emit(500, true, 0)
	r.c.FastTick()
	if !r.c.Context().CommArmed {
		t.Error("Valid crossing on the watched phase should arm a commutation")
	}
	r.advance(225)
	if r.c.Snapshot().Commutations != before+1 {
		t.Error("Armed commutation did not fire")
	}
	r.checkDrive()
}

func TestReversal(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.toClosedLoop(1000)

	// ~1000 RPM
	r.det.hold(1e7/6/1000, true)
	r.c.SlowTick()

	r.c.SetSpeed(-800)
	if !r.c.ReversalPending() || r.c.CommandedSpeed() != 0 {
		t.Fatalf("Reversal not buffered: pending=%v cmd=%f", r.c.ReversalPending(), r.c.CommandedSpeed())
	}
	if r.c.Mode() != ClosedLoop || r.c.Direction() != core.Clockwise {
		t.Fatal("Reversal must not act while the rotor is fast")
	}

	r.c.SlowTick()
	if r.c.Mode() != ClosedLoop || !r.c.ReversalPending() {
		t.Fatal("Reversed above the safety threshold")
	}

	// ~333 RPM, below 400
	r.det.hold(5000, true)
	r.c.SlowTick()

	if r.c.Mode() != Stopped {
		t.Fatalf("Expected Stopped while realigning, got %v", r.c.Mode())
	}
	if r.c.Direction() != core.CounterClockwise {
		t.Error("Direction not flipped")
	}
	if r.c.CommandedSpeed() != 800 {
		t.Errorf("Buffered speed not applied: %f", r.c.CommandedSpeed())
	}
	if r.c.ReversalPending() {
		t.Error("Reversal flag not cleared")
	}
	if !r.c.Snapshot().Aligning {
		t.Error("Realignment not started")
	}
	if r.c.commSlot.IsActive() {
		t.Error("Commutation left pending across reversal")
	}

	r.advance(500000)
	if r.c.Mode() != OpenLoop {
		t.Fatalf("Expected OpenLoop after realignment, got %v", r.c.Mode())
	}
	if _, _, dir := r.c.ramp.State(); dir != core.CounterClockwise {
		t.Error("Ramp not running counter-clockwise")
	}
	if r.inv.floating() != sixstep.FloatingPhaseOf(0, core.CounterClockwise) {
		t.Errorf("Inverter floating %v, want CCW step 0", r.inv.floating())
	}
}

func TestSameDirectionCancelsReversal(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.toClosedLoop(1000)

	r.c.SetSpeed(-800)
	r.c.SetSpeed(1200)
	if r.c.ReversalPending() {
		t.Error("Same-direction command should cancel the pending reversal")
	}
	if r.c.CommandedSpeed() != 1200 {
		t.Errorf("Commanded %f", r.c.CommandedSpeed())
	}

	r.c.SetSpeed(0)
	if r.c.ReversalPending() || r.c.Direction() != core.Clockwise {
		t.Error("Zero command must not reverse")
	}
}

func TestStopIdempotent(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.toClosedLoop(2000)

	r.c.Stop()
	r.c.Stop()

	if r.c.Mode() != Stopped {
		t.Fatalf("Mode %v after Stop", r.c.Mode())
	}
	if _, ok := r.c.NextEventDue(); ok {
		t.Error("Events pending after Stop")
	}
	if r.inv.enabled {
		t.Error("Inverter still enabled")
	}
	ctx := r.c.Context()
	if ctx.CommArmed || ctx.TransitionScheduled || ctx.HandoverArmed || ctx.Step != 0 {
		t.Errorf("Context not reset: %+v", ctx)
	}
	if r.c.MeasuredSpeed() != 0 || r.c.TargetSpeed() != 0 || r.c.CommandedSpeed() != 0 {
		t.Error("Speeds not zeroed")
	}

	comms := r.c.Snapshot().Commutations
	r.det.emit(500, true, 0)
	r.c.FastTick()
	r.advance(100000)
	if r.c.Snapshot().Commutations != comms {
		t.Error("Commutation after Stop")
	}
}

func TestStopCancelsScheduledHandover(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.c.SetSpeed(2000)
	r.advance(500000)
	r.crossings(4, 500)
	if !r.c.Context().TransitionScheduled {
		t.Fatal("Handover not scheduled")
	}

	r.c.Stop()
	r.advance(10000)
	if r.c.Mode() != Stopped || r.c.Snapshot().Handovers != 0 {
		t.Error("Cancelled handover fired")
	}
}

func TestStopDuringAlignment(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.c.SetSpeed(1000)
	r.c.Stop()
	r.advance(600000)
	if r.c.Mode() != Stopped || r.c.Snapshot().Aligning {
		t.Error("Alignment completed after Stop")
	}
}

func TestSetSpeedZeroWhileStopped(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.c.SetSpeed(0)
	if _, ok := r.c.NextEventDue(); ok || r.c.Snapshot().Aligning {
		t.Error("Zero command should not start the motor")
	}
}

func TestSetSpeedDuringAlignment(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.c.SetSpeed(1000)
	r.advance(100000)
	r.c.SetSpeed(-1500)

	r.advance(400000)
	if r.c.Mode() != OpenLoop {
		t.Fatalf("Mode %v", r.c.Mode())
	}
	if r.c.Direction() != core.CounterClockwise || r.c.CommandedSpeed() != 1500 {
		t.Error("Command during alignment not applied")
	}
	if r.c.Snapshot().StartAttempts != 1 {
		t.Error("Alignment restarted")
	}
}

func TestStartupRetries(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.c.SetSpeed(1500)

	// no crossings: every ramp runs to its end
	for i := 0; i < 3; i++ {
		r.advance(500000)
		r.advance(uint32(time.Second/time.Microsecond) + 20000)
	}

	s := r.c.Snapshot()
	if s.Mode != Stopped {
		t.Fatalf("Expected Stopped after failed starts, got %v", s.Mode)
	}
	if s.StartupFailures != 3 || s.StartAttempts != 3 {
		t.Errorf("failures=%d attempts=%d, want 3/3", s.StartupFailures, s.StartAttempts)
	}
	if _, ok := r.c.NextEventDue(); ok {
		t.Error("Events pending after giving up")
	}
}

func TestRampSlopeClamp(t *testing.T) {
	r := newRig(t, DefaultConfig())
	cases := []struct{ in, want float32 }{{0, 1}, {25, 25}, {1000, 500}, {-5, 1}}
	for _, c := range cases {
		r.c.SetRampSlope(c.in)
		if got := r.c.RampSlope(); got != c.want {
			t.Errorf("SetRampSlope(%v) -> %v, want %v", c.in, got, c.want)
		}
	}
}

func TestGetTargetSpeedFloor(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.toClosedLoop(2000)

	// 250 RPM measured
	r.det.hold(1e7/6/250, true)
	r.c.SlowTick()
	if r.c.GetTargetSpeed() != 0 {
		t.Errorf("GetTargetSpeed below floor = %f", r.c.GetTargetSpeed())
	}
}

func TestSlowTickResetsPIDOutsideClosedLoop(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.c.pid.Update(1000, 0)
	r.c.target.Store(800)
	r.c.SlowTick()
	if r.c.pid.Integrator() != 0 {
		t.Error("PID not reset while stopped")
	}
	if r.c.TargetSpeed() != 0 {
		t.Errorf("Target %f outside ClosedLoop, want 0", r.c.TargetSpeed())
	}
}

func TestGetTargetSpeedReportsMeasured(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.toClosedLoop(1500)

	r.det.hold(500, true)
	r.c.SlowTick()
	if !approx(r.c.GetTargetSpeed(), r.c.MeasuredSpeed(), 0) {
		t.Errorf("GetTargetSpeed %f, measured %f", r.c.GetTargetSpeed(), r.c.MeasuredSpeed())
	}
	if approx(r.c.GetTargetSpeed(), r.c.TargetSpeed(), 0.5) {
		t.Errorf("GetTargetSpeed %f follows the slewed target", r.c.GetTargetSpeed())
	}
}

func TestSlowTickHoldsDutyWithoutLock(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.toClosedLoop(1500)

	r.det.hold(500, true)
	r.c.SlowTick()
	duty := r.c.Context().Duty
	integ := r.c.pid.Integrator()

	r.det.hold(500, false)
	for i := 0; i < 500; i++ {
		r.c.SlowTick()
	}
	if r.c.Mode() != ClosedLoop {
		t.Fatalf("Mode %v after losing lock", r.c.Mode())
	}
	if r.c.Context().Duty != duty {
		t.Errorf("Duty moved without lock: %f -> %f", duty, r.c.Context().Duty)
	}
	if r.c.pid.Integrator() != integ {
		t.Errorf("Integrator wound up without lock: %f -> %f", integ, r.c.pid.Integrator())
	}
	if r.c.MeasuredSpeed() != 0 {
		t.Errorf("Measured %f without lock, want 0", r.c.MeasuredSpeed())
	}
}

func TestSnapshotSummary(t *testing.T) {
	r := newRig(t, DefaultConfig())
	s := r.c.Snapshot().Summary()
	if s[:13] != "mode=STOPPED " {
		t.Errorf("Unexpected summary %q", s)
	}
}
