package ramp

import (
	"testing"
	"time"

	"escore/core"
	"escore/sixstep"
)

type fakeInverter struct {
	duties   core.Duties
	states   [core.PhaseCount]core.OutputState
	enabled  bool
	armed    int
	disables int
}

func (f *fakeInverter) SetOutputState(ph core.Phase, s core.OutputState) { f.states[ph] = s }
func (f *fakeInverter) SetAllDuties(d core.Duties)                      { f.duties = d }
func (f *fakeInverter) Arm()                                            { f.armed++ }
func (f *fakeInverter) Enable()                                         { f.enabled = true }
func (f *fakeInverter) Disable() {
	f.enabled = false
	f.disables++
}

// floating returns the phase the inverter currently leaves undriven
func (f *fakeInverter) floating() core.Phase {
	for ph := core.PhaseA; ph < core.PhaseCount; ph++ {
		if f.states[ph] == core.Floating {
			return ph
		}
	}
	return core.PhaseCount
}

func newRamp() (*Ramp, *fakeInverter, *core.OneShot, *core.TickClock) {
	inv := &fakeInverter{}
	clock := core.NewTickClock(10000)
	slot := core.NewOneShot(clock)
	return New(inv, slot, clock), inv, slot, clock
}

// fire advances the clock to the pending event and dispatches it
func fire(t *testing.T, r *Ramp, slot *core.OneShot, clock *core.TickClock) {
	t.Helper()
	kind, due, ok := slot.Pending()
	if !ok {
		t.Fatal("No pending event")
	}
	clock.Set(due)
	if k, ok := slot.Expire(due); !ok || k != kind {
		t.Fatal("Pending event did not expire")
	}
	if kind != core.EventRampStep {
		t.Fatalf("Unexpected event %v", kind)
	}
	r.HandleStep()
}

func TestStepDelay(t *testing.T) {
	cases := []struct {
		freq float32
		want uint32
	}{
		{25, 6666},
		{500, 333},
		{2000, MinStepDelayUS},
		{0, MaxStepDelayUS},
	}
	for _, c := range cases {
		if got := StepDelayUS(c.freq); got != c.want {
			t.Errorf("StepDelayUS(%v) = %d, want %d", c.freq, got, c.want)
		}
	}
}

func TestProfilesMonotonic(t *testing.T) {
	for _, p := range []Profile{Linear, Exponential, Quadratic, Logarithmic} {
		if f := FrequencyAt(p, 25, 500, 0); f < 24.999 || f > 25.001 {
			t.Errorf("%v: start frequency %f", p, f)
		}
		if f := FrequencyAt(p, 25, 500, 1); p != Logarithmic && (f < 499.9 || f > 500.1) {
			t.Errorf("%v: end frequency %f", p, f)
		}
		prev := float32(0)
		for i := 0; i <= 100; i++ {
			f := FrequencyAt(p, 25, 500, float32(i)/100)
			if f < prev {
				t.Errorf("%v: frequency decreased at ratio %d%%", p, i)
			}
			prev = f
		}
	}
}

func TestExponentialMidpoint(t *testing.T) {
	f := FrequencyAt(Exponential, 25, 400, 0.5)
	if f < 99.99 || f > 100.01 {
		t.Errorf("Expected geometric midpoint 100Hz, got %f", f)
	}
}

func TestLogarithmicEnd(t *testing.T) {
	// 500 - 475*e^-4
	f := FrequencyAt(Logarithmic, 25, 500, 1)
	if f < 491.2 || f > 491.4 {
		t.Errorf("Expected 491.3Hz at the end of a logarithmic ramp, got %f", f)
	}
	if half := FrequencyAt(Logarithmic, 25, 500, 0.5); half <= FrequencyAt(Linear, 25, 500, 0.5) {
		t.Errorf("Logarithmic ramp should lead linear at midpoint, got %f", half)
	}
}

func TestRatioClamped(t *testing.T) {
	if f := FrequencyAt(Linear, 10, 20, 1.5); f != 20 {
		t.Errorf("Ratio above 1 should clamp, got %f", f)
	}
	if d := DutyAt(0.5, 0.6, -1); d != 0.5 {
		t.Errorf("Ratio below 0 should clamp, got %f", d)
	}
}

func TestDutyCurve(t *testing.T) {
	if d := DutyAt(0.5, 0.6, 1); d < 0.5999 || d > 0.6001 {
		t.Errorf("End duty %f", d)
	}
	// 0.25^1.5 = 0.125
	if d := DutyAt(0, 1, 0.25); d < 0.1249 || d > 0.1251 {
		t.Errorf("Duty at quarter ramp %f, want 0.125", d)
	}
}

func TestStartCommutatesStepZero(t *testing.T) {
	r, inv, slot, _ := newRamp()
	ok := r.Start(Params{
		DutyStart: 0.3, DutyEnd: 0.6,
		FreqStartHz: 25, FreqEndHz: 500,
		Duration:  time.Second,
		Direction: core.Clockwise,
		Profile:   Linear,
	})
	if !ok {
		t.Fatal("Start failed")
	}
	if !inv.enabled {
		t.Error("Start should enable the inverter")
	}
	if inv.floating() != sixstep.FloatingPhaseOf(0, core.Clockwise) {
		t.Errorf("Step 0 not applied, floating %v", inv.floating())
	}
	if inv.duties[core.PhaseA] != 0.3 {
		t.Errorf("Duty start not applied: %v", inv.duties)
	}

	kind, due, ok := slot.Pending()
	if !ok || kind != core.EventRampStep || due != 10000+6666 {
		t.Errorf("Pending = %v %d %v", kind, due, ok)
	}
	step, duty, dir := r.State()
	if step != 0 || duty != 0.3 || dir != core.Clockwise {
		t.Errorf("State = %d %f %v", step, duty, dir)
	}
}

func TestLinearRampEndpoints(t *testing.T) {
	r, inv, slot, clock := newRamp()

	var done any
	r.Start(Params{
		DutyStart: 0.5, DutyEnd: 0.6,
		FreqStartHz: 25, FreqEndHz: 500,
		Duration:   100 * time.Millisecond,
		Direction:  core.CounterClockwise,
		Profile:    Linear,
		OnComplete: func(ctx any) { done = ctx },
		Context:    "ctx",
	})

	prevFreq := r.FrequencyHz()
	prevDuty := float32(0.5)
	steps := 0
	for r.Active() {
		fire(t, r, slot, clock)
		steps++
		if !r.Active() {
			break
		}
		f := r.FrequencyHz()
		_, d, _ := r.State()
		if f < prevFreq || d < prevDuty {
			t.Fatalf("Ramp went backwards at step %d: f=%f d=%f", steps, f, d)
		}
		if f > 500 || d > 0.6 {
			t.Fatalf("Ramp overshot: f=%f d=%f", f, d)
		}
		prevFreq, prevDuty = f, d

		wantStep := uint8(steps % 6)
		if s, _, _ := r.State(); s != wantStep {
			t.Fatalf("Step %d, want %d", s, wantStep)
		}
		if inv.floating() != sixstep.FloatingPhaseOf(wantStep, core.CounterClockwise) {
			t.Fatalf("Inverter not at step %d", wantStep)
		}
		if steps > 10000 {
			t.Fatal("Ramp never completed")
		}
	}

	if done != "ctx" {
		t.Errorf("Completion callback context = %v", done)
	}
	if inv.enabled {
		t.Error("Completion should disable the inverter")
	}
	if slot.IsActive() {
		t.Error("No event should be pending after completion")
	}
	if prevFreq < 400 {
		t.Errorf("Last frequency %f, expected near 500", prevFreq)
	}
}

func TestStopIdempotent(t *testing.T) {
	r, inv, slot, _ := newRamp()
	r.Start(Params{DutyStart: 0.5, DutyEnd: 0.6, FreqStartHz: 25, FreqEndHz: 500, Duration: time.Second})

	r.Stop()
	r.Stop()

	if r.Active() || slot.IsActive() {
		t.Error("Ramp still active after Stop")
	}
	if inv.enabled {
		t.Error("Stop should disable the inverter")
	}
	if s, d, _ := r.State(); s != 0 || d != 0 {
		t.Errorf("Context not cleared: step=%d duty=%f", s, d)
	}

	// a late step handler must do nothing
	before := inv.disables
	r.HandleStep()
	if inv.disables != before {
		t.Error("HandleStep on a stopped ramp touched the inverter")
	}
}

func TestStopSoftKeepsOutputs(t *testing.T) {
	r, inv, slot, _ := newRamp()
	r.Start(Params{DutyStart: 0.5, DutyEnd: 0.6, FreqStartHz: 25, FreqEndHz: 500, Duration: time.Second})

	r.StopSoft()
	if !inv.enabled {
		t.Error("StopSoft must leave the inverter enabled")
	}
	if r.Active() || slot.IsActive() {
		t.Error("StopSoft did not cancel the ramp")
	}
}

func TestStartRejectsBadParams(t *testing.T) {
	r, _, _, _ := newRamp()
	if r.Start(Params{FreqStartHz: 0, FreqEndHz: 100, Duration: time.Second}) {
		t.Error("Zero start frequency accepted")
	}
	if r.Start(Params{FreqStartHz: 10, FreqEndHz: 100}) {
		t.Error("Zero duration accepted")
	}
}
