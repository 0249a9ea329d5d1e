package pid

import (
	"math"
	"testing"
)

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestProportional(t *testing.T) {
	c := New(0.5, 0, 0, 0.001)
	c.SetOutputLimits(-10, 10)

	out := c.Update(2, 0)
	if !near(out, 1) {
		t.Errorf("Expected 1.0, got %f", out)
	}
	if c.Output() != out {
		t.Error("Output() should return last update")
	}
}

func TestIntegratorAccumulates(t *testing.T) {
	c := New(0, 10, 0, 0.01)
	c.SetOutputLimits(-10, 10)

	c.Update(1, 0)
	out := c.Update(1, 0)
	// 2 * 10 * 1 * 0.01
	if !near(out, 0.2) {
		t.Errorf("Expected 0.2, got %f", out)
	}
}

func TestIntegratorAntiWindup(t *testing.T) {
	c := New(0, 1, 0, 0.001)
	c.SetIntegratorLimit(0.5)
	c.SetOutputLimits(0.05, 0.95)

	for i := 0; i < 100000; i++ {
		c.Update(1000, 0)
	}
	if !near(c.Integrator(), 0.5) {
		t.Errorf("Integrator should clamp at 0.5, got %f", c.Integrator())
	}

	// a single negative error step must start unwinding immediately
	c.Update(0, 1000)
	if c.Integrator() >= 0.5 {
		t.Errorf("Integrator did not unwind: %f", c.Integrator())
	}
}

func TestOutputSaturation(t *testing.T) {
	c := New(1, 0, 0, 0.001)
	c.SetOutputLimits(0.05, 0.95)

	if out := c.Update(100, 0); out != 0.95 {
		t.Errorf("Expected upper clamp 0.95, got %f", out)
	}
	if out := c.Update(0, 100); out != 0.05 {
		t.Errorf("Expected lower clamp 0.05, got %f", out)
	}
}

func TestDerivative(t *testing.T) {
	c := New(0, 0, 0.01, 0.01)
	c.SetOutputLimits(-100, 100)

	// error 0 -> 1 over one period
	out := c.Update(1, 0)
	if !near(out, 1) {
		t.Errorf("Expected derivative term 1.0, got %f", out)
	}
	out = c.Update(1, 0)
	if !near(out, 0) {
		t.Errorf("Expected 0 with constant error, got %f", out)
	}
}

func TestReset(t *testing.T) {
	c := New(0.1, 1, 0.1, 0.001)
	c.Update(10, 0)
	c.Reset()

	if c.Integrator() != 0 || c.Output() != 0 || c.prevError != 0 {
		t.Errorf("Reset left state: i=%f out=%f prev=%f", c.Integrator(), c.Output(), c.prevError)
	}
}
