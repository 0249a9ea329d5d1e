// Package pid implements the discrete speed regulator used by the closed
// loop. It is not safe for concurrent use; the slow loop owns it.
package pid

// Controller is a PID regulator with output saturation and a clamped
// integrator
type Controller struct {
	Kp, Ki, Kd float32
	Dt         float32 // update period, seconds

	OutMin, OutMax  float32
	IntegratorLimit float32

	integrator float32
	prevError  float32
	output     float32
}

// New creates a controller with output bounds [0,1] and integrator limit 1
func New(kp, ki, kd, dt float32) *Controller {
	return &Controller{
		Kp:              kp,
		Ki:              ki,
		Kd:              kd,
		Dt:              dt,
		OutMin:          0,
		OutMax:          1,
		IntegratorLimit: 1,
	}
}

// SetOutputLimits sets the saturation bounds
func (c *Controller) SetOutputLimits(min, max float32) {
	c.OutMin = min
	c.OutMax = max
}

// SetIntegratorLimit bounds the integrator to ±limit
func (c *Controller) SetIntegratorLimit(limit float32) {
	if limit < 0 {
		limit = -limit
	}
	c.IntegratorLimit = limit
}

// Update runs one step and returns the saturated output
func (c *Controller) Update(setpoint, measurement float32) float32 {
	err := setpoint - measurement

	c.integrator += c.Ki * err * c.Dt
	c.integrator = clamp(c.integrator, -c.IntegratorLimit, c.IntegratorLimit)

	var deriv float32
	if c.Dt > 0 {
		deriv = (err - c.prevError) / c.Dt
	}
	c.prevError = err

	out := c.Kp*err + c.integrator + c.Kd*deriv
	c.output = clamp(out, c.OutMin, c.OutMax)
	return c.output
}

// Reset clears the integrator, previous error and output
func (c *Controller) Reset() {
	c.integrator = 0
	c.prevError = 0
	c.output = 0
}

// Output returns the last computed output
func (c *Controller) Output() float32 { return c.output }

// Integrator returns the integrator state
func (c *Controller) Integrator() float32 { return c.integrator }

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
