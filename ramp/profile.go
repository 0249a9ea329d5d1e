package ramp

import "math"

// Profile selects the frequency-vs-time curve of an open-loop ramp
type Profile uint8

const (
	Linear Profile = iota
	Exponential
	Quadratic
	Logarithmic
)

func (p Profile) String() string {
	switch p {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	case Quadratic:
		return "quadratic"
	case Logarithmic:
		return "logarithmic"
	default:
		return "unknown"
	}
}

// ParseProfile maps a profile name to its value
func ParseProfile(s string) (Profile, bool) {
	switch s {
	case "linear":
		return Linear, true
	case "exponential", "exp":
		return Exponential, true
	case "quadratic":
		return Quadratic, true
	case "logarithmic", "log":
		return Logarithmic, true
	}
	return Linear, false
}

// FrequencyAt returns the commutation frequency at ratio in [0,1] of the
// ramp. An exponential ramp with a non-positive endpoint falls back to
// linear.
func FrequencyAt(p Profile, f0, f1, ratio float32) float32 {
	r := clamp01(ratio)
	switch p {
	case Exponential:
		if f0 <= 0 || f1 <= 0 {
			return f0 + r*(f1-f0)
		}
		return f0 * float32(math.Pow(float64(f1/f0), float64(r)))
	case Quadratic:
		return f0 + (f1-f0)*r*r
	case Logarithmic:
		// fast start, approaches f1 without quite reaching it
		return f1 - (f1-f0)*float32(math.Exp(-4*float64(r)))
	default:
		return f0 + r*(f1-f0)
	}
}

// DutyAt returns the duty at ratio. Duty follows ratio^1.5 so most of the
// increase lands late in the ramp.
func DutyAt(d0, d1, ratio float32) float32 {
	r := clamp01(ratio)
	return d0 + float32(math.Pow(float64(r), 1.5))*(d1-d0)
}

// StepDelayUS is the time between commutation steps at freqHz, never below
// MinStepDelayUS
func StepDelayUS(freqHz float32) uint32 {
	if freqHz <= 0 {
		return MaxStepDelayUS
	}
	d := 1e6 / (6 * freqHz)
	if d < MinStepDelayUS {
		return MinStepDelayUS
	}
	if d > MaxStepDelayUS {
		return MaxStepDelayUS
	}
	return uint32(d)
}

func clamp01(r float32) float32 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
