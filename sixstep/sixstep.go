// Package sixstep maps a commutation step and direction to inverter output
// patterns. Each step drives one phase high, one low and leaves the third
// floating for back-EMF sensing.
package sixstep

import "escore/core"

// Steps per electrical revolution
const Steps = 6

// Pattern is the per-phase output state for one step, indexed by core.Phase
type Pattern [core.PhaseCount]core.OutputState

const (
	h = core.PWMHighOnly
	l = core.PWMLowOnly
	z = core.Floating
)

// A+B-, A+C-, B+C-, B+A-, C+A-, C+B-
var cwTable = [Steps]Pattern{
	{h, l, z},
	{h, z, l},
	{z, h, l},
	{l, h, z},
	{l, z, h},
	{z, l, h},
}

// C+B-, C+A-, B+A-, B+C-, A+C-, A+B-
var ccwTable = [Steps]Pattern{
	{z, l, h},
	{l, z, h},
	{l, h, z},
	{z, h, l},
	{h, z, l},
	{h, l, z},
}

// PatternOf returns the output pattern for step (mod 6) in direction dir
func PatternOf(step uint8, dir core.Direction) Pattern {
	step %= Steps
	if dir == core.CounterClockwise {
		return ccwTable[step]
	}
	return cwTable[step]
}

// FloatingPhaseOf returns the undriven phase for step in direction dir. It
// reads the same tables Commutate drives, so the two always agree.
func FloatingPhaseOf(step uint8, dir core.Direction) core.Phase {
	p := PatternOf(step, dir)
	for ph := core.PhaseA; ph < core.PhaseCount; ph++ {
		if p[ph] == core.Floating {
			return ph
		}
	}
	return core.PhaseCount
}

// NextStep returns the step after step
func NextStep(step uint8) uint8 {
	return (step + 1) % Steps
}

// Commutate applies step to the inverter: duty on the two driven phases,
// zero on the floating one, then the output states. Duty is clamped to
// [0,1].
func Commutate(inv core.Inverter, step uint8, duty float32, dir core.Direction) {
	if duty < 0 {
		duty = 0
	} else if duty > 1 {
		duty = 1
	}

	p := PatternOf(step, dir)
	var d core.Duties
	for ph := core.PhaseA; ph < core.PhaseCount; ph++ {
		if p[ph] != core.Floating {
			d[ph] = duty
		}
	}

	inv.SetAllDuties(d)
	for ph := core.PhaseA; ph < core.PhaseCount; ph++ {
		inv.SetOutputState(ph, p[ph])
	}
}
