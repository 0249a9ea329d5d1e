//go:build rp2040

package main

import (
	"machine"

	"escore/core"
)

// pwmPeripheral abstracts over TinyGo's unexported *pwmGroup type
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// halfBridge is one phase of an IN/EN gate driver (DRV8313, L6234): IN
// selects high or low side, EN low turns both off
type halfBridge struct {
	pwm     pwmPeripheral
	channel uint8
	en      machine.Pin
}

// BridgeInverter drives a three-phase IN/EN bridge. IN runs hardware PWM,
// one slice per phase, so all three share a frequency.
type BridgeInverter struct {
	phases  [core.PhaseCount]halfBridge
	states  [core.PhaseCount]core.OutputState
	duties  core.Duties
	enabled bool
	arms    uint32
}

// NewBridgeInverter configures the PWM slices and enable pins
func NewBridgeInverter(in, en [core.PhaseCount]machine.Pin, freqHz uint32) (*BridgeInverter, error) {
	if freqHz == 0 {
		freqHz = 24000
	}
	period := uint64(1e9) / uint64(freqHz)

	inv := &BridgeInverter{}
	for i := range inv.phases {
		pwm := pwmForPin(in[i])
		if err := pwm.Configure(machine.PWMConfig{Period: period}); err != nil {
			return nil, err
		}
		ch, err := pwm.Channel(in[i])
		if err != nil {
			return nil, err
		}
		pwm.Set(ch, 0)
		en[i].Configure(machine.PinConfig{Mode: machine.PinOutput})
		en[i].Low()
		inv.phases[i] = halfBridge{pwm: pwm, channel: ch, en: en[i]}
	}
	return inv, nil
}

func (b *BridgeInverter) SetOutputState(phase core.Phase, state core.OutputState) {
	if !phase.Valid() {
		return
	}
	b.states[phase] = state
	b.apply(phase)
}

func (b *BridgeInverter) SetAllDuties(d core.Duties) {
	b.duties = d
	for p := core.PhaseA; p < core.PhaseCount; p++ {
		b.apply(p)
	}
}

// Arm counts arm requests; IN/EN drivers have no fault latch to clear
func (b *BridgeInverter) Arm() { b.arms++ }

func (b *BridgeInverter) Enable() {
	b.enabled = true
	for p := core.PhaseA; p < core.PhaseCount; p++ {
		b.apply(p)
	}
}

func (b *BridgeInverter) Disable() {
	b.enabled = false
	for p := core.PhaseA; p < core.PhaseCount; p++ {
		b.states[p] = core.Floating
		b.apply(p)
	}
}

func (b *BridgeInverter) apply(p core.Phase) {
	hb := b.phases[p]
	if hb.pwm == nil {
		return
	}
	state := b.states[p]
	if !b.enabled {
		state = core.Floating
	}

	top := hb.pwm.Top()
	switch state {
	case core.PWMHighOnly, core.PWMActive:
		hb.pwm.Set(hb.channel, dutyCounts(b.duties[p], top))
		hb.en.High()
	case core.ForcedHigh:
		hb.pwm.Set(hb.channel, top+1)
		hb.en.High()
	case core.PWMLowOnly, core.ForcedLow:
		hb.pwm.Set(hb.channel, 0)
		hb.en.High()
	default:
		hb.en.Low()
		hb.pwm.Set(hb.channel, 0)
	}
}

func dutyCounts(d float32, top uint32) uint32 {
	if d <= 0 {
		return 0
	}
	if d >= 1 {
		return top + 1
	}
	return uint32(d * float32(top+1))
}

// pwmForPin returns the slice driving pin. GPIO N belongs to slice
// (N>>1)&7, channel A for even pins.
func pwmForPin(pin machine.Pin) pwmPeripheral {
	switch (uint8(pin) >> 1) & 0x7 {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}
