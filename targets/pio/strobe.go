//go:build rp2040

// Package pio puts commutation timing on a scope-friendly pin using an
// RP2040 PIO state machine, so the CPU pays one FIFO write per
// commutation.
package pio

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"escore/core"
	"escore/motor"
)

// Command word, shifted out LSB first:
//
//	bit 0:     direction level (1 = CCW)
//	bits 1-5:  pulse width - 1, in 8-cycle units
//
// The strobe pin goes high for the pulse width, then the program waits
// for the next word. The direction pin holds its level between pulses.
func buildStrobeProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),          // 0: pull block
		asm.Out(rp2pio.OutDestPins, 1).Encode(), // 1: out pins, 1 (direction)
		asm.Out(rp2pio.OutDestX, 5).Encode(),    // 2: out x, 5 (width)
		asm.Set(rp2pio.SetDestPins, 1).Encode(), // 3: set pins, 1
		// hold:
		asm.Jmp(4, rp2pio.JmpXNZeroDec).Delay(7).Encode(), // 4: jmp x--, 4 [7]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),           // 5: set pins, 0
		// .wrap
	}
}

const strobeOrigin = 0

// Strobe is a motor.Observer that pulses a pin on every commutation. A
// wide pulse marks step 0 so a scope can trigger once per electrical
// revolution.
type Strobe struct {
	pio     *rp2pio.PIO
	sm      rp2pio.StateMachine
	pin     machine.Pin
	dirPin  machine.Pin
	dropped uint32
	pulses  uint32
}

// NewStrobe claims state machine smNum of PIO pioNum (0 or 1)
func NewStrobe(pioNum, smNum uint8) *Strobe {
	hw := rp2pio.PIO0
	if pioNum != 0 {
		hw = rp2pio.PIO1
	}
	return &Strobe{pio: hw, sm: hw.StateMachine(smNum)}
}

// Init loads the program and starts the state machine. dirPin may be
// machine.NoPin.
func (s *Strobe) Init(pin, dirPin machine.Pin) error {
	s.pin = pin
	s.dirPin = dirPin
	s.sm.TryClaim()

	program := buildStrobeProgram()
	offset, err := s.pio.AddProgram(program, strobeOrigin)
	if err != nil {
		return err
	}

	s.pin.Configure(machine.PinConfig{Mode: s.pio.PinMode()})
	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(s.pin, 1)
	if dirPin != machine.NoPin {
		s.dirPin.Configure(machine.PinConfig{Mode: s.pio.PinMode()})
		cfg.SetOutPins(s.dirPin, 1)
	}
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	// 125MHz / 125 = 1MHz, so one width unit is 8us
	cfg.SetClkDivIntFrac(125, 0)
	s.sm.Init(offset, cfg)

	s.sm.SetPindirsConsecutive(s.pin, 1, true)
	s.sm.SetPinsConsecutive(s.pin, 1, false)
	if dirPin != machine.NoPin {
		s.sm.SetPindirsConsecutive(s.dirPin, 1, true)
		s.sm.SetPinsConsecutive(s.dirPin, 1, false)
	}
	s.sm.SetEnabled(true)
	core.LogInfo("pio: commutation strobe on gpio" + core.Utoa(uint32(pin)))
	return nil
}

// OnCommutation queues one pulse. It never blocks: with the FIFO full the
// pulse is dropped and counted.
func (s *Strobe) OnCommutation(step uint8, dir core.Direction) {
	width := uint32(0)
	if step == 0 {
		width = 3
	}
	word := width << 1
	if dir == core.CounterClockwise {
		word |= 1
	}
	if s.sm.IsTxFIFOFull() {
		s.dropped++
		return
	}
	s.sm.TxPut(word)
	s.pulses++
}

// OnModeChange clears queued pulses when the motor stops and reports
// any drops
func (s *Strobe) OnModeChange(m motor.Mode) {
	if m != motor.Stopped {
		return
	}
	s.sm.ClearFIFOs()
	if s.dropped > 0 {
		core.LogWarn("pio: strobe dropped " + core.Utoa(s.dropped) + " of " + core.Utoa(s.pulses+s.dropped) + " pulses")
		s.dropped = 0
		s.pulses = 0
	}
}
