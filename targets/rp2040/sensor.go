//go:build rp2040

package main

import (
	"device/rp"
	"errors"
	"machine"

	"escore/core"
)

var errNotADCPin = errors.New("pin has no ADC channel")

// PhaseSensor samples the three phase-voltage dividers (and optionally
// the bus divider) on the RP2040's 12-bit ADC. Each Latest call runs one
// conversion per channel, so a sample is always fresh.
type PhaseSensor struct {
	phase  [core.PhaseCount]uint32 // AINSEL
	bus    uint32
	hasBus bool
}

// NewPhaseSensor configures the analog inputs. bus may be machine.NoPin.
func NewPhaseSensor(phase [core.PhaseCount]machine.Pin, bus machine.Pin) (*PhaseSensor, error) {
	machine.InitADC()
	s := &PhaseSensor{}
	for i, pin := range phase {
		ch, err := adcChannel(pin)
		if err != nil {
			return nil, err
		}
		adc := machine.ADC{Pin: pin}
		adc.Configure(machine.ADCConfig{})
		s.phase[i] = ch
	}
	if bus != machine.NoPin {
		ch, err := adcChannel(bus)
		if err != nil {
			return nil, err
		}
		adc := machine.ADC{Pin: bus}
		adc.Configure(machine.ADCConfig{})
		s.bus = ch
		s.hasBus = true
	}
	return s, nil
}

// Latest implements core.MotorSensor
func (s *PhaseSensor) Latest() (core.Measurements, bool) {
	var m core.Measurements
	for i, ch := range s.phase {
		m.PhaseVoltage[i] = convert(ch)
	}
	if s.hasBus {
		m.BusVoltage = convert(s.bus)
	}
	return m, true
}

// adcChannel maps GPIO26-29 to channels 0-3
func adcChannel(pin machine.Pin) (uint32, error) {
	if pin < machine.ADC0 || pin > machine.ADC3 {
		return 0, errNotADCPin
	}
	return uint32(pin - machine.ADC0), nil
}

// convert runs one conversion and returns the raw 12-bit result
func convert(ch uint32) uint16 {
	rp.ADC.CS.ReplaceBits(ch<<rp.ADC_CS_AINSEL_Pos, rp.ADC_CS_AINSEL_Msk, 0)
	rp.ADC.CS.SetBits(rp.ADC_CS_START_ONCE)
	for !rp.ADC.CS.HasBits(rp.ADC_CS_READY) {
	}
	return uint16(rp.ADC.RESULT.Get() & 0xfff)
}
