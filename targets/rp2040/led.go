//go:build rp2040

package main

import (
	"image/color"
	"machine"
	"sync/atomic"

	"tinygo.org/x/drivers/ws2812"

	"escore/core"
	"escore/motor"
)

var modeColors = [...]color.RGBA{
	motor.Stopped:    {R: 0, G: 0, B: 16},
	motor.OpenLoop:   {R: 32, G: 12, B: 0},
	motor.ClosedLoop: {R: 0, G: 32, B: 0},
}

var faultColor = color.RGBA{R: 48}

// StatusLED shows the controller mode on a WS2812. Mode changes arrive in
// control context; the LED is written from the main loop.
type StatusLED struct {
	dev   ws2812.Device
	mode  atomic.Uint32
	shown uint32
}

func NewStatusLED(pin machine.Pin) *StatusLED {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	l := &StatusLED{dev: ws2812.New(pin), shown: ^uint32(0)}
	l.mode.Store(uint32(motor.Stopped))
	return l
}

func (l *StatusLED) OnCommutation(step uint8, dir core.Direction) {}

func (l *StatusLED) OnModeChange(m motor.Mode) { l.mode.Store(uint32(m)) }

// Refresh writes the LED if the mode changed since the last call
func (l *StatusLED) Refresh() {
	m := l.mode.Load()
	if m == l.shown {
		return
	}
	l.shown = m
	c := faultColor
	if int(m) < len(modeColors) {
		c = modeColors[m]
	}
	_ = l.dev.WriteColors([]color.RGBA{c})
}

// Fault shows the fault colour; used when startup cannot complete
func (l *StatusLED) Fault() {
	_ = l.dev.WriteColors([]color.RGBA{faultColor})
}
