//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"escore/core"
)

// RP2040 timer peripheral, a free-running 1MHz counter
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x0C // raw low word
)

var (
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

	clock = core.NewTickClock(0)
)

// GetHardwareTime reads the low 32 bits of the microsecond counter
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// UpdateSystemTime pushes hardware time into the control clock and returns it
func UpdateSystemTime() uint32 {
	now := GetHardwareTime()
	clock.Set(now)
	return now
}
