//go:build tinygo

package core

import "runtime/interrupt"

// IRQState is the saved interrupt mask
type IRQState = interrupt.State

// EnterCritical disables interrupts and returns the previous state
func EnterCritical() IRQState {
	return interrupt.Disable()
}

// ExitCritical restores the interrupt state
func ExitCritical(state IRQState) {
	interrupt.Restore(state)
}
