//go:build !tinygo

package core

// IRQState is a placeholder for interrupt state on regular Go
type IRQState uintptr

// EnterCritical is a no-op on regular Go (hosted tests and the simulator
// run every context on one goroutine)
func EnterCritical() IRQState {
	return 0
}

// ExitCritical is a no-op on regular Go
func ExitCritical(state IRQState) {
}
