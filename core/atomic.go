package core

import (
	"math"
	"sync/atomic"
)

// Float32 is an atomically accessed float32, for values shared between the
// fast loop, the slow loop and command context
type Float32 struct {
	bits atomic.Uint32
}

func (f *Float32) Load() float32 {
	return math.Float32frombits(f.bits.Load())
}

func (f *Float32) Store(v float32) {
	f.bits.Store(math.Float32bits(v))
}
