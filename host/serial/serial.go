// Package serial opens the link to an ESC: a USB CDC or UART device, or an
// in-process pipe to the simulator.
package serial

import (
	"errors"
	"io"
	"net"
	"time"
)

var ErrNoDevice = errors.New("no serial device configured")

// Port is a byte stream to the ESC
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// Config is read from flags and the environment
type Config struct {
	Device      string        `env:"ESC_PORT"`
	Baud        int           `env:"ESC_BAUD" envDefault:"250000"`
	ReadTimeout time.Duration `env:"ESC_READ_TIMEOUT" envDefault:"100ms"`
}

func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000, // ignored by USB CDC
		ReadTimeout: 100 * time.Millisecond,
	}
}

type pipePort struct {
	net.Conn
}

func (p pipePort) Flush() error { return nil }

// Pipe returns two connected in-memory ports. Writes block until the other
// end reads.
func Pipe() (Port, Port) {
	a, b := net.Pipe()
	return pipePort{a}, pipePort{b}
}
