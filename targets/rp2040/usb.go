//go:build rp2040

package main

import "machine"

// InitUSB configures machine.Serial, which is USB CDC on the RP2040
func InitUSB() {
	_ = machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes waiting to be read
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads up to len(buf) waiting bytes
func USBRead(buf []byte) int {
	n := 0
	for n < len(buf) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			break
		}
		buf[n] = b
		n++
	}
	return n
}

// usbWriter is the command server's output. After repeated failed writes
// the host is assumed gone and output is dropped until it returns.
type usbWriter struct {
	failures uint32
}

const maxWriteFailures = 10

func (w *usbWriter) Write(data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := machine.Serial.Write(data[written:])
		if err != nil || n == 0 {
			w.failures++
			if w.failures > maxWriteFailures {
				w.failures = 0
				return len(data), nil
			}
			return written, err
		}
		written += n
	}
	w.failures = 0
	return written, nil
}
