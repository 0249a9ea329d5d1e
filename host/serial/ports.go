//go:build !wasm

package serial

import (
	"fmt"
	"sort"
	"strings"

	bugst "go.bug.st/serial"
)

// ListPorts returns the serial devices present on the host, USB CDC
// devices (the usual ESC connection) first
func ListPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	sort.SliceStable(ports, func(i, j int) bool {
		return isUSB(ports[i]) && !isUSB(ports[j])
	})
	return ports, nil
}

func isUSB(name string) bool {
	return strings.Contains(name, "ttyACM") || strings.Contains(name, "usbmodem")
}
