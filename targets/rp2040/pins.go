//go:build rp2040

package main

import (
	"errors"
	"machine"
	"strings"
)

var errBadPin = errors.New("unknown pin name")

// parsePin accepts "gpioN", "GPN" and "ADC0".."ADC3". An empty name is
// machine.NoPin.
func parsePin(name string) (machine.Pin, error) {
	if name == "" {
		return machine.NoPin, nil
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "adc"):
		n, ok := atoi(lower[3:])
		if !ok || n > 3 {
			return machine.NoPin, errBadPin
		}
		return machine.ADC0 + machine.Pin(n), nil
	case strings.HasPrefix(lower, "gpio"):
		lower = lower[4:]
	case strings.HasPrefix(lower, "gp"):
		lower = lower[2:]
	}
	n, ok := atoi(lower)
	if !ok || n > 29 {
		return machine.NoPin, errBadPin
	}
	return machine.Pin(n), nil
}

func parsePins(names [3]string) ([3]machine.Pin, error) {
	var pins [3]machine.Pin
	for i, name := range names {
		p, err := parsePin(name)
		if err != nil {
			return pins, errors.New(name + ": " + err.Error())
		}
		pins[i] = p
	}
	return pins, nil
}

// atoi parses a small decimal without importing strconv
func atoi(s string) (int, bool) {
	if s == "" || len(s) > 3 {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
