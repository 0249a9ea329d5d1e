package main

import (
	"fmt"

	"escore/host/escctl"
	"escore/host/serial"
)

type StatusCommand struct{}

func (c *StatusCommand) Execute(args []string) error {
	return withClient(func(cl *escctl.Client) error {
		st, err := cl.Status()
		if err != nil {
			return err
		}
		fmt.Println(escctl.FormatStatus(st))
		return nil
	})
}

type SetSpeedCommand struct {
	Args struct {
		RPM int32 `positional-arg-name:"rpm" required:"yes"`
	} `positional-args:"yes"`
}

func (c *SetSpeedCommand) Execute(args []string) error {
	return withClient(func(cl *escctl.Client) error {
		return cl.SetSpeed(c.Args.RPM)
	})
}

type StopCommand struct{}

func (c *StopCommand) Execute(args []string) error {
	return withClient(func(cl *escctl.Client) error {
		return cl.Stop()
	})
}

type SlopeCommand struct {
	Args struct {
		Slope uint32 `positional-arg-name:"rpm-per-tick" required:"yes"`
	} `positional-args:"yes"`
}

func (c *SlopeCommand) Execute(args []string) error {
	return withClient(func(cl *escctl.Client) error {
		return cl.SetRampSlope(c.Args.Slope)
	})
}

type StatsCommand struct{}

func (c *StatsCommand) Execute(args []string) error {
	return withClient(func(cl *escctl.Client) error {
		stats, err := cl.LoopStats()
		if err != nil {
			return err
		}
		for _, s := range stats {
			name := "fast"
			if s.Loop == 1 {
				name = "slow"
			}
			fmt.Printf("%s loop: %d Hz ticks=%d last=%dus avg=%dus\n", name, s.FreqHz, s.Ticks, s.LastExecUS, s.AvgExecUS)
		}
		return nil
	})
}

type EventsCommand struct{}

func (c *EventsCommand) Execute(args []string) error {
	return withClient(func(cl *escctl.Client) error {
		events, err := cl.Events()
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("event ring empty")
		}
		for _, e := range events {
			fmt.Printf("%10d %-14s v1=%d v2=%d\n", e.Clock, escctl.EventName(e.Kind), e.V1, e.V2)
		}
		return nil
	})
}

type PortsCommand struct{}

func (c *PortsCommand) Execute(args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
