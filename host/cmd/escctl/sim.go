package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"escore/host/escctl"
	"escore/host/monitor"
	"escore/host/serial"
	"escore/sim"
)

type SimCommand struct {
	Profile  string        `short:"f" long:"profile" description:"YAML scenario file"`
	Duration time.Duration `short:"d" long:"duration" description:"Override the scenario duration"`
	RPM      float32       `long:"rpm" description:"Command this speed at t=0, in addition to the script"`
	CSV      string        `long:"csv" description:"Write recorded samples to this file"`
	Serve    bool          `long:"serve" description:"Run in real time behind the live dashboard"`
	Speed    float64       `long:"speed" default:"1" description:"Simulated time per wall time when serving"`
}

func (c *SimCommand) Execute(args []string) error {
	profile := &sim.Profile{Plant: sim.DefaultPlantParams(), Duration: 3 * time.Second}
	if c.Profile != "" {
		p, err := sim.LoadProfile(c.Profile)
		if err != nil {
			return err
		}
		profile = p
	}
	if c.Duration > 0 {
		profile.Duration = c.Duration
	}
	if c.RPM != 0 {
		rpm := c.RPM
		profile.Script = append([]sim.Action{{SetSpeed: &rpm}}, profile.Script...)
	}
	if c.CSV != "" && profile.RecordEvery <= 0 {
		profile.RecordEvery = time.Millisecond
	}

	runner, err := sim.NewRunner(profile.Options())
	if err != nil {
		return err
	}
	if c.Serve {
		return c.serve(runner)
	}

	start := time.Now()
	runner.Run(profile.Duration)
	fmt.Printf("simulated %v in %v\n", profile.Duration, time.Since(start).Round(time.Millisecond))
	for _, m := range runner.Modes() {
		fmt.Printf("%10.3f ms  %s\n", float64(m.TimeUS)/1000, m.Mode)
	}
	snap := runner.Controller.Snapshot()
	fmt.Printf("final: mode=%s rotor=%.0f rpm measured=%.0f rpm commutations=%d handovers=%d\n",
		snap.Mode, runner.Plant.RPM(), snap.MeasuredRPM, snap.Commutations, snap.Handovers)

	if c.CSV == "" {
		return nil
	}
	f, err := os.Create(c.CSV)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := sim.WriteCSV(f, runner.Records()); err != nil {
		return err
	}
	fmt.Printf("wrote %d samples to %s\n", len(runner.Records()), c.CSV)
	return nil
}

// serve puts the simulated ESC on one end of an in-process link and the
// dashboard on the other
func (c *SimCommand) serve(runner *sim.Runner) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	host, dev := serial.Pipe()
	done := make(chan error, 1)
	go func() { done <- sim.Serve(ctx, runner, dev, c.Speed) }()

	cl := escctl.NewClient()
	cl.ResponseTimeout = opts.Timeout
	cl.Attach(host)

	err := monitor.Run(cl, monitor.DefaultOptions())
	cancel()
	cl.Close()
	dev.Close()
	<-done
	return err
}

type MonitorCommand struct {
	Interval time.Duration `short:"i" long:"interval" default:"100ms" description:"Status poll period"`
	MaxRPM   float64       `long:"max-rpm" default:"6000" description:"Chart range"`
	Step     int32         `long:"step" default:"250" description:"Speed change per key press"`
}

func (c *MonitorCommand) Execute(args []string) error {
	return withClient(func(cl *escctl.Client) error {
		return monitor.Run(cl, monitor.Options{Interval: c.Interval, MaxRPM: c.MaxRPM, StepRPM: c.Step})
	})
}
