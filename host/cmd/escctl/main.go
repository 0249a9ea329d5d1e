// Command escctl drives an ESC over its serial link, or runs the simulator.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/jessevdk/go-flags"

	"escore/core"
	"escore/host/escctl"
	"escore/host/serial"
)

type GlobalOptions struct {
	Port    string        `short:"p" long:"port" description:"Serial device (default $ESC_PORT)"`
	Baud    int           `long:"baud" description:"Baud rate, ignored by USB CDC (default $ESC_BAUD or 250000)"`
	Timeout time.Duration `long:"timeout" default:"1s" description:"Response timeout"`
	Verbose bool          `short:"v" long:"verbose" description:"Log link and controller activity"`
}

type Options struct {
	GlobalOptions

	Status   StatusCommand   `command:"status" description:"Print the controller status"`
	SetSpeed SetSpeedCommand `command:"set-speed" alias:"speed" description:"Command a signed speed in RPM (negative is CCW, pass it after --)"`
	Stop     StopCommand     `command:"stop" description:"Stop the motor"`
	Slope    SlopeCommand    `command:"slope" description:"Set the speed slew rate in RPM per slow-loop tick"`
	Stats    StatsCommand    `command:"stats" description:"Print loop execution statistics"`
	Events   EventsCommand   `command:"events" description:"Dump the timing event ring"`
	Monitor  MonitorCommand  `command:"monitor" alias:"mon" description:"Live dashboard with keyboard speed control"`
	Shell    ShellCommand    `command:"shell" description:"Interactive command prompt"`
	Sim      SimCommand      `command:"sim" description:"Run the motor simulator"`
	Ports    PortsCommand    `command:"ports" description:"List serial ports"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "escctl - control and monitor a sensorless BLDC ESC"
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		setupLogging(opts.Verbose)
		if cmd == nil {
			return nil
		}
		return cmd.Execute(args)
	}

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	core.SetLogWriter(func(s string) { fmt.Fprintln(os.Stderr, s) })
	if verbose {
		core.SetLogLevel(core.LevelDebug)
	} else {
		core.SetLogLevel(core.LevelWarn)
	}
}

// serialConfig merges the environment with command-line flags
func serialConfig(g GlobalOptions) (*serial.Config, error) {
	cfg := &serial.Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if g.Port != "" {
		cfg.Device = g.Port
	}
	if g.Baud != 0 {
		cfg.Baud = g.Baud
	}
	return cfg, nil
}

func connect() (*escctl.Client, error) {
	cfg, err := serialConfig(opts.GlobalOptions)
	if err != nil {
		return nil, err
	}
	c := escctl.NewClient()
	c.ResponseTimeout = opts.Timeout
	if err := c.ConnectWithConfig(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// withClient connects, runs fn and closes the link
func withClient(fn func(c *escctl.Client) error) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
