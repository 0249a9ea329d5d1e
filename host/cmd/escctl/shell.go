package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/shlex"

	"escore/command"
	"escore/host/escctl"
	"escore/protocol"
)

// device is the subset of the client the shell drives
type device interface {
	SetSpeed(rpm int32) error
	Stop() error
	SetRampSlope(rpmPerTick uint32) error
	Status() (protocol.Status, error)
	LoopStats() ([]protocol.LoopStats, error)
	Events() ([]protocol.Event, error)
}

type ShellCommand struct{}

func (c *ShellCommand) Execute(args []string) error {
	return withClient(func(cl *escctl.Client) error {
		fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
		return runShell(cl, os.Stdin, os.Stdout)
	})
}

// runShell reads commands from in until EOF or quit
func runShell(dev device, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		words, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		if len(words) == 0 {
			continue
		}
		if words[0] == "quit" || words[0] == "exit" || words[0] == "q" {
			fmt.Fprintln(out, "Stopping motor")
			return dev.Stop()
		}
		if err := shellCommand(dev, words, out); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}

func shellCommand(dev device, words []string, out io.Writer) error {
	switch words[0] {
	case "help", "?":
		printHelp(out)
		return nil

	case "speed", "set_speed":
		if len(words) != 2 {
			return fmt.Errorf("usage: speed <rpm>")
		}
		rpm, err := strconv.ParseInt(words[1], 10, 32)
		if err != nil {
			return fmt.Errorf("bad rpm %q", words[1])
		}
		return dev.SetSpeed(int32(rpm))

	case "stop":
		return dev.Stop()

	case "dict":
		// the command table compiled into this build
		fmt.Fprint(out, command.NewESC(nil, nil, nil).Registry.Dictionary())

	case "slope":
		if len(words) != 2 {
			return fmt.Errorf("usage: slope <rpm-per-tick>")
		}
		s, err := strconv.ParseUint(words[1], 10, 32)
		if err != nil {
			return fmt.Errorf("bad slope %q", words[1])
		}
		return dev.SetRampSlope(uint32(s))

	case "status":
		st, err := dev.Status()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, escctl.FormatStatus(st))

	case "stats":
		stats, err := dev.LoopStats()
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Fprintf(out, "loop %d: %d Hz ticks=%d last=%dus avg=%dus\n", s.Loop, s.FreqHz, s.Ticks, s.LastExecUS, s.AvgExecUS)
		}

	case "events":
		events, err := dev.Events()
		if err != nil {
			return err
		}
		for _, e := range events {
			fmt.Fprintf(out, "%10d %-14s v1=%d v2=%d\n", e.Clock, escctl.EventName(e.Kind), e.V1, e.V2)
		}

	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help' for available commands)\n", words[0])
	}
	return nil
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "\nAvailable commands:")
	fmt.Fprintln(out, "  help           - Show this help message")
	fmt.Fprintln(out, "  speed <rpm>    - Command a signed speed (negative is CCW)")
	fmt.Fprintln(out, "  stop           - Stop the motor")
	fmt.Fprintln(out, "  slope <n>      - Set the speed slew rate in RPM per tick")
	fmt.Fprintln(out, "  status         - Print controller status")
	fmt.Fprintln(out, "  stats          - Print loop statistics")
	fmt.Fprintln(out, "  events         - Dump the event ring")
	fmt.Fprintln(out, "  dict           - Print command ids and formats")
	fmt.Fprintln(out, "  quit/exit/q    - Stop the motor and exit")
	fmt.Fprintln(out)
}
