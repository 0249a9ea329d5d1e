// Package escctl is the host-side client for an ESC on the serial link.
package escctl

import (
	"errors"
	"fmt"
	"time"

	"escore/core"
	"escore/host/serial"
	"escore/motor"
	"escore/protocol"
)

var ErrNotConnected = errors.New("not connected to ESC")

// Client talks to one ESC
type Client struct {
	transport *protocol.HostTransport
	port      serial.Port
	connected bool

	// ResponseTimeout bounds waits for status and statistics replies
	ResponseTimeout time.Duration
}

func NewClient() *Client {
	return &Client{ResponseTimeout: time.Second}
}

// Connect opens a serial device with default settings
func (c *Client) Connect(device string) error {
	return c.ConnectWithConfig(serial.DefaultConfig(device))
}

func (c *Client) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	c.Attach(port)
	// give a freshly enumerated device time to come up
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Attach runs the client over an already open port
func (c *Client) Attach(port serial.Port) {
	c.port = port
	c.transport = protocol.NewHostTransport(port)
	c.connected = true
}

func (c *Client) Close() error {
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.transport.Close()
}

func (c *Client) IsConnected() bool { return c.connected }

func (c *Client) send(id uint16, args func(out protocol.OutputBuffer)) error {
	if !c.connected {
		return ErrNotConnected
	}
	return c.transport.SendCommand(id, args)
}

// SetSpeed commands a signed speed in RPM; negative is counter-clockwise
func (c *Client) SetSpeed(rpm int32) error {
	return c.send(protocol.CmdSetSpeed, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQInt(out, rpm)
	})
}

func (c *Client) Stop() error {
	return c.send(protocol.CmdStop, nil)
}

// SetRampSlope sets the speed slew rate in RPM per slow-loop tick
func (c *Client) SetRampSlope(rpmPerTick uint32) error {
	return c.send(protocol.CmdSetRampSlope, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, rpmPerTick)
	})
}

// Status fetches the controller snapshot
func (c *Client) Status() (protocol.Status, error) {
	if err := c.send(protocol.CmdGetStatus, nil); err != nil {
		return protocol.Status{}, err
	}
	m, err := c.transport.Expect(protocol.RespStatus, c.ResponseTimeout)
	if err != nil {
		return protocol.Status{}, err
	}
	return protocol.DecodeStatus(&m.Args)
}

// LoopStats fetches the fast and slow loop statistics
func (c *Client) LoopStats() ([]protocol.LoopStats, error) {
	if err := c.send(protocol.CmdGetLoopStats, nil); err != nil {
		return nil, err
	}
	var out []protocol.LoopStats
	for len(out) < 2 {
		m, err := c.transport.Expect(protocol.RespLoopStats, c.ResponseTimeout)
		if err != nil {
			if len(out) > 0 {
				break
			}
			return nil, err
		}
		ls, err := protocol.DecodeLoopStats(&m.Args)
		if err != nil {
			return nil, err
		}
		out = append(out, ls)
	}
	return out, nil
}

// Events fetches the timing event ring, oldest first
func (c *Client) Events() ([]protocol.Event, error) {
	if err := c.send(protocol.CmdDumpEvents, nil); err != nil {
		return nil, err
	}
	// the ESC writes every event before its ACK
	var out []protocol.Event
	for {
		m, err := c.transport.ReceiveResponse(50 * time.Millisecond)
		if err != nil {
			if errors.Is(err, protocol.ErrTimeout) {
				return out, nil
			}
			return out, err
		}
		if m.ID != protocol.RespEvent {
			continue
		}
		ev, err := protocol.DecodeEvent(&m.Args)
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

// ModeName returns the name of a wire mode value
func ModeName(mode uint8) string {
	return motor.Mode(mode).String()
}

// DirectionName returns "CW" or "CCW"
func DirectionName(dir uint8) string {
	return core.Direction(dir).String()
}

// EventName returns the name of a timing event kind
func EventName(kind uint8) string {
	return core.EventName(kind)
}

// FormatStatus renders a status as one line
func FormatStatus(st protocol.Status) string {
	return fmt.Sprintf("mode=%s dir=%s rpm=%d target=%d cmd=%d duty=%.1f%% period=%dus valid=%t reverse=%t zc=%d comm=%d handovers=%d failures=%d",
		ModeName(st.Mode), DirectionName(st.Direction),
		st.MeasuredRPM, st.TargetRPM, st.CommandedRPM,
		float64(st.DutyPermille)/10, st.PeriodUS,
		st.Flags&protocol.FlagBemfValid != 0, st.Flags&protocol.FlagReversePending != 0,
		st.ZeroCrosses, st.Commutations, st.Handovers, st.StartupFailures)
}
