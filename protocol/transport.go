package protocol

import (
	"errors"
	"sync/atomic"
)

// ErrUnknownCommand is returned by a handler for a command id it does not
// know
var ErrUnknownCommand = errors.New("unknown command")

// CommandHandler decodes and runs one command; it must consume its
// arguments from data
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the ESC side of the link. Receive runs from the main loop;
// responses are written to the output buffer, which the platform drains to
// the serial port.
type Transport struct {
	synced  atomic.Bool
	nextSeq atomic.Uint32

	output  OutputBuffer
	handler CommandHandler
	onReset func()
	onFlush func()

	// last handler error, for diagnostics
	lastErr atomic.Value
}

// NewTransport creates a synchronised transport expecting sequence 0x10
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{output: output, handler: handler}
	t.synced.Store(true)
	t.nextSeq.Store(SeqDest)
	return t
}

// SetResetCallback is called when the host restarts its sequence
func (t *Transport) SetResetCallback(fn func()) { t.onReset = fn }

// SetFlushCallback is called after each ACK so the platform can push it out
// ahead of queued responses
func (t *Transport) SetFlushCallback(fn func()) { t.onFlush = fn }

// Receive parses every complete frame in input, runs the commands of
// in-sequence frames and acknowledges each frame
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()
	total := len(data)

	for len(data) > 0 {
		if !t.synced.Load() {
			data = Resync(data)
			if data != nil {
				t.synced.Store(true)
				t.sendAck()
			}
			continue
		}
		if data[0] == SyncByte {
			data = data[1:]
			continue
		}

		f, n, r := ScanFrame(data)
		if r == ScanNeedMore {
			break
		}
		if r == ScanBad {
			t.synced.Store(false)
			continue
		}
		data = data[n:]

		expected := uint8(t.nextSeq.Load())
		if f.Seq == SeqDest && expected != SeqDest {
			expected = SeqDest
			t.nextSeq.Store(SeqDest)
			if t.onReset != nil {
				t.onReset()
			}
		}
		if f.Seq == expected {
			t.nextSeq.Store(uint32(nextSeq(expected)))
			t.dispatch(f.Payload)
		}
		// out-of-sequence frames get the expected sequence back as a NAK
		t.sendAck()
	}

	input.Pop(total - len(data))
}

func (t *Transport) dispatch(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.synced.Store(false)
		}
	}()

	for len(payload) > 0 {
		id, err := DecodeVLQUint(&payload)
		if err != nil {
			t.lastErr.Store(err)
			return
		}
		if t.handler == nil {
			return
		}
		if err := t.handler(uint16(id), &payload); err != nil {
			// argument layout is unknown past a failed command
			t.lastErr.Store(err)
			return
		}
	}
}

// LastError returns the most recent command error, if any
func (t *Transport) LastError() error {
	if err, ok := t.lastErr.Load().(error); ok {
		return err
	}
	return nil
}

func (t *Transport) sendAck() {
	var buf [FrameMinSize]byte
	t.output.Output(AppendFrame(buf[:0], uint8(t.nextSeq.Load()), nil))
	if t.onFlush != nil {
		t.onFlush()
	}
}

// SendResponse writes one response frame: the id then args
func (t *Transport) SendResponse(id uint16, args func(out OutputBuffer)) {
	start := t.output.CurPosition()
	t.output.Output([]byte{0, uint8(t.nextSeq.Load())})
	EncodeVLQUint(t.output, uint32(id))
	if args != nil {
		args(t.output)
	}
	size := len(t.output.DataSince(start)) + FrameTrailerSize
	t.output.Update(start, uint8(size))
	hi, lo := crcBytes(CRC16(t.output.DataSince(start)))
	t.output.Output([]byte{hi, lo, SyncByte})
}

// Reset returns to the power-on state
func (t *Transport) Reset() {
	t.synced.Store(true)
	t.nextSeq.Store(SeqDest)
	if t.onReset != nil {
		t.onReset()
	}
}
