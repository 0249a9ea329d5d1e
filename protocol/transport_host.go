package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTimeout      = errors.New("timeout")
	ErrClosed       = errors.New("transport closed")
	ErrFrameTooLong = errors.New("frame too long")
)

// DefaultTimeout bounds the wait for an ACK or a response
const DefaultTimeout = 2 * time.Second

// ResponseHandler receives asynchronous responses (event dumps, unsolicited
// status). data holds the arguments after the response id.
type ResponseHandler func(respID uint16, data *[]byte) error

// Message is one received response frame
type Message struct {
	Sequence uint8
	ID       uint16
	Args     []byte
}

// HostTransport is the host side of the link: it sends commands, waits for
// the ESC to ACK them and collects responses
type HostTransport struct {
	port io.ReadWriteCloser

	seq atomic.Uint32

	input   *FifoBuffer
	synced  bool
	readMu  sync.Mutex
	writeMu sync.Mutex

	ackChan      chan uint8
	responseChan chan *Message

	handlerMu sync.RWMutex
	handler   ResponseHandler

	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once
}

// NewHostTransport wraps an open port and starts the reader goroutine
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		input:        NewFifoBuffer(512),
		synced:       true,
		ackChan:      make(chan uint8, 1),
		responseChan: make(chan *Message, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	t.seq.Store(SeqDest)
	go t.readLoop()
	return t
}

// SendCommand sends one command and waits for its ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(out OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultTimeout)
}

// SendCommandWithTimeout is SendCommand with an explicit ACK timeout
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(out OutputBuffer), timeout time.Duration) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	seq := uint8(t.seq.Load())
	frame, err := BuildCommand(seq, cmdID, args)
	if err != nil {
		return fmt.Errorf("build command %d: %w", cmdID, err)
	}

	// a stale ACK from an earlier timeout must not satisfy this command
	select {
	case <-t.ackChan:
	default:
	}

	n, err := t.port.Write(frame)
	if err != nil {
		return fmt.Errorf("write command %d: %w", cmdID, err)
	}
	if n != len(frame) {
		return fmt.Errorf("write command %d: short write %d/%d", cmdID, n, len(frame))
	}

	return t.waitForAck(seq, timeout)
}

// BuildCommand frames one command with the given sequence byte
func BuildCommand(seq uint8, cmdID uint16, args func(out OutputBuffer)) ([]byte, error) {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	payload := scratch.Result()
	if len(payload) > FramePayloadMax {
		return nil, fmt.Errorf("%w: %d payload bytes (max %d)", ErrFrameTooLong, len(payload), FramePayloadMax)
	}
	return AppendFrame(make([]byte, 0, len(payload)+FrameMinSize), seq, payload), nil
}

func (t *HostTransport) waitForAck(sent uint8, timeout time.Duration) error {
	want := nextSeq(sent)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case got := <-t.ackChan:
		if got != want {
			// NAK: the ESC wants a different sequence; resync to it
			t.seq.Store(uint32(got))
			return fmt.Errorf("nak: expected seq 0x%02x, ESC wants 0x%02x", want, got)
		}
		t.seq.Store(uint32(want))
		return nil
	case <-timer.C:
		return fmt.Errorf("ack for seq 0x%02x: %w after %v", sent, ErrTimeout, timeout)
	case <-t.stopChan:
		return ErrClosed
	}
}

// ReceiveResponse waits for the next response frame
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m := <-t.responseChan:
		return m, nil
	case <-timer.C:
		return nil, fmt.Errorf("response: %w after %v", ErrTimeout, timeout)
	case <-t.stopChan:
		return nil, ErrClosed
	}
}

// Expect waits for a response with the given id, dropping others
func (t *HostTransport) Expect(respID uint16, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, fmt.Errorf("response 0x%02x: %w", respID, ErrTimeout)
		}
		m, err := t.ReceiveResponse(left)
		if err != nil {
			return nil, err
		}
		if m.ID == respID {
			return m, nil
		}
	}
}

// SetResponseHandler installs a callback run for every response in
// addition to queueing it
func (t *HostTransport) SetResponseHandler(h ResponseHandler) {
	t.handlerMu.Lock()
	t.handler = h
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buf := make([]byte, 256)
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if n > 0 {
			t.feed(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// feed pushes received bytes through the frame scanner
func (t *HostTransport) feed(p []byte) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for len(p) > 0 {
		w := t.input.Write(p)
		p = p[w:]
		t.process()
		if w == 0 && len(p) > 0 {
			// unparseable backlog filling the ring
			t.input.Reset()
			t.synced = false
		}
	}
}

func (t *HostTransport) process() {
	data := t.input.Data()
	total := len(data)

	for len(data) > 0 {
		if !t.synced {
			data = Resync(data)
			t.synced = data != nil
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
			t.synced = false
			continue
		}
		data = data[n:]
		t.dispatch(f)
	}

	t.input.Pop(total - len(data))
}

func (t *HostTransport) dispatch(f Frame) {
	if f.IsAck() {
		select {
		case t.ackChan <- f.Seq:
		default:
		}
		return
	}

	args := append([]byte(nil), f.Payload...)
	id, err := DecodeVLQUint(&args)
	if err != nil {
		return
	}
	m := &Message{Sequence: f.Seq, ID: uint16(id), Args: args}

	t.handlerMu.RLock()
	h := t.handler
	t.handlerMu.RUnlock()
	if h != nil {
		a := m.Args
		_ = h(m.ID, &a)
	}

	select {
	case t.responseChan <- m:
	default:
		// full: drop the oldest
		select {
		case <-t.responseChan:
		default:
		}
		select {
		case t.responseChan <- m:
		default:
		}
	}
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// Reset returns to sequence 0x10 and drops queued ACKs and responses
func (t *HostTransport) Reset() {
	t.seq.Store(SeqDest)
	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	for len(t.responseChan) > 0 {
		<-t.responseChan
	}
}
