package command

import (
	"io"

	"escore/protocol"
)

// Server runs the device end of the link: bytes in, commands dispatched
// through an ESC, responses and ACKs written out. It is not safe for
// concurrent use; feed and poll it from the control context.
type Server struct {
	esc       *ESC
	transport *protocol.Transport
	in        *protocol.FifoBuffer
	out       *protocol.ScratchOutput
	w         io.Writer
}

// NewServer wires esc to a transport that writes to w
func NewServer(esc *ESC, w io.Writer) *Server {
	s := &Server{
		esc: esc,
		in:  protocol.NewFifoBuffer(512),
		out: protocol.NewScratchOutput(),
		w:   w,
	}
	s.transport = protocol.NewTransport(s.out, esc.Dispatch)
	esc.SetResponder(s.transport)
	return s
}

// Transport exposes the device transport for reset and flush hooks
func (s *Server) Transport() *protocol.Transport { return s.transport }

// Feed queues received bytes and returns how many fit
func (s *Server) Feed(b []byte) int {
	return s.in.Write(b)
}

// Poll parses queued frames and writes any output
func (s *Server) Poll() error {
	if !s.in.IsEmpty() {
		s.transport.Receive(s.in)
	}
	return s.Flush()
}

// Flush writes pending output
func (s *Server) Flush() error {
	data := s.out.Result()
	if len(data) == 0 {
		return nil
	}
	_, err := s.w.Write(data)
	s.out.Reset()
	return err
}
