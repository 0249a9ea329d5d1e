package protocol

// ScanResult says what ScanFrame found at the front of a buffer
type ScanResult uint8

const (
	// ScanFrame: a complete valid frame
	ScanOK ScanResult = iota
	// ScanNeedMore: a plausible frame is still arriving
	ScanNeedMore
	// ScanBad: the data at the front is not a frame; drop to the next sync
	ScanBad
)

// Frame is one decoded frame
type Frame struct {
	Seq     uint8
	Payload []byte // aliases the scanned buffer
}

// IsAck reports whether the frame carries no payload
func (f Frame) IsAck() bool { return len(f.Payload) == 0 }

// ScanFrame examines the start of data. Leading sync bytes must already be
// skipped. On ScanOK, n is the frame length.
func ScanFrame(data []byte) (f Frame, n int, r ScanResult) {
	if len(data) < FrameMinSize {
		return Frame{}, 0, ScanNeedMore
	}
	n = int(data[posLen])
	if n < FrameMinSize || n > FrameMaxSize {
		return Frame{}, 0, ScanBad
	}
	seq := data[posSeq]
	if seq&^SeqMask != SeqDest {
		return Frame{}, 0, ScanBad
	}
	if len(data) < n {
		return Frame{}, 0, ScanNeedMore
	}
	if data[n-1] != SyncByte {
		return Frame{}, 0, ScanBad
	}
	got := uint16(data[n-3])<<8 | uint16(data[n-2])
	if got != CRC16(data[:n-FrameTrailerSize]) {
		return Frame{}, 0, ScanBad
	}
	return Frame{Seq: seq, Payload: data[FrameHeaderSize : n-FrameTrailerSize]}, n, ScanOK
}

// Resync returns data after the next sync byte, or nil if there is none
func Resync(data []byte) []byte {
	for i, b := range data {
		if b == SyncByte {
			return data[i+1:]
		}
	}
	return nil
}

// AppendFrame builds a complete frame around payload
func AppendFrame(dst []byte, seq uint8, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, byte(len(payload)+FrameMinSize), seq)
	dst = append(dst, payload...)
	hi, lo := crcBytes(CRC16(dst[start:]))
	return append(dst, hi, lo, SyncByte)
}
