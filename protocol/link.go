// Package protocol implements the ESC serial link: VLQ-encoded commands and
// responses carried in CRC-checked, sequence-numbered frames.
//
// Frame layout:
//
//	[len][seq][payload ...][crc hi][crc lo][0x7E]
//
// len counts the whole frame. seq carries 0x10 in the high nibble and a
// rolling 4-bit sequence in the low nibble. A frame with an empty payload
// is an ACK (or a NAK, when the sequence is not the one just sent).
package protocol

const (
	FrameHeaderSize  = 2
	FrameTrailerSize = 3
	FrameMinSize     = FrameHeaderSize + FrameTrailerSize
	FrameMaxSize     = 64
	FramePayloadMax  = FrameMaxSize - FrameMinSize

	posLen = 0
	posSeq = 1

	SyncByte = 0x7E
	SeqDest  = 0x10
	SeqMask  = 0x0F

	// scratch space for a frame under construction
	ScratchSize = 1024
)

// Host to ESC commands
const (
	CmdSetSpeed     uint16 = 1 // rpm=%i (signed, negative is CCW)
	CmdStop         uint16 = 2
	CmdSetRampSlope uint16 = 3 // slope=%u (RPM per slow tick)
	CmdGetStatus    uint16 = 4
	CmdGetLoopStats uint16 = 5
	CmdDumpEvents   uint16 = 6
)

// ESC to host responses
const (
	RespStatus    uint16 = 0x40
	RespLoopStats uint16 = 0x41
	RespEvent     uint16 = 0x42
)

// nextSeq advances a sequence byte within the 0x10-0x1F window
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & SeqMask) | SeqDest
}
