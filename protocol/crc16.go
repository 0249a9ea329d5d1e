package protocol

// CRC16 is the CCITT variant used by the link, computed over header and
// payload
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= uint8(crc)
		b ^= b << 4
		w := uint16(b)
		crc = (w<<8 | crc>>8) ^ (w >> 4) ^ (w << 3)
	}
	return crc
}

func crcBytes(crc uint16) (hi, lo byte) {
	return byte(crc >> 8), byte(crc)
}
