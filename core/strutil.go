package core

// Itoa converts an integer to a string without the fmt package
func Itoa(n int) string {
	if n < 0 {
		return "-" + Utoa(uint32(-n))
	}
	return Utoa(uint32(n))
}

// Utoa converts an unsigned integer to a string
func Utoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

// Ftoa formats f with a fixed number of decimals (at most 6). Values out
// of int32 range are clamped.
func Ftoa(f float32, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	if decimals > 6 {
		decimals = 6
	}
	neg := f < 0
	if neg {
		f = -f
	}
	scale := uint64(1)
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	v := uint64(float64(f)*float64(scale) + 0.5)
	if v > uint64(0x7fffffff)*scale {
		v = uint64(0x7fffffff) * scale
	}
	whole := uint32(v / scale)
	frac := v % scale

	s := Utoa(whole)
	if decimals > 0 {
		digits := make([]byte, decimals)
		for i := decimals - 1; i >= 0; i-- {
			digits[i] = byte('0' + frac%10)
			frac /= 10
		}
		s += "." + string(digits)
	}
	if neg && v != 0 {
		s = "-" + s
	}
	return s
}
