// Package bits manipulates single bytes using the bit numbering of the ISO/IEC 7816
// and Calypso tables: bit 1 is the least significant bit, bit 8 the most significant.
package bits

// Bit returns a byte with only the n-th bit set (1 to 8).
func Bit(n uint) byte {
	if n < 1 || n > 8 {
		return 0
	}
	return 1 << (n - 1)
}

// IsSet checks if the n-th bit is set (1 to 8).
func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

// Set raises bit n.
func Set(b byte, n uint) byte {
	return b | Bit(n)
}

// Clear lowers bit n.
func Clear(b byte, n uint) byte {
	return b &^ Bit(n)
}

// GetRange extracts the value from a range of bits (e.g., bits 4 to 3).
// Example: GetRange(0b00001100, 4, 3) returns 3 (0b11)
func GetRange(b byte, high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}
	return (b >> (low - 1)) & rangeMask(high, low)
}

// SetRange writes v into bits high..low of b, leaving the other bits untouched.
// Bits of v that do not fit in the range are discarded.
// Example: SetRange(0b00000100, 8, 4, 0x01) returns 0b00001100 (record 1, "read one record").
func SetRange(b byte, high, low uint, v byte) byte {
	if high < low || high > 8 || low < 1 {
		return b
	}
	mask := rangeMask(high, low) << (low - 1)
	return (b &^ mask) | ((v << (low - 1)) & mask)
}

// Fits reports whether v can be stored in a range of the given width in bits.
func Fits(v byte, width uint) bool {
	if width >= 8 {
		return true
	}
	return v>>width == 0
}

func rangeMask(high, low uint) byte {
	width := high - low + 1
	return byte((1 << width) - 1)
}
