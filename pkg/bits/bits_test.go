package bits

import "testing"

func TestBit(t *testing.T) {
	tests := []struct {
		n        uint
		expected byte
	}{
		{1, 0x01}, {5, 0x10}, {8, 0x80}, {0, 0x00},
		{9, 0x00}, //dumb value silently ignored
	}

	for _, tt := range tests {
		if res := Bit(tt.n); res != tt.expected {
			t.Errorf("Bit(%d) = 0x%02X; want 0x%02X", tt.n, res, tt.expected)
		}
	}
}

func TestSetAndClear(t *testing.T) {
	val := byte(0b10100101)
	if !IsSet(val, 8) || IsSet(val, 7) || !IsSet(val, 1) {
		t.Fatalf("IsSet mismatch on %08b", val)
	}

	if got := Set(0, 5); got != 0x10 {
		t.Errorf("Set(0, 5) = 0b%08b; want 0b00010000", got)
	}
	if got := Clear(val, 8); got != 0b00100101 {
		t.Errorf("Clear(%08b, 8) = 0b%08b; want 0b00100101", val, got)
	}
	if got := Clear(val, 7); got != val {
		t.Errorf("Clear of a low bit changed the byte: 0b%08b", got)
	}
}

func TestGetRange(t *testing.T) {
	tests := []struct {
		name     string
		input    byte
		high     uint
		low      uint
		expected byte
	}{
		{"Bits 4-3 of 0x0C", 0b0000_1100, 4, 3, 3},
		{"Bits 2-1 of 0x03", 0b0000_0011, 2, 1, 3},
		{"Bits 4-1 of 0x0F", 0b0000_1111, 4, 1, 15},
		{"Bits 8-7 of 0x40", 0b0100_0000, 8, 7, 1},
		{"Full Byte", 0xAA, 8, 1, 0xAA},
		{"Inverted range", 0xFF, 1, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := GetRange(tt.input, tt.high, tt.low); res != tt.expected {
				t.Errorf("GetRange(0x%02X, %d, %d) = %d; want %d", tt.input, tt.high, tt.low, res, tt.expected)
			}
		})
	}
}

func TestSetRange(t *testing.T) {
	tests := []struct {
		name      string
		input     byte
		high, low uint
		value     byte
		expected  byte
	}{
		// Calypso READ RECORDS P2: SFI on bits 8-4, "one record" marker 0b100.
		{"SFI 08 over read-one marker", 0b0000_0100, 8, 4, 0x08, 0x44},
		{"SFI 07 over read-many marker", 0b0000_0101, 8, 4, 0x07, 0x3D},
		// OPEN SESSION P1: record on bits 8-4, key index on bits 3-1.
		{"Record 1 over key 3", 0x03, 8, 4, 0x01, 0x0B},
		{"Overflowing value truncated", 0x00, 2, 1, 0xFF, 0x03},
		{"Replaces previous value", 0xFF, 4, 3, 0x00, 0xF3},
		{"Invalid range untouched", 0x5A, 1, 3, 0x01, 0x5A},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SetRange(tt.input, tt.high, tt.low, tt.value); got != tt.expected {
				t.Errorf("SetRange(0x%02X, %d, %d, 0x%02X) = 0x%02X; want 0x%02X",
					tt.input, tt.high, tt.low, tt.value, got, tt.expected)
			}
		})
	}
}

func TestFits(t *testing.T) {
	if !Fits(30, 5) || Fits(32, 5) || !Fits(0xFF, 8) || Fits(4, 2) {
		t.Error("Fits returned an unexpected result")
	}
}
