package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/calypso/pkg/bits"
)

// The INS byte selects the command. Two ISO/IEC 7816-3 and 7816-4 rules
// apply whatever the class:
//
//   - '6X' and '9X' are never valid INS values, since the transport layer
//     reads them as procedure bytes or SW1.
//   - Under the interindustry class an odd INS asks for BER-TLV encoded data
//     (READ BINARY B0 vs B1).
//
// Calypso commands (Open Secure Session 8A, Digest Init 8A on the SAM, ...)
// reuse proprietary values; they are named by the calypso package, not here.

//go:generate stringer -type=InsCode -output=instruction_string.go

// InsCode is the raw instruction byte.
type InsCode byte

// Interindustry instructions used by the PO and SAM command sets.
const (
	INS_GET_CHALLENGE InsCode = 0x84
	INS_SELECT        InsCode = 0xA4
	INS_READ_BINARY   InsCode = 0xB0
	INS_READ_RECORD   InsCode = 0xB2
	INS_GET_RESPONSE  InsCode = 0xC0
	INS_GET_DATA      InsCode = 0xCA
	INS_WRITE_RECORD  InsCode = 0xD2
	INS_UPDATE_RECORD InsCode = 0xDC
	INS_APPEND_RECORD InsCode = 0xE2
)

// Name is String with unnamed codes shown as INS_XX, the form used in reports.
func (i InsCode) Name() string {
	if s := i.String(); !strings.HasPrefix(s, "InsCode(") {
		return s
	}
	return fmt.Sprintf("INS_%02X", byte(i))
}

// Instruction is a validated INS byte.
type Instruction struct {
	Raw      InsCode
	IsBERTLV bool
}

// NewInstruction rejects the reserved '6X' and '9X' values.
func NewInstruction(ins InsCode) (Instruction, error) {
	switch byte(ins) & 0xF0 {
	case 0x60, 0x90:
		return Instruction{}, fmt.Errorf("invalid INS 0x%02X: 6X and 9X are reserved", byte(ins))
	}
	return Instruction{Raw: ins, IsBERTLV: bits.IsSet(byte(ins), 1)}, nil
}

// MustInstruction panics on a reserved INS; use it for constants only.
func MustInstruction(ins InsCode) Instruction {
	i, err := NewInstruction(ins)
	if err != nil {
		panic(err)
	}
	return i
}

func (i Instruction) Verbose() string {
	format := "Standard"
	if i.IsBERTLV {
		format = "BER-TLV"
	}
	return fmt.Sprintf("INS: 0x%02X | Command: %s | Format: %s", byte(i.Raw), i.Raw.Name(), format)
}
