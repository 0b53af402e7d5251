package iso7816

import (
	"bytes"
	"errors"
	"fmt"
)

// APDU (Application Protocol Data Unit) structures and encodings according to ISO/IEC 7816-3 and 7816-4.
//
// COMMAND APDU (C-APDU):
// A command consists of a mandatory Header (4 bytes) and an optional Body.
//
// 1. Header:
//   - CLA (Class): Security, Chaining, Logical Channel (or a proprietary class such as Calypso '94').
//   - INS (Instruction): The specific command to execute.
//   - P1, P2 (Parameters): Command modifiers.
//
// 2. Body:
//   - Lc (Length Command): Number of bytes in the data field. Always derived from the data.
//   - Data: The command payload.
//   - Le (Length Expected): Maximum number of bytes expected in the response.
//
// ENCODING CASES (ISO 7816-3):
// - Case 1: No Data, No Response (Header only)               -> 4 bytes.
// - Case 2: No Data, Response Expected (Header + Le)         -> 5 bytes.
// - Case 3: Data Present, No Response (Header + Lc + Data)   -> 5 + Lc bytes.
// - Case 4: Data Present, Response Expected (Header + Lc + Data + Le) -> 6 + Lc bytes.
//
// CASE 4 AND Le:
// Calypso cards (and the T=0 protocol in general) expect a case 4 command to carry Le = '00'
// ("any length"). The requested Ne is kept on the CommandAPDU as metadata only. The transport
// retrieves the outgoing data with GET RESPONSE when the card answers '61XX', and the secure
// session digest drops this trailing Le byte (see IsCase4).
//
// LENGTH MODE:
// Only Short Length is supported: Lc on 1 byte (max 255), Le on 1 byte (max 256, '00' encodes 256).
// Calypso cards and SAMs never use Extended Length.
//
// RESPONSE APDU (R-APDU):
// A response sent by the card consists of an optional Body and a mandatory Trailer.
//
// 1. Body (Data Field):
//   - Variable length sequence of bytes containing the response data.
//
// 2. Trailer (Status Word):
//   - SW1 (1 byte): Command processing status (High byte).
//   - SW2 (1 byte): Command processing qualification (Low byte).
//   - Example: 0x9000 indicates success.

// APDU Limits according to ISO 7816-3 (Short Length).
const (
	// MaxShortLc is the maximum data length (Nc) encodable in Short Length mode (1 byte).
	MaxShortLc = 255

	// MaxShortLe is the maximum expected response length (Ne) encodable in Short Length mode.
	// In Short mode, 0x00 encodes 256.
	MaxShortLe = 256

	// headerSize is CLA + INS + P1 + P2.
	headerSize = 4
)

// ErrMalformedCommand is returned when a command cannot be represented as a short APDU
// or when raw bytes do not form a valid command frame.
var ErrMalformedCommand = errors.New("malformed command")

// Case identifies the ISO 7816-3 encoding case of a command.
type Case int

const (
	Case1 Case = iota + 1
	Case2
	Case3
	Case4
)

func (c Case) String() string {
	switch c {
	case Case1:
		return "Case 1 (header only)"
	case Case2:
		return "Case 2 (Le)"
	case Case3:
		return "Case 3 (Lc + data)"
	case Case4:
		return "Case 4 (Lc + data + Le)"
	default:
		return fmt.Sprintf("Case(%d)", int(c))
	}
}

// CommandAPDU represents a command sent to the card.
// It is built once and must not be mutated after it has been sent.
type CommandAPDU struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Ne          int // Expected response length (0 means none, 256 is encoded as '00')
}

// NewCommandAPDU creates a basic command.
func NewCommandAPDU(cla Class, ins Instruction, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{
		Class:       cla,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
		Ne:          ne,
	}
}

// Case returns the encoding case selected by the presence of data and of an expected length.
func (c *CommandAPDU) Case() Case {
	hasData := len(c.Data) > 0
	hasLe := c.Ne > 0

	switch {
	case hasData && hasLe:
		return Case4
	case hasData:
		return Case3
	case hasLe:
		return Case2
	default:
		return Case1
	}
}

// IsCase4 reports whether the command carries both data and an expected length.
func (c *CommandAPDU) IsCase4() bool {
	return c.Case() == Case4
}

// Bytes encodes the CommandAPDU into its short-length byte representation (C-APDU).
func (c *CommandAPDU) Bytes() ([]byte, error) {
	nc := len(c.Data)
	if nc > MaxShortLc {
		return nil, fmt.Errorf("%w: data length %d exceeds %d bytes", ErrMalformedCommand, nc, MaxShortLc)
	}
	if c.Ne < 0 || c.Ne > MaxShortLe {
		return nil, fmt.Errorf("%w: expected length %d out of range [0, %d]", ErrMalformedCommand, c.Ne, MaxShortLe)
	}

	class, err := c.Class.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode Class: %v", ErrMalformedCommand, err)
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+2+nc))
	buf.WriteByte(class)
	buf.WriteByte(byte(c.Instruction.Raw))
	buf.WriteByte(c.P1)
	buf.WriteByte(c.P2)

	if nc > 0 {
		buf.WriteByte(byte(nc))
		buf.Write(c.Data)
	}

	switch c.Case() {
	case Case2:
		// 256 wraps to '00'
		buf.WriteByte(byte(c.Ne))
	case Case4:
		buf.WriteByte(0x00)
	}

	return buf.Bytes(), nil
}

// String returns a readable representation of the command meta-data.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.Instruction.Verbose(), c.P1, c.P2, len(c.Data), c.Ne)
}

// ParseCommandAPDU decodes a short-length command frame. The case is inferred from the
// frame length and Lc, as a card does when it receives the bytes.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: command too short: length %d", ErrMalformedCommand, len(raw))
	}

	cla, err := NewClass(raw[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	ins, err := NewInstruction(InsCode(raw[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}

	cmd := &CommandAPDU{Class: cla, Instruction: ins, P1: raw[2], P2: raw[3]}
	body := raw[headerSize:]

	switch {
	case len(body) == 0:
		return cmd, nil
	case len(body) == 1:
		cmd.Ne = decodeLe(body[0])
		return cmd, nil
	}

	lc := int(body[0])
	if lc == 0 {
		return nil, fmt.Errorf("%w: extended length is not supported", ErrMalformedCommand)
	}

	switch len(body) {
	case 1 + lc:
		cmd.Data = append([]byte(nil), body[1:]...)
	case 2 + lc:
		cmd.Data = append([]byte(nil), body[1:1+lc]...)
		cmd.Ne = decodeLe(body[1+lc])
	default:
		return nil, fmt.Errorf("%w: Lc %d inconsistent with body length %d", ErrMalformedCommand, lc, len(body))
	}
	return cmd, nil
}

func decodeLe(le byte) int {
	if le == 0 {
		return MaxShortLe
	}
	return int(le)
}

// ResponseAPDU represents the reply from the card (R-APDU).
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// NewResponseAPDU builds a response from its data field and status word.
func NewResponseAPDU(data []byte, sw StatusWord) *ResponseAPDU {
	return &ResponseAPDU{Data: data, Status: sw}
}

// ParseResponseAPDU parses raw bytes received from the card into a ResponseAPDU.
// The input must contain at least 2 bytes (SW1, SW2).
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response too short: length %d", len(raw))
	}

	indexSW1 := len(raw) - 2

	return &ResponseAPDU{
		Data:   append([]byte(nil), raw[:indexSW1]...),
		Status: NewStatusWord(raw[indexSW1], raw[indexSW1+1]),
	}, nil
}

// Bytes returns the response as received from the card: data followed by SW1 SW2.
func (r *ResponseAPDU) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	return append(out, r.Status.SW1(), r.Status.SW2())
}

// String returns a readable representation of the response.
func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}
