package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/calypso/pkg/bits"
)

// STATUS WORDS:
// SW1 carries the ISO 7816-4 category of the outcome, SW2 refines it. Two SW1 values
// hold a length instead of a reason and never reach a command result, the Client
// consumes them:
//
//	'61XX'  XX bytes are waiting, fetch them with GET RESPONSE (T=0 case 4)
//	'6CXX'  wrong Le, send the command again with Le = XX
//
// Any other status word is interpreted by the StatusTable of the command: the same
// value does not mean the same thing for an Open Secure Session and a Digest Init.

//go:generate stringer -type=StatusWord -output=status_word_string.go

// StatusWord represents the two-byte status response (SW1-SW2) returned by the smart card.
type StatusWord uint16

// NewStatusWord creates a StatusWord instance from two separate bytes.
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

// SW1 returns the first byte (high byte) of the status word.
func (sw StatusWord) SW1() byte {
	return byte(sw >> 8)
}

// SW2 returns the second byte (low byte) of the status word.
func (sw StatusWord) SW2() byte {
	return byte(sw)
}

// IsSuccess reports 9000 and 61XX.
func (sw StatusWord) IsSuccess() bool {
	return sw == SW_NO_ERROR || sw.SW1() == 0x61
}

// PendingLength returns the length announced by a '61XX' or '6CXX' status word,
// '00' meaning 256.
func (sw StatusWord) PendingLength() (n int, ok bool) {
	switch sw.SW1() {
	case 0x61, 0x6C:
		return decodeLe(sw.SW2()), true
	}
	return 0, false
}

// Category classifies a status word by SW1.
type Category int

const (
	CategoryUnknown Category = iota
	CategorySuccess
	CategoryWarning        // 62XX, 63XX: NV memory unchanged or changed
	CategoryExecutionError // 64XX to 66XX
	CategoryCheckingError  // 67XX to 6FXX
)

func (c Category) String() string {
	switch c {
	case CategorySuccess:
		return "success"
	case CategoryWarning:
		return "warning"
	case CategoryExecutionError:
		return "execution error"
	case CategoryCheckingError:
		return "checking error"
	default:
		return "unknown"
	}
}

// Category returns the ISO category of sw.
func (sw StatusWord) Category() Category {
	switch sw1 := sw.SW1(); {
	case sw1 == 0x90 || sw1 == 0x61:
		return CategorySuccess
	case sw1 == 0x62 || sw1 == 0x63:
		return CategoryWarning
	case sw1 >= 0x64 && sw1 <= 0x66:
		return CategoryExecutionError
	case bits.GetRange(sw1, 8, 5) == 0x6 && sw1 >= 0x67:
		return CategoryCheckingError
	default:
		return CategoryUnknown
	}
}

// Verbose returns "[SW] NAME (category)" or, for length-carrying status words, what the
// length means.
func (sw StatusWord) Verbose() string {
	if n, ok := sw.PendingLength(); ok {
		if sw.SW1() == 0x61 {
			return fmt.Sprintf("[%04X] %d bytes available", uint16(sw), n)
		}
		return fmt.Sprintf("[%04X] wrong length, Le should be %d", uint16(sw), n)
	}
	if name := sw.String(); !strings.HasPrefix(name, "StatusWord(") {
		return fmt.Sprintf("[%04X] %s (%s)", uint16(sw), name, sw.Category())
	}
	return fmt.Sprintf("[%04X] %s", uint16(sw), sw.Category())
}

// ISO 7816-4 status words returned by Calypso POs and SAMs.
const (
	SW_NO_ERROR StatusWord = 0x9000

	SW_ERR_EXEC_NO_INFO StatusWord = 0x6400
	SW_ERR_WRONG_LENGTH StatusWord = 0x6700

	SW_ERR_CMD_NOT_ALLOWED_NO_INFO StatusWord = 0x6900
	SW_ERR_CMD_INCOMPATIBLE_FILE   StatusWord = 0x6981
	SW_ERR_SECURITY_STATUS_NOT_SAT StatusWord = 0x6982
	SW_ERR_COND_OF_USE_NOT_SAT     StatusWord = 0x6985
	SW_ERR_CMD_NOT_ALLOWED_NO_EF   StatusWord = 0x6986
	SW_ERR_SM_OBJ_INCORRECT        StatusWord = 0x6988

	SW_ERR_WRONG_PARAMS_NO_INFO  StatusWord = 0x6A00
	SW_ERR_INCORRECT_PARAMS_DATA StatusWord = 0x6A80
	SW_ERR_FUNC_NOT_SUPPORTED    StatusWord = 0x6A81
	SW_ERR_FILE_NOT_FOUND        StatusWord = 0x6A82
	SW_ERR_RECORD_NOT_FOUND      StatusWord = 0x6A83

	SW_ERR_WRONG_P1P2        StatusWord = 0x6B00
	SW_ERR_INS_INVALID       StatusWord = 0x6D00
	SW_ERR_CLA_NOT_SUPPORTED StatusWord = 0x6E00
)
