package iso7816

import (
	"fmt"

	"github.com/gregLibert/calypso/pkg/bits"
)

// CLASS BYTE (CLA):
// A Calypso terminal only ever sends three class bytes:
//
//	'00'  interindustry, revision 3 POs (and SELECT on any PO)
//	'94'  proprietary, revision 1 and 2 POs, S1D SAMs
//	'80'  proprietary, C1 and S1E SAMs
//
// Bit 8 set means proprietary: the byte is sent verbatim. Otherwise ISO 7816-4 packs
// chaining (bit 5), secure messaging and the logical channel in the byte, in one of
// two layouts selected by bit 7:
//
//	000C SSLL  first interindustry: SM on 2 bits, channel 0-3
//	01SC LLLL  further interindustry: SM on 1 bit, channel 4-19 (stored minus 4)

// SecureMessaging is the SM indication of an interindustry class.
type SecureMessaging int

const (
	SMNone         SecureMessaging = 0
	SMProprietary  SecureMessaging = 1 // first interindustry only
	SMHeaderNoProc SecureMessaging = 2
	SMHeaderAuth   SecureMessaging = 3 // first interindustry only
)

// Class is a decoded CLA byte. Encode rebuilds the byte from the fields, so a copy
// may be altered (IsChained) before being sent.
type Class struct {
	Raw             byte
	IsProprietary   bool
	IsChained       bool
	SecureMessaging SecureMessaging
	Channel         uint8
}

// NewClass decodes cla. 'FF' is reserved for PPS and rejected.
func NewClass(cla byte) (Class, error) {
	if cla == 0xFF {
		return Class{}, fmt.Errorf("invalid CLA value: 0xFF is reserved")
	}

	c := Class{Raw: cla}
	if bits.IsSet(cla, 8) {
		c.IsProprietary = true
		return c, nil
	}

	c.IsChained = bits.IsSet(cla, 5)
	if bits.IsSet(cla, 7) {
		if bits.IsSet(cla, 6) {
			c.SecureMessaging = SMHeaderNoProc
		}
		c.Channel = bits.GetRange(cla, 4, 1) + 4
	} else {
		c.SecureMessaging = SecureMessaging(bits.GetRange(cla, 4, 3))
		c.Channel = bits.GetRange(cla, 2, 1)
	}
	return c, nil
}

// MustClass is NewClass for constants; it panics on 'FF'.
func MustClass(cla byte) Class {
	c, err := NewClass(cla)
	if err != nil {
		panic(err)
	}
	return c
}

// Encode returns the CLA byte described by the fields.
func (c *Class) Encode() (byte, error) {
	if c.IsProprietary {
		return c.Raw, nil
	}
	if c.Channel > 19 {
		return 0, fmt.Errorf("logical channel %d out of range (max 19)", c.Channel)
	}

	var b byte
	if c.IsChained {
		b = bits.Set(b, 5)
	}
	if c.Channel <= 3 {
		b = bits.SetRange(b, 4, 3, byte(c.SecureMessaging))
		return bits.SetRange(b, 2, 1, c.Channel), nil
	}

	if c.SecureMessaging == SMProprietary || c.SecureMessaging == SMHeaderAuth {
		return 0, fmt.Errorf("SM indicator %d not available on channel %d", c.SecureMessaging, c.Channel)
	}
	b = bits.Set(b, 7)
	if c.SecureMessaging != SMNone {
		b = bits.Set(b, 6)
	}
	return bits.SetRange(b, 4, 1, c.Channel-4), nil
}

func (c Class) String() string {
	if c.IsProprietary {
		return fmt.Sprintf("CLA %02X (proprietary)", c.Raw)
	}
	s := fmt.Sprintf("CLA %02X (channel %d", c.Raw, c.Channel)
	if c.SecureMessaging != SMNone {
		s += fmt.Sprintf(", SM %d", c.SecureMessaging)
	}
	if c.IsChained {
		s += ", chained"
	}
	return s + ")"
}
