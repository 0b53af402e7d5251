package calypso

import (
	"fmt"

	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/pkg/errors"
)

// PoRevision identifies the Calypso revision of a portable object.
// It selects the class byte and the "Open Secure Session" variant.
type PoRevision int

const (
	Rev1_0 PoRevision = iota + 1
	Rev2_4
	Rev3_1
	Rev3_2
)

func (r PoRevision) String() string {
	switch r {
	case Rev1_0:
		return "REV1_0"
	case Rev2_4:
		return "REV2_4"
	case Rev3_1:
		return "REV3_1"
	case Rev3_2:
		return "REV3_2"
	default:
		return fmt.Sprintf("PoRevision(%d)", int(r))
	}
}

// Class returns the class byte of every PO command: '94' up to revision 2.4, '00' from 3.1.
func (r PoRevision) Class() (iso7816.Class, error) {
	switch r {
	case Rev1_0, Rev2_4:
		return iso7816.MustClass(0x94), nil
	case Rev3_1, Rev3_2:
		return iso7816.MustClass(0x00), nil
	default:
		return iso7816.Class{}, errors.Wrapf(ErrUnsupportedRevision, "PO %s", r)
	}
}

// ParsePoRevision accepts the names printed by String ("REV3_1") and the short forms ("3.1").
func ParsePoRevision(s string) (PoRevision, error) {
	switch s {
	case "REV1_0", "1.0", "1":
		return Rev1_0, nil
	case "REV2_4", "2.4":
		return Rev2_4, nil
	case "REV3_1", "3.1":
		return Rev3_1, nil
	case "REV3_2", "3.2":
		return Rev3_2, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedRevision, "PO revision %q", s)
}

// SamRevision identifies the SAM generation.
type SamRevision int

const (
	SamC1 SamRevision = iota + 1
	SamS1E
	SamS1D
)

func (r SamRevision) String() string {
	switch r {
	case SamC1:
		return "C1"
	case SamS1E:
		return "S1E"
	case SamS1D:
		return "S1D"
	default:
		return fmt.Sprintf("SamRevision(%d)", int(r))
	}
}

// Class returns the class byte of the SAM commands.
func (r SamRevision) Class() (iso7816.Class, error) {
	switch r {
	case SamC1, SamS1E:
		return iso7816.MustClass(0x80), nil
	case SamS1D:
		return iso7816.MustClass(0x94), nil
	default:
		return iso7816.Class{}, errors.Wrapf(ErrUnsupportedRevision, "SAM %s", r)
	}
}

// ParseSamRevision accepts "C1", "S1E" and "S1D".
func ParseSamRevision(s string) (SamRevision, error) {
	switch s {
	case "C1":
		return SamC1, nil
	case "S1E":
		return SamS1E, nil
	case "S1D":
		return SamS1D, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedRevision, "SAM revision %q", s)
}
