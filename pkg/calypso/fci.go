package calypso

import (
	"fmt"
	"strings"

	"github.com/gregLibert/calypso/pkg/bits"
	"github.com/gregLibert/calypso/pkg/tlv"
	"github.com/moov-io/bertlv"
	"github.com/pkg/errors"
)

// APPLICATION FCI:
// Selecting a Calypso application by AID returns:
//
//	6F FCI Template
//	   84 DF Name (AID)
//	   A5 Proprietary Template
//	      BF0C Discretionary Data
//	         C7 Application Serial Number (8 bytes)
//	         53 Startup Information (7 bytes)
//
// The serial number is the SAM diversifier; the startup information tells the PO revision.

// ApplicationFCI is the answer to the selection of a Calypso application.
type ApplicationFCI struct {
	DFName      []byte              `tlv:"84" fmt:"ascii"`
	Proprietary ProprietaryTemplate `tlv:"A5"`
}

// ProprietaryTemplate is tag 'A5'.
type ProprietaryTemplate struct {
	Discretionary *DiscretionaryData `tlv:"BF0C"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

// DiscretionaryData is tag 'BF0C'.
type DiscretionaryData struct {
	SerialNumber []byte `tlv:"C7"`
	StartupInfo  []byte `tlv:"53" fmt:"bin"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

// ParseApplicationFCI decodes the FCI of a Calypso application, with or without the '6F' wrapper.
func ParseApplicationFCI(data []byte) (*ApplicationFCI, error) {
	if len(data) == 0 {
		return nil, errors.New("empty data cannot be parsed")
	}

	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, errors.Wrap(err, "BER-TLV decode failed")
	}
	if fci, ok := tlv.Find(packets, "6F"); ok {
		packets = fci.TLVs
	}

	fci := &ApplicationFCI{}
	if err := tlv.UnmarshalFromPackets(packets, fci); err != nil {
		return nil, errors.Wrap(err, "failed to map structure")
	}
	if fci.Proprietary.Discretionary == nil {
		return nil, errors.New("FCI has no discretionary data (tag BF0C)")
	}
	if len(fci.SerialNumber()) != 8 {
		return nil, errors.Errorf("application serial number of %d bytes, want 8", len(fci.SerialNumber()))
	}
	return fci, nil
}

// SerialNumber returns the application serial number (tag 'C7').
func (f *ApplicationFCI) SerialNumber() []byte {
	if f.Proprietary.Discretionary == nil {
		return nil
	}
	return f.Proprietary.Discretionary.SerialNumber
}

// Startup decodes the startup information (tag '53').
func (f *ApplicationFCI) Startup() (StartupInfo, error) {
	if f.Proprietary.Discretionary == nil {
		return StartupInfo{}, errors.New("no startup information")
	}
	return ParseStartupInfo(f.Proprietary.Discretionary.StartupInfo)
}

// Describe generates a report of the FCI content.
func (f *ApplicationFCI) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== CALYPSO APPLICATION FCI ===")

	tlv.WriteStructFields(&sb, "FCI", f)
	tlv.WriteStructFields(&sb, "Proprietary", f.Proprietary)
	tlv.WriteStructFields(&sb, "Discretionary", f.Proprietary.Discretionary)

	if info, err := f.Startup(); err == nil {
		sb.WriteString("\n")
		sb.WriteString(info.Describe())
	}
	return sb.String()
}

// StartupInfo is the 7-byte startup information of a Calypso application.
type StartupInfo struct {
	BufferSizeIndicator byte
	Platform            byte
	ApplicationType     byte
	ApplicationSubtype  byte
	SoftwareIssuer      byte
	SoftwareVersion     byte
	SoftwareRevision    byte
}

// ParseStartupInfo reads the startup information bytes in order.
func ParseStartupInfo(b []byte) (StartupInfo, error) {
	if len(b) != 7 {
		return StartupInfo{}, errors.Errorf("startup information of %d bytes, want 7", len(b))
	}
	return StartupInfo{
		BufferSizeIndicator: b[0],
		Platform:            b[1],
		ApplicationType:     b[2],
		ApplicationSubtype:  b[3],
		SoftwareIssuer:      b[4],
		SoftwareVersion:     b[5],
		SoftwareRevision:    b[6],
	}, nil
}

// Revision derives the PO revision from the application type: up to '1F' the PO is a
// revision 2.4; above, bit 4 tells 3.2 from 3.1. '00' and 'FF' are not allowed.
func (s StartupInfo) Revision() (PoRevision, error) {
	switch t := s.ApplicationType; {
	case t == 0x00 || t == 0xFF:
		return 0, errors.Wrapf(ErrUnsupportedRevision, "application type %02X", t)
	case t <= 0x1F:
		return Rev2_4, nil
	case bits.IsSet(t, 4):
		return Rev3_2, nil
	default:
		return Rev3_1, nil
	}
}

// Describe reports the startup information fields and the derived revision.
func (s StartupInfo) Describe() string {
	rev := "invalid"
	if r, err := s.Revision(); err == nil {
		rev = r.String()
	}

	lines := []string{
		fmt.Sprintf("    - Startup.BufferSizeIndicator: %02X", s.BufferSizeIndicator),
		fmt.Sprintf("    - Startup.Platform: %02X", s.Platform),
		fmt.Sprintf("    - Startup.ApplicationType: %02X (%s)", s.ApplicationType, rev),
		fmt.Sprintf("    - Startup.ApplicationSubtype: %02X", s.ApplicationSubtype),
		fmt.Sprintf("    - Startup.SoftwareIssuer: %02X", s.SoftwareIssuer),
		fmt.Sprintf("    - Startup.SoftwareVersion: %02X", s.SoftwareVersion),
		fmt.Sprintf("    - Startup.SoftwareRevision: %02X", s.SoftwareRevision),
	}
	return strings.Join(lines, "\n")
}
