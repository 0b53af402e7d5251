package iso7816

import (
	"fmt"

	"github.com/gregLibert/calypso/pkg/bits"
)

// RECORD REFERENCE (P2 of READ RECORD, and of the Calypso record commands):
//
//	bits 8-4  SFI, 0 meaning the current EF
//	bits 3-1  mode; Calypso uses '100' (P1 is the record number) and '101' (records
//	          from P1 to the last one)
//
// Update Record and Write Record use mode '100'. Append Record writes record 1 of a
// cyclic file and leaves bits 3-1 at zero.

// ReadRecordMode is the P2 mode of a record reference.
type ReadRecordMode byte

const (
	RefByNum_ReadP1        ReadRecordMode = 0b100
	RefByNum_ReadAllFromP1 ReadRecordMode = 0b101
)

func (m ReadRecordMode) String() string {
	switch m {
	case RefByNum_ReadP1:
		return "record P1"
	case RefByNum_ReadAllFromP1:
		return "records P1 to last"
	default:
		return fmt.Sprintf("mode %03b", byte(m))
	}
}

// RecordP2 packs an SFI and a mode.
func RecordP2(sfi byte, mode ReadRecordMode) byte {
	return bits.SetRange(byte(mode), 8, 4, sfi)
}

// ReadRecordTarget unpacks the SFI and the mode of a record reference.
func ReadRecordTarget(p2 byte) (sfi byte, mode ReadRecordMode) {
	return bits.GetRange(p2, 8, 4), ReadRecordMode(bits.GetRange(p2, 3, 1))
}

// NewReadRecordCommand builds a READ RECORD (case 2) expecting ne bytes. Revision 2
// POs need the exact record size (29) where revision 3 ones accept '00'.
func NewReadRecordCommand(cla Class, sfi, p1 byte, mode ReadRecordMode, ne int) *CommandAPDU {
	return NewCommandAPDU(cla, MustInstruction(INS_READ_RECORD), p1, RecordP2(sfi, mode), nil, ne)
}

// ReadRecord reads one record.
func ReadRecord(cla Class, sfi, record byte) *CommandAPDU {
	return NewReadRecordCommand(cla, sfi, record, RefByNum_ReadP1, MaxShortLe)
}

// ReadAllRecords reads the records from start to the last one.
func ReadAllRecords(cla Class, sfi, start byte) *CommandAPDU {
	return NewReadRecordCommand(cla, sfi, start, RefByNum_ReadAllFromP1, MaxShortLe)
}
