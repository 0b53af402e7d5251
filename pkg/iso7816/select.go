package iso7816

import (
	"fmt"
)

// SELECT (INS 'A4'):
// A Calypso terminal selects in two ways. The application first, by DF name (the AID,
// P1 '04'), which answers the FCI holding the serial number and the startup
// information. Then, inside the application, files by LID: revision 3 POs take the
// path from the current DF (P1 '09'), earlier ones from the MF (P1 '08').
//
//	P2 bits 4-3  what to return: FCI '00', FCP '04', nothing '0C'
//	P2 bits 2-1  occurrence: first '00', next '02'

// SelectionMethod is P1 of SELECT.
type SelectionMethod byte

const (
	SelectByFileID          SelectionMethod = 0x00
	SelectByDFName          SelectionMethod = 0x04
	SelectPathFromMF        SelectionMethod = 0x08
	SelectPathFromCurrentDF SelectionMethod = 0x09
)

func (s SelectionMethod) String() string {
	switch s {
	case SelectByFileID:
		return "by file ID"
	case SelectByDFName:
		return "by DF name"
	case SelectPathFromMF:
		return "path from MF"
	case SelectPathFromCurrentDF:
		return "path from current DF"
	default:
		return fmt.Sprintf("method %02X", byte(s))
	}
}

// FileOccurrence is P2 bits 2-1.
type FileOccurrence byte

const (
	FirstOrOnlyOccurrence FileOccurrence = 0b00
	NextOccurrence        FileOccurrence = 0b10
)

// SelectionControl is P2 bits 4-3.
type SelectionControl byte

const (
	ReturnFCI    SelectionControl = 0b0000
	ReturnFCP    SelectionControl = 0b0100
	ReturnNoData SelectionControl = 0b1100
)

// NewSelectCommand builds a SELECT. Unless ReturnNoData is asked, Le is '00': with a
// data field the command is case 4 and a T=0 card answers '61XX', resolved by the Client.
func NewSelectCommand(cla Class, method SelectionMethod, occurrence FileOccurrence, ctrl SelectionControl, data []byte) *CommandAPDU {
	ne := MaxShortLe
	if ctrl == ReturnNoData {
		ne = 0
	}
	return NewCommandAPDU(cla, MustInstruction(INS_SELECT), byte(method), byte(ctrl)|byte(occurrence), data, ne)
}

// SelectByAID selects an application and returns its FCI.
func SelectByAID(cla Class, aid []byte) *CommandAPDU {
	return NewSelectCommand(cla, SelectByDFName, FirstOrOnlyOccurrence, ReturnFCI, aid)
}

// SelectNextAID selects the next application whose AID starts with aidPrefix, to walk
// the applications of a multi-application PO.
func SelectNextAID(cla Class, aidPrefix []byte) *CommandAPDU {
	return NewSelectCommand(cla, SelectByDFName, NextOccurrence, ReturnFCI, aidPrefix)
}

// SelectLID selects a file by its 2-byte identifier with the given path method.
func SelectLID(cla Class, method SelectionMethod, lid uint16) *CommandAPDU {
	return NewSelectCommand(cla, method, FirstOrOnlyOccurrence, ReturnFCI, []byte{byte(lid >> 8), byte(lid)})
}
