package calypso

import (
	"github.com/gregLibert/calypso/pkg/bits"
	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/pkg/errors"
)

// OPEN SECURE SESSION (INS '8A'):
// The PO opens a session with the key designated by the key index and optionally reads one
// record in the same command. The SAM challenge is the data field.
//
//	Revision | CLA | P1                       | P2             | Data
//	2.4      | 94  | 0x80 + rec*8 + keyIndex  | sfi*8          | challenge (4)
//	3.1      | 00  | rec*8 + keyIndex         | sfi*8 + 1      | challenge (4)
//	3.2      | 00  | rec*8 + keyIndex         | sfi*8 + 2      | 00 || challenge (8)
//
// All three variants are case 4: the response length depends on the record read.

// openSessionVariant is the revision-specific half of the open session command.
type openSessionVariant struct {
	p1Base        byte
	p2Mode        byte
	challengeSize int
	maxRecord     byte
	leading       []byte
	parse         func(data []byte) (*OpenSessionResult, error)
}

var openSessionVariants = map[PoRevision]openSessionVariant{
	Rev2_4: {p1Base: 0x80, p2Mode: 0, challengeSize: 4, maxRecord: 15, parse: parseOpenSession24},
	Rev3_1: {p1Base: 0x00, p2Mode: 1, challengeSize: 4, maxRecord: 31, parse: parseOpenSession31},
	Rev3_2: {p1Base: 0x00, p2Mode: 2, challengeSize: 8, maxRecord: 31, leading: []byte{0x00}, parse: parseOpenSession32},
}

func (v openSessionVariant) build(cla iso7816.Class, p OpenSessionParams) (*iso7816.CommandAPDU, error) {
	if err := v.validate(p); err != nil {
		return nil, err
	}

	p1 := v.p1Base + p.RecordNumber*8 + p.KeyIndex
	p2 := bits.SetRange(v.p2Mode, 8, 4, p.SFI)

	data := make([]byte, 0, len(v.leading)+len(p.SamChallenge))
	data = append(data, v.leading...)
	data = append(data, p.SamChallenge...)

	return iso7816.NewCommandAPDU(cla, iso7816.MustInstruction(InsOpenSession), p1, p2, data, iso7816.MaxShortLe), nil
}

func (v openSessionVariant) validate(p OpenSessionParams) error {
	if err := checkKeyIndex(p.KeyIndex); err != nil {
		return err
	}
	if err := checkSFI(p.SFI); err != nil {
		return err
	}
	if p.RecordNumber > v.maxRecord {
		return errors.Wrapf(ErrMalformedCommand, "record number %d above %d", p.RecordNumber, v.maxRecord)
	}
	if len(p.SamChallenge) != v.challengeSize {
		return errors.Wrapf(ErrMalformedCommand, "SAM challenge of %d bytes, want %d", len(p.SamChallenge), v.challengeSize)
	}
	return nil
}

// challengeSize returns the SAM challenge length an open session of rev expects.
func challengeSize(rev PoRevision) (int, error) {
	v, ok := openSessionVariants[rev]
	if !ok {
		return 0, errors.Wrapf(ErrUnsupportedRevision, "no open session command for %s", rev)
	}
	return v.challengeSize, nil
}

// CLOSE SECURE SESSION (INS '8E'):
// P1 = '80' asks the PO to ratify the session immediately. The data field is the terminal
// half-signature; without data the command aborts the session and nothing is written.
func buildCloseSession(cla iso7816.Class, p CloseSessionParams) (*iso7816.CommandAPDU, error) {
	ins := iso7816.MustInstruction(InsCloseSession)

	if len(p.Signature) == 0 {
		return iso7816.NewCommandAPDU(cla, ins, 0x00, 0x00, nil, iso7816.MaxShortLe), nil
	}
	if len(p.Signature) != 4 && len(p.Signature) != 8 {
		return nil, errors.Wrapf(ErrMalformedCommand, "terminal signature of %d bytes", len(p.Signature))
	}

	var p1 byte
	if p.Ratify {
		p1 = 0x80
	}
	return iso7816.NewCommandAPDU(cla, ins, p1, 0x00, p.Signature, iso7816.MaxShortLe), nil
}

// buildGetChallenge asks the PO for an 8-byte challenge: CLA 84 01 10 08.
func buildGetChallenge(cla iso7816.Class) *iso7816.CommandAPDU {
	return iso7816.NewCommandAPDU(cla, iso7816.MustInstruction(InsGetChallenge), 0x01, 0x10, nil, 8)
}

// buildReadRecords reads by record number: mode '100' for one record, '101' for the
// record and every following one.
func buildReadRecords(cla iso7816.Class, p ReadRecordsParams) (*iso7816.CommandAPDU, error) {
	if err := checkSFI(p.SFI); err != nil {
		return nil, err
	}
	if err := checkRecord(p.Record); err != nil {
		return nil, err
	}

	mode := iso7816.RefByNum_ReadP1
	if p.Multiple {
		mode = iso7816.RefByNum_ReadAllFromP1
	}
	ne := p.Ne
	if ne == 0 {
		ne = iso7816.MaxShortLe
	}
	return iso7816.NewReadRecordCommand(cla, p.SFI, p.Record, mode, ne), nil
}

// buildRecordCommand serves Update Record and Write Record: P1 = record, P2 = sfi*8 + 4.
func buildRecordCommand(ins iso7816.InsCode) func(iso7816.Class, RecordParams) (*iso7816.CommandAPDU, error) {
	return func(cla iso7816.Class, p RecordParams) (*iso7816.CommandAPDU, error) {
		if err := checkSFI(p.SFI); err != nil {
			return nil, err
		}
		if err := checkRecord(p.Record); err != nil {
			return nil, err
		}
		if err := checkData(p.Data); err != nil {
			return nil, err
		}
		p2 := iso7816.RecordP2(p.SFI, iso7816.RefByNum_ReadP1)
		return iso7816.NewCommandAPDU(cla, iso7816.MustInstruction(ins), p.Record, p2, p.Data, 0), nil
	}
}

// buildAppendRecord writes a new first record of a cyclic file: P1 = 00, P2 = sfi*8.
func buildAppendRecord(cla iso7816.Class, p RecordParams) (*iso7816.CommandAPDU, error) {
	if err := checkSFI(p.SFI); err != nil {
		return nil, err
	}
	if err := checkData(p.Data); err != nil {
		return nil, err
	}
	p2 := iso7816.RecordP2(p.SFI, 0)
	return iso7816.NewCommandAPDU(cla, iso7816.MustInstruction(InsAppendRecord), 0x00, p2, p.Data, 0), nil
}

// buildCounterCommand serves Increase and Decrease: P1 = counter number, P2 = sfi*8,
// data = 3-byte amount. The PO answers with the new value.
func buildCounterCommand(ins iso7816.InsCode) func(iso7816.Class, CounterParams) (*iso7816.CommandAPDU, error) {
	return func(cla iso7816.Class, p CounterParams) (*iso7816.CommandAPDU, error) {
		if err := checkSFI(p.SFI); err != nil {
			return nil, err
		}
		if p.Counter == 0 {
			return nil, errors.Wrap(ErrMalformedCommand, "counter number must be at least 1")
		}
		if p.Value > MaxCounterValue {
			return nil, errors.Wrapf(ErrMalformedCommand, "counter value %d does not fit on 3 bytes", p.Value)
		}
		data := []byte{byte(p.Value >> 16), byte(p.Value >> 8), byte(p.Value)}
		p2 := bits.SetRange(0, 8, 4, p.SFI)
		return iso7816.NewCommandAPDU(cla, iso7816.MustInstruction(ins), p.Counter, p2, data, 3), nil
	}
}

// buildSelectFile selects a file by LID. Revision 3 cards take the path from the current DF
// (P1 '09'); earlier ones from the MF (P1 '08').
func buildSelectFile(rev PoRevision) func(iso7816.Class, SelectFileParams) (*iso7816.CommandAPDU, error) {
	method := iso7816.SelectPathFromCurrentDF
	if rev == Rev1_0 || rev == Rev2_4 {
		method = iso7816.SelectPathFromMF
	}
	return func(cla iso7816.Class, p SelectFileParams) (*iso7816.CommandAPDU, error) {
		if p.LID == 0x0000 || p.LID == 0xFFFF {
			return nil, errors.Wrapf(ErrMalformedCommand, "reserved LID %04X", p.LID)
		}
		return iso7816.SelectLID(cla, method, p.LID), nil
	}
}

// MaxCounterValue is the largest value a 3-byte counter holds.
const MaxCounterValue = 1<<24 - 1

func checkKeyIndex(k byte) error {
	if k < 1 || k > 3 {
		return errors.Wrapf(ErrMalformedCommand, "key index %d out of range [1, 3]", k)
	}
	return nil
}

func checkSFI(sfi byte) error {
	if sfi > 30 {
		return errors.Wrapf(ErrMalformedCommand, "SFI %02X out of range [00, 1E]", sfi)
	}
	return nil
}

func checkRecord(rec byte) error {
	if rec < 1 || rec > 31 {
		return errors.Wrapf(ErrMalformedCommand, "record number %d out of range [1, 31]", rec)
	}
	return nil
}

func checkData(data []byte) error {
	if len(data) == 0 {
		return errors.Wrap(ErrMalformedCommand, "empty data")
	}
	if len(data) > iso7816.MaxShortLc {
		return errors.Wrapf(ErrMalformedCommand, "data of %d bytes exceeds %d", len(data), iso7816.MaxShortLc)
	}
	return nil
}
