package calypso

import (
	"fmt"
	"strings"

	"github.com/gregLibert/calypso/pkg/bits"
	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/gregLibert/calypso/pkg/tlv"
	"github.com/pkg/errors"
)

// Result is the typed outcome of a successful command.
type Result interface {
	StatusWord() iso7816.StatusWord
}

// StatusResult is the result of commands that return nothing but a status word.
// Every other result embeds it.
type StatusResult struct {
	SW      iso7816.StatusWord
	Message string
}

func (r StatusResult) StatusWord() iso7816.StatusWord { return r.SW }

// ChallengeResult holds the random bytes of a PO or SAM Get Challenge.
type ChallengeResult struct {
	StatusResult
	Challenge []byte
}

// OpenSessionResult is the decoded answer of Open Secure Session.
// Raw is the whole data field; the SAM digest starts with it.
type OpenSessionResult struct {
	StatusResult
	Raw                     []byte
	Ratified                bool
	ManageSessionAuthorized bool
	TransactionCounter      uint32
	Challenge               []byte // PO random
	KIF                     byte
	HasKIF                  bool
	KVC                     byte
	RecordData              []byte
}

// Describe lists the decoded fields.
func (r *OpenSessionResult) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== OPEN SECURE SESSION ===\n")
	sb.WriteString(fmt.Sprintf("    - Ratified: %v\n", r.Ratified))
	sb.WriteString(fmt.Sprintf("    - Transaction Counter: %d\n", r.TransactionCounter))
	sb.WriteString(fmt.Sprintf("    - PO Challenge: %s\n", tlv.UpperHex(r.Challenge)))
	if r.HasKIF {
		sb.WriteString(fmt.Sprintf("    - KIF: %02X\n", r.KIF))
	}
	sb.WriteString(fmt.Sprintf("    - KVC: %02X\n", r.KVC))
	if len(r.RecordData) > 0 {
		sb.WriteString(fmt.Sprintf("    - Record: %s\n", tlv.UpperHex(r.RecordData)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// CloseSessionResult holds the card half-signature and the optional postponed data.
type CloseSessionResult struct {
	StatusResult
	Signature     []byte
	PostponedData []byte
}

// Record is one record returned by Read Records.
type Record struct {
	Number byte
	Data   []byte
}

// ReadRecordsResult lists the records in the order the PO returned them.
type ReadRecordsResult struct {
	StatusResult
	Records []Record
}

// CounterResult is the new value of an increased or decreased counter.
type CounterResult struct {
	StatusResult
	Value uint32
}

// SelectFileResult holds the file control information returned by Select File.
type SelectFileResult struct {
	StatusResult
	FCI []byte
}

// SignatureResult is the terminal half-signature returned by Digest Close.
type SignatureResult struct {
	StatusResult
	Signature []byte
}

// AuthenticationResult is the SAM verdict on the card half-signature.
type AuthenticationResult struct {
	StatusResult
	Verified bool
}

// RESPONSE PARSING:
// checkStatus resolves the status word against the command's table. An unsuccessful
// status is returned as *CommandRejectedError; the field extraction only runs on success.

func checkStatus(name CommandName, table iso7816.StatusTable, resp *iso7816.ResponseAPDU) (StatusResult, error) {
	props := table.Lookup(resp.Status)
	res := StatusResult{SW: resp.Status, Message: props.Message}
	if !props.Successful {
		return res, &CommandRejectedError{Command: name, Status: resp.Status, Message: props.Message}
	}
	return res, nil
}

func unexpectedLength(name CommandName, n int) error {
	return errors.Wrapf(ErrUnexpectedResponseLength, "%s: %d bytes", name, n)
}

func counter3(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// parseOpenSession24: KVC(1) counter(3) random(1) [record(29)] [ratification(2)].
// 5 or 34 bytes: ratified; 7 or 36 bytes: previous session not ratified.
func parseOpenSession24(data []byte) (*OpenSessionResult, error) {
	r := &OpenSessionResult{Raw: data}
	switch len(data) {
	case 5, 34:
		r.Ratified = true
	case 7, 36:
	default:
		return nil, unexpectedLength(OpenSession, len(data))
	}
	r.KVC = data[0]
	r.TransactionCounter = counter3(data[1:4])
	r.Challenge = data[4:5]
	if len(data) >= 34 {
		r.RecordData = data[5:34]
	}
	return r, nil
}

// parseOpenSession31: counter(3) random(1) ratified(1) KIF(1) KVC(1) len(1) record(len).
func parseOpenSession31(data []byte) (*OpenSessionResult, error) {
	if len(data) < 8 || len(data) != 8+int(data[7]) {
		return nil, unexpectedLength(OpenSession, len(data))
	}
	return &OpenSessionResult{
		Raw:                data,
		TransactionCounter: counter3(data[0:3]),
		Challenge:          data[3:4],
		Ratified:           data[4] == 0x00,
		KIF:                data[5],
		HasKIF:             true,
		KVC:                data[6],
		RecordData:         data[8:],
	}, nil
}

// parseOpenSession32: counter(3) random(5) flags(1) KIF(1) KVC(1) len(1) record(len).
// Flags bit 1 is set when the previous session was not ratified, bit 2 when the
// manage secure session mode is authorized.
func parseOpenSession32(data []byte) (*OpenSessionResult, error) {
	if len(data) < 12 || len(data) != 12+int(data[11]) {
		return nil, unexpectedLength(OpenSession, len(data))
	}
	flags := data[8]
	return &OpenSessionResult{
		Raw:                     data,
		TransactionCounter:      counter3(data[0:3]),
		Challenge:               data[3:8],
		Ratified:                !bits.IsSet(flags, 1),
		ManageSessionAuthorized: bits.IsSet(flags, 2),
		KIF:                     data[9],
		HasKIF:                  true,
		KVC:                     data[10],
		RecordData:              data[12:],
	}, nil
}

// parseCloseSession: empty, signature(4) or postponed(4) || signature(4).
func parseCloseSession(_ *iso7816.CommandAPDU, resp *iso7816.ResponseAPDU, status StatusResult) (Result, error) {
	r := &CloseSessionResult{StatusResult: status}
	switch len(resp.Data) {
	case 0:
	case 4:
		r.Signature = resp.Data
	case 8:
		r.PostponedData = resp.Data[0:4]
		r.Signature = resp.Data[4:8]
	default:
		return nil, unexpectedLength(CloseSession, len(resp.Data))
	}
	return r, nil
}

func parseChallenge(_ *iso7816.CommandAPDU, resp *iso7816.ResponseAPDU, status StatusResult) (Result, error) {
	return &ChallengeResult{StatusResult: status, Challenge: resp.Data}, nil
}

// parseReadRecords reads P1/P2 back from the command: one record is returned as is,
// several as a sequence of number(1) length(1) data(length).
func parseReadRecords(cmd *iso7816.CommandAPDU, resp *iso7816.ResponseAPDU, status StatusResult) (Result, error) {
	r := &ReadRecordsResult{StatusResult: status}

	if _, mode := iso7816.ReadRecordTarget(cmd.P2); mode != iso7816.RefByNum_ReadAllFromP1 {
		r.Records = []Record{{Number: cmd.P1, Data: resp.Data}}
		return r, nil
	}

	data := resp.Data
	for len(data) > 0 {
		if len(data) < 2 || len(data) < 2+int(data[1]) {
			return nil, unexpectedLength(ReadRecords, len(resp.Data))
		}
		n := int(data[1])
		r.Records = append(r.Records, Record{Number: data[0], Data: data[2 : 2+n]})
		data = data[2+n:]
	}
	return r, nil
}

func parseCounter(name CommandName) parseFunc {
	return func(_ *iso7816.CommandAPDU, resp *iso7816.ResponseAPDU, status StatusResult) (Result, error) {
		if len(resp.Data) != 3 {
			return nil, unexpectedLength(name, len(resp.Data))
		}
		return &CounterResult{StatusResult: status, Value: counter3(resp.Data)}, nil
	}
}

func parseSelectFile(_ *iso7816.CommandAPDU, resp *iso7816.ResponseAPDU, status StatusResult) (Result, error) {
	return &SelectFileResult{StatusResult: status, FCI: resp.Data}, nil
}

func parseStatusOnly(_ *iso7816.CommandAPDU, _ *iso7816.ResponseAPDU, status StatusResult) (Result, error) {
	return &status, nil
}

func parseDigestClose(cmd *iso7816.CommandAPDU, resp *iso7816.ResponseAPDU, status StatusResult) (Result, error) {
	if len(resp.Data) != cmd.Ne {
		return nil, unexpectedLength(DigestClose, len(resp.Data))
	}
	return &SignatureResult{StatusResult: status, Signature: resp.Data}, nil
}
