package calypso

import "github.com/gregLibert/calypso/pkg/iso7816"

// CommandName is the key of a command in the Catalog.
type CommandName string

// PO commands.
const (
	OpenSession   CommandName = "OPEN_SECURE_SESSION"
	CloseSession  CommandName = "CLOSE_SECURE_SESSION"
	GetChallenge  CommandName = "GET_CHALLENGE"
	ReadRecords   CommandName = "READ_RECORDS"
	UpdateRecord  CommandName = "UPDATE_RECORD"
	WriteRecord   CommandName = "WRITE_RECORD"
	AppendRecord  CommandName = "APPEND_RECORD"
	Increase      CommandName = "INCREASE"
	Decrease      CommandName = "DECREASE"
	SelectFile    CommandName = "SELECT_FILE"
)

// SAM commands.
const (
	SamSelectDiversifier CommandName = "SAM_SELECT_DIVERSIFIER"
	SamGetChallenge      CommandName = "SAM_GET_CHALLENGE"
	DigestInit           CommandName = "DIGEST_INIT"
	DigestUpdate         CommandName = "DIGEST_UPDATE"
	DigestUpdateMultiple CommandName = "DIGEST_UPDATE_MULTIPLE"
	DigestClose          CommandName = "DIGEST_CLOSE"
	DigestAuthenticate   CommandName = "DIGEST_AUTHENTICATE"
)

// Target tells which device a command is sent to.
type Target int

const (
	TargetPO Target = iota + 1
	TargetSAM
)

func (t Target) String() string {
	switch t {
	case TargetPO:
		return "PO"
	case TargetSAM:
		return "SAM"
	default:
		return "UNKNOWN"
	}
}

// Calypso instruction bytes. The ISO ones are reused from iso7816.
const (
	InsOpenSession          iso7816.InsCode = 0x8A
	InsCloseSession         iso7816.InsCode = 0x8E
	InsGetChallenge                         = iso7816.INS_GET_CHALLENGE
	InsReadRecords                          = iso7816.INS_READ_RECORD
	InsUpdateRecord                         = iso7816.INS_UPDATE_RECORD
	InsWriteRecord                          = iso7816.INS_WRITE_RECORD
	InsAppendRecord                         = iso7816.INS_APPEND_RECORD
	InsIncrease             iso7816.InsCode = 0x32
	InsDecrease             iso7816.InsCode = 0x30
	InsSelectFile                           = iso7816.INS_SELECT
	InsSelectDiversifier    iso7816.InsCode = 0x14
	InsDigestInit           iso7816.InsCode = 0x8A
	InsDigestUpdate         iso7816.InsCode = 0x8C
	InsDigestUpdateMultiple iso7816.InsCode = 0x8C
	InsDigestClose          iso7816.InsCode = 0x8E
	InsDigestAuthenticate   iso7816.InsCode = 0x82
)

// sessionCommands are the PO commands a Session accepts between open and close.
var sessionCommands = map[CommandName]bool{
	ReadRecords:  true,
	UpdateRecord: true,
	WriteRecord:  true,
	AppendRecord: true,
	Increase:     true,
	Decrease:     true,
	SelectFile:   true,
}

// Parameters of the PO commands.

// OpenSessionParams selects the session key and the record read by the open command.
// RecordNumber 0 (with SFI 0) opens the session without reading.
type OpenSessionParams struct {
	KeyIndex     byte // 1 = issuer, 2 = load, 3 = debit
	SFI          byte
	RecordNumber byte
	SamChallenge []byte // 4 bytes, 8 for revision 3.2
}

// CloseSessionParams carries the terminal half-signature. An empty signature aborts the session.
type CloseSessionParams struct {
	Ratify    bool
	Signature []byte
}

// ReadRecordsParams reads one record, or every record from Record to the end of the file.
type ReadRecordsParams struct {
	SFI      byte
	Record   byte
	Multiple bool
	Ne       int // 0 asks for the whole record ('00')
}

// RecordParams addresses Update Record, Write Record and Append Record (Record is ignored).
type RecordParams struct {
	SFI    byte
	Record byte
	Data   []byte
}

// CounterParams addresses Increase and Decrease. Value is a 3-byte amount.
type CounterParams struct {
	SFI     byte
	Counter byte
	Value   uint32
}

// SelectFileParams selects an EF or DF by its two-byte identifier (LID).
type SelectFileParams struct {
	LID uint16
}

// Parameters of the SAM commands.

// DiversifierParams carries the PO serial number (4 or 8 bytes).
type DiversifierParams struct {
	Serial []byte
}

// LengthParams requests a challenge or a signature of Length bytes (4 or 8).
type LengthParams struct {
	Length int
}

// DigestInitParams starts the SAM digest with the open session response.
// The work key is designated by KIF/KVC, or by KeyRecord when KIF is 'FF'.
type DigestInitParams struct {
	VerificationMode bool
	Rev3_2Mode       bool
	KIF              byte
	KVC              byte
	KeyRecord        byte
	Data             []byte
}

// DigestUpdateParams feeds one block (command or response) to the SAM.
type DigestUpdateParams struct {
	Encrypted bool
	Data      []byte
}

// DigestUpdateMultipleParams feeds several blocks in one SAM command.
type DigestUpdateMultipleParams struct {
	Blocks [][]byte
}

// SignatureParams carries the card half-signature (4, 8 or 16 bytes).
type SignatureParams struct {
	Signature []byte
}
