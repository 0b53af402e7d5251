package simulator

import (
	"bytes"
	"crypto/rand"
	"io"
	"sync"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/moov-io/bertlv"
	"github.com/pkg/errors"
)

// DefaultAID is the DF name of the virtual ticketing application ("1TIC.ICA").
var DefaultAID = []byte("1TIC.ICA")

// CardConfig describes a virtual portable object.
type CardConfig struct {
	Revision  calypso.PoRevision
	Serial    []byte // 8 bytes
	AID       []byte // DefaultAID when empty
	IssuerKey []byte // KeySize bytes, shared with the SAM

	// KIF per key index; the Calypso defaults (21, 27, 30) when nil.
	KIF map[byte]byte
	KVC byte

	TransactionCounter uint32

	// Files holds the records of each SFI, record n at index n-1. A cyclic file keeps
	// its number of records: Append Record drops the oldest one.
	Files map[byte][][]byte

	// PostponedData, when 4 bytes long, is returned before the card signature.
	PostponedData []byte

	// MaxModifications bounds the modifying commands of one session; 0 means no bound.
	MaxModifications int

	Rand io.Reader
}

// Card is a virtual Calypso PO. It implements iso7816.Transmitter and answers every
// command directly, without 61XX procedure bytes.
type Card struct {
	mu sync.Mutex

	cfg      CardConfig
	cla      byte
	files    map[byte][][]byte
	counter  uint32
	ratified bool
	forge    bool
	session  *cardSession
}

type cardSession struct {
	key           []byte
	stream        []byte
	snapshot      map[byte][][]byte
	modifications int
}

// NewCard checks cfg and powers up the card.
func NewCard(cfg CardConfig) (*Card, error) {
	cla, err := cfg.Revision.Class()
	if err != nil {
		return nil, err
	}
	if len(cfg.Serial) != 8 {
		return nil, errors.Errorf("serial number of %d bytes, want 8", len(cfg.Serial))
	}
	if len(cfg.IssuerKey) != KeySize {
		return nil, errors.Errorf("issuer key of %d bytes, want %d", len(cfg.IssuerKey), KeySize)
	}
	if len(cfg.PostponedData) != 0 && len(cfg.PostponedData) != 4 {
		return nil, errors.Errorf("postponed data of %d bytes, want 4", len(cfg.PostponedData))
	}
	if len(cfg.AID) == 0 {
		cfg.AID = DefaultAID
	}
	if cfg.KIF == nil {
		cfg.KIF = map[byte]byte{
			1: calypso.DefaultKIFIssuer,
			2: calypso.DefaultKIFLoad,
			3: calypso.DefaultKIFDebit,
		}
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}

	return &Card{
		cfg:      cfg,
		cla:      cla.Raw,
		files:    cloneFiles(cfg.Files),
		counter:  cfg.TransactionCounter,
		ratified: true,
	}, nil
}

// ForgeSignatures makes the card return a corrupted signature when closing a session,
// as a cloned card would.
func (c *Card) ForgeSignatures(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forge = on
}

// Record returns a copy of a record, nil when it does not exist.
func (c *Card) Record(sfi, number byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	records := c.files[sfi]
	if number == 0 || int(number) > len(records) {
		return nil
	}
	return append([]byte(nil), records[number-1]...)
}

// TransactionCounter returns the number of sessions the card can still open.
func (c *Card) TransactionCounter() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// InSession reports whether a secure session is open on the card.
func (c *Card) InSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Transmit executes one command frame.
func (c *Card) Transmit(raw []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := iso7816.ParseCommandAPDU(raw)
	if err != nil {
		return swBytes(iso7816.SW_ERR_WRONG_LENGTH), nil
	}
	if cmd.Class.Raw != c.cla && cmd.Instruction.Raw != iso7816.INS_SELECT {
		return swBytes(iso7816.SW_ERR_CLA_NOT_SUPPORTED), nil
	}

	data, sw := c.dispatch(cmd)
	resp := append(data, swBytes(sw)...)

	if c.session != nil && cmd.Instruction.Raw != calypso.InsOpenSession && cmd.Instruction.Raw != calypso.InsCloseSession {
		c.session.stream = append(c.session.stream, digestBlock(raw, cmd.IsCase4())...)
		c.session.stream = append(c.session.stream, resp...)
	}
	return resp, nil
}

func (c *Card) dispatch(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	switch cmd.Instruction.Raw {
	case iso7816.INS_SELECT:
		return c.selectFile(cmd)
	case calypso.InsGetChallenge:
		return c.getChallenge(cmd)
	case calypso.InsOpenSession:
		return c.openSession(cmd)
	case calypso.InsCloseSession:
		return c.closeSession(cmd)
	case calypso.InsReadRecords:
		return c.readRecords(cmd)
	case calypso.InsUpdateRecord, calypso.InsWriteRecord:
		return c.updateRecord(cmd)
	case calypso.InsAppendRecord:
		return c.appendRecord(cmd)
	case calypso.InsIncrease, calypso.InsDecrease:
		return c.changeCounter(cmd)
	default:
		return nil, iso7816.SW_ERR_INS_INVALID
	}
}

func (c *Card) selectFile(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	if cmd.P1 != byte(iso7816.SelectByDFName) {
		if len(cmd.Data) != 2 {
			return nil, iso7816.SW_ERR_WRONG_LENGTH
		}
		// ISO FCP with the file identifier only.
		return []byte{0x62, 0x04, 0x83, 0x02, cmd.Data[0], cmd.Data[1]}, iso7816.SW_NO_ERROR
	}
	if !bytes.Equal(cmd.Data, c.cfg.AID) {
		return nil, iso7816.SW_ERR_FILE_NOT_FOUND
	}
	fci, err := c.fci()
	if err != nil {
		return nil, iso7816.SW_ERR_EXEC_NO_INFO
	}
	return fci, iso7816.SW_NO_ERROR
}

// fci encodes the FCI of the application: DF name, serial number and startup information.
func (c *Card) fci() ([]byte, error) {
	startup := []byte{0x0A, 0x3C, applicationType(c.cfg.Revision), 0x05, 0x14, 0x10, 0x01}
	return bertlv.Encode([]bertlv.TLV{
		bertlv.NewComposite("6F",
			bertlv.NewTag("84", c.cfg.AID),
			bertlv.NewComposite("A5",
				bertlv.NewComposite("BF0C",
					bertlv.NewTag("C7", c.cfg.Serial),
					bertlv.NewTag("53", startup),
				),
			),
		),
	})
}

func applicationType(rev calypso.PoRevision) byte {
	switch rev {
	case calypso.Rev3_2:
		return 0x28
	case calypso.Rev3_1:
		return 0x20
	default:
		return 0x06
	}
}

func (c *Card) getChallenge(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	if cmd.P1 != 0x01 || cmd.P2 != 0x10 {
		return nil, iso7816.SW_ERR_WRONG_P1P2
	}
	if cmd.Ne != 8 {
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}
	challenge, sw := c.random(8)
	return challenge, sw
}

func (c *Card) random(n int) ([]byte, iso7816.StatusWord) {
	b := make([]byte, n)
	if _, err := io.ReadFull(c.cfg.Rand, b); err != nil {
		return nil, iso7816.SW_ERR_EXEC_NO_INFO
	}
	return b, iso7816.SW_NO_ERROR
}

func (c *Card) openSession(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	if c.session != nil {
		return nil, iso7816.SW_ERR_COND_OF_USE_NOT_SAT
	}

	var (
		mode, randomSize byte
		challenge        []byte
		p1               = cmd.P1
	)
	switch c.cfg.Revision {
	case calypso.Rev2_4:
		if p1&0x80 == 0 {
			return nil, iso7816.SW_ERR_WRONG_P1P2
		}
		p1 &^= 0x80
		randomSize, challenge = 1, cmd.Data
	case calypso.Rev3_1:
		mode, randomSize, challenge = 1, 1, cmd.Data
	case calypso.Rev3_2:
		if len(cmd.Data) != 9 || cmd.Data[0] != 0x00 {
			return nil, iso7816.SW_ERR_WRONG_LENGTH
		}
		mode, randomSize, challenge = 2, 5, cmd.Data[1:]
	default:
		return nil, iso7816.SW_ERR_INS_INVALID
	}
	if c.cfg.Revision != calypso.Rev3_2 && len(challenge) != 4 {
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}
	if cmd.P2&0x07 != mode {
		return nil, iso7816.SW_ERR_WRONG_P1P2
	}

	keyIndex, recordNumber, sfi := p1&0x07, p1>>3, cmd.P2>>3
	kif, ok := c.cfg.KIF[keyIndex]
	if !ok {
		return nil, iso7816.SW_ERR_FUNC_NOT_SUPPORTED
	}
	if c.counter == 0 {
		return nil, iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_INFO
	}

	var record []byte
	if recordNumber != 0 {
		records, ok := c.files[sfi]
		if !ok {
			return nil, iso7816.SW_ERR_FILE_NOT_FOUND
		}
		if int(recordNumber) > len(records) {
			return nil, iso7816.SW_ERR_RECORD_NOT_FOUND
		}
		record = records[recordNumber-1]
	}

	random, sw := c.random(int(randomSize))
	if sw != iso7816.SW_NO_ERROR {
		return nil, sw
	}
	counter := []byte{byte(c.counter >> 16), byte(c.counter >> 8), byte(c.counter)}

	var data []byte
	switch c.cfg.Revision {
	case calypso.Rev2_4:
		data = append(data, c.cfg.KVC)
		data = append(data, counter...)
		data = append(data, random...)
		if recordNumber != 0 {
			fixed := make([]byte, 29)
			copy(fixed, record)
			data = append(data, fixed...)
		}
		if !c.ratified {
			data = append(data, 0x00, 0x00)
		}
	case calypso.Rev3_1:
		ratification := byte(0x00)
		if !c.ratified {
			ratification = 0x01
		}
		data = append(data, counter...)
		data = append(data, random...)
		data = append(data, ratification, kif, c.cfg.KVC, byte(len(record)))
		data = append(data, record...)
	case calypso.Rev3_2:
		flags := byte(0x02) // manage secure session authorized
		if !c.ratified {
			flags |= 0x01
		}
		data = append(data, counter...)
		data = append(data, random...)
		data = append(data, flags, kif, c.cfg.KVC, byte(len(record)))
		data = append(data, record...)
	}

	work, err := workKey(c.cfg.IssuerKey, c.cfg.Serial, kif)
	if err != nil {
		return nil, iso7816.SW_ERR_EXEC_NO_INFO
	}
	key, err := sessionKey(work, challenge, data)
	if err != nil {
		return nil, iso7816.SW_ERR_EXEC_NO_INFO
	}

	c.counter--
	c.session = &cardSession{
		key:      key,
		stream:   append([]byte(nil), data...),
		snapshot: cloneFiles(c.files),
	}
	return data, iso7816.SW_NO_ERROR
}

func (c *Card) closeSession(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	s := c.session
	if s == nil {
		return nil, iso7816.SW_ERR_COND_OF_USE_NOT_SAT
	}
	c.session = nil

	if len(cmd.Data) == 0 {
		c.files = s.snapshot
		return nil, iso7816.SW_NO_ERROR
	}
	if len(cmd.Data) != 4 && len(cmd.Data) != 8 {
		c.files = s.snapshot
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}

	expected, err := signature(s.key, originTerminal, s.stream, len(cmd.Data))
	if err != nil || !bytes.Equal(expected, cmd.Data) {
		c.files = s.snapshot
		return nil, calypso.SwIncorrectSignature
	}

	sig, err := signature(s.key, originCard, s.stream, len(cmd.Data))
	if err != nil {
		c.files = s.snapshot
		return nil, iso7816.SW_ERR_EXEC_NO_INFO
	}
	if c.forge {
		sig[0] ^= 0xFF
	}
	c.ratified = cmd.P1 == 0x80

	return append(append([]byte(nil), c.cfg.PostponedData...), sig...), iso7816.SW_NO_ERROR
}

func (c *Card) readRecords(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	sfi, mode := iso7816.ReadRecordTarget(cmd.P2)
	records, ok := c.files[sfi]
	if !ok {
		return nil, iso7816.SW_ERR_FILE_NOT_FOUND
	}
	if cmd.P1 == 0 || int(cmd.P1) > len(records) {
		return nil, iso7816.SW_ERR_RECORD_NOT_FOUND
	}

	switch mode {
	case iso7816.RefByNum_ReadP1:
		return append([]byte(nil), records[cmd.P1-1]...), iso7816.SW_NO_ERROR
	case iso7816.RefByNum_ReadAllFromP1:
		var out []byte
		for n := int(cmd.P1); n <= len(records); n++ {
			rec := records[n-1]
			if len(out)+2+len(rec) > cmd.Ne {
				break
			}
			out = append(out, byte(n), byte(len(rec)))
			out = append(out, rec...)
		}
		return out, iso7816.SW_NO_ERROR
	default:
		return nil, iso7816.SW_ERR_WRONG_P1P2
	}
}

// updateRecord replaces (Update Record) or ORs into (Write Record) an existing record.
func (c *Card) updateRecord(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	sfi, mode := iso7816.ReadRecordTarget(cmd.P2)
	if mode != iso7816.RefByNum_ReadP1 {
		return nil, iso7816.SW_ERR_WRONG_P1P2
	}
	records, ok := c.files[sfi]
	if !ok {
		return nil, iso7816.SW_ERR_FILE_NOT_FOUND
	}
	if cmd.P1 == 0 || int(cmd.P1) > len(records) {
		return nil, iso7816.SW_ERR_RECORD_NOT_FOUND
	}
	if sw := c.modify(); sw != iso7816.SW_NO_ERROR {
		return nil, sw
	}

	rec := append([]byte(nil), cmd.Data...)
	if cmd.Instruction.Raw == calypso.InsWriteRecord {
		old := records[cmd.P1-1]
		for i := range rec {
			if i < len(old) {
				rec[i] |= old[i]
			}
		}
		if len(old) > len(rec) {
			rec = append(rec, old[len(rec):]...)
		}
	}
	records[cmd.P1-1] = rec
	return nil, iso7816.SW_NO_ERROR
}

func (c *Card) appendRecord(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	if cmd.P1 != 0x00 || cmd.P2&0x07 != 0 {
		return nil, iso7816.SW_ERR_WRONG_P1P2
	}
	sfi := cmd.P2 >> 3
	records, ok := c.files[sfi]
	if !ok || len(records) == 0 {
		return nil, iso7816.SW_ERR_FILE_NOT_FOUND
	}
	if sw := c.modify(); sw != iso7816.SW_NO_ERROR {
		return nil, sw
	}

	shifted := append([][]byte{append([]byte(nil), cmd.Data...)}, records[:len(records)-1]...)
	c.files[sfi] = shifted
	return nil, iso7816.SW_NO_ERROR
}

// changeCounter applies Increase or Decrease to a 3-byte counter of record 1.
func (c *Card) changeCounter(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	if len(cmd.Data) != 3 {
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}
	sfi := cmd.P2 >> 3
	records, ok := c.files[sfi]
	if !ok || len(records) == 0 {
		return nil, iso7816.SW_ERR_FILE_NOT_FOUND
	}
	offset := (int(cmd.P1) - 1) * 3
	if cmd.P1 == 0 || offset+3 > len(records[0]) {
		return nil, iso7816.SW_ERR_RECORD_NOT_FOUND
	}

	rec := records[0]
	value := int64(rec[offset])<<16 | int64(rec[offset+1])<<8 | int64(rec[offset+2])
	amount := int64(cmd.Data[0])<<16 | int64(cmd.Data[1])<<8 | int64(cmd.Data[2])
	if cmd.Instruction.Raw == calypso.InsDecrease {
		amount = -amount
	}
	value += amount
	if value < 0 || value > calypso.MaxCounterValue {
		return nil, calypso.SwCounterOverflow
	}
	if sw := c.modify(); sw != iso7816.SW_NO_ERROR {
		return nil, sw
	}

	out := []byte{byte(value >> 16), byte(value >> 8), byte(value)}
	updated := append([]byte(nil), rec...)
	copy(updated[offset:], out)
	records[0] = updated
	return out, iso7816.SW_NO_ERROR
}

// modify counts a modifying command against the session buffer.
func (c *Card) modify() iso7816.StatusWord {
	if c.session == nil {
		return iso7816.SW_NO_ERROR
	}
	c.session.modifications++
	if c.cfg.MaxModifications > 0 && c.session.modifications > c.cfg.MaxModifications {
		return calypso.SwTooManyModifications
	}
	return iso7816.SW_NO_ERROR
}

func cloneFiles(files map[byte][][]byte) map[byte][][]byte {
	out := make(map[byte][][]byte, len(files))
	for sfi, records := range files {
		cp := make([][]byte, len(records))
		for i, r := range records {
			cp[i] = append([]byte(nil), r...)
		}
		out[sfi] = cp
	}
	return out
}

func swBytes(sw iso7816.StatusWord) []byte {
	return []byte{byte(sw >> 8), byte(sw)}
}
