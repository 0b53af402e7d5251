package simulator

import (
	"bytes"
	"crypto/rand"
	"io"
	"sync"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/pkg/errors"
)

// SAM is a virtual Calypso SAM holding the issuer key. It implements
// iso7816.Transmitter and accepts the classes '80' and '94'.
type SAM struct {
	mu sync.Mutex

	issuerKey   []byte
	rand        io.Reader
	diversifier []byte
	challenge   []byte
	digest      *samDigest
}

type samDigest struct {
	key    []byte
	stream []byte
	closed bool
}

// NewSAM creates a SAM sharing key with the cards it authenticates.
func NewSAM(key []byte) (*SAM, error) {
	if len(key) != KeySize {
		return nil, errors.Errorf("issuer key of %d bytes, want %d", len(key), KeySize)
	}
	return &SAM{issuerKey: append([]byte(nil), key...), rand: rand.Reader}, nil
}

// Transmit executes one command frame.
func (s *SAM) Transmit(raw []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, err := iso7816.ParseCommandAPDU(raw)
	if err != nil {
		return swBytes(iso7816.SW_ERR_WRONG_LENGTH), nil
	}
	if cmd.Class.Raw != 0x80 && cmd.Class.Raw != 0x94 {
		return swBytes(iso7816.SW_ERR_CLA_NOT_SUPPORTED), nil
	}

	var (
		data []byte
		sw   iso7816.StatusWord
	)
	switch cmd.Instruction.Raw {
	case calypso.InsSelectDiversifier:
		sw = s.selectDiversifier(cmd)
	case calypso.InsGetChallenge:
		data, sw = s.getChallenge(cmd)
	case calypso.InsDigestInit:
		sw = s.digestInit(cmd)
	case calypso.InsDigestUpdate:
		sw = s.digestUpdate(cmd)
	case calypso.InsDigestClose:
		data, sw = s.digestClose(cmd)
	case calypso.InsDigestAuthenticate:
		sw = s.digestAuthenticate(cmd)
	default:
		sw = iso7816.SW_ERR_INS_INVALID
	}
	return append(data, swBytes(sw)...), nil
}

func (s *SAM) selectDiversifier(cmd *iso7816.CommandAPDU) iso7816.StatusWord {
	if s.digest != nil {
		return iso7816.SW_ERR_COND_OF_USE_NOT_SAT
	}
	if len(cmd.Data) != 4 && len(cmd.Data) != 8 {
		return iso7816.SW_ERR_WRONG_LENGTH
	}
	s.diversifier = append([]byte(nil), cmd.Data...)
	return iso7816.SW_NO_ERROR
}

func (s *SAM) getChallenge(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	if cmd.Ne != 4 && cmd.Ne != 8 {
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}
	challenge := make([]byte, cmd.Ne)
	if _, err := io.ReadFull(s.rand, challenge); err != nil {
		return nil, iso7816.SW_ERR_EXEC_NO_INFO
	}
	s.challenge = challenge
	return append([]byte(nil), challenge...), iso7816.SW_NO_ERROR
}

// digestInit starts a digest with the work key named by KIF/KVC. Key records are not
// stored by the virtual SAM.
func (s *SAM) digestInit(cmd *iso7816.CommandAPDU) iso7816.StatusWord {
	if s.diversifier == nil || s.challenge == nil {
		return iso7816.SW_ERR_COND_OF_USE_NOT_SAT
	}
	if cmd.P2 != 0xFF {
		return iso7816.SW_ERR_RECORD_NOT_FOUND
	}
	if len(cmd.Data) < 3 {
		return iso7816.SW_ERR_WRONG_LENGTH
	}
	kif, openData := cmd.Data[0], cmd.Data[2:]

	work, err := workKey(s.issuerKey, s.diversifier, kif)
	if err != nil {
		return iso7816.SW_ERR_EXEC_NO_INFO
	}
	key, err := sessionKey(work, s.challenge, openData)
	if err != nil {
		return iso7816.SW_ERR_EXEC_NO_INFO
	}

	s.challenge = nil
	s.digest = &samDigest{key: key, stream: append([]byte(nil), openData...)}
	return iso7816.SW_NO_ERROR
}

// digestUpdate serves Digest Update (P1 '00') and Digest Update Multiple (P1 '80').
func (s *SAM) digestUpdate(cmd *iso7816.CommandAPDU) iso7816.StatusWord {
	if s.digest == nil || s.digest.closed {
		return iso7816.SW_ERR_COND_OF_USE_NOT_SAT
	}
	switch {
	case cmd.P1 == 0x00 && cmd.P2 == 0x00:
		s.digest.stream = append(s.digest.stream, cmd.Data...)
	case cmd.P1 == 0x80 && cmd.P2 == 0x00:
		var blocks [][]byte
		for data := cmd.Data; len(data) > 0; {
			n := int(data[0])
			if n == 0 || len(data) < 1+n {
				return iso7816.SW_ERR_WRONG_LENGTH
			}
			blocks = append(blocks, data[1:1+n])
			data = data[1+n:]
		}
		for _, b := range blocks {
			s.digest.stream = append(s.digest.stream, b...)
		}
	case cmd.P2 != 0x00:
		return calypso.SwIncorrectP2
	default:
		return iso7816.SW_ERR_WRONG_P1P2
	}
	return iso7816.SW_NO_ERROR
}

func (s *SAM) digestClose(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	if s.digest == nil || s.digest.closed {
		return nil, iso7816.SW_ERR_COND_OF_USE_NOT_SAT
	}
	if cmd.Ne != 4 && cmd.Ne != 8 {
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}
	sig, err := signature(s.digest.key, originTerminal, s.digest.stream, cmd.Ne)
	if err != nil {
		return nil, iso7816.SW_ERR_EXEC_NO_INFO
	}
	s.digest.closed = true
	return sig, iso7816.SW_NO_ERROR
}

func (s *SAM) digestAuthenticate(cmd *iso7816.CommandAPDU) iso7816.StatusWord {
	d := s.digest
	if d == nil || !d.closed {
		return iso7816.SW_ERR_COND_OF_USE_NOT_SAT
	}
	s.digest = nil

	switch len(cmd.Data) {
	case 4, 8, 16:
	default:
		return iso7816.SW_ERR_WRONG_LENGTH
	}
	expected, err := signature(d.key, originCard, d.stream, len(cmd.Data))
	if err != nil || !bytes.Equal(expected, cmd.Data) {
		return calypso.SwIncorrectSignature
	}
	return iso7816.SW_NO_ERROR
}
