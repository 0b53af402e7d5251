package calypso

import (
	"github.com/gregLibert/calypso/pkg/bits"
	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/pkg/errors"
)

// SAM COMMANDS:
// The SAM mirrors the secure session. It is told which card it talks to (Select
// Diversifier), provides the challenge sent to the PO, then receives every block the PO
// received or produced (Digest Init / Update / Update Multiple). Digest Close returns the
// terminal half-signature, Digest Authenticate checks the card half-signature.

func buildSelectDiversifier(cla iso7816.Class, p DiversifierParams) (*iso7816.CommandAPDU, error) {
	if len(p.Serial) != 4 && len(p.Serial) != 8 {
		return nil, errors.Wrapf(ErrMalformedCommand, "diversifier of %d bytes, want 4 or 8", len(p.Serial))
	}
	return iso7816.NewCommandAPDU(cla, iso7816.MustInstruction(InsSelectDiversifier), 0x00, 0x00, p.Serial, 0), nil
}

func buildSamGetChallenge(cla iso7816.Class, p LengthParams) (*iso7816.CommandAPDU, error) {
	if p.Length != 4 && p.Length != 8 {
		return nil, errors.Wrapf(ErrMalformedCommand, "challenge of %d bytes, want 4 or 8", p.Length)
	}
	return iso7816.NewCommandAPDU(cla, iso7816.MustInstruction(InsGetChallenge), 0x00, 0x00, nil, p.Length), nil
}

// buildDigestInit sets P1 bit 1 for the verification mode and bit 2 for the revision 3.2
// mode. P2 'FF' means the work key is given as KIF || KVC at the head of the data.
func buildDigestInit(cla iso7816.Class, p DigestInitParams) (*iso7816.CommandAPDU, error) {
	if p.KIF == 0x00 && p.KeyRecord == 0x00 {
		return nil, errors.Wrap(ErrMalformedCommand, "work key KIF and record number are both 0")
	}
	if len(p.Data) == 0 {
		return nil, errors.Wrap(ErrMalformedCommand, "empty digest data")
	}

	var p1 byte
	if p.VerificationMode {
		p1 = bits.Set(p1, 1)
	}
	if p.Rev3_2Mode {
		p1 = bits.Set(p1, 2)
	}

	p2 := byte(0xFF)
	data := make([]byte, 0, 2+len(p.Data))
	if p.KIF == 0xFF {
		p2 = p.KeyRecord
	} else {
		data = append(data, p.KIF, p.KVC)
	}
	data = append(data, p.Data...)

	if len(data) > iso7816.MaxShortLc {
		return nil, errors.Wrapf(ErrMalformedCommand, "digest init data of %d bytes", len(data))
	}
	return iso7816.NewCommandAPDU(cla, iso7816.MustInstruction(InsDigestInit), p1, p2, data, 0), nil
}

func buildDigestUpdate(cla iso7816.Class, p DigestUpdateParams) (*iso7816.CommandAPDU, error) {
	if err := checkData(p.Data); err != nil {
		return nil, err
	}
	var p2 byte
	if p.Encrypted {
		p2 = 0x80
	}
	return iso7816.NewCommandAPDU(cla, iso7816.MustInstruction(InsDigestUpdate), 0x00, p2, p.Data, 0), nil
}

// buildDigestUpdateMultiple packs the blocks as len || data.
func buildDigestUpdateMultiple(cla iso7816.Class, p DigestUpdateMultipleParams) (*iso7816.CommandAPDU, error) {
	if len(p.Blocks) == 0 {
		return nil, errors.Wrap(ErrMalformedCommand, "no digest block")
	}
	var data []byte
	for i, b := range p.Blocks {
		if len(b) == 0 || len(b) > iso7816.MaxShortLc-1 {
			return nil, errors.Wrapf(ErrMalformedCommand, "digest block %d of %d bytes", i, len(b))
		}
		data = append(data, byte(len(b)))
		data = append(data, b...)
	}
	if len(data) > iso7816.MaxShortLc {
		return nil, errors.Wrapf(ErrMalformedCommand, "digest blocks total %d bytes", len(data))
	}
	return iso7816.NewCommandAPDU(cla, iso7816.MustInstruction(InsDigestUpdateMultiple), 0x80, 0x00, data, 0), nil
}

func buildDigestClose(cla iso7816.Class, p LengthParams) (*iso7816.CommandAPDU, error) {
	if p.Length != 4 && p.Length != 8 {
		return nil, errors.Wrapf(ErrMalformedCommand, "signature of %d bytes, want 4 or 8", p.Length)
	}
	return iso7816.NewCommandAPDU(cla, iso7816.MustInstruction(InsDigestClose), 0x00, 0x00, nil, p.Length), nil
}

func buildDigestAuthenticate(cla iso7816.Class, p SignatureParams) (*iso7816.CommandAPDU, error) {
	switch len(p.Signature) {
	case 4, 8, 16:
	default:
		return nil, errors.Wrapf(ErrMalformedCommand, "card signature of %d bytes", len(p.Signature))
	}
	return iso7816.NewCommandAPDU(cla, iso7816.MustInstruction(InsDigestAuthenticate), 0x00, 0x00, p.Signature, 0), nil
}
