package simulator

import (
	"crypto/aes"

	"github.com/aead/cmac"
	"github.com/pkg/errors"
)

// KEY HIERARCHY:
// Both virtual devices derive the same keys from a shared issuer key with AES-CMAC:
//
//	work key    = CMAC(issuer key, serial || KIF)
//	session key = CMAC(work key, SAM challenge || open session response data)
//	signature   = CMAC(session key, origin || digest stream), truncated
//
// The origin byte is 'T' for the half computed by the SAM for the terminal and 'C'
// for the half computed by the card. The digest stream is the open session response
// data followed by every command and response block exchanged in the session.

// KeySize is the length of the issuer key (AES-128).
const KeySize = 16

const (
	originTerminal byte = 'T'
	originCard     byte = 'C'
)

func mac(key []byte, parts ...[]byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "cmac key")
	}
	h, err := cmac.NewWithTagSize(block, block.BlockSize())
	if err != nil {
		return nil, errors.Wrap(err, "cmac")
	}
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil), nil
}

func workKey(issuerKey, serial []byte, kif byte) ([]byte, error) {
	return mac(issuerKey, serial, []byte{kif})
}

func sessionKey(work, samChallenge, openData []byte) ([]byte, error) {
	return mac(work, samChallenge, openData)
}

func signature(session []byte, origin byte, stream []byte, size int) ([]byte, error) {
	sum, err := mac(session, []byte{origin}, stream)
	if err != nil {
		return nil, err
	}
	return sum[:size], nil
}

// digestBlock is the part of a command frame that enters the digest: the frame
// without its trailing Le for a case 4 command.
func digestBlock(raw []byte, case4 bool) []byte {
	if case4 {
		raw = raw[:len(raw)-1]
	}
	return append([]byte(nil), raw...)
}
