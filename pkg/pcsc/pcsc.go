// Package pcsc connects iso7816 clients to PC/SC readers.
package pcsc

import (
	"strings"

	"github.com/ebfe/scard"
	"github.com/pkg/errors"
)

// ErrNoReader is returned when no connected reader matches.
var ErrNoReader = errors.New("no matching smart card reader")

// Reader is a card connected through a PC/SC reader. It implements iso7816.Transmitter.
type Reader struct {
	Name string

	ctx  *scard.Context
	card *scard.Card
}

// Open connects to the card in the first reader whose name contains match, ignoring
// case. An empty match takes the first reader.
func Open(match string) (*Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, errors.Wrap(err, "establish PC/SC context")
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		_ = ctx.Release()
		return nil, errors.Wrap(err, "list readers")
	}
	name, err := matchReader(readers, match)
	if err != nil {
		_ = ctx.Release()
		return nil, err
	}

	// T=0 or T=1 explicitly: some drivers refuse the default protocol mask.
	card, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		_ = ctx.Release()
		return nil, errors.Wrapf(err, "connect to %q", name)
	}
	return &Reader{Name: name, ctx: ctx, card: card}, nil
}

// Transmit sends a raw command frame to the card.
func (r *Reader) Transmit(cmd []byte) ([]byte, error) {
	resp, err := r.card.Transmit(cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "transmit on %q", r.Name)
	}
	return resp, nil
}

// Close leaves the card powered and releases the context.
func (r *Reader) Close() error {
	disconnectErr := r.card.Disconnect(scard.LeaveCard)
	releaseErr := r.ctx.Release()
	if disconnectErr != nil {
		return errors.Wrapf(disconnectErr, "disconnect %q", r.Name)
	}
	return errors.Wrap(releaseErr, "release PC/SC context")
}

func matchReader(readers []string, fragment string) (string, error) {
	if len(readers) == 0 {
		return "", ErrNoReader
	}
	if fragment == "" {
		return readers[0], nil
	}
	want := strings.ToLower(fragment)
	for _, name := range readers {
		if strings.Contains(strings.ToLower(name), want) {
			return name, nil
		}
	}
	return "", errors.Wrapf(ErrNoReader, "no reader name contains %q", fragment)
}
