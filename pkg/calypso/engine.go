package calypso

import (
	"io"
	"log/slog"

	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/gregLibert/calypso/pkg/tlv"
	"github.com/pkg/errors"
)

// Default work key identifiers (KIF) per session key index, used when the PO does not
// return one (revision 2.4) or returns 'FF'.
const (
	DefaultKIFIssuer byte = 0x21
	DefaultKIFLoad   byte = 0x27
	DefaultKIFDebit  byte = 0x30
)

// Engine holds what every session shares: the two channels, the catalog and the
// session settings. Sessions created by one engine must not run concurrently since
// they share the PO and SAM channels.
type Engine struct {
	po, sam    iso7816.Exchanger
	catalog    *Catalog
	samRev     SamRevision
	logger     *slog.Logger
	digestMode DigestMode
	kif        map[byte]byte
	kvc        byte
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalog shares an already built catalog.
func WithCatalog(c *Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithSamRevision sets the SAM generation (C1 by default).
func WithSamRevision(rev SamRevision) Option {
	return func(e *Engine) { e.samRev = rev }
}

// WithLogger logs state changes at Info and every exchange at Debug.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDigestMode selects immediate (default) or batched digest updates.
func WithDigestMode(m DigestMode) Option {
	return func(e *Engine) { e.digestMode = m }
}

// WithDefaultKIF sets the KIF used for keyIndex when the PO does not provide one.
func WithDefaultKIF(keyIndex, kif byte) Option {
	return func(e *Engine) { e.kif[keyIndex] = kif }
}

// WithDefaultKVC sets the KVC used when the PO answers 'FF'.
func WithDefaultKVC(kvc byte) Option {
	return func(e *Engine) { e.kvc = kvc }
}

// NewEngine creates an engine exchanging with the PO and the SAM.
func NewEngine(po, sam iso7816.Exchanger, opts ...Option) *Engine {
	e := &Engine{
		po:     po,
		sam:    sam,
		samRev: SamC1,
		kif: map[byte]byte{
			1: DefaultKIFIssuer,
			2: DefaultKIFLoad,
			3: DefaultKIFDebit,
		},
		kvc: 0xFF,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.catalog == nil {
		e.catalog = NewCatalog()
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e
}

// Catalog returns the catalog the engine resolves commands with.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// NewSession prepares a session with the PO identified by serial. The revision is fixed
// for the life of the session.
func (e *Engine) NewSession(rev PoRevision, serial []byte) (*Session, error) {
	if _, err := rev.Class(); err != nil {
		return nil, err
	}
	if _, err := e.samRev.Class(); err != nil {
		return nil, err
	}
	if len(serial) != 4 && len(serial) != 8 {
		return nil, errors.Wrapf(ErrMalformedCommand, "serial number of %d bytes, want 4 or 8", len(serial))
	}

	return &Session{
		engine:   e,
		revision: rev,
		serial:   append([]byte(nil), serial...),
		state:    StateClosed,
		trace:    &DigestTrace{},
		logger:   e.logger.With("po_revision", rev.String(), "serial", tlv.UpperHex(serial)),
	}, nil
}

// workKey resolves the KIF/KVC passed to Digest Init.
func (e *Engine) workKey(keyIndex byte, open *OpenSessionResult) (kif, kvc byte) {
	kif = e.kif[keyIndex]
	if open.HasKIF && open.KIF != 0xFF {
		kif = open.KIF
	}
	kvc = open.KVC
	if kvc == 0xFF {
		kvc = e.kvc
	}
	return kif, kvc
}
