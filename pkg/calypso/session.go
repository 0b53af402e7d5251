package calypso

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/gregLibert/calypso/pkg/tlv"
	"github.com/pkg/errors"
)

// SESSION STATES:
//
//	CLOSED -> OPENING -> OPEN -> CLOSING -> VERIFIED
//	                                     -> FAILED
//
// Any rejection, unreadable answer or transport error moves the session to FAILED.
// VERIFIED and FAILED are terminal: a new Session is needed for the next transaction, the
// challenges being single use.

// State is the position of a Session in the secure session protocol.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
	StateVerified
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateVerified:
		return "VERIFIED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no operation is possible anymore.
func (s State) Terminal() bool {
	return s == StateVerified || s == StateFailed
}

// OpenParams selects the session key and the record returned by the open command.
type OpenParams struct {
	KeyIndex     byte
	SFI          byte
	RecordNumber byte
}

// CloseParams controls the closing of the session.
type CloseParams struct {
	Ratify bool
}

// Outcome is the verdict of a session. Verified is false when the SAM refused the card
// signature: the card or the SAM may be a clone, which is not an error of the terminal.
type Outcome struct {
	Verified      bool
	PostponedData []byte
	Status        iso7816.StatusWord
}

// Session is one secure session with a PO. It is owned by a single caller.
type Session struct {
	engine   *Engine
	revision PoRevision
	serial   []byte
	state    State
	logger   *slog.Logger

	samChallenge []byte
	open         *OpenSessionResult
	trace        *DigestTrace
	batch        digestBatch
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Revision returns the PO revision the session was created for.
func (s *Session) Revision() PoRevision { return s.revision }

// Trace returns a copy of the exchanges digested so far, open session first.
func (s *Session) Trace() iso7816.Trace { return s.trace.Entries() }

// TraceLen is the number of digested exchanges.
func (s *Session) TraceLen() int { return s.trace.Len() }

// OpenResult returns the decoded open session answer, nil before Open succeeded.
func (s *Session) OpenResult() *OpenSessionResult { return s.open }

// SamChallenge returns the challenge the SAM generated for this session.
func (s *Session) SamChallenge() []byte { return s.samChallenge }

// Open runs Select Diversifier, SAM Get Challenge, Open Secure Session and Digest Init.
// Parameters are checked before anything is sent; a failure after that fails the session.
func (s *Session) Open(ctx context.Context, p OpenParams) (*OpenSessionResult, error) {
	if err := s.expect(StateClosed); err != nil {
		return nil, err
	}

	size, err := challengeSize(s.revision)
	if err != nil {
		return nil, err
	}
	openDef, err := s.engine.catalog.Resolve(OpenSession, s.revision)
	if err != nil {
		return nil, err
	}
	params := OpenSessionParams{KeyIndex: p.KeyIndex, SFI: p.SFI, RecordNumber: p.RecordNumber}
	if err := openSessionVariants[s.revision].validate(withChallenge(params, make([]byte, size))); err != nil {
		return nil, err
	}

	s.setState(StateOpening)

	if _, err := s.call(ctx, TargetSAM, SamSelectDiversifier, DiversifierParams{Serial: s.serial}); err != nil {
		return nil, s.abandon(err)
	}

	res, err := s.call(ctx, TargetSAM, SamGetChallenge, LengthParams{Length: size})
	if err != nil {
		return nil, s.abandon(err)
	}
	s.samChallenge = res.(*ChallengeResult).Challenge
	if len(s.samChallenge) != size {
		return nil, s.abandon(unexpectedLength(SamGetChallenge, len(s.samChallenge)))
	}

	cmd, err := openDef.Build(withChallenge(params, s.samChallenge))
	if err != nil {
		return nil, s.abandon(err)
	}
	res, tx, err := s.exchange(ctx, openDef, cmd)
	if err != nil {
		if tx.Response != nil && tx.Response.Status.IsSuccess() {
			// The PO opened its session but the answer is unusable.
			return nil, s.cancel(ctx, err)
		}
		return nil, s.abandon(err)
	}
	open := res.(*OpenSessionResult)
	s.trace.Append(tx.Command, tx.Response)

	kif, kvc := s.engine.workKey(p.KeyIndex, open)
	digestInit := DigestInitParams{
		Rev3_2Mode: s.revision == Rev3_2,
		KIF:        kif,
		KVC:        kvc,
		Data:       open.Raw,
	}
	if _, err := s.call(ctx, TargetSAM, DigestInit, digestInit); err != nil {
		return nil, s.cancel(ctx, err)
	}

	s.open = open
	s.setState(StateOpen)
	s.logger.Info("secure session opened",
		"key_index", p.KeyIndex, "kif", fmt.Sprintf("%02X", kif), "kvc", fmt.Sprintf("%02X", kvc),
		"counter", open.TransactionCounter, "ratified", open.Ratified)
	return open, nil
}

func withChallenge(p OpenSessionParams, challenge []byte) OpenSessionParams {
	p.SamChallenge = challenge
	return p
}

// Execute sends a PO command inside the session and mirrors the exchange to the SAM.
// A command that cannot be encoded is refused without touching the session. A rejected
// command aborts the session on the PO and fails it.
func (s *Session) Execute(ctx context.Context, name CommandName, params any) (Result, error) {
	if err := s.expect(StateOpen); err != nil {
		return nil, err
	}
	if !sessionCommands[name] {
		return nil, errors.Wrapf(ErrUnknownCommand, "%s is not allowed in a secure session", name)
	}

	def, err := s.engine.catalog.Resolve(name, s.revision)
	if err != nil {
		return nil, err
	}
	cmd, err := def.Build(params)
	if err != nil {
		return nil, err
	}
	if err := s.engine.catalog.CheckConsistency(cmd, name); err != nil {
		return nil, err
	}
	block, err := CommandDigestBlock(cmd)
	if err != nil {
		return nil, err
	}
	// Digest Update carries one block per APDU, so a block cannot exceed 255 bytes. The
	// answer (data + SW) is bound the same way but is only known once the PO has run the
	// command: an oversized answer aborts the session.
	if len(block) > iso7816.MaxShortLc {
		return nil, errors.Wrapf(ErrMalformedCommand, "%s of %d bytes cannot be digested", name, len(block))
	}

	res, tx, err := s.exchange(ctx, def, cmd)
	if err != nil {
		return nil, s.cancel(ctx, err)
	}
	if tx.Command != cmd {
		// Le corrected by the transport: the PO digested the frame it ran.
		if block, err = CommandDigestBlock(tx.Command); err != nil {
			return nil, s.cancel(ctx, err)
		}
	}
	s.trace.Append(tx.Command, tx.Response)

	answer := tx.Response.Bytes()
	if len(answer) > iso7816.MaxShortLc {
		return nil, s.cancel(ctx, errors.Wrapf(ErrUnexpectedResponseLength, "%s answer of %d bytes cannot be digested", name, len(answer)))
	}
	if err := s.digest(ctx, block, answer); err != nil {
		return nil, s.cancel(ctx, err)
	}
	return res, nil
}

// Close obtains the terminal signature from the SAM, closes the session on the PO with it
// and has the SAM check the card signature.
func (s *Session) Close(ctx context.Context, p CloseParams) (Outcome, error) {
	if err := s.expect(StateOpen); err != nil {
		return Outcome{}, err
	}
	s.setState(StateClosing)

	if err := s.flush(ctx); err != nil {
		return Outcome{}, s.cancel(ctx, err)
	}

	s.logger.Debug("closing digest", "entries", s.trace.Len())
	res, err := s.call(ctx, TargetSAM, DigestClose, LengthParams{Length: 4})
	if err != nil {
		return Outcome{}, s.cancel(ctx, err)
	}
	terminalSignature := res.(*SignatureResult).Signature

	res, err = s.call(ctx, TargetPO, CloseSession, CloseSessionParams{Ratify: p.Ratify, Signature: terminalSignature})
	if err != nil {
		var outcome Outcome
		if rejected, ok := IsRejected(err); ok {
			outcome.Status = rejected.Status
		}
		return outcome, s.abandon(err)
	}
	closed := res.(*CloseSessionResult)
	if len(closed.Signature) == 0 {
		return Outcome{Status: closed.SW}, s.abandon(unexpectedLength(CloseSession, 0))
	}

	res, err = s.call(ctx, TargetSAM, DigestAuthenticate, SignatureParams{Signature: closed.Signature})
	if err != nil {
		return Outcome{}, s.abandon(err)
	}
	auth := res.(*AuthenticationResult)

	if !auth.Verified {
		s.logger.Warn("card signature refused by the SAM", "sw", fmt.Sprintf("%04X", uint16(auth.SW)), "reason", auth.Message)
		s.fail()
		return Outcome{Verified: false, Status: auth.SW}, nil
	}

	s.setState(StateVerified)
	return Outcome{Verified: true, PostponedData: closed.PostponedData, Status: auth.SW}, nil
}

// Abort cancels an open session on the PO; nothing written during the session is kept.
// The session fails whatever the PO answers.
func (s *Session) Abort(ctx context.Context) error {
	if err := s.expect(StateOpen); err != nil {
		return err
	}
	_, err := s.call(ctx, TargetPO, CloseSession, CloseSessionParams{})
	if s.state != StateFailed {
		s.fail()
	}
	return err
}

func (s *Session) expect(want State) error {
	switch {
	case s.state == want:
		return nil
	case s.state.Terminal():
		return errors.Wrapf(ErrSessionClosed, "session is %s", s.state)
	default:
		return errors.Wrapf(ErrInvalidState, "session is %s, want %s", s.state, want)
	}
}

func (s *Session) setState(st State) {
	s.logger.Debug("session state", "from", s.state.String(), "to", st.String())
	s.state = st
}

// fail discards the digest state and ends the session.
func (s *Session) fail() {
	s.trace.Reset()
	s.batch.take()
	s.setState(StateFailed)
}

// cancel aborts the session on the PO, unless a channel already failed, then fails it.
// Used once the PO has accepted Open Secure Session.
func (s *Session) cancel(ctx context.Context, err error) error {
	if s.state != StateFailed {
		s.abortCard(ctx)
	}
	return s.abandon(err)
}

// abandon fails the session, if not done already, and returns err.
func (s *Session) abandon(err error) error {
	if s.state != StateFailed {
		s.logger.Warn("secure session failed", "error", err)
		s.fail()
	}
	return err
}

// call resolves, builds and exchanges a command in one step.
func (s *Session) call(ctx context.Context, target Target, name CommandName, params any) (Result, error) {
	var (
		def Definition
		err error
	)
	if target == TargetSAM {
		def, err = s.engine.catalog.ResolveSAM(name, s.engine.samRev)
	} else {
		def, err = s.engine.catalog.Resolve(name, s.revision)
	}
	if err != nil {
		return nil, err
	}

	cmd, err := def.Build(params)
	if err != nil {
		return nil, err
	}
	res, _, err := s.exchange(ctx, def, cmd)
	return res, err
}

// exchange sends cmd on the channel of its target and parses the answer against the
// command the card executed. A transport error fails the session at once: no further
// command is sent.
func (s *Session) exchange(ctx context.Context, def Definition, cmd *iso7816.CommandAPDU) (Result, iso7816.Transaction, error) {
	channel := s.engine.po
	if def.Target == TargetSAM {
		channel = s.engine.sam
	}

	tx, err := channel.Exchange(ctx, cmd)
	if err != nil {
		err = errors.Wrapf(err, "%s %s", def.Target, def.Name)
		if iso7816.IsTransportError(err) {
			s.logger.Error("transport failure, session abandoned", "error", err)
			s.fail()
		}
		return nil, iso7816.Transaction{}, err
	}
	if tx.Command == nil {
		tx.Command = cmd
	}

	if s.logger.Enabled(ctx, slog.LevelDebug) {
		raw, _ := tx.Command.Bytes()
		s.logger.Debug("exchange",
			"target", def.Target.String(),
			"command", string(def.Name),
			"c_apdu", tlv.UpperHex(raw),
			"r_apdu", tlv.UpperHex(tx.Response.Bytes()),
			"sw", fmt.Sprintf("%04X", uint16(tx.Response.Status)))
	}

	res, err := def.Parse(tx.Command, tx.Response)
	return res, tx, err
}

// digest mirrors blocks to the SAM according to the digest mode.
func (s *Session) digest(ctx context.Context, blocks ...[]byte) error {
	for _, block := range blocks {
		if s.engine.digestMode == DigestBatched {
			if !s.batch.fits(block) {
				if err := s.flush(ctx); err != nil {
					return err
				}
			}
			if s.batch.fits(block) {
				s.batch.add(block)
				continue
			}
		}
		if _, err := s.call(ctx, TargetSAM, DigestUpdate, DigestUpdateParams{Data: block}); err != nil {
			return err
		}
	}
	return nil
}

// flush sends the pending batched blocks.
func (s *Session) flush(ctx context.Context) error {
	if s.batch.empty() {
		return nil
	}
	_, err := s.call(ctx, TargetSAM, DigestUpdateMultiple, DigestUpdateMultipleParams{Blocks: s.batch.take()})
	return err
}

// abortCard asks the PO to cancel the session after a failure. Its answer does not matter:
// the session is failed anyway.
func (s *Session) abortCard(ctx context.Context) {
	def, err := s.engine.catalog.Resolve(CloseSession, s.revision)
	if err != nil {
		return
	}
	cmd, err := def.Build(CloseSessionParams{})
	if err != nil {
		return
	}
	if _, err := s.engine.po.Exchange(ctx, cmd); err != nil {
		s.logger.Debug("session abort not delivered", "error", err)
	}
}
