package calypso

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/gregLibert/calypso/pkg/tlv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one expected command and the canned answer of a scripted channel.
type step struct {
	want  string
	reply string
	err   error
	// ran is the frame the card executed when the channel corrected the command.
	ran   string
}

// scriptedChannel checks every command against its script and replays the answers.
type scriptedChannel struct {
	t     *testing.T
	name  string
	steps []step
	sent  []string
}

func (c *scriptedChannel) Exchange(_ context.Context, cmd *iso7816.CommandAPDU) (iso7816.Transaction, error) {
	raw, err := cmd.Bytes()
	require.NoError(c.t, err)
	c.sent = append(c.sent, tlv.UpperHex(raw))

	require.NotEmpty(c.t, c.steps, "%s: unexpected command %X", c.name, raw)
	st := c.steps[0]
	c.steps = c.steps[1:]

	if st.want != "" {
		assert.Equal(c.t, tlv.UpperHex(tlv.Hex(st.want)), tlv.UpperHex(raw), "%s command #%d", c.name, len(c.sent))
	}
	if st.err != nil {
		return iso7816.Transaction{}, st.err
	}
	resp, err := iso7816.ParseResponseAPDU(tlv.Hex(st.reply))
	require.NoError(c.t, err)
	executed := cmd
	if st.ran != "" {
		executed, err = iso7816.ParseCommandAPDU(tlv.Hex(st.ran))
		require.NoError(c.t, err)
	}
	return iso7816.Transaction{Command: executed, Response: resp}, nil
}

func (c *scriptedChannel) done() {
	assert.Empty(c.t, c.steps, "%s: commands not sent", c.name)
}

const (
	serial       = "0000000011223344"
	samChallenge = "A831C33E"
	// Revision 3.1 open session answer: counter 42, random 7B, ratified, KIF 30, KVC 79, no record.
	openData31 = "00002A 7B 00 30 79 00"
)

// openSteps are the exchanges of Session.Open for a revision 3.1 PO with key 3, SFI 08, record 1.
func openSteps() (po, sam []step) {
	sam = []step{
		{want: "80 14 00 00 08" + serial, reply: "9000"},
		{want: "80 84 00 00 04", reply: samChallenge + "9000"},
		{want: "80 8A 00 FF 0A 30 79" + openData31, reply: "9000"},
	}
	po = []step{
		{want: "00 8A 0B 41 04" + samChallenge + "00", reply: openData31 + "9000"},
	}
	return po, sam
}

func newTestSession(t *testing.T, rev PoRevision, po, sam []step, opts ...Option) (*Session, *scriptedChannel, *scriptedChannel) {
	t.Helper()
	poCh := &scriptedChannel{t: t, name: "PO", steps: po}
	samCh := &scriptedChannel{t: t, name: "SAM", steps: sam}

	session, err := NewEngine(poCh, samCh, opts...).NewSession(rev, tlv.Hex(serial))
	require.NoError(t, err)
	require.Equal(t, StateClosed, session.State())
	return session, poCh, samCh
}

var defaultOpen = OpenParams{KeyIndex: 3, SFI: 0x08, RecordNumber: 1}

func TestSession_VerifiedTransaction(t *testing.T) {
	po, sam := openSteps()
	po = append(po,
		step{want: "00 B2 01 3C 00", reply: "0102030405 9000"},
		step{want: "00 DC 01 44 02 AABB", reply: "9000"},
		step{want: "00 8E 80 00 04 11223344 00", reply: "55667788 9000"},
	)
	sam = append(sam,
		step{want: "80 8C 00 00 05 00B2013C00", reply: "9000"},
		step{want: "80 8C 00 00 07 0102030405 9000", reply: "9000"},
		step{want: "80 8C 00 00 07 00DC014402AABB", reply: "9000"},
		step{want: "80 8C 00 00 02 9000", reply: "9000"},
		step{want: "80 8E 00 00 04", reply: "11223344 9000"},
		step{want: "80 82 00 00 04 55667788", reply: "9000"},
	)
	session, poCh, samCh := newTestSession(t, Rev3_1, po, sam)
	ctx := context.Background()

	open, err := session.Open(ctx, defaultOpen)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, session.State())
	assert.Equal(t, uint32(42), open.TransactionCounter)
	assert.True(t, open.Ratified)
	assert.Equal(t, tlv.Hex(samChallenge), session.SamChallenge())

	res, err := session.Execute(ctx, ReadRecords, ReadRecordsParams{SFI: 0x07, Record: 1})
	require.NoError(t, err)
	assert.Equal(t, []Record{{Number: 1, Data: tlv.Hex("0102030405")}}, res.(*ReadRecordsResult).Records)

	_, err = session.Execute(ctx, UpdateRecord, RecordParams{SFI: 0x08, Record: 1, Data: tlv.Hex("AABB")})
	require.NoError(t, err)
	assert.Equal(t, 3, session.TraceLen(), "open session plus two commands")

	outcome, err := session.Close(ctx, CloseParams{Ratify: true})
	require.NoError(t, err)
	assert.True(t, outcome.Verified)
	assert.Nil(t, outcome.PostponedData)
	assert.Equal(t, iso7816.SW_NO_ERROR, outcome.Status)
	assert.Equal(t, StateVerified, session.State())

	poCh.done()
	samCh.done()
}

func TestSession_TraceHoldsOpenPlusEveryCommand(t *testing.T) {
	for _, n := range []int{0, 1, 4} {
		po, sam := openSteps()
		for i := 0; i < n; i++ {
			po = append(po, step{reply: "00 9000"})
			sam = append(sam, step{reply: "9000"}, step{reply: "9000"})
		}
		session, _, _ := newTestSession(t, Rev3_1, po, sam)
		ctx := context.Background()

		_, err := session.Open(ctx, defaultOpen)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			_, err := session.Execute(ctx, ReadRecords, ReadRecordsParams{SFI: 0x07, Record: byte(i + 1)})
			require.NoError(t, err)
		}

		trace := session.Trace()
		require.Len(t, trace, n+1)
		assert.Equal(t, InsOpenSession, trace[0].Command.Instruction.Raw)
		for i, tx := range trace[1:] {
			assert.Equal(t, byte(i+1), tx.Command.P1, "exchange order")
		}
	}
}

func TestSession_BatchedDigest(t *testing.T) {
	po, sam := openSteps()
	po = append(po,
		step{want: "00 B2 01 3C 00", reply: "0102030405 9000"},
		step{want: "00 32 01 C8 03 000064 00", reply: "000164 9000"},
		step{want: "00 8E 00 00 04 11223344 00", reply: "01020304 55667788 9000"},
	)
	sam = append(sam,
		step{want: "80 8C 80 00 1D" +
			"05 00B2013C00" +
			"07 0102030405 9000" +
			"08 00 32 01 C8 03 000064" + // case 4: Le stripped
			"05 000164 9000", reply: "9000"},
		step{want: "80 8E 00 00 04", reply: "11223344 9000"},
		step{want: "80 82 00 00 04 55667788", reply: "9000"},
	)
	session, poCh, samCh := newTestSession(t, Rev3_1, po, sam, WithDigestMode(DigestBatched))
	ctx := context.Background()

	_, err := session.Open(ctx, defaultOpen)
	require.NoError(t, err)
	_, err = session.Execute(ctx, ReadRecords, ReadRecordsParams{SFI: 0x07, Record: 1})
	require.NoError(t, err)
	res, err := session.Execute(ctx, Increase, CounterParams{SFI: 0x19, Counter: 1, Value: 100})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x164), res.(*CounterResult).Value)

	outcome, err := session.Close(ctx, CloseParams{})
	require.NoError(t, err)
	assert.True(t, outcome.Verified)
	assert.Equal(t, tlv.Hex("01020304"), outcome.PostponedData)

	poCh.done()
	samCh.done()
}

func TestSession_SignatureRefusedBySAM(t *testing.T) {
	po, sam := openSteps()
	po = append(po, step{want: "00 8E 00 00 04 11223344 00", reply: "DEADBEEF 9000"})
	sam = append(sam,
		step{want: "80 8E 00 00 04", reply: "11223344 9000"},
		step{want: "80 82 00 00 04 DEADBEEF", reply: "6988"},
	)
	session, _, _ := newTestSession(t, Rev3_1, po, sam)
	ctx := context.Background()

	_, err := session.Open(ctx, defaultOpen)
	require.NoError(t, err)

	outcome, err := session.Close(ctx, CloseParams{})
	require.NoError(t, err, "a refused signature is an outcome, not an error")
	assert.False(t, outcome.Verified)
	assert.Equal(t, SwIncorrectSignature, outcome.Status)
	assert.Equal(t, StateFailed, session.State())
	assert.Zero(t, session.TraceLen())
}

func TestSession_TerminalSignatureRejectedByPO(t *testing.T) {
	po, sam := openSteps()
	po = append(po, step{want: "00 8E 00 00 04 11223344 00", reply: "6988"})
	sam = append(sam, step{want: "80 8E 00 00 04", reply: "11223344 9000"})
	session, _, samCh := newTestSession(t, Rev3_1, po, sam)
	ctx := context.Background()

	_, err := session.Open(ctx, defaultOpen)
	require.NoError(t, err)

	outcome, err := session.Close(ctx, CloseParams{})
	rejected, ok := IsRejected(err)
	require.True(t, ok, "error = %v", err)
	assert.Equal(t, SwIncorrectSignature, rejected.Status)
	assert.False(t, outcome.Verified)
	assert.Equal(t, SwIncorrectSignature, outcome.Status)
	assert.Equal(t, StateFailed, session.State())
	samCh.done()
}

func TestSession_CloseWithoutSignature(t *testing.T) {
	po, sam := openSteps()
	po = append(po, step{reply: "9000"})
	sam = append(sam, step{reply: "11223344 9000"})
	session, _, _ := newTestSession(t, Rev3_1, po, sam)
	ctx := context.Background()

	_, err := session.Open(ctx, defaultOpen)
	require.NoError(t, err)

	_, err = session.Close(ctx, CloseParams{})
	assert.ErrorIs(t, err, ErrUnexpectedResponseLength)
	assert.Equal(t, StateFailed, session.State())
}

func TestSession_RejectedCommandAbortsSession(t *testing.T) {
	po, sam := openSteps()
	po = append(po,
		step{want: "00 B2 05 3C 00", reply: "6A83"},
		step{want: "00 8E 00 00 00", reply: "9000"}, // abort
	)
	session, poCh, samCh := newTestSession(t, Rev3_1, po, sam)
	ctx := context.Background()

	_, err := session.Open(ctx, defaultOpen)
	require.NoError(t, err)

	_, err = session.Execute(ctx, ReadRecords, ReadRecordsParams{SFI: 0x07, Record: 5})
	rejected, ok := IsRejected(err)
	require.True(t, ok, "error = %v", err)
	assert.Equal(t, iso7816.SW_ERR_RECORD_NOT_FOUND, rejected.Status)
	assert.Equal(t, StateFailed, session.State())
	assert.Zero(t, session.TraceLen())

	_, err = session.Execute(ctx, ReadRecords, ReadRecordsParams{SFI: 0x07, Record: 1})
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = session.Close(ctx, CloseParams{})
	assert.ErrorIs(t, err, ErrSessionClosed)

	poCh.done()
	samCh.done()
}

func TestSession_TransportFailure(t *testing.T) {
	removed := &iso7816.TransportError{Err: errors.New("card removed")}

	po, sam := openSteps()
	po = append(po, step{want: "00 B2 01 3C 00", err: removed})
	session, poCh, samCh := newTestSession(t, Rev3_1, po, sam)
	ctx := context.Background()

	_, err := session.Open(ctx, defaultOpen)
	require.NoError(t, err)

	_, err = session.Execute(ctx, ReadRecords, ReadRecordsParams{SFI: 0x07, Record: 1})
	require.Error(t, err)
	assert.True(t, iso7816.IsTransportError(err))
	_, isRejected := IsRejected(err)
	assert.False(t, isRejected)
	assert.Equal(t, StateFailed, session.State())
	assert.Zero(t, session.TraceLen())

	// No abort and no digest: the scripts are exhausted and nothing else was sent.
	poCh.done()
	samCh.done()
	assert.Len(t, poCh.sent, 2)
	assert.Len(t, samCh.sent, 3)
}

func TestSession_OpenFailures(t *testing.T) {
	t.Run("Diversifier rejected", func(t *testing.T) {
		sam := []step{{reply: "6985"}}
		session, poCh, _ := newTestSession(t, Rev3_1, nil, sam)

		_, err := session.Open(context.Background(), defaultOpen)
		_, ok := IsRejected(err)
		assert.True(t, ok, "error = %v", err)
		assert.Equal(t, StateFailed, session.State())
		assert.Empty(t, poCh.sent)
	})

	t.Run("Wrong key index refused by the PO", func(t *testing.T) {
		po := []step{{reply: "6A81"}}
		sam := []step{{reply: "9000"}, {reply: samChallenge + "9000"}}
		session, _, samCh := newTestSession(t, Rev3_1, po, sam)

		_, err := session.Open(context.Background(), defaultOpen)
		rejected, ok := IsRejected(err)
		require.True(t, ok, "error = %v", err)
		assert.Equal(t, "Wrong key index.", rejected.Message)
		assert.Equal(t, StateFailed, session.State())
		samCh.done()
	})

	t.Run("Digest Init rejected aborts the PO session", func(t *testing.T) {
		po, sam := openSteps()
		sam[2].reply = "6985"
		po = append(po, step{want: "00 8E 00 00 00", reply: "9000"})
		session, poCh, samCh := newTestSession(t, Rev3_1, po, sam)

		_, err := session.Open(context.Background(), defaultOpen)
		rejected, ok := IsRejected(err)
		require.True(t, ok, "error = %v", err)
		assert.Equal(t, DigestInit, rejected.Command)
		assert.Equal(t, StateFailed, session.State())
		assert.Zero(t, session.TraceLen())
		poCh.done()
		samCh.done()
	})

	t.Run("Unusable open answer aborts the PO session", func(t *testing.T) {
		po, sam := openSteps()
		po[0].reply = "00002A 7B 9000"
		po = append(po, step{want: "00 8E 00 00 00", reply: "9000"})
		session, poCh, _ := newTestSession(t, Rev3_1, po, sam[:2])

		_, err := session.Open(context.Background(), defaultOpen)
		assert.ErrorIs(t, err, ErrUnexpectedResponseLength)
		assert.Equal(t, StateFailed, session.State())
		poCh.done()
	})

	t.Run("Invalid parameters are refused before any exchange", func(t *testing.T) {
		session, poCh, samCh := newTestSession(t, Rev3_1, nil, nil)

		_, err := session.Open(context.Background(), OpenParams{KeyIndex: 0, SFI: 0x08, RecordNumber: 1})
		assert.ErrorIs(t, err, ErrMalformedCommand)
		assert.Equal(t, StateClosed, session.State())
		assert.Empty(t, poCh.sent)
		assert.Empty(t, samCh.sent)
	})

	t.Run("Revision 1.0 has no secure session", func(t *testing.T) {
		session, _, samCh := newTestSession(t, Rev1_0, nil, nil)

		_, err := session.Open(context.Background(), defaultOpen)
		assert.ErrorIs(t, err, ErrUnsupportedRevision)
		assert.Empty(t, samCh.sent)
	})
}

func TestSession_Rev32UsesEightByteChallenge(t *testing.T) {
	const challenge = "0102030405060708"
	const openData = "00002A 0A0B0C0D0E 00 FF FF 00" // KIF/KVC not provided

	sam := []step{
		{want: "80 14 00 00 08" + serial, reply: "9000"},
		{want: "80 84 00 00 08", reply: challenge + "9000"},
		{want: "80 8A 02 FF 0E 30 79" + openData, reply: "9000"}, // default KIF for key 3, default KVC
	}
	po := []step{
		{want: "00 8A 0B 42 09 00" + challenge + "00", reply: openData + "9000"},
	}
	session, _, samCh := newTestSession(t, Rev3_2, po, sam, WithDefaultKVC(0x79))

	open, err := session.Open(context.Background(), defaultOpen)
	require.NoError(t, err)
	assert.Equal(t, tlv.Hex("0A0B0C0D0E"), open.Challenge)
	samCh.done()
}

func TestSession_Rev24(t *testing.T) {
	const openData = "79 00002A 7B"

	sam := []step{
		{reply: "9000"},
		{want: "80 84 00 00 04", reply: samChallenge + "9000"},
		{want: "80 8A 00 FF 07 21 79" + openData, reply: "9000"}, // KIF from WithDefaultKIF
	}
	po := []step{
		{want: "94 8A 81 00 04" + samChallenge + "00", reply: openData + "9000"},
	}
	session, _, samCh := newTestSession(t, Rev2_4, po, sam, WithDefaultKIF(1, 0x21))

	open, err := session.Open(context.Background(), OpenParams{KeyIndex: 1})
	require.NoError(t, err)
	assert.False(t, open.HasKIF)
	assert.Equal(t, byte(0x79), open.KVC)
	samCh.done()
}

func TestSession_Abort(t *testing.T) {
	po, sam := openSteps()
	po = append(po, step{want: "00 8E 00 00 00", reply: "9000"})
	session, _, _ := newTestSession(t, Rev3_1, po, sam)
	ctx := context.Background()

	assert.ErrorIs(t, session.Abort(ctx), ErrInvalidState, "nothing to abort before open")

	_, err := session.Open(ctx, defaultOpen)
	require.NoError(t, err)
	require.NoError(t, session.Abort(ctx))
	assert.Equal(t, StateFailed, session.State())
	assert.ErrorIs(t, session.Abort(ctx), ErrSessionClosed)

	_, err = session.Open(ctx, defaultOpen)
	assert.ErrorIs(t, err, ErrSessionClosed, "sessions are single use")
}

func TestSession_ExecuteRefusals(t *testing.T) {
	po, sam := openSteps()
	session, poCh, samCh := newTestSession(t, Rev3_1, po, sam)
	ctx := context.Background()

	_, err := session.Execute(ctx, ReadRecords, ReadRecordsParams{SFI: 0x07, Record: 1})
	assert.ErrorIs(t, err, ErrInvalidState, "execute before open")

	_, err = session.Open(ctx, defaultOpen)
	require.NoError(t, err)

	_, err = session.Execute(ctx, OpenSession, OpenSessionParams{})
	assert.ErrorIs(t, err, ErrUnknownCommand)
	_, err = session.Execute(ctx, DigestClose, LengthParams{Length: 4})
	assert.ErrorIs(t, err, ErrUnknownCommand)
	_, err = session.Execute(ctx, UpdateRecord, RecordParams{SFI: 0x08, Record: 1, Data: make([]byte, 251)})
	assert.ErrorIs(t, err, ErrMalformedCommand, "command too long for one digest block")

	assert.Equal(t, StateOpen, session.State(), "refused commands leave the session open")
	poCh.done()
	samCh.done()
}

func TestSession_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	po, sam := openSteps()
	session, _, _ := newTestSession(t, Rev3_1, po, sam, WithLogger(logger))
	_, err := session.Open(context.Background(), defaultOpen)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "command=OPEN_SECURE_SESSION")
	assert.Contains(t, out, "c_apdu=008A0B4104A831C33E00")
	assert.Contains(t, out, "secure session opened")
	assert.Contains(t, out, "po_revision=REV3_1")
}

func TestSession_DigestCloseRejectedAbortsPO(t *testing.T) {
	po, sam := openSteps()
	po = append(po, step{want: "00 8E 00 00 00", reply: "9000"})
	sam = append(sam, step{want: "80 8E 00 00 04", reply: "6985"})
	session, poCh, samCh := newTestSession(t, Rev3_1, po, sam)
	ctx := context.Background()

	_, err := session.Open(ctx, defaultOpen)
	require.NoError(t, err)

	outcome, err := session.Close(ctx, CloseParams{})
	rejected, ok := IsRejected(err)
	require.True(t, ok, "error = %v", err)
	assert.Equal(t, DigestClose, rejected.Command)
	assert.False(t, outcome.Verified)
	assert.Equal(t, StateFailed, session.State())
	poCh.done()
	samCh.done()
}

func TestSession_BatchFlushRejectedAbortsPO(t *testing.T) {
	po, sam := openSteps()
	po = append(po,
		step{want: "00 B2 01 3C 00", reply: "01 9000"},
		step{want: "00 8E 00 00 00", reply: "9000"},
	)
	sam = append(sam, step{want: "80 8C 80 00 0A 05 00B2013C00 03 019000", reply: "6A83"})
	session, poCh, samCh := newTestSession(t, Rev3_1, po, sam, WithDigestMode(DigestBatched))
	ctx := context.Background()

	_, err := session.Open(ctx, defaultOpen)
	require.NoError(t, err)
	_, err = session.Execute(ctx, ReadRecords, ReadRecordsParams{SFI: 0x07, Record: 1})
	require.NoError(t, err)

	_, err = session.Close(ctx, CloseParams{})
	_, ok := IsRejected(err)
	require.True(t, ok, "error = %v", err)
	assert.Equal(t, StateFailed, session.State())
	poCh.done()
	samCh.done()
}

func TestSession_DigestsTheCommandTheCardRan(t *testing.T) {
	po, sam := openSteps()
	po = append(po, step{want: "00 B2 01 3C 00", ran: "00 B2 01 3C 05", reply: "0102030405 9000"})
	sam = append(sam,
		step{want: "80 8C 00 00 05 00B2013C05", reply: "9000"},
		step{want: "80 8C 00 00 07 0102030405 9000", reply: "9000"},
	)
	session, poCh, samCh := newTestSession(t, Rev3_1, po, sam)
	ctx := context.Background()

	_, err := session.Open(ctx, defaultOpen)
	require.NoError(t, err)
	_, err = session.Execute(ctx, ReadRecords, ReadRecordsParams{SFI: 0x07, Record: 1})
	require.NoError(t, err)

	trace := session.Trace()
	require.Len(t, trace, 2)
	assert.Equal(t, 5, trace[1].Command.Ne)
	poCh.done()
	samCh.done()
}

func TestSession_OversizedAnswerAbortsSession(t *testing.T) {
	po, sam := openSteps()
	po = append(po,
		step{want: "00 B2 01 3C 00", reply: strings.Repeat("AB", 254) + "9000"},
		step{want: "00 8E 00 00 00", reply: "9000"},
	)
	session, poCh, samCh := newTestSession(t, Rev3_1, po, sam)
	ctx := context.Background()

	_, err := session.Open(ctx, defaultOpen)
	require.NoError(t, err)

	_, err = session.Execute(ctx, ReadRecords, ReadRecordsParams{SFI: 0x07, Record: 1})
	assert.ErrorIs(t, err, ErrUnexpectedResponseLength)
	assert.Equal(t, StateFailed, session.State())
	poCh.done()
	samCh.done()
}
