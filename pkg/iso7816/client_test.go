package iso7816

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/gregLibert/calypso/pkg/tlv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCard replays canned responses and records every frame it receives.
type scriptedCard struct {
	responses [][]byte
	sent      [][]byte
	err       error
}

func (c *scriptedCard) Transmit(cmd []byte) ([]byte, error) {
	c.sent = append(c.sent, append([]byte(nil), cmd...))
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return []byte{0x6F, 0x00}, nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func TestClient_Send(t *testing.T) {
	cls := MustClass(0x00)
	open := NewCommandAPDU(cls, MustInstruction(0x8A), 0x0B, 0x41, tlv.Hex("A8 31 C3 3E"), 0x1D)

	tests := []struct {
		name      string
		cmd       *CommandAPDU
		responses [][]byte
		wantSent  [][]byte
		wantSteps int
		wantLast  []byte
	}{
		{
			name:      "Direct answer",
			cmd:       NewCommandAPDU(cls, MustInstruction(INS_GET_CHALLENGE), 0x01, 0x10, nil, 8),
			responses: [][]byte{tlv.Hex("0102030405060708 9000")},
			wantSent:  [][]byte{tlv.Hex("00 84 01 10 08")},
			wantSteps: 1,
			wantLast:  tlv.Hex("0102030405060708 9000"),
		},
		{
			name:      "61XX triggers GET RESPONSE",
			cmd:       open,
			responses: [][]byte{tlv.Hex("6108"), tlv.Hex("0000 0102 0304 0506 9000")},
			wantSent:  [][]byte{tlv.Hex("00 8A 0B 41 04 A8 31 C3 3E 00"), tlv.Hex("00 C0 00 00 08")},
			wantSteps: 2,
			wantLast:  tlv.Hex("0000 0102 0304 0506 9000"),
		},
		{
			name:      "6CXX re-sends with corrected Le",
			cmd:       NewCommandAPDU(MustClass(0x94), MustInstruction(INS_READ_RECORD), 0x01, 0x3C, nil, MaxShortLe),
			responses: [][]byte{tlv.Hex("6C1D"), append(make([]byte, 0x1D), 0x90, 0x00)},
			wantSent:  [][]byte{tlv.Hex("94 B2 01 3C 00"), tlv.Hex("94 B2 01 3C 1D")},
			wantSteps: 2,
			wantLast:  append(make([]byte, 0x1D), 0x90, 0x00),
		},
		{
			name:      "6CXX on a case 4 command is not re-sent",
			cmd:       NewCommandAPDU(cls, MustInstruction(0x32), 0x01, 0xC8, tlv.Hex("000064"), 3),
			responses: [][]byte{tlv.Hex("6C04"), tlv.Hex("6C04")},
			wantSent:  [][]byte{tlv.Hex("00 32 01 C8 03 000064 00")},
			wantSteps: 1,
			wantLast:  tlv.Hex("6C04"),
		},
		{
			name:      "6CXX is corrected once",
			cmd:       NewCommandAPDU(cls, MustInstruction(INS_READ_RECORD), 0x01, 0x3C, nil, MaxShortLe),
			responses: [][]byte{tlv.Hex("6C1D"), tlv.Hex("6C05"), tlv.Hex("6C05")},
			wantSent:  [][]byte{tlv.Hex("00 B2 01 3C 00"), tlv.Hex("00 B2 01 3C 1D")},
			wantSteps: 2,
			wantLast:  tlv.Hex("6C05"),
		},
		{
			name:      "6CXX asking for the same Le is not re-sent",
			cmd:       NewCommandAPDU(cls, MustInstruction(INS_READ_RECORD), 0x01, 0x3C, nil, 0x1D),
			responses: [][]byte{tlv.Hex("6C1D")},
			wantSent:  [][]byte{tlv.Hex("00 B2 01 3C 1D")},
			wantSteps: 1,
			wantLast:  tlv.Hex("6C1D"),
		},
		{
			name:      "Error status is returned as is",
			cmd:       NewCommandAPDU(cls, MustInstruction(INS_UPDATE_RECORD), 0x01, 0x3C, []byte{0x01}, 0),
			responses: [][]byte{tlv.Hex("6982")},
			wantSent:  [][]byte{tlv.Hex("00 DC 01 3C 01 01")},
			wantSteps: 1,
			wantLast:  tlv.Hex("6982"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := &scriptedCard{responses: tt.responses}
			trace, err := NewClient(card).Send(tt.cmd)
			require.NoError(t, err)

			assert.Equal(t, tt.wantSent, card.sent)
			assert.Len(t, trace, tt.wantSteps)
			assert.Equal(t, tt.wantLast, trace.Last().Response.Bytes())
			assert.Same(t, tt.cmd, trace[0].Command, "first step must hold the logical command")
		})
	}
}

func TestClient_Send_BoundsResponseChain(t *testing.T) {
	card := &endlessCard{answer: tlv.Hex("6110")}
	trace, err := NewClient(card).Send(NewCommandAPDU(MustClass(0x00), MustInstruction(INS_READ_RECORD), 0x01, 0x3C, nil, MaxShortLe))
	require.NoError(t, err)

	assert.Len(t, trace, maxChainedResponses+1)
	assert.Equal(t, maxChainedResponses+1, card.calls)
	assert.Equal(t, NewStatusWord(0x61, 0x10), trace.Last().Response.Status)
}

// endlessCard gives the same answer to every frame.
type endlessCard struct {
	answer []byte
	calls  int
}

func (c *endlessCard) Transmit([]byte) ([]byte, error) {
	c.calls++
	return c.answer, nil
}

func TestClient_Exchange(t *testing.T) {
	cls := MustClass(0x00)
	cmd := NewCommandAPDU(cls, MustInstruction(0x8A), 0x0B, 0x41, tlv.Hex("A8 31 C3 3E"), 0x1D)

	t.Run("Returns final response", func(t *testing.T) {
		card := &scriptedCard{responses: [][]byte{tlv.Hex("6102"), tlv.Hex("AABB 9000")}}
		tx, err := NewClient(card).Exchange(context.Background(), cmd)
		require.NoError(t, err)
		assert.Same(t, cmd, tx.Command, "GET RESPONSE fetches the data of the original command")
		assert.Equal(t, SW_NO_ERROR, tx.Response.Status)
		assert.Equal(t, tlv.Hex("AABB"), tx.Response.Data)
	})

	t.Run("Returns the corrected command after 6CXX", func(t *testing.T) {
		read := NewCommandAPDU(cls, MustInstruction(INS_READ_RECORD), 0x01, 0x3C, nil, MaxShortLe)
		card := &scriptedCard{responses: [][]byte{tlv.Hex("6C05"), tlv.Hex("0102030405 9000")}}
		tx, err := NewClient(card).Exchange(context.Background(), read)
		require.NoError(t, err)

		raw, err := tx.Command.Bytes()
		require.NoError(t, err)
		assert.Equal(t, tlv.Hex("00 B2 01 3C 05"), raw)
		assert.Equal(t, tlv.Hex("0102030405 9000"), tx.Response.Bytes())
		assert.Equal(t, MaxShortLe, read.Ne, "the caller's command is not modified")
	})

	t.Run("Transmit failure is a transport error", func(t *testing.T) {
		cause := errors.New("card removed")
		card := &scriptedCard{err: cause}
		_, err := NewClient(card).Exchange(context.Background(), cmd)
		require.Error(t, err)
		assert.True(t, IsTransportError(err))
		assert.ErrorIs(t, err, cause)
	})

	t.Run("Unreadable response is a transport error", func(t *testing.T) {
		card := &scriptedCard{responses: [][]byte{{0x90}}}
		_, err := NewClient(card).Exchange(context.Background(), cmd)
		assert.True(t, IsTransportError(err))
	})

	t.Run("Cancelled context sends nothing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		card := &scriptedCard{}
		_, err := NewClient(card).Exchange(ctx, cmd)
		assert.True(t, IsTransportError(err))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, card.sent)
	})

	t.Run("Malformed command is not a transport error", func(t *testing.T) {
		big := NewCommandAPDU(cls, MustInstruction(INS_UPDATE_RECORD), 0x01, 0x3C, make([]byte, 300), 0)
		card := &scriptedCard{}
		_, err := NewClient(card).Exchange(context.Background(), big)
		assert.ErrorIs(t, err, ErrMalformedCommand)
		assert.False(t, IsTransportError(err))
		assert.Empty(t, card.sent)
	})
}

func TestClient_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	card := &scriptedCard{responses: [][]byte{tlv.Hex("9000")}}
	client := NewClient(card).WithLogger(newTestLogger(&buf))

	_, err := client.Exchange(context.Background(), NewCommandAPDU(MustClass(0x00), MustInstruction(INS_SELECT), 0x04, 0x00, nil, 0))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "command=00A40400")
	assert.Contains(t, buf.String(), "response=9000")
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
