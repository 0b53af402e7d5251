package calypso

import (
	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/pkg/errors"
)

// DIGEST TRACE:
// The trace is the ordered list of PO exchanges made inside a session. Entry #1 is the open
// session exchange; its response data seeds the SAM digest (Digest Init). Every following
// exchange contributes two blocks: the command as the PO received it, minus the Le byte of a
// case 4 command, then the response data followed by SW1 SW2.

// DigestMode selects how the exchanges are mirrored to the SAM.
type DigestMode int

const (
	// DigestImmediate sends one Digest Update per block, right after each PO exchange.
	DigestImmediate DigestMode = iota
	// DigestBatched packs the blocks into Digest Update Multiple commands, flushed at the
	// latest before Digest Close.
	DigestBatched
)

func (m DigestMode) String() string {
	if m == DigestBatched {
		return "batched"
	}
	return "immediate"
}

// ParseDigestMode accepts "immediate" and "batched"; the empty string is immediate.
func ParseDigestMode(s string) (DigestMode, error) {
	switch s {
	case "", "immediate":
		return DigestImmediate, nil
	case "batched":
		return DigestBatched, nil
	}
	return 0, errors.Errorf("unknown digest mode %q", s)
}

// DigestTrace records the exchanges of one session in order.
type DigestTrace struct {
	entries iso7816.Trace
}

// Append adds an exchange at the end of the trace.
func (t *DigestTrace) Append(cmd *iso7816.CommandAPDU, resp *iso7816.ResponseAPDU) {
	t.entries = append(t.entries, iso7816.Transaction{Command: cmd, Response: resp})
}

// Len is the number of exchanges, open session included.
func (t *DigestTrace) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the exchanges.
func (t *DigestTrace) Entries() iso7816.Trace {
	return append(iso7816.Trace(nil), t.entries...)
}

// Reset drops every entry. A failed session discards its trace.
func (t *DigestTrace) Reset() {
	t.entries = nil
}

// Blocks returns the SAM digest input in order: the open session response data, then
// the command and response blocks of every following exchange.
func (t *DigestTrace) Blocks() ([][]byte, error) {
	if len(t.entries) == 0 {
		return nil, nil
	}
	blocks := [][]byte{t.entries[0].Response.Data}
	for _, tx := range t.entries[1:] {
		cmdBlock, err := CommandDigestBlock(tx.Command)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, cmdBlock, tx.Response.Bytes())
	}
	return blocks, nil
}

// CommandDigestBlock is the command as digested by the PO: the encoded frame, without the
// trailing Le of a case 4 command.
func CommandDigestBlock(cmd *iso7816.CommandAPDU) ([]byte, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return nil, err
	}
	if cmd.IsCase4() {
		raw = raw[:len(raw)-1]
	}
	return raw, nil
}

// digestBatch accumulates blocks for Digest Update Multiple.
type digestBatch struct {
	blocks [][]byte
	size   int
}

// fits reports whether block can join the batch without exceeding one command.
func (b *digestBatch) fits(block []byte) bool {
	return b.size+1+len(block) <= iso7816.MaxShortLc
}

func (b *digestBatch) add(block []byte) {
	b.blocks = append(b.blocks, block)
	b.size += 1 + len(block)
}

func (b *digestBatch) empty() bool {
	return len(b.blocks) == 0
}

func (b *digestBatch) take() [][]byte {
	blocks := b.blocks
	b.blocks, b.size = nil, 0
	return blocks
}
