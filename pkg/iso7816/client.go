package iso7816

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// CLIENT & PROTOCOL LOGIC:
// The Client acts as a high-level driver over the physical connection.
// It implements the automatic handling of ISO 7816-3 transport behaviors that are
// often exposed to the application layer in T=0 protocols:
//
// 1. "61 XX" (Response Available):
//    The card indicates that XX bytes are waiting. The client automatically generates
//    and sends a GET RESPONSE command to retrieve them. This is how the outgoing data
//    of a case 4 command (sent with Le = '00') comes back under T=0. A chain is cut
//    after maxChainedResponses GET RESPONSE commands.
//
// 2. "6C XX" (Wrong Length):
//    The card indicates that the expected length (Le) was incorrect and suggests XX.
//    The client re-sends the command once with Le = XX. A case 4 command always
//    travels with Le = '00', so it cannot be corrected and the 6CXX is returned as is.
//
// The Send() method returns a Trace, which is a log of all atomic transactions
// occurred to fulfill the logical request. Exchange() is the one-command/one-response
// boundary used by the secure session engine: it returns the command the card
// executed (the corrected one after a 6CXX) with the final response.
//
// The client never retries after a transmission failure. Such failures are reported
// as *TransportError so callers can tell "card absent" from "card said no".

// maxChainedResponses bounds the GET RESPONSE commands sent for one command.
const maxChainedResponses = 16

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Exchanger exchanges one logical command for one logical response. The returned
// transaction pairs the frame the card executed with its final response.
// At most one exchange may be in flight per channel.
type Exchanger interface {
	Exchange(ctx context.Context, cmd *CommandAPDU) (Transaction, error)
}

// TransportError reports that a command could not be exchanged with the card
// (reader failure, card removed, cancelled context, unreadable response).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transmission error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err was raised by the transport boundary.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Client manages the high-level communication with the card.
type Client struct {
	Card   Transmitter
	Logger *slog.Logger
}

// NewClient creates a new Client instance that logs nothing.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithLogger returns a copy of the client logging raw frames at debug level on l.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	cp := *c
	cp.Logger = l
	return &cp
}

// Exchange sends cmd and returns the executed command with the final response of the
// resulting trace. The context is checked before transmission; an in-flight Transmit
// cannot be interrupted.
func (c *Client) Exchange(ctx context.Context, cmd *CommandAPDU) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, &TransportError{Err: err}
	}

	trace, err := c.Send(cmd)
	if err != nil {
		return Transaction{}, err
	}
	return trace.Executed(), nil
}

// Send transmits a command and handles protocol logic (61xx, 6Cxx).
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	var (
		trace   Trace
		fetched int
		resent  bool
	)

	for current := cmd; current != nil; {
		resp, err := c.transmit(current)
		if err != nil {
			return trace, err
		}
		trace = append(trace, Transaction{Command: current, Response: resp})

		n, pending := resp.Status.PendingLength()
		switch {
		case !pending:
			current = nil
		case resp.Status.SW1() == 0x61:
			if fetched == maxChainedResponses {
				current = nil
				break
			}
			fetched++
			// ISO 7816-4: GET RESPONSE must use the same logical channel as the original command.
			respCls := cmd.Class
			respCls.IsChained = false
			current = NewCommandAPDU(respCls, MustInstruction(INS_GET_RESPONSE), 0x00, 0x00, nil, n)
		default:
			if resent {
				current = nil
				break
			}
			resent = true
			current = withLe(current, n)
		}
	}
	return trace, nil
}

// withLe returns cmd with Ne = n, or nil when the frame on the wire would not change.
func withLe(cmd *CommandAPDU, n int) *CommandAPDU {
	if cmd.IsCase4() {
		return nil
	}
	retry := *cmd
	retry.Ne = n

	before, _ := cmd.Bytes()
	after, err := retry.Bytes()
	if err != nil || bytes.Equal(before, after) {
		return nil
	}
	return &retry
}

func (c *Client) transmit(cmd *CommandAPDU) (*ResponseAPDU, error) {
	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.Card.Transmit(rawCmd)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	c.logger().Debug("apdu",
		"command", strings.ToUpper(hex.EncodeToString(rawCmd)),
		"response", strings.ToUpper(hex.EncodeToString(rawResp)))

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	return resp, nil
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.Logger
}
