package calypso

import (
	"fmt"

	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/pkg/errors"
)

// Encoding errors are detected before anything is sent to a card.
var (
	// ErrMalformedCommand is the codec error, re-exported so callers need a single import.
	ErrMalformedCommand = iso7816.ErrMalformedCommand

	ErrInconsistentCommand = errors.New("inconsistent command")
	ErrUnsupportedRevision = errors.New("unsupported revision")
	ErrUnknownCommand      = errors.New("unknown command")
)

var (
	ErrUnexpectedResponseLength = errors.New("unexpected response length")

	// ErrSessionClosed is returned by every operation on a verified or failed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrInvalidState is returned when an operation does not apply to the current state.
	ErrInvalidState = errors.New("invalid session state")
)

// CommandRejectedError is a status word the command's table marks as unsuccessful.
// It is expected protocol traffic: wrong key, file not found, bad signature...
type CommandRejectedError struct {
	Command CommandName
	Status  iso7816.StatusWord
	Message string
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("%s rejected with %04X: %s", e.Command, uint16(e.Status), e.Message)
}

// IsRejected reports whether err carries a card or SAM rejection and returns it.
func IsRejected(err error) (*CommandRejectedError, bool) {
	var rejected *CommandRejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}
