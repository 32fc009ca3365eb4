package socket

import (
	"errors"
	"fmt"

	"github.com/codewiresh/trakit/internal/protocol"
)

// Status is the lifecycle phase of a Conn.
type Status int

const (
	// StatusClosed is both the initial and the terminal status.
	StatusClosed Status = iota
	// StatusOpening means the socket is up and the handshake frame has not
	// arrived yet.
	StatusOpening
	// StatusOpen means the handshake frame has been received.
	StatusOpen
	// StatusClosing means either side has started to close the connection.
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusOpening:
		return "opening"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// canTransition reports whether from -> to is an allowed lifecycle step.
// opening -> closing covers connections that die before the handshake.
func canTransition(from, to Status) bool {
	switch from {
	case StatusClosed:
		return to == StatusOpening
	case StatusOpening:
		return to == StatusOpen || to == StatusClosing
	case StatusOpen:
		return to == StatusClosing
	case StatusClosing:
		return to == StatusClosed
	}
	return false
}

var (
	// ErrInvalidStatus is wrapped by every error returned for an operation
	// attempted in the wrong status.
	ErrInvalidStatus = errors.New("invalid connection status")
	// ErrAlreadyClosing is returned once a closing frame has been requested.
	ErrAlreadyClosing = errors.New("connection is already closing")
	// ErrCommandCanceled is returned to commands still waiting for a reply
	// when the connection starts closing.
	ErrCommandCanceled = errors.New("command canceled: connection closing")

	errConnecting = fmt.Errorf("%w: connect already in progress", ErrInvalidStatus)
)

// StatusError reports an operation attempted in the wrong status.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: connection is %s", e.Op, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrInvalidStatus }

// ClosedError carries the terminal message and reason of a connection that
// closed before the caller got what it waited for.
type ClosedError struct {
	Message string
	Reason  protocol.Reason
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("connection closed (%s): %s", e.Reason, e.Message)
}
