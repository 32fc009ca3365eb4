package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/codewiresh/trakit/internal/protocol"
)

// MessageKind is the transport-level kind of a received message.
type MessageKind int

const (
	KindText MessageKind = iota
	KindBinary
)

func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Transport is a full-duplex message socket. Reads may run concurrently with
// writes, but at most one write (WriteText or Close) may be in flight.
type Transport interface {
	// ReadMessage blocks until a whole message has arrived, reassembling
	// continuation fragments. A close frame from the peer is returned as a
	// *CloseError.
	ReadMessage(ctx context.Context) (MessageKind, []byte, error)
	// WriteText writes data as one text message in pieces of at most chunk
	// bytes; only the last piece ends the message.
	WriteText(ctx context.Context, data []byte, chunk int) error
	// Close sends a close frame and waits briefly for the peer's reply.
	Close(reason protocol.Reason, message string) error
	// CloseNow drops the connection without a close handshake.
	CloseNow() error
}

// CloseError reports a close frame received from the peer.
type CloseError struct {
	Reason  protocol.Reason
	Message string
}

func (e *CloseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("connection closed by peer (%s)", e.Reason)
	}
	return fmt.Sprintf("connection closed by peer (%s): %s", e.Reason, e.Message)
}

// PeerGone reports whether err means the remote end vanished without a
// close handshake.
func PeerGone(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
