package socket

import (
	"errors"

	"github.com/codewiresh/trakit/internal/connection"
	"github.com/codewiresh/trakit/internal/protocol"
)

// send is the send loop of one session. It is the only writer of the
// transport, close frames included.
func (c *Conn) send(s *session) {
	defer close(s.sendDone)
	message, reason := c.writeLoop(s)
	c.shutdown(s, message, reason)
}

func (c *Conn) writeLoop(s *session) (string, protocol.Reason) {
	for {
		f, err := s.out.pop(s.ctx)
		if err != nil {
			// Canceled or closed: shutdown is already under way.
			return protocol.Goodbye, protocol.ReasonNormal
		}

		if f.IsClose() {
			return c.writeClose(s, f)
		}

		if err := s.transport.WriteText(s.ctx, f.Raw, c.chunk); err != nil {
			return c.writeFailed(s, err)
		}
		recordSent(f)
		c.sentObs.each(func(fn func(*protocol.Frame)) { fn(f) })
	}
}

// writeClose performs the close handshake for f. The session ends with the
// frame's own reason and message.
func (c *Conn) writeClose(s *session, f *protocol.Frame) (string, protocol.Reason) {
	if s.requested.Load() == f.Close {
		s.intent.Store(f.Close)
	}
	c.transition(s, StatusClosing)
	c.log.Debug("socket sending close", "addr", c.Address(), "reason", f.Close.Reason, "message", f.Close.Message)
	if err := s.transport.Close(f.Close.Reason, f.Close.Message); err != nil {
		c.log.Debug("socket close handshake incomplete", "addr", c.Address(), "error", err)
	}
	c.sentObs.each(func(fn func(*protocol.Frame)) { fn(f) })
	return f.Close.Message, f.Close.Reason
}

func (c *Conn) writeFailed(s *session, err error) (string, protocol.Reason) {
	switch {
	case s.ctx.Err() != nil:
		return protocol.Goodbye, protocol.ReasonNormal
	case connection.PeerGone(err):
		c.log.Warn("socket peer gone", "addr", c.Address(), "error", err)
		c.transition(s, StatusClosing)
		return err.Error(), protocol.ReasonEndpointUnavailable
	default:
		c.log.Error("socket write failed", "addr", c.Address(), "error", err)
		c.transition(s, StatusClosing)
		if cerr := s.transport.Close(protocol.ReasonProtocolError, err.Error()); cerr != nil && !errors.Is(cerr, err) {
			c.log.Debug("socket close after write failure", "addr", c.Address(), "error", cerr)
		}
		return err.Error(), protocol.ReasonProtocolError
	}
}
