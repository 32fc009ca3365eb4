package socket

import (
	"errors"
	"fmt"

	"github.com/codewiresh/trakit/internal/connection"
	"github.com/codewiresh/trakit/internal/protocol"
)

// receive is the receive loop of one session. It is the only reader of the
// transport.
func (c *Conn) receive(s *session) {
	defer close(s.recvDone)
	message, reason := c.readLoop(s)
	c.shutdown(s, message, reason)
}

func (c *Conn) readLoop(s *session) (string, protocol.Reason) {
	for {
		kind, raw, err := s.transport.ReadMessage(s.ctx)
		if err != nil {
			return c.readFailed(s, err)
		}
		if kind != connection.KindText {
			msg := fmt.Sprintf("%s messages are not supported", kind)
			c.log.Warn("socket rejected message", "addr", c.Address(), "kind", kind, "bytes", len(raw))
			c.requestClose(s, protocol.ReasonInvalidMessageType, msg)
			return msg, protocol.ReasonInvalidMessageType
		}
		c.dispatch(s, protocol.ParseFrame(raw))
	}
}

// readFailed classifies a read error into the session's closing message and
// reason, queueing the matching close frame when one is still owed.
func (c *Conn) readFailed(s *session, err error) (string, protocol.Reason) {
	var ce *connection.CloseError
	switch {
	case errors.As(err, &ce):
		c.log.Info("socket closed by peer", "addr", c.Address(), "reason", ce.Reason, "message", ce.Message)
		msg := ce.Message
		if msg == "" {
			msg = ce.Reason.String()
		}
		// The ack below must not become the session's closing reason if
		// the send loop reaches shutdown first.
		s.intent.CompareAndSwap(nil, &protocol.Close{Reason: ce.Reason, Message: msg})
		c.requestClose(s, protocol.ReasonNormal, protocol.Goodbye)
		return msg, ce.Reason
	case s.ctx.Err() != nil:
		return protocol.Goodbye, protocol.ReasonNormal
	case connection.PeerGone(err):
		c.log.Warn("socket peer gone", "addr", c.Address(), "error", err)
		return err.Error(), protocol.ReasonEndpointUnavailable
	default:
		c.log.Error("socket read failed", "addr", c.Address(), "error", err)
		c.requestClose(s, protocol.ReasonProtocolError, err.Error())
		return err.Error(), protocol.ReasonProtocolError
	}
}

// requestClose moves s to closing and hands the send loop a priority close
// frame. It is a no-op when a closing frame was already designated.
func (c *Conn) requestClose(s *session, reason protocol.Reason, message string) {
	c.transition(s, StatusClosing)
	if err := s.out.designate(protocol.NewCloseFrame(reason, message)); err != nil {
		c.log.Debug("socket close already requested", "addr", c.Address(), "reason", reason)
	}
}

// dispatch routes one inbound frame: the first handshake opens the session,
// replies resolve their pending command, and every frame reaches OnReceive.
func (c *Conn) dispatch(s *session, f *protocol.Frame) {
	recordReceived(f)
	if !s.handshook && f.Name == protocol.HandshakeName {
		s.handshook = true
		c.open(s, protocol.ParseHandshake(f.Body))
	} else {
		c.correlate(f)
	}
	c.recvObs.each(func(fn func(*protocol.Frame)) { fn(f) })
}
