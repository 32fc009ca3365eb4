package socket

import (
	"github.com/codewiresh/trakit/internal/protocol"
)

// shutdown starts tearing s down and returns a channel closed once status
// is closed. Only the first call per session decides the closing message
// and reason. A close frame from the peer overrides them, and a close
// requested through Disconnect overrides both once its frame has been sent.
func (c *Conn) shutdown(s *session, message string, reason protocol.Reason) <-chan struct{} {
	s.once.Do(func() {
		s.message, s.reason = message, reason
		go c.shutting(s)
	})
	return s.done
}

func (c *Conn) shutting(s *session) {
	defer close(s.done)

	s.cancel()
	s.out.close()
	<-s.recvDone
	<-s.sendDone

	if n := s.out.drop(); n > 0 {
		c.log.Warn("socket abandoned queued frames", "addr", c.Address(), "frames", n)
	}
	if err := s.transport.CloseNow(); err != nil {
		c.log.Debug("socket release", "addr", c.Address(), "error", err)
	}

	if in := s.intent.Load(); in != nil {
		s.message, s.reason = in.Message, in.Reason
	}
	c.transition(s, StatusClosing)
	c.finish(s, s.message, s.reason)
}
