// Package socket implements the persistent, authenticated streaming
// connection: a status machine, a receive loop and a send loop sharing one
// outbound queue, a shutdown path that runs exactly once per connection, and
// a command correlator matching replies to requests by request id.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/codewiresh/trakit/internal/auth"
	"github.com/codewiresh/trakit/internal/connection"
	"github.com/codewiresh/trakit/internal/protocol"
)

// DialFunc opens the transport for one connection attempt.
type DialFunc func(ctx context.Context, rawURL string, header http.Header) (connection.Transport, error)

// Options tunes a Conn. The zero value is usable.
type Options struct {
	// Header is sent with the WebSocket upgrade request.
	Header http.Header
	// ChunkSize bounds each transport write. Defaults to protocol.ChunkSize.
	ChunkSize int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Dial defaults to connection.Dial.
	Dial DialFunc
	// Now is the clock used to sign credentials. Defaults to time.Now.
	Now func() time.Time
}

// Conn is one client connection. It may be connected again after it has
// closed. All methods are safe for concurrent use.
type Conn struct {
	address *url.URL
	header  http.Header
	chunk   int
	log     *slog.Logger
	dial    DialFunc
	now     func() time.Time

	mu        sync.Mutex
	status    Status
	dialing   bool
	sess      *session
	handshake protocol.Handshake

	nextID  atomic.Uint64
	pending *xsync.MapOf[uint64, *pending]

	statusObs *registry[func(Status)]
	openObs   *registry[func(protocol.Handshake)]
	closedObs *registry[func(string, protocol.Reason)]
	recvObs   *registry[func(*protocol.Frame)]
	sentObs   *registry[func(*protocol.Frame)]
}

// session is the state of one connection attempt, from a successful dial to
// status closed. Conn.sess is non-nil exactly while status is opening, open
// or closing.
type session struct {
	transport connection.Transport
	ctx       context.Context
	cancel    context.CancelFunc
	out       *outbox

	opened   chan struct{}
	recvDone chan struct{}
	sendDone chan struct{}
	done     chan struct{}

	// handshook is only touched by the receive loop.
	handshook bool
	// closeRequested is guarded by Conn.mu.
	closeRequested bool
	requested      atomic.Pointer[protocol.Close]
	// intent, once set, replaces the message and reason shutdown was
	// started with.
	intent atomic.Pointer[protocol.Close]

	once    sync.Once
	message string
	reason  protocol.Reason
}

// New creates a closed Conn for address. ws, wss, http and https URLs are
// accepted; http(s) is rewritten to ws(s).
func New(address string, opts *Options) (*Conn, error) {
	if opts == nil {
		opts = &Options{}
	}
	u, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		address:   u,
		header:    opts.Header.Clone(),
		chunk:     opts.ChunkSize,
		log:       opts.Logger,
		dial:      opts.Dial,
		now:       opts.Now,
		pending:   xsync.NewMapOf[uint64, *pending](),
		statusObs: newRegistry[func(Status)](),
		openObs:   newRegistry[func(protocol.Handshake)](),
		closedObs: newRegistry[func(string, protocol.Reason)](),
		recvObs:   newRegistry[func(*protocol.Frame)](),
		sentObs:   newRegistry[func(*protocol.Frame)](),
	}
	if c.chunk <= 0 {
		c.chunk = protocol.ChunkSize
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.dial == nil {
		c.dial = func(ctx context.Context, rawURL string, header http.Header) (connection.Transport, error) {
			return connection.Dial(ctx, rawURL, header)
		}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

func parseAddress(address string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return nil, fmt.Errorf("parsing address: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("address %q: scheme must be ws, wss, http or https", address)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("address %q: missing host", address)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = strings.Trim(u.RawQuery, "&")
	u.ForceQuery = false
	return u, nil
}

// Address returns the target address without credentials.
func (c *Conn) Address() string { return c.address.String() }

// Status returns the current lifecycle status.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Handshake returns the handshake of the current or most recent session.
func (c *Conn) Handshake() protocol.Handshake {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshake
}

// ---------------------------------------------------------------------------
// Observers
// ---------------------------------------------------------------------------

// OnStatus registers fn to run on every status change. Observers run on the
// goroutine that caused the change and must not block.
func (c *Conn) OnStatus(fn func(Status)) (cancel func()) { return c.statusObs.add(fn) }

// OnOpen registers fn to run when the handshake completes.
func (c *Conn) OnOpen(fn func(protocol.Handshake)) (cancel func()) { return c.openObs.add(fn) }

// OnClosed registers fn to run once per session when status reaches closed.
func (c *Conn) OnClosed(fn func(message string, reason protocol.Reason)) (cancel func()) {
	return c.closedObs.add(fn)
}

// OnReceive registers fn for every inbound text frame, the handshake
// included.
func (c *Conn) OnReceive(fn func(*protocol.Frame)) (cancel func()) { return c.recvObs.add(fn) }

// OnSend registers fn for every frame written to the transport.
func (c *Conn) OnSend(fn func(*protocol.Frame)) (cancel func()) { return c.sentObs.add(fn) }

// ---------------------------------------------------------------------------
// Status transitions
// ---------------------------------------------------------------------------

// transition moves s to status to if s is still the live session and the
// step is allowed. Observers run after the lock is released.
func (c *Conn) transition(s *session, to Status) bool {
	c.mu.Lock()
	if c.sess != s || !canTransition(c.status, to) {
		c.mu.Unlock()
		return false
	}
	c.status = to
	c.mu.Unlock()

	c.log.Debug("socket status", "addr", c.Address(), "status", to)
	if to == StatusClosing {
		c.cancelPending()
	}
	c.statusObs.each(func(fn func(Status)) { fn(to) })
	return true
}

// open completes the handshake for s.
func (c *Conn) open(s *session, hs protocol.Handshake) bool {
	c.mu.Lock()
	if c.sess != s || c.status != StatusOpening {
		c.mu.Unlock()
		return false
	}
	c.status = StatusOpen
	c.handshake = hs
	c.mu.Unlock()

	c.log.Info("socket open", "addr", c.Address(), "session", hs.SessionID)
	close(s.opened)
	c.statusObs.each(func(fn func(Status)) { fn(StatusOpen) })
	c.openObs.each(func(fn func(protocol.Handshake)) { fn(hs) })
	return true
}

// finish is the only place status reaches closed and the closed event fires.
func (c *Conn) finish(s *session, message string, reason protocol.Reason) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.status = StatusClosed
	c.sess = nil
	c.mu.Unlock()

	c.log.Info("socket closed", "addr", c.Address(), "reason", reason, "message", message)
	recordClose(reason)
	c.cancelPending()
	c.statusObs.each(func(fn func(Status)) { fn(StatusClosed) })
	c.closedObs.each(func(fn func(string, protocol.Reason)) { fn(message, reason) })
}

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

// Connect dials the address with cred (nil for none) and waits for the
// handshake frame. It fails fast unless the connection is closed. If ctx
// ends before the handshake, the connection is torn down and ctx.Err() is
// returned; if the peer closes first, the error is a *ClosedError.
func (c *Conn) Connect(ctx context.Context, cred auth.Credential) (protocol.Handshake, error) {
	c.mu.Lock()
	if c.status != StatusClosed {
		st := c.status
		c.mu.Unlock()
		return protocol.Handshake{}, &StatusError{Op: "connect", Status: st}
	}
	if c.dialing {
		c.mu.Unlock()
		return protocol.Handshake{}, errConnecting
	}
	c.dialing = true
	c.mu.Unlock()

	s, err := c.start(ctx, cred)
	if err != nil {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
		recordConnect(false)
		return protocol.Handshake{}, err
	}
	recordConnect(true)

	select {
	case <-s.opened:
		return c.Handshake(), nil
	case <-s.done:
		return protocol.Handshake{}, &ClosedError{Message: s.message, Reason: s.reason}
	case <-ctx.Done():
		<-c.shutdown(s, "connect canceled", protocol.ReasonNormal)
		return protocol.Handshake{}, ctx.Err()
	}
}

// start dials, installs the new session as opening and launches both loops.
func (c *Conn) start(ctx context.Context, cred auth.Credential) (*session, error) {
	target := c.address
	if cred != nil {
		var err error
		if target, err = cred.Authenticate(c.address, c.now()); err != nil {
			return nil, fmt.Errorf("authenticating: %w", err)
		}
	}

	c.log.Debug("socket dialing", "addr", c.Address())
	t, err := c.dial(ctx, target.String(), c.header)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		transport: t,
		ctx:       sctx,
		cancel:    cancel,
		out:       newOutbox(),
		opened:    make(chan struct{}),
		recvDone:  make(chan struct{}),
		sendDone:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	c.dialing = false
	c.sess = s
	c.status = StatusOpening
	c.handshake = protocol.Handshake{}
	c.mu.Unlock()

	c.statusObs.each(func(fn func(Status)) { fn(StatusOpening) })

	go c.receive(s)
	go c.send(s)
	return s, nil
}

// ---------------------------------------------------------------------------
// Disconnect
// ---------------------------------------------------------------------------

// Disconnect asks the send loop to close the connection with reason and
// message, then waits until status is closed or ctx is done. A normal reason
// lets frames already queued go out first; any other reason abandons them.
// It fails fast unless the connection is open, and with ErrAlreadyClosing if
// a close was already requested.
func (c *Conn) Disconnect(ctx context.Context, reason protocol.Reason, message string) error {
	return c.disconnect(ctx, reason, message, reason != protocol.ReasonNormal)
}

// ForceDisconnect is Disconnect that abandons queued frames regardless of
// reason.
func (c *Conn) ForceDisconnect(ctx context.Context, reason protocol.Reason, message string) error {
	return c.disconnect(ctx, reason, message, true)
}

func (c *Conn) disconnect(ctx context.Context, reason protocol.Reason, message string, priority bool) error {
	if message == "" {
		message = protocol.Goodbye
	}
	f := protocol.NewCloseFrame(reason, message)

	c.mu.Lock()
	if c.status != StatusOpen {
		st := c.status
		c.mu.Unlock()
		return &StatusError{Op: "disconnect", Status: st}
	}
	s := c.sess
	if s.closeRequested {
		c.mu.Unlock()
		return ErrAlreadyClosing
	}
	var err error
	if priority {
		err = s.out.designate(f)
	} else {
		err = s.out.push(f)
	}
	if err == nil {
		s.closeRequested = true
		s.requested.Store(f.Close)
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects normally if the connection is open and otherwise tears
// down whatever session is in flight. It returns once status is closed.
func (c *Conn) Close() error {
	c.mu.Lock()
	s, st := c.sess, c.status
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	if st == StatusOpen {
		err := c.Disconnect(context.Background(), protocol.ReasonNormal, protocol.Goodbye)
		if err == nil || errors.Is(err, ErrAlreadyClosing) {
			<-s.done
			return nil
		}
	}
	<-c.shutdown(s, protocol.Goodbye, protocol.ReasonNormal)
	return nil
}

// enqueue pushes f for the send loop if the connection is open and no
// close has been requested.
func (c *Conn) enqueue(op string, f *protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusOpen {
		return &StatusError{Op: op, Status: c.status}
	}
	if c.sess.closeRequested {
		return ErrAlreadyClosing
	}
	if err := c.sess.out.push(f); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Send queues a frame without waiting for any reply.
func (c *Conn) Send(name, body string) error {
	f, err := protocol.NewFrame(name, body)
	if err != nil {
		return err
	}
	return c.enqueue("send", f)
}
