package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/codewiresh/trakit/internal/auth"
	"github.com/codewiresh/trakit/internal/protocol"
	"github.com/codewiresh/trakit/internal/socket"
	"github.com/codewiresh/trakit/internal/store"
)

// Target describes where to connect and with which credentials.
type Target struct {
	Address string
	// DataDir holds the saved session. Empty disables session resumption.
	DataDir string
	// Credential is used when no saved session exists or the saved one is
	// refused. Nil connects anonymously.
	Credential auth.Credential
	Header     http.Header
	Logger     *slog.Logger
	// Journal, if set, records every frame sent and received.
	Journal store.Journal
}

func (t *Target) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// Dial connects to the target and waits for the handshake. A saved session
// is tried first; if the server closes it before the handshake the session
// is forgotten and the configured credential is used instead. The new
// session identity is saved for the next run.
func (t *Target) Dial(ctx context.Context) (*socket.Conn, protocol.Handshake, error) {
	conn, err := t.newConn()
	if err != nil {
		return nil, protocol.Handshake{}, err
	}
	hs, err := t.start(ctx, conn)
	if err != nil {
		return nil, protocol.Handshake{}, err
	}
	return conn, hs, nil
}

// newConn builds a closed Conn for the target with the journal attached, so
// callers can register observers before the first frame arrives.
func (t *Target) newConn() (*socket.Conn, error) {
	conn, err := socket.New(t.Address, &socket.Options{
		Header: t.Header,
		Logger: t.logger(),
	})
	if err != nil {
		return nil, err
	}
	if t.Journal != nil {
		t.record(conn)
	}
	return conn, nil
}

// start connects conn and saves the new session identity.
func (t *Target) start(ctx context.Context, conn *socket.Conn) (protocol.Handshake, error) {
	hs, err := t.connect(ctx, conn)
	if err != nil {
		return protocol.Handshake{}, err
	}
	if t.DataDir != "" && hs.SessionID != "" {
		if err := auth.SaveSession(t.DataDir, hs.SessionID); err != nil {
			t.logger().Warn("saving session", "err", err)
		}
	}
	return hs, nil
}

func (t *Target) connect(ctx context.Context, conn *socket.Conn) (protocol.Handshake, error) {
	if t.DataDir != "" {
		if sess, ok := auth.LoadSession(t.DataDir); ok {
			hs, err := conn.Connect(ctx, sess)
			var closed *socket.ClosedError
			if !errors.As(err, &closed) {
				return hs, err
			}
			t.logger().Info("saved session refused", "reason", closed.Reason, "message", closed.Message)
			if err := auth.ClearSession(t.DataDir); err != nil {
				t.logger().Warn("clearing session", "err", err)
			}
		}
	}

	hs, err := conn.Connect(ctx, t.Credential)
	if err != nil {
		return protocol.Handshake{}, fmt.Errorf("connecting to %s: %w", conn.Address(), err)
	}
	return hs, nil
}

// record wires the journal to conn's frame events.
func (t *Target) record(conn *socket.Conn) {
	log := t.logger()
	write := func(f *protocol.Frame) {
		rec := store.FromFrame(conn.Handshake().SessionID, f)
		if _, err := t.Journal.Append(context.Background(), rec); err != nil {
			log.Warn("journal append failed", "name", rec.Name, "err", err)
		}
	}
	conn.OnSend(write)
	conn.OnReceive(write)
}

// hangUp disconnects conn normally, logging rather than returning failures
// since the caller's work is already done.
func hangUp(ctx context.Context, conn *socket.Conn, log *slog.Logger) {
	if conn.Status() != socket.StatusOpen {
		conn.Close()
		return
	}
	if err := conn.Disconnect(ctx, protocol.ReasonNormal, protocol.Goodbye); err != nil {
		log.Debug("disconnect", "err", err)
		conn.Close()
	}
}
