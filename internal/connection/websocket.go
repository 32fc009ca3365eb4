package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"nhooyr.io/websocket"

	"github.com/codewiresh/trakit/internal/protocol"
)

// WSTransport adapts a WebSocket connection to Transport.
// ReadMessage must only be called from one goroutine at a time, and the
// same holds for the write methods.
type WSTransport struct {
	conn *websocket.Conn
	buf  []byte
}

// Dial opens a WebSocket connection to rawURL with the given extra headers.
func Dial(ctx context.Context, rawURL string, header http.Header) (*WSTransport, error) {
	opts := &websocket.DialOptions{HTTPHeader: header}
	conn, _, err := websocket.Dial(ctx, rawURL, opts)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", redact(rawURL), err)
	}
	return NewWSTransport(conn), nil
}

// NewWSTransport wraps an established WebSocket connection.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	// Remove the default read limit so large frames are not rejected.
	conn.SetReadLimit(-1)
	return &WSTransport{conn: conn, buf: make([]byte, protocol.ChunkSize)}
}

func (t *WSTransport) ReadMessage(ctx context.Context) (MessageKind, []byte, error) {
	typ, r, err := t.conn.Reader(ctx)
	if err != nil {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			return 0, nil, &CloseError{
				Reason:  protocol.ReasonFromStatus(closeErr.Code),
				Message: closeErr.Reason,
			}
		}
		return 0, nil, err
	}

	var msg bytes.Buffer
	for {
		n, err := r.Read(t.buf)
		msg.Write(t.buf[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, nil, err
		}
	}

	switch typ {
	case websocket.MessageText:
		return KindText, msg.Bytes(), nil
	case websocket.MessageBinary:
		return KindBinary, msg.Bytes(), nil
	default:
		return MessageKind(typ), msg.Bytes(), nil
	}
}

func (t *WSTransport) WriteText(ctx context.Context, data []byte, chunk int) error {
	if chunk <= 0 {
		chunk = protocol.ChunkSize
	}
	w, err := t.conn.Writer(ctx, websocket.MessageText)
	if err != nil {
		return err
	}
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		if _, err := w.Write(data[off:end]); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

func (t *WSTransport) Close(reason protocol.Reason, message string) error {
	code := reason.StatusCode()
	if reason == protocol.ReasonUnspecified {
		// 1005 is reserved and cannot be written.
		code = websocket.StatusNormalClosure
	}
	return t.conn.Close(code, protocol.CloseText(reason, message))
}

func (t *WSTransport) CloseNow() error {
	return t.conn.CloseNow()
}

// redact strips the query from a URL before it is logged or wrapped into an
// error, since it may carry credentials.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i] + "?…"
	}
	return rawURL
}
