package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/codewiresh/trakit/internal/auth"
	"github.com/codewiresh/trakit/internal/protocol"
	"github.com/codewiresh/trakit/internal/socket"
	"github.com/codewiresh/trakit/internal/store"
)

// disconnectTimeout bounds the close handshake at the end of a command.
const disconnectTimeout = 10 * time.Second

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

// Connect opens a connection, prints the session identity and disconnects.
func Connect(ctx context.Context, target *Target, w io.Writer) error {
	conn, hs, err := target.Dial(ctx)
	if err != nil {
		return err
	}
	defer hangUpTimeout(conn, target)

	if hs.SessionID == "" {
		fmt.Fprintln(w, "Connected (anonymous)")
		return nil
	}
	fmt.Fprintf(w, "Connected: session %s\n", hs.SessionID)
	return nil
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

// Send runs one command and prints the reply body. With pretty set the body
// is indented when it is JSON.
func Send(ctx context.Context, target *Target, command, body string, w io.Writer, pretty bool) error {
	if err := protocol.ValidateName(command); err != nil {
		return err
	}
	conn, _, err := target.Dial(ctx)
	if err != nil {
		return err
	}
	defer hangUpTimeout(conn, target)

	reply, err := conn.Command(ctx, command, body)
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	fmt.Fprintln(w, formatBody(reply.Body, pretty))
	return nil
}

func formatBody(body string, pretty bool) string {
	if !pretty {
		return body
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(body), "", "  "); err != nil {
		return body
	}
	return buf.String()
}

// ---------------------------------------------------------------------------
// Listen
// ---------------------------------------------------------------------------

// Listen prints every inbound frame until ctx is done, then disconnects
// normally. A close started by the server ends Listen too; anything other
// than a normal closure is returned as a *socket.ClosedError.
func Listen(ctx context.Context, target *Target, w io.Writer, pretty bool) error {
	conn, err := target.newConn()
	if err != nil {
		return err
	}

	lines := make(chan *protocol.Frame, 64)
	conn.OnReceive(func(f *protocol.Frame) {
		select {
		case lines <- f:
		default:
			target.logger().Warn("listen output behind, frame dropped", "name", f.Name)
		}
	})
	// Only a session that reached open ends Listen; a refused saved
	// session closes before the fallback connect.
	var live atomic.Bool
	conn.OnOpen(func(protocol.Handshake) { live.Store(true) })
	closed := make(chan *socket.ClosedError, 1)
	conn.OnClosed(func(msg string, reason protocol.Reason) {
		if live.Load() {
			closed <- &socket.ClosedError{Message: msg, Reason: reason}
		}
	})

	hs, err := target.start(ctx, conn)
	if err != nil {
		return err
	}

	target.logger().Info("listening", "addr", conn.Address(), "session", hs.SessionID)
	for {
		select {
		case f := <-lines:
			if f.Name != protocol.HandshakeName {
				printFrame(w, f, pretty)
			}
		case ce := <-closed:
			drain(lines, w, pretty)
			if ce.Reason == protocol.ReasonNormal {
				return nil
			}
			return ce
		case <-ctx.Done():
			hangUpTimeout(conn, target)
			drain(lines, w, pretty)
			return nil
		}
	}
}

func drain(lines chan *protocol.Frame, w io.Writer, pretty bool) {
	for {
		select {
		case f := <-lines:
			if f.Name != protocol.HandshakeName {
				printFrame(w, f, pretty)
			}
		default:
			return
		}
	}
}

func printFrame(w io.Writer, f *protocol.Frame, pretty bool) {
	if f.Body == "" {
		fmt.Fprintln(w, f.Name)
		return
	}
	fmt.Fprintf(w, "%s %s\n", f.Name, formatBody(f.Body, pretty))
}

func hangUpTimeout(conn *socket.Conn, target *Target) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	hangUp(ctx, conn, target.logger())
}

// ---------------------------------------------------------------------------
// Journal
// ---------------------------------------------------------------------------

// Journal output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Journal prints the n most recent journaled frames in the given format.
func Journal(ctx context.Context, j store.Journal, n int, format string, w io.Writer) error {
	recs, err := j.Recent(ctx, n)
	if err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(recs); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case FormatText, "":
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}

	if len(recs) == 0 {
		fmt.Fprintln(w, "No recorded frames")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tDIR\tNAME\tBODY")
	for _, r := range recs {
		name, body := r.Name, r.Body
		if r.Reason != "" {
			name, body = "(close)", r.Reason+": "+r.Name
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, formatRelativeTime(r.At), r.Direction, name, truncate(body, 60))
	}
	return tw.Flush()
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// formatRelativeTime renders t as "5s ago", "3m ago", "2h ago" or "4d ago".
func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// ---------------------------------------------------------------------------
// Sign
// ---------------------------------------------------------------------------

// Sign prints the signature of a GET on uri at now, and the uri carrying
// the key and signature as the socket expects them.
func Sign(key, secret, uri string, now time.Time, w io.Writer) error {
	if key == "" {
		return fmt.Errorf("no api key configured (set TRAKIT_API_KEY)")
	}
	target, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("parsing uri: %w", err)
	}
	signed, err := auth.APIKey{Key: key, Secret: secret}.Authenticate(target, now)
	if err != nil {
		return err
	}
	header, err := auth.AuthorizationHeader(key, secret, now, "GET", target, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "signature:     %s\n", signed.Query().Get(auth.SignatureParam))
	fmt.Fprintf(w, "url:           %s\n", signed.String())
	fmt.Fprintf(w, "authorization: %s\n", header)
	return nil
}
