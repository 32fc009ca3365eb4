package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/codewiresh/trakit/internal/auth"
	"github.com/codewiresh/trakit/internal/protocol"
	"github.com/codewiresh/trakit/internal/socket"
	"github.com/codewiresh/trakit/internal/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// peer is a scripted server: it greets with a fresh session id unless
// refuse says otherwise, answers "<name>" with "<name>Response", and runs
// after for anything else.
type peer struct {
	session string
	refuse  func(r *http.Request) bool
	after   func(ctx context.Context, ws *websocket.Conn)
}

func (p *peer) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		ctx := r.Context()

		if p.refuse != nil && p.refuse(r) {
			ws.Close(websocket.StatusPolicyViolation, "session expired")
			return
		}
		hs := fmt.Sprintf(`connectionResponse {"ghostId":%q}`, p.session)
		if err := ws.Write(ctx, websocket.MessageText, []byte(hs)); err != nil {
			return
		}
		if p.after != nil {
			p.after(ctx, ws)
			return
		}
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			name, body := protocol.Decode(data)
			id, _ := protocol.RequestID(body)
			reply := fmt.Sprintf(`%s {"reqId":%d,"ok":true}`, protocol.ReplyName(name), id)
			ws.Write(ctx, websocket.MessageText, []byte(reply))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newJournal(t *testing.T) *store.SQLiteJournal {
	t.Helper()
	j, err := store.NewSQLiteJournal(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSendSavesSessionAndJournals(t *testing.T) {
	t.Setenv("TRAKIT_SESSION", "")
	sid := uuid.New().String()
	srv := (&peer{session: sid}).start(t)
	dir := t.TempDir()
	j := newJournal(t)

	target := &Target{Address: srv.URL, DataDir: dir, Logger: quiet, Journal: j}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	if err := Send(ctx, target, "ping", "{}", &out, false); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(out.String(), `"ok":true`) {
		t.Fatalf("output = %q", out.String())
	}

	sess, ok := auth.LoadSession(dir)
	if !ok || sess.ID.String() != sid {
		t.Fatalf("saved session = %v, %v; want %s", sess.ID, ok, sid)
	}

	recs, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]string{}
	for _, r := range recs {
		names[r.Direction+" "+r.Name] = r.Session
	}
	for _, want := range []string{"in connectionResponse", "out ping", "in pingResponse"} {
		if _, ok := names[want]; !ok {
			t.Errorf("journal missing %q: %v", want, names)
		}
	}
	if names["out ping"] != sid {
		t.Errorf("journaled session = %q", names["out ping"])
	}
}

func TestDialFallsBackWhenSessionRefused(t *testing.T) {
	t.Setenv("TRAKIT_SESSION", "")
	fresh := uuid.New().String()
	srv := (&peer{
		session: fresh,
		refuse:  func(r *http.Request) bool { return r.URL.Query().Get(auth.SessionParam) != "" },
	}).start(t)

	dir := t.TempDir()
	if err := auth.SaveSession(dir, uuid.New().String()); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	target := &Target{Address: srv.URL, DataDir: dir, Logger: quiet}
	if err := Connect(context.Background(), target, &out); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !strings.Contains(out.String(), fresh) {
		t.Fatalf("output = %q", out.String())
	}
	if sess, ok := auth.LoadSession(dir); !ok || sess.ID.String() != fresh {
		t.Fatalf("saved session = %v, %v", sess.ID, ok)
	}
}

func TestListenUntilServerCloses(t *testing.T) {
	t.Setenv("TRAKIT_SESSION", "")
	srv := (&peer{after: func(ctx context.Context, ws *websocket.Conn) {
		ws.Write(ctx, websocket.MessageText, []byte(`assetMoved {"id":4}`))
		ws.Write(ctx, websocket.MessageText, []byte(`heartbeat`))
		ws.Close(websocket.StatusNormalClosure, "done")
	}}).start(t)

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := Listen(ctx, &Target{Address: srv.URL, Logger: quiet}, &out, false); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	got := out.String()
	for _, want := range []string{`assetMoved {"id":4}`, "heartbeat\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestListenReportsAbnormalClose(t *testing.T) {
	t.Setenv("TRAKIT_SESSION", "")
	srv := (&peer{after: func(ctx context.Context, ws *websocket.Conn) {
		ws.Close(websocket.StatusInternalError, "crashed")
	}}).start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := Listen(ctx, &Target{Address: srv.URL, Logger: quiet}, io.Discard, false)
	var ce *socket.ClosedError
	if !errors.As(err, &ce) {
		t.Fatalf("Listen err = %v, want *socket.ClosedError", err)
	}
	if ce.Reason != protocol.ReasonInternalError || ce.Message != "crashed" {
		t.Fatalf("ClosedError = %+v", ce)
	}
}

func TestListenStopsOnCancel(t *testing.T) {
	t.Setenv("TRAKIT_SESSION", "")
	srv := (&peer{after: func(ctx context.Context, ws *websocket.Conn) {
		ws.Read(ctx)
	}}).start(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Listen(ctx, &Target{Address: srv.URL, Logger: quiet}, io.Discard, false) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Listen did not stop")
	}
}

func TestJournalFormats(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	j.Append(ctx, store.Record{Session: "s", Direction: "out", Name: "ping", Body: `{"reqId":1}`, At: time.Now()})
	j.Append(ctx, store.FromFrame("s", protocol.NewCloseFrame(protocol.ReasonNormal, protocol.Goodbye)))

	var text bytes.Buffer
	if err := Journal(ctx, j, 10, FormatText, &text); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text.String(), "ID") || !strings.Contains(text.String(), "ping") || !strings.Contains(text.String(), "(close)") {
		t.Errorf("text output:\n%s", text.String())
	}

	var js bytes.Buffer
	if err := Journal(ctx, j, 10, FormatJSON, &js); err != nil {
		t.Fatal(err)
	}
	var recs []store.Record
	if err := json.Unmarshal(js.Bytes(), &recs); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if len(recs) != 2 || recs[0].Name != "ping" || recs[1].Reason != "normal" {
		t.Errorf("json records = %+v", recs)
	}

	var ym bytes.Buffer
	if err := Journal(ctx, j, 1, FormatYAML, &ym); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ym.String(), "name: Goodbye!") || strings.Contains(ym.String(), "ping") {
		t.Errorf("yaml output:\n%s", ym.String())
	}

	if err := Journal(ctx, j, 1, "xml", io.Discard); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestSign(t *testing.T) {
	secret := "c2VjcmV0"
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	var out bytes.Buffer
	if err := Sign("mk", secret, "wss://socket.trakit.ca/", now, &out); err != nil {
		t.Fatal(err)
	}
	target, _ := url.Parse("wss://socket.trakit.ca/")
	want, _ := auth.Signature("mk", secret, now, "GET", target, 0)
	if !strings.Contains(out.String(), "signature:     "+want) {
		t.Errorf("output:\n%s\nwant signature %s", out.String(), want)
	}
	if err := Sign("", secret, "wss://x/", now, io.Discard); err == nil {
		t.Error("expected error without api key")
	}
}

func TestFormatBody(t *testing.T) {
	if got := formatBody(`{"a":1}`, true); got != "{\n  \"a\": 1\n}" {
		t.Errorf("pretty = %q", got)
	}
	if got := formatBody("not json", true); got != "not json" {
		t.Errorf("non-json = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short  body", 60); got != "short body" {
		t.Errorf("truncate = %q", got)
	}
	// The é straddles the cut point.
	long := strings.Repeat("a", 51) + "Montréal, Québec"
	got := truncate(long, 60)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate cut a rune: %q", got)
	}
	if len(got) > 60 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate = %q (%d bytes)", got, len(got))
	}
}
