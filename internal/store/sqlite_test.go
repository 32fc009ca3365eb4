package store

import (
	"context"
	"testing"
	"time"

	"github.com/codewiresh/trakit/internal/protocol"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLiteJournal(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendRecent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if recs, err := j.Recent(ctx, 10); err != nil || len(recs) != 0 {
		t.Fatalf("Recent on empty journal = %v, %v", recs, err)
	}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"a", "b", "c", "d"} {
		id, err := j.Append(ctx, Record{Session: "s", Direction: "out", Name: name, Body: "{}", At: base.Add(time.Duration(i) * time.Second)})
		if err != nil {
			t.Fatal(err)
		}
		if id != int64(i+1) {
			t.Fatalf("id = %d, want %d", id, i+1)
		}
	}

	recs, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Name != "c" || recs[1].Name != "d" {
		t.Fatalf("Recent(2) = %+v", recs)
	}
	if !recs[1].At.Equal(base.Add(3 * time.Second)) {
		t.Fatalf("At = %v", recs[1].At)
	}
	if recs[0].Session != "s" || recs[0].Body != "{}" {
		t.Fatalf("record = %+v", recs[0])
	}
}

func TestPrune(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	now := time.Now()

	j.Append(ctx, Record{Direction: "in", Name: "old", At: now.Add(-2 * time.Hour)})
	j.Append(ctx, Record{Direction: "in", Name: "new", At: now})

	n, err := j.Prune(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	recs, _ := j.Recent(ctx, 10)
	if len(recs) != 1 || recs[0].Name != "new" {
		t.Fatalf("after prune = %+v", recs)
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	dir := t.TempDir()
	j, err := NewSQLiteJournal(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	j.Append(context.Background(), Record{Direction: "out", Name: "kept", At: time.Now()})
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j, err = NewSQLiteJournal(dir, time.Hour)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	recs, err := j.Recent(context.Background(), 1)
	if err != nil || len(recs) != 1 || recs[0].Name != "kept" {
		t.Fatalf("Recent after reopen = %+v, %v", recs, err)
	}
}

func TestFromFrame(t *testing.T) {
	f, _ := protocol.NewFrame("ping", `{"reqId":1}`)
	r := FromFrame("sess", f)
	if r.Direction != "out" || r.Name != "ping" || r.Body != `{"reqId":1}` || r.Reason != "" {
		t.Fatalf("FromFrame = %+v", r)
	}

	c := FromFrame("sess", protocol.NewCloseFrame(protocol.ReasonProtocolError, "bad frame"))
	if c.Reason != "protocol error" || c.Name != "bad frame" {
		t.Fatalf("close record = %+v", c)
	}
}
