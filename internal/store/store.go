// Package store records the frames exchanged over a connection. The default
// implementation uses SQLite (pure Go, no CGO).
package store

import (
	"context"
	"time"

	"github.com/codewiresh/trakit/internal/protocol"
)

// Record is one journaled frame.
type Record struct {
	ID        int64     `json:"id" yaml:"id"`
	Session   string    `json:"session,omitempty" yaml:"session,omitempty"`
	Direction string    `json:"direction" yaml:"direction"`
	Name      string    `json:"name" yaml:"name"`
	Body      string    `json:"body,omitempty" yaml:"body,omitempty"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	At        time.Time `json:"at" yaml:"at"`
}

// FromFrame builds the record for f. Close frames carry their reason and
// keep the close message as the name.
func FromFrame(session string, f *protocol.Frame) Record {
	r := Record{
		Session:   session,
		Direction: f.Direction.String(),
		Name:      f.Name,
		Body:      f.Body,
		At:        f.Created,
	}
	if f.Close != nil {
		r.Reason = f.Close.Reason.String()
		r.Name = f.Close.Message
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	return r
}

// Journal stores frames. All methods are safe for concurrent use.
type Journal interface {
	// Append stores r and returns its assigned id.
	Append(ctx context.Context, r Record) (int64, error)
	// Recent returns up to n records, oldest first, ending with the newest.
	Recent(ctx context.Context, n int) ([]Record, error)
	// Prune deletes records older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
	// Close releases resources (e.g. closes the database).
	Close() error
}
