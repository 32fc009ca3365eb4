package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codewiresh/trakit/internal/protocol"
)

// pending is a command waiting for its reply.
type pending struct {
	command string
	reply   string
	started time.Time
	done    chan result
}

type result struct {
	frame *protocol.Frame
	err   error
}

// Command sends name with body stamped with a fresh reqId and waits for the
// frame named name+"Response" carrying the same reqId. body must be a JSON
// object or empty. Commands still waiting when the connection starts
// closing fail with ErrCommandCanceled.
func (c *Conn) Command(ctx context.Context, name, body string) (*protocol.Frame, error) {
	if err := protocol.ValidateName(name); err != nil {
		return nil, err
	}
	if st := c.Status(); st != StatusOpen {
		return nil, &StatusError{Op: "command", Status: st}
	}

	id := c.nextID.Add(1)
	stamped, err := protocol.StampRequestID(body, id)
	if err != nil {
		return nil, err
	}
	f, err := protocol.NewFrame(name, stamped)
	if err != nil {
		return nil, err
	}

	p := &pending{
		command: name,
		reply:   protocol.ReplyName(name),
		started: time.Now(),
		done:    make(chan result, 1),
	}
	c.pending.Store(id, p)
	if err := c.enqueue("command", f); err != nil {
		c.pending.Delete(id)
		return nil, err
	}

	select {
	case r := <-p.done:
		recordCommand(p, r.err)
		return r.frame, r.err
	case <-ctx.Done():
		c.pending.Delete(id)
		recordCommand(p, ctx.Err())
		return nil, ctx.Err()
	}
}

// Invoke runs command with params marshaled as its body and decodes the
// reply body into a T.
func Invoke[T any](ctx context.Context, c *Conn, command string, params any) (*T, error) {
	body := "{}"
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding %s params: %w", command, err)
		}
		body = string(data)
	}

	reply, err := c.Command(ctx, command, body)
	if err != nil {
		return nil, err
	}

	var out T
	if err := json.Unmarshal([]byte(reply.Body), &out); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", reply.Name, err)
	}
	return &out, nil
}

// Pending reports how many commands are waiting for a reply.
func (c *Conn) Pending() int { return c.pending.Size() }

// correlate resolves the pending command f answers. Frames whose reqId is
// unknown or whose name does not match the command are left alone.
func (c *Conn) correlate(f *protocol.Frame) bool {
	id, ok := protocol.RequestID(f.Body)
	if !ok {
		return false
	}
	p, ok := c.pending.Load(id)
	if !ok || p.reply != f.Name {
		return false
	}
	if _, loaded := c.pending.LoadAndDelete(id); !loaded {
		return false
	}
	p.done <- result{frame: f}
	return true
}

// cancelPending fails every waiting command with ErrCommandCanceled.
func (c *Conn) cancelPending() {
	c.pending.Range(func(id uint64, _ *pending) bool {
		if p, loaded := c.pending.LoadAndDelete(id); loaded {
			p.done <- result{err: ErrCommandCanceled}
		}
		return true
	})
}
