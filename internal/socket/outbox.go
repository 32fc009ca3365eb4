package socket

import (
	"context"
	"errors"
	"sync"

	"github.com/codewiresh/trakit/internal/protocol"
)

var errOutboxClosed = errors.New("outbound queue closed")

// outbox is the unbounded multi-producer, single-consumer queue feeding the
// send loop. Frames leave in the order they were pushed, except a designated
// closing frame, which is handed out before anything still queued.
type outbox struct {
	mu     sync.Mutex
	items  []*protocol.Frame
	closer *protocol.Frame
	taken  bool
	closed bool
	// abandoned counts frames discarded when the closing frame jumped them.
	abandoned int
	signal chan struct{}
}

func newOutbox() *outbox {
	return &outbox{signal: make(chan struct{}, 1)}
}

func (o *outbox) notify() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

// push appends f to the queue.
func (o *outbox) push(f *protocol.Frame) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errOutboxClosed
	}
	o.items = append(o.items, f)
	o.mu.Unlock()
	o.notify()
	return nil
}

// designate makes f the priority closing frame. Only one frame can ever be
// designated.
func (o *outbox) designate(f *protocol.Frame) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errOutboxClosed
	}
	if o.closer != nil {
		o.mu.Unlock()
		return ErrAlreadyClosing
	}
	o.closer = f
	o.mu.Unlock()
	o.notify()
	return nil
}

// pop blocks until a frame is available. A designated closing frame is
// returned even after ctx is done or the queue was closed; handing it out
// closes the queue and abandons whatever was still queued. Otherwise
// pop returns ctx.Err() once ctx is done, and errOutboxClosed once the
// queue is closed and drained.
func (o *outbox) pop(ctx context.Context) (*protocol.Frame, error) {
	for {
		o.mu.Lock()
		if f := o.closer; f != nil && !o.taken {
			o.taken = true
			o.closed = true
			o.abandoned += len(o.items)
			o.items = nil
			o.mu.Unlock()
			return f, nil
		}
		if err := ctx.Err(); err != nil {
			o.mu.Unlock()
			return nil, err
		}
		if len(o.items) > 0 {
			f := o.items[0]
			o.items[0] = nil
			o.items = o.items[1:]
			o.mu.Unlock()
			return f, nil
		}
		if o.closed {
			o.mu.Unlock()
			return nil, errOutboxClosed
		}
		o.mu.Unlock()

		select {
		case <-o.signal:
		case <-ctx.Done():
		}
	}
}

// close refuses further additions. Frames already queued can still be
// popped.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.notify()
}

// drop discards everything still queued and reports how many frames were
// abandoned.
func (o *outbox) drop() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.abandoned + len(o.items)
	o.abandoned = 0
	o.items = nil
	return n
}
