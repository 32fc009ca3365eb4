package socket

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// registry holds observers of one event. Every registration gets its own
// cancel func; calling it more than once is harmless.
type registry[F any] struct {
	next atomic.Uint64
	subs *xsync.MapOf[uint64, F]
}

func newRegistry[F any]() *registry[F] {
	return &registry[F]{subs: xsync.NewMapOf[uint64, F]()}
}

func (r *registry[F]) add(fn F) (cancel func()) {
	id := r.next.Add(1)
	r.subs.Store(id, fn)
	return func() { r.subs.Delete(id) }
}

// each calls visit for every current observer. Observers added or removed
// while each runs may or may not be visited.
func (r *registry[F]) each(visit func(F)) {
	r.subs.Range(func(_ uint64, fn F) bool {
		visit(fn)
		return true
	})
}

func (r *registry[F]) len() int { return r.subs.Size() }
