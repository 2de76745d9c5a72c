package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"unitbus/dbus"
	"unitbus/link"
)

// Lease is exclusive use of one link until Release. It can issue calls but
// cannot shut the link down.
type Lease struct {
	pool     *Pool
	link     *link.Link
	once     sync.Once
	released atomic.Bool
}

func (l *Lease) ID() string { return l.link.ID() }

// Call issues req on the leased link.
func (l *Lease) Call(ctx context.Context, req link.Request) (*dbus.Message, error) {
	if l.released.Load() {
		return nil, ErrReleased
	}
	return l.link.Call(ctx, req)
}

// Subscribe receives signals arriving on the leased link. Cancel before
// releasing.
func (l *Lease) Subscribe(buffer int) (<-chan dbus.Signal, func()) {
	return l.link.Subscribe(buffer)
}

// Release hands the link back to the pool. Calling it again is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.released.Store(true)
		l.pool.release(l.link)
	})
}
