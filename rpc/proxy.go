// Package rpc is the call layer between the service facade and pooled links:
// remote object references, per-operation proxies, argument and reply
// marshalling, and the generic Invoke dispatcher.
package rpc

import (
	"context"
	"fmt"
	"time"

	"unitbus/dbus"
	"unitbus/link"
	"unitbus/pool"
)

// RemoteObject names an addressable endpoint on the bus.
type RemoteObject struct {
	Service string
	Path    dbus.ObjectPath
}

// Acquirer hands out link leases. *pool.Pool implements it.
type Acquirer interface {
	Acquire(ctx context.Context) (*pool.Lease, error)
}

// Token is an enumerated value sent as its canonical string.
type Token interface {
	Token() string
}

// Proxy binds a remote object to a leased link for one operation. It never
// outlives the lease it was built from.
type Proxy struct {
	obj   RemoteObject
	lease *pool.Lease
}

func NewProxy(obj RemoteObject, lease *pool.Lease) *Proxy {
	return &Proxy{obj: obj, lease: lease}
}

func (p *Proxy) Object() RemoteObject { return p.obj }

// Call invokes iface.member with the link's default timeout.
func (p *Proxy) Call(ctx context.Context, iface, member string, args ...any) (*Reply, error) {
	return p.call(ctx, iface, member, 0, args...)
}

func (p *Proxy) call(ctx context.Context, iface, member string, timeout time.Duration, args ...any) (*Reply, error) {
	wire, err := Marshal(args...)
	if err != nil {
		return nil, &dbus.MarshallingError{Interface: iface, Member: member, Err: err}
	}
	msg, err := p.lease.Call(ctx, link.Request{
		Destination: p.obj.Service,
		Path:        p.obj.Path,
		Interface:   iface,
		Member:      member,
		Args:        wire,
		Timeout:     timeout,
	})
	if err != nil {
		return nil, err
	}
	return newReply(iface, member, msg), nil
}

// Marshal replaces Token values with their wire strings. A token with no spelling is an error.
func Marshal(args ...any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case Token:
			s := v.Token()
			if s == "" {
				return nil, fmt.Errorf("argument %d: %T(%v) has no wire token", i, v, v)
			}
			out[i] = s
		default:
			out[i] = a
		}
	}
	return out, nil
}
