package rpc

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"unitbus/dbus"
)

// Method describes one remote operation: where it lives, the wire shape of
// its arguments and reply, and how to turn the reply into R.
type Method[R any] struct {
	Interface string
	Member    string
	In        string
	Out       string
	// Timeout overrides the link default when positive.
	Timeout time.Duration
	Decode  func(*Reply) (R, error)
}

// Endpoint is everything Invoke needs besides the method.
type Endpoint struct {
	Object  RemoteObject
	Links   Acquirer
	Metrics *Metrics
	Log     logrus.FieldLogger
}

// Invoke is the single dispatch routine behind every operation: check the
// arguments, lease a link, call, check the reply shape, decode, release.
func Invoke[R any](ctx context.Context, ep Endpoint, m Method[R], args ...any) (R, error) {
	var zero R
	wire, err := Marshal(args...)
	if err != nil {
		return zero, &dbus.MarshallingError{Interface: m.Interface, Member: m.Member, Expected: m.In, Err: err}
	}
	if sig, err := dbus.SignatureOf(wire...); err != nil || sig != m.In {
		return zero, &dbus.MarshallingError{
			Interface: m.Interface,
			Member:    m.Member,
			Expected:  m.In,
			Actual:    sig,
			Err:       err,
		}
	}

	start := time.Now()
	lease, err := ep.Links.Acquire(ctx)
	if err != nil {
		ep.Metrics.observe(m.Member, err, time.Since(start))
		return zero, err
	}
	defer lease.Release()

	res, err := call(ctx, NewProxy(ep.Object, lease), m, wire)
	ep.Metrics.observe(m.Member, err, time.Since(start))
	if err != nil && ep.Log != nil {
		ep.Log.WithError(err).WithFields(logrus.Fields{
			"member": m.Member,
			"link":   lease.ID(),
		}).Debug("call failed")
	}
	return res, err
}

func call[R any](ctx context.Context, p *Proxy, m Method[R], wire []any) (R, error) {
	var zero R
	reply, err := p.call(ctx, m.Interface, m.Member, m.Timeout, wire...)
	if err != nil {
		return zero, err
	}
	if err := reply.Expect(m.Out); err != nil {
		return zero, err
	}
	if m.Decode == nil {
		return zero, nil
	}
	return m.Decode(reply)
}

// None discards the reply body.
func None(*Reply) (struct{}, error) { return struct{}{}, nil }

// Single stores a one-value reply into T.
func Single[T any](r *Reply) (T, error) {
	var v T
	err := r.Store(&v)
	return v, err
}

// Property unwraps a variant reply, as returned by Properties.Get, into T.
func Property[T any](r *Reply) (T, error) {
	var v T
	if len(r.Body) != 1 {
		return v, r.Expect("v")
	}
	variant, ok := r.Body[0].(dbus.Variant)
	if !ok {
		return v, r.Expect("v")
	}
	if err := variant.Store(&v); err != nil {
		return v, &dbus.MarshallingError{
			Interface: r.Interface,
			Member:    r.Member,
			Actual:    variant.Signature().String(),
			Err:       err,
		}
	}
	return v, nil
}
