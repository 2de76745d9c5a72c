package rpc

import (
	"unitbus/dbus"
)

// Reply is a decoded method return.
type Reply struct {
	Interface string
	Member    string
	Body      []any
	signature string
}

func newReply(iface, member string, msg *dbus.Message) *Reply {
	r := &Reply{Interface: iface, Member: member}
	if msg != nil {
		r.Body = msg.Body
		r.signature = dbus.Signature(msg)
	}
	return r
}

// Signature is the wire signature of the reply body.
func (r *Reply) Signature() string { return r.signature }

// Expect fails with a MarshallingError unless the body has signature sig.
func (r *Reply) Expect(sig string) error {
	if r.signature != sig {
		return &dbus.MarshallingError{
			Interface: r.Interface,
			Member:    r.Member,
			Expected:  sig,
			Actual:    r.signature,
		}
	}
	return nil
}

// Store converts the body into dst, one pointer per top-level value.
func (r *Reply) Store(dst ...any) error {
	if err := dbus.Store(r.Body, dst...); err != nil {
		return &dbus.MarshallingError{
			Interface: r.Interface,
			Member:    r.Member,
			Actual:    r.signature,
			Err:       err,
		}
	}
	return nil
}
