package dbus

import (
	"fmt"

	godbus "github.com/godbus/dbus/v5"
)

// SignatureOf returns the wire signature of vs, or an error when one of them
// has no D-Bus representation.
func SignatureOf(vs ...any) (sig string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dbus: %v", r)
		}
	}()
	for i, v := range vs {
		if v == nil {
			return "", fmt.Errorf("dbus: argument %d is nil", i)
		}
	}
	return godbus.SignatureOf(vs...).String(), nil
}

// Signature returns the body signature of msg ("" for an empty body).
func Signature(msg *Message) string {
	v, ok := msg.Headers[godbus.FieldSignature]
	if !ok {
		return ""
	}
	s, _ := v.Value().(godbus.Signature)
	return s.String()
}

// ReplySerial returns the serial of the call msg answers.
func ReplySerial(msg *Message) (uint32, bool) {
	v, ok := msg.Headers[godbus.FieldReplySerial]
	if !ok {
		return 0, false
	}
	s, ok := v.Value().(uint32)
	return s, ok
}

// HeaderString returns a string-typed header field or "".
func HeaderString(msg *Message, field godbus.HeaderField) string {
	v, ok := msg.Headers[field]
	if !ok {
		return ""
	}
	switch s := v.Value().(type) {
	case string:
		return s
	case ObjectPath:
		return string(s)
	}
	return ""
}

// ErrorName returns the error name of an ERROR message.
func ErrorName(msg *Message) string {
	return HeaderString(msg, godbus.FieldErrorName)
}

// RemoteErrorFrom converts an ERROR message into a RemoteError, keeping the
// name and text verbatim.
func RemoteErrorFrom(msg *Message) *RemoteError {
	e := &RemoteError{Name: ErrorName(msg)}
	if len(msg.Body) > 0 {
		if s, ok := msg.Body[0].(string); ok {
			e.Message = s
		}
	}
	return e
}

// SignalFrom extracts the signal fields of a SIGNAL message.
func SignalFrom(msg *Message) Signal {
	return Signal{
		Sender:    HeaderString(msg, godbus.FieldSender),
		Path:      ObjectPath(HeaderString(msg, godbus.FieldPath)),
		Interface: HeaderString(msg, godbus.FieldInterface),
		Member:    HeaderString(msg, godbus.FieldMember),
		Body:      msg.Body,
	}
}

// Store converts decoded values into dst, matching struct fields by position.
func Store(src []any, dst ...any) error {
	return godbus.Store(src, dst...)
}

// MakeVariant wraps v for a variant-typed argument.
func MakeVariant(v any) Variant {
	return godbus.MakeVariant(v)
}
