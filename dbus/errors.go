package dbus

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLinkBroken is wrapped by TransportError once a link lost its connection.
	ErrLinkBroken = errors.New("dbus: link broken")
	// ErrLinkClosed is wrapped by CancelledError when a link shuts down under a call.
	ErrLinkClosed = errors.New("dbus: link closed")
)

// ConnectionError reports a failure to open, authenticate or register a
// bus connection.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("dbus: connect %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError reports that the link broke while a call was in flight.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dbus: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError reports that no reply arrived within the call window.
type TimeoutError struct {
	Interface string
	Member    string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dbus: %s.%s: no reply within %s", e.Interface, e.Member, e.Timeout)
}

// CancelledError reports a call abandoned by its caller or resolved by a
// link shutdown.
type CancelledError struct {
	Interface string
	Member    string
	Err       error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("dbus: %s.%s cancelled: %v", e.Interface, e.Member, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// RemoteError is an error reply from the peer, propagated verbatim.
type RemoteError struct {
	Name    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// MarshallingError reports arguments or a reply that do not match the
// expected wire shape.
type MarshallingError struct {
	Interface string
	Member    string
	Expected  string
	Actual    string
	Err       error
}

func (e *MarshallingError) Error() string {
	msg := fmt.Sprintf("dbus: %s.%s: expected signature %q, got %q", e.Interface, e.Member, e.Expected, e.Actual)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MarshallingError) Unwrap() error { return e.Err }
