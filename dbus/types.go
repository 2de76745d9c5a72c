// Package dbus implements the system bus transport used by the link layer:
// socket dial, SASL EXTERNAL auth, Hello, and one-write-per-message framing
// on top of the godbus wire codec and type system.
package dbus

import (
	godbus "github.com/godbus/dbus/v5"
)

// Message is a single D-Bus message.
type Message = godbus.Message

// ObjectPath is a D-Bus object path.
type ObjectPath = godbus.ObjectPath

// Variant holds a single D-Bus variant (type + value).
type Variant = godbus.Variant

// Signal is a received D-Bus signal.
type Signal struct {
	Sender    string
	Path      ObjectPath
	Interface string
	Member    string
	Body      []any
}

// Well-known names of the bus daemon itself.
const (
	BusName      = "org.freedesktop.DBus"
	BusPath      = ObjectPath("/org/freedesktop/DBus")
	BusInterface = "org.freedesktop.DBus"

	PeerInterface       = "org.freedesktop.DBus.Peer"
	PropertiesInterface = "org.freedesktop.DBus.Properties"
)
