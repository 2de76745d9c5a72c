package dbus

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	godbus "github.com/godbus/dbus/v5"
)

// Fixed header layout: byte order, type, flags, version, body length, serial.
const (
	fixedHeaderLen = 16
	serialOffset   = 8
)

// Encode frames msg with the given serial. The returned buffer holds exactly
// one complete message.
func Encode(serial uint32, msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := msg.EncodeTo(&buf, binary.LittleEndian); err != nil {
		return nil, err
	}
	b := buf.Bytes()
	if len(b) < fixedHeaderLen {
		return nil, fmt.Errorf("dbus: short message encoding (%d bytes)", len(b))
	}
	// godbus keeps the serial unexported; patch it into the fixed header.
	binary.LittleEndian.PutUint32(b[serialOffset:serialOffset+4], serial)
	return b, nil
}

// Decode reads one message from rd.
func Decode(rd io.Reader) (*Message, error) {
	return godbus.DecodeMessage(rd)
}

// NewMethodCall builds a METHOD_CALL message. dest and iface may be empty.
func NewMethodCall(dest string, path ObjectPath, iface, member string, args ...any) *Message {
	msg := &Message{
		Type: godbus.TypeMethodCall,
		Headers: map[godbus.HeaderField]Variant{
			godbus.FieldPath:   godbus.MakeVariant(path),
			godbus.FieldMember: godbus.MakeVariant(member),
		},
		Body: args,
	}
	if dest != "" {
		msg.Headers[godbus.FieldDestination] = godbus.MakeVariant(dest)
	}
	if iface != "" {
		msg.Headers[godbus.FieldInterface] = godbus.MakeVariant(iface)
	}
	setSignature(msg)
	return msg
}

// NewReply builds a METHOD_RETURN for the call with the given serial.
func NewReply(replySerial uint32, body ...any) *Message {
	msg := &Message{
		Type: godbus.TypeMethodReply,
		Headers: map[godbus.HeaderField]Variant{
			godbus.FieldReplySerial: godbus.MakeVariant(replySerial),
		},
		Body: body,
	}
	setSignature(msg)
	return msg
}

// NewError builds an ERROR reply carrying name and a human readable text.
func NewError(replySerial uint32, name, text string) *Message {
	msg := &Message{
		Type: godbus.TypeError,
		Headers: map[godbus.HeaderField]Variant{
			godbus.FieldReplySerial: godbus.MakeVariant(replySerial),
			godbus.FieldErrorName:   godbus.MakeVariant(name),
		},
		Body: []any{text},
	}
	setSignature(msg)
	return msg
}

// NewSignal builds a SIGNAL message.
func NewSignal(path ObjectPath, iface, member string, body ...any) *Message {
	msg := &Message{
		Type: godbus.TypeSignal,
		Headers: map[godbus.HeaderField]Variant{
			godbus.FieldPath:      godbus.MakeVariant(path),
			godbus.FieldInterface: godbus.MakeVariant(iface),
			godbus.FieldMember:    godbus.MakeVariant(member),
		},
		Body: body,
	}
	setSignature(msg)
	return msg
}

func setSignature(msg *Message) {
	if len(msg.Body) == 0 {
		return
	}
	msg.Headers[godbus.FieldSignature] = godbus.MakeVariant(godbus.SignatureOf(msg.Body...))
}
