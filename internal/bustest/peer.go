// Package bustest provides an in-memory bus peer for tests. Every message
// passes through the real wire encoder and decoder, so shapes that the
// transport would reject are rejected here too.
package bustest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	godbus "github.com/godbus/dbus/v5"

	"unitbus/dbus"
)

// Response is what a handler answers to one call.
type Response struct {
	Body    []any
	ErrName string
	ErrText string
	Delay   time.Duration
	// Drop swallows the call: no reply is ever sent.
	Drop bool
}

// Reply answers with body.
func Reply(body ...any) Response { return Response{Body: body} }

// Error answers with an error reply.
func Error(name, text string) Response { return Response{ErrName: name, ErrText: text} }

type Handler func(call *dbus.Message) Response

// Peer is the remote side of any number of connections.
type Peer struct {
	mu       sync.Mutex
	methods  map[string]Handler
	conns    map[*Conn]struct{}
	dialErr  error
	dialed   int
	peak     int
	inFlight map[string]int
	maxIn    map[string]int
	calls    map[string]int
}

// NewPeer returns a peer that answers Peer.Ping and the match-rule calls.
func NewPeer() *Peer {
	p := &Peer{
		methods:  make(map[string]Handler),
		conns:    make(map[*Conn]struct{}),
		inFlight: make(map[string]int),
		maxIn:    make(map[string]int),
		calls:    make(map[string]int),
	}
	ok := func(*dbus.Message) Response { return Reply() }
	p.Handle(dbus.PeerInterface, "Ping", ok)
	p.Handle(dbus.BusInterface, "AddMatch", ok)
	p.Handle(dbus.BusInterface, "RemoveMatch", ok)
	return p
}

// Handle installs h for iface.member on every connection.
func (p *Peer) Handle(iface, member string, h Handler) {
	p.mu.Lock()
	p.methods[iface+"."+member] = h
	p.mu.Unlock()
}

// FailDial makes the next dials fail with err; nil restores dialing.
func (p *Peer) FailDial(err error) {
	p.mu.Lock()
	p.dialErr = err
	p.mu.Unlock()
}

// Dial has the signature of a link dialer.
func (p *Peer) Dial(ctx context.Context, addr string) (dbus.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dialErr != nil {
		return nil, &dbus.ConnectionError{Address: addr, Err: p.dialErr}
	}
	p.dialed++
	c := &Conn{
		peer:    p,
		name:    fmt.Sprintf(":1.%d", p.dialed),
		methods: make(map[string]Handler),
		in:      make(chan *dbus.Message, 64),
		closed:  make(chan struct{}),
	}
	p.conns[c] = struct{}{}
	if len(p.conns) > p.peak {
		p.peak = len(p.conns)
	}
	return c, nil
}

// Emit broadcasts a signal to every open connection.
func (p *Peer) Emit(path dbus.ObjectPath, iface, member string, body ...any) {
	for _, c := range p.Conns() {
		c.deliver(dbus.NewSignal(path, iface, member, body...))
	}
}

// Conns returns the open connections.
func (p *Peer) Conns() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Conn, 0, len(p.conns))
	for c := range p.conns {
		out = append(out, c)
	}
	return out
}

// Live is the number of open connections.
func (p *Peer) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Peak is the highest number of simultaneously open connections.
func (p *Peer) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Dialed counts successful dials.
func (p *Peer) Dialed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dialed
}

// Calls counts calls received for member on any interface.
func (p *Peer) Calls(member string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[member]
}

// MaxInFlight is the highest number of concurrently unanswered calls to member.
func (p *Peer) MaxInFlight(member string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxIn[member]
}

func (p *Peer) handler(c *Conn, key string) Handler {
	c.mu.Lock()
	h, ok := c.methods[key]
	c.mu.Unlock()
	if ok {
		return h
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.methods[key]
}

func (p *Peer) begin(member string) {
	p.mu.Lock()
	p.calls[member]++
	p.inFlight[member]++
	if p.inFlight[member] > p.maxIn[member] {
		p.maxIn[member] = p.inFlight[member]
	}
	p.mu.Unlock()
}

func (p *Peer) end(member string) {
	p.mu.Lock()
	p.inFlight[member]--
	p.mu.Unlock()
}

func (p *Peer) drop(c *Conn) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
}

// Conn is one in-memory connection. It implements dbus.Conn.
type Conn struct {
	peer *Peer
	name string

	mu      sync.Mutex
	methods map[string]Handler
	sent    []*dbus.Message
	serial  uint32

	in        chan *dbus.Message
	closed    chan struct{}
	closeOnce sync.Once
}

// Handle overrides iface.member for this connection only.
func (c *Conn) Handle(iface, member string, h Handler) {
	c.mu.Lock()
	c.methods[iface+"."+member] = h
	c.mu.Unlock()
}

// Sent returns a copy of every message sent on this connection.
func (c *Conn) Sent() []*dbus.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*dbus.Message(nil), c.sent...)
}

// Break drops the connection from the peer side.
func (c *Conn) Break() {
	c.Close()
}

func (c *Conn) Send(serial uint32, msg *dbus.Message) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	call, err := roundTrip(serial, msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, call)
	c.mu.Unlock()
	if call.Type != godbus.TypeMethodCall {
		return nil
	}

	iface := dbus.HeaderString(call, godbus.FieldInterface)
	member := dbus.HeaderString(call, godbus.FieldMember)
	h := c.peer.handler(c, iface+"."+member)
	noReply := call.Flags&godbus.FlagNoReplyExpected != 0
	c.peer.begin(member)
	go func() {
		defer c.peer.end(member)
		resp := Response{
			ErrName: "org.freedesktop.DBus.Error.UnknownMethod",
			ErrText: fmt.Sprintf("Unknown method %s on interface %s", member, iface),
		}
		if h != nil {
			resp = h(call)
		}
		if resp.Drop || noReply {
			return
		}
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-c.closed:
				return
			}
		}
		if resp.ErrName != "" {
			c.deliver(dbus.NewError(serial, resp.ErrName, resp.ErrText))
			return
		}
		c.deliver(dbus.NewReply(serial, resp.Body...))
	}()
	return nil
}

func (c *Conn) deliver(msg *dbus.Message) {
	c.mu.Lock()
	c.serial++
	serial := c.serial
	c.mu.Unlock()
	if msg.Headers != nil {
		msg.Headers[godbus.FieldSender] = godbus.MakeVariant(dbus.BusName)
	}
	decoded, err := roundTrip(serial, msg)
	if err != nil {
		panic(fmt.Sprintf("bustest: peer produced an invalid message: %v", err))
	}
	select {
	case c.in <- decoded:
	case <-c.closed:
	}
}

func (c *Conn) Receive() (*dbus.Message, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *Conn) UniqueName() string { return c.name }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.peer.drop(c)
	})
	return nil
}

// Closed reports whether the connection was closed by either side.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func roundTrip(serial uint32, msg *dbus.Message) (*dbus.Message, error) {
	b, err := dbus.Encode(serial, msg)
	if err != nil {
		return nil, err
	}
	out, err := dbus.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, errors.Join(errors.New("bustest: decode"), err)
	}
	return out, nil
}
