// Package link implements a single multiplexed bus connection. A writer
// goroutine owns the transport's send side and a reader goroutine correlates
// replies to pending calls by serial, so concurrent callers sharing one link
// never wait on each other's replies.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"unitbus/dbus"
	"unitbus/logging"
)

// Request is one method call issued on a link.
type Request struct {
	Destination string
	Path        dbus.ObjectPath
	Interface   string
	Member      string
	Args        []any
	// Timeout overrides the link's call timeout when positive.
	Timeout time.Duration
	// NoReply sends the call with NO_REPLY_EXPECTED and returns once written.
	NoReply bool
}

type result struct {
	msg *dbus.Message
	err error
}

type pendingCall struct {
	msg       *dbus.Message
	iface     string
	member    string
	noReply   bool
	timeout   time.Duration
	deadline  time.Time
	serial    uint32
	abandoned atomic.Bool
	reply     chan result
}

func (pc *pendingCall) resolve(r result) {
	select {
	case pc.reply <- r:
	default:
	}
}

type Link struct {
	id          string
	conn        dbus.Conn
	log         logrus.FieldLogger
	callTimeout time.Duration
	sweepEvery  time.Duration

	state atomic.Int32

	mu      sync.Mutex
	serial  uint32
	pending map[uint32]*pendingCall
	subs    map[int]chan dbus.Signal
	nextSub int
	cause   error

	outbox   chan *pendingCall
	stop     chan struct{}
	dead     chan struct{}
	deadOnce sync.Once
	closing  atomic.Bool
	dropped  atomic.Uint64

	wg           sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
}

// New starts the dispatch goroutines for conn. The link takes ownership of
// conn and closes it on Shutdown.
func New(conn dbus.Conn, opts ...Option) *Link {
	l := &Link{
		id:          uuid.NewString(),
		conn:        conn,
		log:         logging.Discard(),
		callTimeout: DefaultCallTimeout,
		sweepEvery:  defaultSweepInterval,
		serial:      dbus.HelloSerial,
		pending:     make(map[uint32]*pendingCall),
		subs:        make(map[int]chan dbus.Signal),
		outbox:      make(chan *pendingCall, outboxSize),
		stop:        make(chan struct{}),
		dead:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.WithFields(logrus.Fields{"link": l.id, "bus_name": conn.UniqueName()})
	l.state.Store(int32(Idle))

	l.wg.Add(2)
	go l.writeLoop()
	go l.readLoop()
	l.log.Debug("link started")
	return l
}

// Dial connects to addr and wraps the connection in a link.
func Dial(ctx context.Context, addr string, opts ...Option) (*Link, error) {
	conn, err := dbus.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

func (l *Link) ID() string { return l.id }

func (l *Link) UniqueName() string { return l.conn.UniqueName() }

func (l *Link) State() State { return State(l.state.Load()) }

// TryLease moves the link from Idle to InUse. It fails for any other state.
func (l *Link) TryLease() bool {
	return l.state.CompareAndSwap(int32(Idle), int32(InUse))
}

// MarkIdle returns a leased link to Idle. It fails when the link broke.
func (l *Link) MarkIdle() bool {
	return l.state.CompareAndSwap(int32(InUse), int32(Idle))
}

func (l *Link) Broken() bool { return l.State() == Broken }

// DroppedSignals counts signals discarded because a subscriber was full.
func (l *Link) DroppedSignals() uint64 { return l.dropped.Load() }

// Call sends req and waits for the correlated reply. An error reply from the
// peer is returned as *dbus.RemoteError.
func (l *Link) Call(ctx context.Context, req Request) (*dbus.Message, error) {
	select {
	case <-l.dead:
		return nil, l.failure(req.Interface, req.Member)
	default:
	}

	if _, err := dbus.SignatureOf(req.Args...); err != nil {
		return nil, &dbus.MarshallingError{Interface: req.Interface, Member: req.Member, Err: err}
	}
	msg := dbus.NewMethodCall(req.Destination, req.Path, req.Interface, req.Member, req.Args...)
	if req.NoReply {
		msg.Flags |= godbus.FlagNoReplyExpected
	}
	if err := msg.IsValid(); err != nil {
		return nil, &dbus.MarshallingError{Interface: req.Interface, Member: req.Member, Err: err}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = l.callTimeout
	}
	start := time.Now()
	pc := &pendingCall{
		msg:      msg,
		iface:    req.Interface,
		member:   req.Member,
		noReply:  req.NoReply,
		timeout:  timeout,
		deadline: start.Add(timeout),
		reply:    make(chan result, 1),
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.outbox <- pc:
	case <-l.dead:
		return nil, l.failure(req.Interface, req.Member)
	case <-ctx.Done():
		return nil, contextError(ctx, req, time.Since(start))
	case <-timer.C:
		return nil, &dbus.TimeoutError{Interface: req.Interface, Member: req.Member, Timeout: timeout}
	}

	select {
	case r := <-pc.reply:
		return r.msg, r.err
	case <-timer.C:
		pc.abandoned.Store(true)
		return nil, &dbus.TimeoutError{Interface: req.Interface, Member: req.Member, Timeout: timeout}
	case <-ctx.Done():
		pc.abandoned.Store(true)
		return nil, contextError(ctx, req, time.Since(start))
	case <-l.dead:
		select {
		case r := <-pc.reply:
			return r.msg, r.err
		default:
		}
		return nil, l.failure(req.Interface, req.Member)
	}
}

// Ping issues org.freedesktop.DBus.Peer.Ping against the bus daemon.
func (l *Link) Ping(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	_, err := l.Call(ctx, Request{
		Destination: dbus.BusName,
		Path:        dbus.BusPath,
		Interface:   dbus.PeerInterface,
		Member:      "Ping",
		Timeout:     timeout,
	})
	return err
}

// Subscribe registers a signal receiver. Signals are dropped, not queued,
// when the channel is full. The channel is closed by cancel or when the link
// goes down.
func (l *Link) Subscribe(buffer int) (<-chan dbus.Signal, func()) {
	ch := make(chan dbus.Signal, buffer)
	l.mu.Lock()
	if l.cause != nil {
		l.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			if c, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(c)
			}
			l.mu.Unlock()
		})
	}
}

// Shutdown stops the dispatch goroutines and closes the connection.
// Outstanding calls resolve with *dbus.CancelledError. Safe to call twice.
func (l *Link) Shutdown() error {
	l.shutdownOnce.Do(func() {
		l.closing.Store(true)
		close(l.stop)
		l.shutdownErr = l.conn.Close()
		l.wg.Wait()
		l.fail(dbus.ErrLinkClosed)
		l.log.Debug("link shut down")
	})
	return l.shutdownErr
}

func (l *Link) writeLoop() {
	defer l.wg.Done()
	sweep := time.NewTicker(l.sweepEvery)
	defer sweep.Stop()
	for {
		select {
		case <-l.stop:
			return
		case pc := <-l.outbox:
			l.send(pc)
		case now := <-sweep.C:
			l.expire(now)
		}
	}
}

func (l *Link) send(pc *pendingCall) {
	if pc.abandoned.Load() {
		return
	}
	l.mu.Lock()
	if l.cause != nil {
		err := l.errorFor(pc.iface, pc.member)
		l.mu.Unlock()
		pc.resolve(result{err: err})
		return
	}
	l.serial++
	if l.serial <= dbus.HelloSerial {
		l.serial = dbus.HelloSerial + 1
	}
	pc.serial = l.serial
	if !pc.noReply {
		l.pending[pc.serial] = pc
	}
	l.mu.Unlock()

	if err := l.conn.Send(pc.serial, pc.msg); err != nil {
		l.log.WithError(err).WithField("member", pc.member).Warn("send failed, marking link broken")
		l.fail(err)
		if pc.noReply {
			pc.resolve(result{err: l.failure(pc.iface, pc.member)})
		}
		return
	}
	if pc.noReply {
		pc.resolve(result{})
	}
}

func (l *Link) expire(now time.Time) {
	var expired []*pendingCall
	l.mu.Lock()
	for serial, pc := range l.pending {
		if now.After(pc.deadline) {
			delete(l.pending, serial)
			expired = append(expired, pc)
		}
	}
	l.mu.Unlock()
	for _, pc := range expired {
		pc.resolve(result{err: &dbus.TimeoutError{
			Interface: pc.iface,
			Member:    pc.member,
			Timeout:   pc.timeout,
		}})
	}
}

func (l *Link) readLoop() {
	defer l.wg.Done()
	for {
		msg, err := l.conn.Receive()
		if err != nil {
			if l.closing.Load() {
				return
			}
			l.log.WithError(err).Warn("receive failed, marking link broken")
			l.fail(err)
			return
		}
		switch msg.Type {
		case godbus.TypeMethodReply, godbus.TypeError:
			l.deliver(msg)
		case godbus.TypeSignal:
			l.broadcast(dbus.SignalFrom(msg))
		}
	}
}

func (l *Link) deliver(msg *dbus.Message) {
	serial, ok := dbus.ReplySerial(msg)
	if !ok {
		return
	}
	l.mu.Lock()
	pc := l.pending[serial]
	delete(l.pending, serial)
	l.mu.Unlock()
	if pc == nil {
		l.log.WithField("serial", serial).Debug("discarding reply with no pending call")
		return
	}
	if msg.Type == godbus.TypeError {
		pc.resolve(result{err: dbus.RemoteErrorFrom(msg)})
		return
	}
	pc.resolve(result{msg: msg})
}

func (l *Link) broadcast(sig dbus.Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- sig:
		default:
			l.dropped.Add(1)
		}
	}
}

// fail records the first failure, marks the link broken, resolves every
// pending call and closes subscribers.
func (l *Link) fail(cause error) {
	l.mu.Lock()
	if l.cause != nil {
		l.mu.Unlock()
		return
	}
	l.cause = cause
	pending := l.pending
	l.pending = make(map[uint32]*pendingCall)
	subs := l.subs
	l.subs = make(map[int]chan dbus.Signal)
	l.mu.Unlock()

	l.state.Store(int32(Broken))
	l.deadOnce.Do(func() { close(l.dead) })
	if !errors.Is(cause, dbus.ErrLinkClosed) {
		_ = l.conn.Close()
	}
	for _, pc := range pending {
		pc.resolve(result{err: l.failure(pc.iface, pc.member)})
	}
	for _, ch := range subs {
		close(ch)
	}
}

func (l *Link) failure(iface, member string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errorFor(iface, member)
}

func (l *Link) errorFor(iface, member string) error {
	if errors.Is(l.cause, dbus.ErrLinkClosed) {
		return &dbus.CancelledError{Interface: iface, Member: member, Err: dbus.ErrLinkClosed}
	}
	return &dbus.TransportError{
		Op:  iface + "." + member,
		Err: fmt.Errorf("%w: %w", dbus.ErrLinkBroken, l.cause),
	}
}

func contextError(ctx context.Context, req Request, elapsed time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &dbus.TimeoutError{Interface: req.Interface, Member: req.Member, Timeout: elapsed}
	}
	return &dbus.CancelledError{Interface: req.Interface, Member: req.Member, Err: ctx.Err()}
}
