package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"unitbus/dbus"
	"unitbus/rpc"
)

// Event is a decoded manager signal.
type Event interface {
	event()
}

// JobNew is emitted when a job is enqueued.
type JobNew struct {
	ID   uint32
	Job  dbus.ObjectPath
	Unit string
}

// JobRemoved is emitted when a job finishes. Result is e.g. "done",
// "canceled", "timeout", "failed", "dependency" or "skipped".
type JobRemoved struct {
	ID     uint32
	Job    dbus.ObjectPath
	Unit   string
	Result string
}

type UnitNew struct {
	Unit string
	Path dbus.ObjectPath
}

type UnitRemoved struct {
	Unit string
	Path dbus.ObjectPath
}

type UnitFilesChanged struct{}

// StartupFinished reports how long each boot phase took.
type StartupFinished struct {
	Firmware  time.Duration
	Loader    time.Duration
	Kernel    time.Duration
	InitRD    time.Duration
	Userspace time.Duration
	Total     time.Duration
}

// Reloading brackets a daemon reload: Active is true before, false after.
type Reloading struct {
	Active bool
}

// PropertiesChanged carries property updates of any systemd object.
type PropertiesChanged struct {
	Path        dbus.ObjectPath
	Interface   string
	Changed     map[string]dbus.Variant
	Invalidated []string
}

func (JobNew) event()            {}
func (JobRemoved) event()        {}
func (UnitNew) event()           {}
func (UnitRemoved) event()       {}
func (UnitFilesChanged) event()  {}
func (StartupFinished) event()   {}
func (Reloading) event()         {}
func (PropertiesChanged) event() {}

type signalSpec struct {
	signature string
	decode    func(sig dbus.Signal) (Event, error)
}

var signals = map[string]signalSpec{
	ManagerInterface + ".JobNew": {"uos", func(s dbus.Signal) (Event, error) {
		var e JobNew
		return e, dbus.Store(s.Body, &e.ID, &e.Job, &e.Unit)
	}},
	ManagerInterface + ".JobRemoved": {"uoss", func(s dbus.Signal) (Event, error) {
		var e JobRemoved
		return e, dbus.Store(s.Body, &e.ID, &e.Job, &e.Unit, &e.Result)
	}},
	ManagerInterface + ".UnitNew": {"so", func(s dbus.Signal) (Event, error) {
		var e UnitNew
		return e, dbus.Store(s.Body, &e.Unit, &e.Path)
	}},
	ManagerInterface + ".UnitRemoved": {"so", func(s dbus.Signal) (Event, error) {
		var e UnitRemoved
		return e, dbus.Store(s.Body, &e.Unit, &e.Path)
	}},
	ManagerInterface + ".UnitFilesChanged": {"", func(dbus.Signal) (Event, error) {
		return UnitFilesChanged{}, nil
	}},
	ManagerInterface + ".StartupFinished": {"tttttt", decodeStartup},
	ManagerInterface + ".Reloading": {"b", func(s dbus.Signal) (Event, error) {
		var e Reloading
		return e, dbus.Store(s.Body, &e.Active)
	}},
	dbus.PropertiesInterface + ".PropertiesChanged": {"sa{sv}as", func(s dbus.Signal) (Event, error) {
		e := PropertiesChanged{Path: s.Path}
		return e, dbus.Store(s.Body, &e.Interface, &e.Changed, &e.Invalidated)
	}},
}

func decodeStartup(s dbus.Signal) (Event, error) {
	var usec [6]uint64
	if err := dbus.Store(s.Body, &usec[0], &usec[1], &usec[2], &usec[3], &usec[4], &usec[5]); err != nil {
		return nil, err
	}
	d := func(v uint64) time.Duration { return time.Duration(v) * time.Microsecond }
	return StartupFinished{
		Firmware:  d(usec[0]),
		Loader:    d(usec[1]),
		Kernel:    d(usec[2]),
		InitRD:    d(usec[3]),
		Userspace: d(usec[4]),
		Total:     d(usec[5]),
	}, nil
}

// DecodeSignal turns a raw signal into an Event. Signals this package does
// not know return (nil, nil); a known signal with the wrong body shape is a
// MarshallingError.
func DecodeSignal(sig dbus.Signal) (Event, error) {
	spec, ok := signals[sig.Interface+"."+sig.Member]
	if !ok {
		return nil, nil
	}
	actual, err := dbus.SignatureOf(sig.Body...)
	if err != nil || actual != spec.signature {
		return nil, &dbus.MarshallingError{
			Interface: sig.Interface,
			Member:    sig.Member,
			Expected:  spec.signature,
			Actual:    actual,
			Err:       err,
		}
	}
	ev, err := spec.decode(sig)
	if err != nil {
		return nil, &dbus.MarshallingError{
			Interface: sig.Interface,
			Member:    sig.Member,
			Expected:  spec.signature,
			Actual:    actual,
			Err:       err,
		}
	}
	return ev, nil
}

var watchRules = []string{
	fmt.Sprintf("type='signal',sender='%s',interface='%s'", ServiceName, ManagerInterface),
	fmt.Sprintf("type='signal',sender='%s',interface='%s',member='PropertiesChanged'", ServiceName, dbus.PropertiesInterface),
}

const watchCleanupTimeout = time.Second

// Watch subscribes to manager signals and calls fn for each decoded event
// until ctx ends. It holds one pooled link for its whole lifetime. Malformed
// signals are logged and skipped.
func (c *Client) Watch(ctx context.Context, fn func(Event)) error {
	lease, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	ch, cancel := lease.Subscribe(64)
	defer cancel()

	bus := rpc.NewProxy(busObject, lease)
	mgr := rpc.NewProxy(managerObject, lease)
	var (
		added      []string
		subscribed bool
	)
	defer func() {
		cctx, done := context.WithTimeout(context.Background(), watchCleanupTimeout)
		defer done()
		if subscribed {
			if _, err := mgr.Call(cctx, ManagerInterface, "Unsubscribe"); err != nil {
				c.log.WithError(err).Debug("unsubscribe failed")
			}
		}
		for _, rule := range added {
			if _, err := bus.Call(cctx, dbus.BusInterface, "RemoveMatch", rule); err != nil {
				c.log.WithError(err).WithField("rule", rule).Debug("remove match failed")
			}
		}
	}()

	for _, rule := range watchRules {
		if _, err := bus.Call(ctx, dbus.BusInterface, "AddMatch", rule); err != nil {
			return err
		}
		added = append(added, rule)
	}
	if _, err := mgr.Call(ctx, ManagerInterface, "Subscribe"); err != nil {
		return err
	}
	subscribed = true
	c.log.WithField("link", lease.ID()).Debug("watching manager signals")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-ch:
			if !ok {
				return &dbus.TransportError{Op: "watch", Err: dbus.ErrLinkBroken}
			}
			ev, err := DecodeSignal(sig)
			if err != nil {
				c.log.WithError(err).WithFields(logrus.Fields{
					"interface": sig.Interface,
					"member":    sig.Member,
				}).Warn("dropping malformed signal")
				continue
			}
			if ev != nil {
				fn(ev)
			}
		}
	}
}
