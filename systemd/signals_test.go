package systemd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unitbus/dbus"
	"unitbus/internal/bustest"
)

func TestDecodeSignal(t *testing.T) {
	job := dbus.ObjectPath("/org/freedesktop/systemd1/job/7")
	unit := dbus.ObjectPath("/org/freedesktop/systemd1/unit/a_2eservice")
	tests := []struct {
		name string
		sig  dbus.Signal
		want Event
	}{
		{
			name: "job new",
			sig:  dbus.Signal{Interface: ManagerInterface, Member: "JobNew", Body: []any{uint32(7), job, "a.service"}},
			want: JobNew{ID: 7, Job: job, Unit: "a.service"},
		},
		{
			name: "job removed",
			sig:  dbus.Signal{Interface: ManagerInterface, Member: "JobRemoved", Body: []any{uint32(7), job, "a.service", "done"}},
			want: JobRemoved{ID: 7, Job: job, Unit: "a.service", Result: "done"},
		},
		{
			name: "unit new",
			sig:  dbus.Signal{Interface: ManagerInterface, Member: "UnitNew", Body: []any{"a.service", unit}},
			want: UnitNew{Unit: "a.service", Path: unit},
		},
		{
			name: "unit removed",
			sig:  dbus.Signal{Interface: ManagerInterface, Member: "UnitRemoved", Body: []any{"a.service", unit}},
			want: UnitRemoved{Unit: "a.service", Path: unit},
		},
		{
			name: "unit files changed",
			sig:  dbus.Signal{Interface: ManagerInterface, Member: "UnitFilesChanged"},
			want: UnitFilesChanged{},
		},
		{
			name: "reloading",
			sig:  dbus.Signal{Interface: ManagerInterface, Member: "Reloading", Body: []any{true}},
			want: Reloading{Active: true},
		},
		{
			name: "startup finished",
			sig: dbus.Signal{Interface: ManagerInterface, Member: "StartupFinished", Body: []any{
				uint64(0), uint64(0), uint64(1_500_000), uint64(2_000_000), uint64(3_250_000), uint64(6_750_000),
			}},
			want: StartupFinished{
				Kernel:    1500 * time.Millisecond,
				InitRD:    2 * time.Second,
				Userspace: 3250 * time.Millisecond,
				Total:     6750 * time.Millisecond,
			},
		},
		{
			name: "properties changed",
			sig: dbus.Signal{Path: unit, Interface: dbus.PropertiesInterface, Member: "PropertiesChanged", Body: []any{
				"org.freedesktop.systemd1.Unit",
				map[string]dbus.Variant{"ActiveState": dbus.MakeVariant("active")},
				[]string{"SubState"},
			}},
			want: PropertiesChanged{
				Path:        unit,
				Interface:   "org.freedesktop.systemd1.Unit",
				Changed:     map[string]dbus.Variant{"ActiveState": dbus.MakeVariant("active")},
				Invalidated: []string{"SubState"},
			},
		},
		{
			name: "unknown member",
			sig:  dbus.Signal{Interface: ManagerInterface, Member: "Bogus", Body: []any{"x"}},
		},
		{
			name: "unknown interface",
			sig:  dbus.Signal{Interface: "org.freedesktop.login1.Manager", Member: "SessionNew"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeSignal(tt.sig)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestDecodeSignalWrongShape(t *testing.T) {
	_, err := DecodeSignal(dbus.Signal{Interface: ManagerInterface, Member: "JobRemoved", Body: []any{"7", "a.service"}})
	var me *dbus.MarshallingError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "uoss", me.Expected)
	assert.Equal(t, "ss", me.Actual)
}

func watchPeer() (*bustest.Peer, chan struct{}) {
	peer := bustest.NewPeer()
	subscribed := make(chan struct{}, 1)
	peer.Handle(ManagerInterface, "Subscribe", func(*dbus.Message) bustest.Response {
		subscribed <- struct{}{}
		return bustest.Reply()
	})
	peer.Handle(ManagerInterface, "Unsubscribe", func(*dbus.Message) bustest.Response {
		return bustest.Reply()
	})
	return peer, subscribed
}

func TestWatchDeliversEvents(t *testing.T) {
	peer, subscribed := watchPeer()
	c := newTestClient(t, peer, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 8)
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, func(ev Event) { events <- ev }) }()

	select {
	case <-subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("manager subscription never arrived")
	}
	assert.Equal(t, 2, peer.Calls("AddMatch"))
	assert.Equal(t, 1, c.Stats().InUse, "watch holds one link")

	job := dbus.ObjectPath("/org/freedesktop/systemd1/job/9")
	peer.Emit(ManagerPath, ManagerInterface, "JobRemoved", "malformed")
	peer.Emit(ManagerPath, "org.example.Other", "Noise", uint32(1))
	peer.Emit(ManagerPath, ManagerInterface, "JobRemoved", uint32(9), job, "a.service", "failed")
	peer.Emit(ManagerPath, ManagerInterface, "UnitFilesChanged")

	for _, want := range []Event{
		JobRemoved{ID: 9, Job: job, Unit: "a.service", Result: "failed"},
		UnitFilesChanged{},
	} {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %T", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Equal(t, 1, peer.Calls("Unsubscribe"))
	assert.Equal(t, 2, peer.Calls("RemoveMatch"))
	assert.Equal(t, 1, c.Stats().Idle, "watch link returned to the pool")
}

func TestWatchEndsWhenLinkBreaks(t *testing.T) {
	peer, subscribed := watchPeer()
	c := newTestClient(t, peer, 1)

	done := make(chan error, 1)
	go func() { done <- c.Watch(context.Background(), func(Event) {}) }()
	<-subscribed

	conns := peer.Conns()
	require.Len(t, conns, 1)
	conns[0].Break()

	select {
	case err := <-done:
		var te *dbus.TransportError
		require.ErrorAs(t, err, &te)
		assert.True(t, errors.Is(err, dbus.ErrLinkBroken))
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not notice the broken link")
	}
	assert.Zero(t, c.Stats().Open)
}

func TestWatchSubscribeFailure(t *testing.T) {
	peer := bustest.NewPeer()
	peer.Handle(ManagerInterface, "Subscribe", func(*dbus.Message) bustest.Response {
		return bustest.Error("org.freedesktop.DBus.Error.AccessDenied", "denied")
	})
	c := newTestClient(t, peer, 1)

	err := c.Watch(context.Background(), func(Event) {})
	var re *dbus.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "org.freedesktop.DBus.Error.AccessDenied", re.Name)
	assert.Equal(t, 2, peer.Calls("RemoveMatch"))
	assert.Zero(t, peer.Calls("Unsubscribe"))
}
