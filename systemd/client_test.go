package systemd

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unitbus/config"
	"unitbus/dbus"
	"unitbus/internal/bustest"
)

const jobPath = dbus.ObjectPath("/org/freedesktop/systemd1/job/42")

func newTestClient(t *testing.T, peer *bustest.Peer, capacity int, opts ...Option) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.Bus.Address = "unix:path=/run/test/system_bus_socket"
	cfg.Pool.Capacity = capacity
	c, err := New(cfg, append([]Option{WithDialer(peer.Dial)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pool.Capacity = 0
	_, err := New(cfg)
	assert.ErrorContains(t, err, "pool.capacity")
}

func TestStartUnitSendsModeToken(t *testing.T) {
	peer := bustest.NewPeer()
	var (
		mu   sync.Mutex
		args []any
	)
	peer.Handle(ManagerInterface, "StartUnit", func(call *dbus.Message) bustest.Response {
		mu.Lock()
		args = call.Body
		mu.Unlock()
		return bustest.Reply(jobPath)
	})
	c := newTestClient(t, peer, 2)

	job, err := c.StartUnit(context.Background(), "a.service", IgnoreDependencies)
	require.NoError(t, err)
	assert.Equal(t, jobPath, job)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{"a.service", "ignore-dependencies"}, args)
}

func TestStartUnitBoundedByCapacity(t *testing.T) {
	peer := bustest.NewPeer()
	peer.Handle(ManagerInterface, "StartUnit", func(*dbus.Message) bustest.Response {
		return bustest.Response{Body: []any{jobPath}, Delay: 50 * time.Millisecond}
	})
	c := newTestClient(t, peer, 2)

	var wg sync.WaitGroup
	results := make([]dbus.ObjectPath, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.StartUnit(context.Background(), "a.service", Replace)
		}()
	}
	wg.Wait()

	for i := 0; i < 3; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, jobPath, results[i])
	}
	assert.Equal(t, 2, peer.MaxInFlight("StartUnit"))
	assert.LessOrEqual(t, peer.Peak(), 2)
	assert.Equal(t, 3, peer.Calls("StartUnit"))
}

func TestRemoteErrorKeepsLinkPooled(t *testing.T) {
	peer := bustest.NewPeer()
	peer.Handle(ManagerInterface, "StartUnit", func(*dbus.Message) bustest.Response {
		return bustest.Error("org.freedesktop.systemd1.NoSuchUnit", "Unit missing.service not found.")
	})
	c := newTestClient(t, peer, 2)

	_, err := c.StartUnit(context.Background(), "missing.service", Fail)
	var re *dbus.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "org.freedesktop.systemd1.NoSuchUnit", re.Name)
	assert.Equal(t, "Unit missing.service not found.", re.Message)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Open)
	assert.Equal(t, 1, stats.Idle)
	assert.Zero(t, stats.Evicted)
}

func TestInvalidModeFailsLocally(t *testing.T) {
	peer := bustest.NewPeer()
	c := newTestClient(t, peer, 2)

	_, err := c.StartUnit(context.Background(), "a.service", Mode(42))
	var me *dbus.MarshallingError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "StartUnit", me.Member)
	assert.Zero(t, peer.Dialed())

	err = c.KillUnit(context.Background(), "a.service", Who(9), 15)
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "KillUnit", me.Member)
}

func TestUnitStatusWireRoundTrip(t *testing.T) {
	want := []UnitStatus{
		{
			Name:        "cron.service",
			Description: "Regular background program processing daemon",
			LoadState:   "loaded",
			ActiveState: "active",
			SubState:    "running",
			Path:        "/org/freedesktop/systemd1/unit/cron_2eservice",
			JobPath:     "/",
		},
		{
			Name:        "backup.service",
			LoadState:   "loaded",
			ActiveState: "inactive",
			SubState:    "dead",
			Following:   "backup-alias.service",
			Path:        "/org/freedesktop/systemd1/unit/backup_2eservice",
			JobID:       17,
			JobType:     "start",
			JobPath:     "/org/freedesktop/systemd1/job/17",
		},
	}

	msg := dbus.NewReply(3, convert(want, UnitStatus.toDTO))
	assert.Equal(t, "a(ssssssouso)", dbus.Signature(msg))
	b, err := dbus.Encode(9, msg)
	require.NoError(t, err)
	decoded, err := dbus.Decode(bytes.NewReader(b))
	require.NoError(t, err)

	var dtos []unitStatusDTO
	require.NoError(t, dbus.Store(decoded.Body, &dtos))
	assert.Equal(t, want, convert(dtos, unitStatusDTO.toDomain))
}

func TestJobWireRoundTrip(t *testing.T) {
	want := []Job{{
		ID:       42,
		Unit:     "a.service",
		Type:     "start",
		State:    "waiting",
		Path:     jobPath,
		UnitPath: "/org/freedesktop/systemd1/unit/a_2eservice",
	}}
	msg := dbus.NewReply(1, convert(want, Job.toDTO))
	assert.Equal(t, "a(usssoo)", dbus.Signature(msg))
	b, err := dbus.Encode(2, msg)
	require.NoError(t, err)
	decoded, err := dbus.Decode(bytes.NewReader(b))
	require.NoError(t, err)

	var dtos []jobDTO
	require.NoError(t, dbus.Store(decoded.Body, &dtos))
	assert.Equal(t, want, convert(dtos, jobDTO.toDomain))
}

func TestListUnitsAndJobs(t *testing.T) {
	peer := bustest.NewPeer()
	units := []UnitStatus{{
		Name:        "sshd.service",
		Description: "OpenSSH Daemon",
		LoadState:   "loaded",
		ActiveState: "active",
		SubState:    "running",
		Path:        "/org/freedesktop/systemd1/unit/sshd_2eservice",
		JobPath:     "/",
	}}
	jobs := []Job{{ID: 5, Unit: "sshd.service", Type: "restart", State: "running", Path: "/org/freedesktop/systemd1/job/5", UnitPath: units[0].Path}}
	peer.Handle(ManagerInterface, "ListUnits", func(*dbus.Message) bustest.Response {
		return bustest.Reply(convert(units, UnitStatus.toDTO))
	})
	peer.Handle(ManagerInterface, "ListUnitsFiltered", func(call *dbus.Message) bustest.Response {
		if states, _ := call.Body[0].([]string); len(states) != 1 || states[0] != "failed" {
			return bustest.Error("org.freedesktop.DBus.Error.InvalidArgs", "unexpected filter")
		}
		return bustest.Reply([]unitStatusDTO{})
	})
	peer.Handle(ManagerInterface, "ListJobs", func(*dbus.Message) bustest.Response {
		return bustest.Reply(convert(jobs, Job.toDTO))
	})
	c := newTestClient(t, peer, 1)
	ctx := context.Background()

	gotUnits, err := c.ListUnits(ctx)
	require.NoError(t, err)
	assert.Equal(t, units, gotUnits)

	failed, err := c.ListUnitsFiltered(ctx, []string{"failed"})
	require.NoError(t, err)
	assert.Empty(t, failed)

	gotJobs, err := c.ListJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs, gotJobs)
}

func TestUnitFileOperations(t *testing.T) {
	peer := bustest.NewPeer()
	changes := []unitFileChangeDTO{{
		Type:        "symlink",
		Filename:    "/etc/systemd/system/multi-user.target.wants/a.service",
		Destination: "/usr/lib/systemd/system/a.service",
	}}
	peer.Handle(ManagerInterface, "EnableUnitFiles", func(call *dbus.Message) bustest.Response {
		return bustest.Reply(true, changes)
	})
	peer.Handle(ManagerInterface, "DisableUnitFiles", func(*dbus.Message) bustest.Response {
		return bustest.Reply([]unitFileChangeDTO{})
	})
	peer.Handle(ManagerInterface, "GetUnitFileState", func(*dbus.Message) bustest.Response {
		return bustest.Reply("enabled")
	})
	peer.Handle(ManagerInterface, "ListUnitFiles", func(*dbus.Message) bustest.Response {
		return bustest.Reply([]unitFileDTO{{Path: "/usr/lib/systemd/system/a.service", State: "enabled"}})
	})
	c := newTestClient(t, peer, 1)
	ctx := context.Background()

	res, err := c.EnableUnitFiles(ctx, []string{"a.service"}, false, true)
	require.NoError(t, err)
	assert.True(t, res.CarriesInstallInfo)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "symlink", res.Changes[0].Type)
	assert.Equal(t, "/usr/lib/systemd/system/a.service", res.Changes[0].Destination)

	removed, err := c.DisableUnitFiles(ctx, nil, false)
	require.NoError(t, err)
	assert.Empty(t, removed)

	state, err := c.GetUnitFileState(ctx, "a.service")
	require.NoError(t, err)
	assert.Equal(t, "enabled", state)

	files, err := c.ListUnitFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []UnitFile{{Path: "/usr/lib/systemd/system/a.service", State: "enabled"}}, files)
}

func TestStartTransientUnitArguments(t *testing.T) {
	peer := bustest.NewPeer()
	var sig string
	done := make(chan struct{}, 1)
	peer.Handle(ManagerInterface, "StartTransientUnit", func(call *dbus.Message) bustest.Response {
		sig = dbus.Signature(call)
		done <- struct{}{}
		return bustest.Reply(jobPath)
	})
	c := newTestClient(t, peer, 1)

	job, err := c.StartTransientUnit(context.Background(), "run-1.service", Fail,
		[]Property{NewProperty("Description", "one-shot"), NewProperty("ExecStart", []execCommand{{Path: "/bin/true", Argv: []string{"/bin/true"}}})})
	require.NoError(t, err)
	assert.Equal(t, jobPath, job)
	<-done
	assert.Equal(t, "ssa(sv)a(sa(sv))", sig)
}

// execCommand is the (sasb) shape of an ExecStart entry.
type execCommand struct {
	Path          string
	Argv          []string
	IgnoreFailure bool
}

func TestReplyShapeMismatch(t *testing.T) {
	peer := bustest.NewPeer()
	peer.Handle(ManagerInterface, "GetUnit", func(*dbus.Message) bustest.Response {
		return bustest.Reply(uint32(7))
	})
	c := newTestClient(t, peer, 1)

	_, err := c.GetUnit(context.Background(), "a.service")
	var me *dbus.MarshallingError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "o", me.Expected)
	assert.Equal(t, "u", me.Actual)
}

func TestClientMetrics(t *testing.T) {
	peer := bustest.NewPeer()
	peer.Handle(ManagerInterface, "Reload", func(*dbus.Message) bustest.Response { return bustest.Reply() })
	reg := prometheus.NewPedanticRegistry()
	c := newTestClient(t, peer, 1, WithRegisterer(reg))

	require.NoError(t, c.Reload(context.Background()))
	n, err := testutil.GatherAndCount(reg, "unitbus_rpc_call_duration_seconds", "unitbus_pool_links_created_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSetUnitPropertiesArguments(t *testing.T) {
	peer := bustest.NewPeer()
	calls := make(chan *dbus.Message, 2)
	peer.Handle(ManagerInterface, "SetUnitProperties", func(call *dbus.Message) bustest.Response {
		calls <- call
		return bustest.Reply()
	})
	c := newTestClient(t, peer, 1)
	ctx := context.Background()

	require.NoError(t, c.SetUnitProperties(ctx, "a.service", true, []Property{
		NewProperty("CPUWeight", uint64(200)),
		NewProperty("Description", "tuned"),
	}))
	call := <-calls
	assert.Equal(t, "sba(sv)", dbus.Signature(call))

	var (
		name    string
		runtime bool
		props   []Property
	)
	require.NoError(t, dbus.Store(call.Body, &name, &runtime, &props))
	assert.Equal(t, "a.service", name)
	assert.True(t, runtime)
	require.Len(t, props, 2)
	assert.Equal(t, "CPUWeight", props[0].Name)
	assert.Equal(t, uint64(200), props[0].Value.Value())
	assert.Equal(t, "tuned", props[1].Value.Value())

	require.NoError(t, c.SetUnitProperties(ctx, "a.service", false, nil))
	call = <-calls
	assert.Equal(t, "sba(sv)", dbus.Signature(call))
}
