package systemd

import (
	"context"
	"time"

	"unitbus/dbus"
	"unitbus/rpc"
)

var mSetProperty = rpc.Method[struct{}]{
	Interface: dbus.PropertiesInterface,
	Member:    "Set",
	In:        "ssv",
	Decode:    rpc.None,
}

func getProperty[T any](ctx context.Context, c *Client, name string) (T, error) {
	m := rpc.Method[T]{
		Interface: dbus.PropertiesInterface,
		Member:    "Get",
		In:        "ss",
		Out:       "v",
		Decode:    rpc.Property[T],
	}
	return rpc.Invoke(ctx, c.ep, m, ManagerInterface, name)
}

func (c *Client) setProperty(ctx context.Context, name string, value any) error {
	_, err := rpc.Invoke(ctx, c.ep, mSetProperty, ManagerInterface, name, dbus.MakeVariant(value))
	return err
}

func (c *Client) Version(ctx context.Context) (string, error) {
	return getProperty[string](ctx, c, "Version")
}

// Features lists compile-time features, e.g. "+PAM +AUDIT -APPARMOR".
func (c *Client) Features(ctx context.Context) (string, error) {
	return getProperty[string](ctx, c, "Features")
}

func (c *Client) Virtualization(ctx context.Context) (string, error) {
	return getProperty[string](ctx, c, "Virtualization")
}

func (c *Client) Architecture(ctx context.Context) (string, error) {
	return getProperty[string](ctx, c, "Architecture")
}

func (c *Client) Tainted(ctx context.Context) (string, error) {
	return getProperty[string](ctx, c, "Tainted")
}

// SystemState is e.g. "running", "degraded" or "starting".
func (c *Client) SystemState(ctx context.Context) (string, error) {
	return getProperty[string](ctx, c, "SystemState")
}

func (c *Client) Environment(ctx context.Context) ([]string, error) {
	return getProperty[[]string](ctx, c, "Environment")
}

func (c *Client) LogLevel(ctx context.Context) (string, error) {
	return getProperty[string](ctx, c, "LogLevel")
}

// SetLogLevel changes the manager log level, e.g. "debug".
func (c *Client) SetLogLevel(ctx context.Context, level string) error {
	return c.setProperty(ctx, "LogLevel", level)
}

func (c *Client) LogTarget(ctx context.Context) (string, error) {
	return getProperty[string](ctx, c, "LogTarget")
}

func (c *Client) SetLogTarget(ctx context.Context, target string) error {
	return c.setProperty(ctx, "LogTarget", target)
}

func (c *Client) NNames(ctx context.Context) (uint32, error) {
	return getProperty[uint32](ctx, c, "NNames")
}

func (c *Client) NFailedUnits(ctx context.Context) (uint32, error) {
	return getProperty[uint32](ctx, c, "NFailedUnits")
}

func (c *Client) NJobs(ctx context.Context) (uint32, error) {
	return getProperty[uint32](ctx, c, "NJobs")
}

func (c *Client) NInstalledJobs(ctx context.Context) (uint32, error) {
	return getProperty[uint32](ctx, c, "NInstalledJobs")
}

func (c *Client) NFailedJobs(ctx context.Context) (uint32, error) {
	return getProperty[uint32](ctx, c, "NFailedJobs")
}

// Progress is the boot progress between 0 and 1.
func (c *Client) Progress(ctx context.Context) (float64, error) {
	return getProperty[float64](ctx, c, "Progress")
}

func (c *Client) FinishTimestamp(ctx context.Context) (time.Time, error) {
	return timestamp(ctx, c, "FinishTimestamp")
}

func (c *Client) UserspaceTimestamp(ctx context.Context) (time.Time, error) {
	return timestamp(ctx, c, "UserspaceTimestamp")
}

func (c *Client) KernelTimestamp(ctx context.Context) (time.Time, error) {
	return timestamp(ctx, c, "KernelTimestamp")
}

func timestamp(ctx context.Context, c *Client, name string) (time.Time, error) {
	usec, err := getProperty[uint64](ctx, c, name)
	if err != nil {
		return time.Time{}, err
	}
	return usecTime(usec), nil
}

// usecTime converts a CLOCK_REALTIME microsecond stamp; 0 means unset.
func usecTime(usec uint64) time.Time {
	if usec == 0 {
		return time.Time{}
	}
	return time.UnixMicro(int64(usec))
}
