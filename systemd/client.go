// Package systemd is a pooled client for the systemd Manager interface on
// the system bus. Every operation is one entry in a descriptor table run by
// the generic rpc dispatcher.
package systemd

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"unitbus/config"
	"unitbus/dbus"
	"unitbus/link"
	"unitbus/logging"
	"unitbus/pool"
	"unitbus/rpc"
)

const (
	ServiceName      = "org.freedesktop.systemd1"
	ManagerPath      = dbus.ObjectPath("/org/freedesktop/systemd1")
	ManagerInterface = "org.freedesktop.systemd1.Manager"
)

var (
	managerObject = rpc.RemoteObject{Service: ServiceName, Path: ManagerPath}
	busObject     = rpc.RemoteObject{Service: dbus.BusName, Path: dbus.BusPath}
)

// Dialer opens one bus connection.
type Dialer func(ctx context.Context, addr string) (dbus.Conn, error)

type options struct {
	dialer Dialer
	log    logrus.FieldLogger
	reg    prometheus.Registerer
}

type Option func(*options)

// WithDialer replaces the unix socket dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// WithRegisterer exports pool and call metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

type Client struct {
	pool *pool.Pool
	ep   rpc.Endpoint
	log  logrus.FieldLogger
}

// New builds a client. No connection is opened until the first call.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{dialer: dbus.Dial, log: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	addr := cfg.Bus.Address
	if addr == "" {
		addr = dbus.SystemBusAddress()
	}

	callTimeout := cfg.Call.Timeout.Duration
	factory := func(ctx context.Context) (*link.Link, error) {
		conn, err := o.dialer(ctx, addr)
		if err != nil {
			return nil, err
		}
		return link.New(conn, link.WithLogger(o.log), link.WithCallTimeout(callTimeout)), nil
	}
	p := pool.New(factory, pool.Config{
		Capacity:           cfg.Pool.Capacity,
		HealthCheckTimeout: cfg.Pool.HealthCheckTimeout.Duration,
		DialRate:           rate.Limit(cfg.Pool.DialRate),
		DialBurst:          cfg.Pool.DialBurst,
	}, pool.WithLogger(o.log), pool.WithRegisterer(o.reg))

	o.log.WithFields(logrus.Fields{
		"address":  addr,
		"capacity": cfg.Pool.Capacity,
		"timeout":  callTimeout,
	}).Debug("systemd client configured")

	return &Client{
		pool: p,
		ep: rpc.Endpoint{
			Object:  managerObject,
			Links:   p,
			Metrics: rpc.NewMetrics(o.reg),
			Log:     o.log,
		},
		log: o.log,
	}, nil
}

// Close shuts down every pooled link.
func (c *Client) Close() error {
	return c.pool.Close()
}

func (c *Client) Stats() pool.Stats {
	return c.pool.Stats()
}
