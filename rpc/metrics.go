package rpc

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"unitbus/dbus"
	"unitbus/pool"
)

// Metrics records call latency by member and outcome. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	calls *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		calls: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "unitbus",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Method call latency, including the wait for a pooled link",
			Buckets:   prometheus.DefBuckets,
		}, []string{"member", "outcome"}),
	}
}

func (m *Metrics) observe(member string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(member, Outcome(err)).Observe(d.Seconds())
}

// Outcome classifies err into a short label.
func Outcome(err error) string {
	var (
		remote    *dbus.RemoteError
		timeout   *dbus.TimeoutError
		transport *dbus.TransportError
		cancelled *dbus.CancelledError
		marshal   *dbus.MarshallingError
		create    *pool.CreateError
		exhausted *pool.ExhaustedError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &remote):
		return "remote"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &transport):
		return "transport"
	case errors.As(err, &cancelled):
		return "cancelled"
	case errors.As(err, &marshal):
		return "marshalling"
	case errors.As(err, &create), errors.As(err, &exhausted), errors.Is(err, pool.ErrClosed):
		return "pool"
	}
	return "error"
}
