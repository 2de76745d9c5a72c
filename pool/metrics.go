package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are registered on the pool's registerer; with none they are
// still updated but not exported.
type metrics struct {
	links       *prometheus.GaugeVec
	created     prometheus.Counter
	evicted     *prometheus.CounterVec
	acquireWait prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		links: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "unitbus",
			Subsystem: "pool",
			Name:      "links",
			Help:      "Open bus links by lease state",
		}, []string{"state"}),
		created: f.NewCounter(prometheus.CounterOpts{
			Namespace: "unitbus",
			Subsystem: "pool",
			Name:      "links_created_total",
			Help:      "Bus links created",
		}),
		evicted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unitbus",
			Subsystem: "pool",
			Name:      "links_evicted_total",
			Help:      "Bus links shut down by the pool",
		}, []string{"reason"}),
		acquireWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "unitbus",
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for pool capacity",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}
