package connector

import (
	"time"

	"github.com/goliatone/go-cache-connector/cache"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	opGet        = "get"
	opSet        = "set"
	opDelete     = "delete"
	opInvalidate = "invalidate"

	resultHit     = "hit"
	resultMiss    = "miss"
	resultOK      = "ok"
	resultError   = "error"
	resultCorrupt = "corrupt"
)

// metrics holds the connector collectors.
type metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_operations_total",
				Help: "Total number of cache operations by provider, operation and result",
			},
			[]string{"provider", "operation", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cache_operation_duration_seconds",
				Help:    "Cache operation duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"provider", "operation"},
		),
	}

	for _, c := range []prometheus.Collector{m.operations, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) observe(kind cache.ProviderKind, op, result string, started time.Time) {
	m.operations.WithLabelValues(kind.String(), op, result).Inc()
	m.duration.WithLabelValues(kind.String(), op).Observe(time.Since(started).Seconds())
}
