package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for middleware operations.
type Metrics struct {
	panicsRecovered prometheus.Counter
}

// NewMetrics registers middleware metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		panicsRecovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "avaguard",
			Subsystem: "middleware",
			Name:      "panics_recovered_total",
			Help:      "Total number of panics recovered in HTTP handlers",
		}),
	}
}
