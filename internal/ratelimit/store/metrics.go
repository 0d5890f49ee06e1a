package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for counter backends.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	connectionRetries prometheus.Counter
	connectionErrors  prometheus.Counter
	breakerState      *prometheus.GaugeVec
}

// NewMetrics registers counter backend metrics with reg. A nil reg keeps
// the collectors unregistered, which is what unit tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "avaguard",
				Subsystem: "counter",
				Name:      "operations_total",
				Help:      "Total number of counter backend operations",
			},
			[]string{"backend", "status"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "avaguard",
				Subsystem: "counter",
				Name:      "operation_duration_seconds",
				Help:      "Duration of counter backend operations in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"backend"},
		),
		connectionRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "avaguard",
			Subsystem: "counter",
			Name:      "connection_retries_total",
			Help:      "Total number of counter backend connection retry attempts",
		}),
		connectionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "avaguard",
			Subsystem: "counter",
			Name:      "connection_errors_total",
			Help:      "Total number of counter backend connection errors",
		}),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "avaguard",
				Subsystem: "counter",
				Name:      "circuit_breaker_state",
				Help:      "Counter circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
	}
}
