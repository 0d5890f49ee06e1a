package profile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	opFindByID    = "find_by_id"
	opFindByEmail = "find_by_email"
	opUpsert      = "upsert"
)

// Metrics holds Prometheus metrics for the profile store.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	connectRetries    prometheus.Counter
}

// NewMetrics registers profile store metrics with reg; nil leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "avaguard",
				Subsystem: "profile_store",
				Name:      "operations_total",
				Help:      "Total number of profile store operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "avaguard",
				Subsystem: "profile_store",
				Name:      "operation_duration_seconds",
				Help:      "Duration of profile store operations in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),
		connectRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "avaguard",
			Subsystem: "profile_store",
			Name:      "connect_retries_total",
			Help:      "Total number of database connection retry attempts",
		}),
	}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(op, status).Inc()
	m.operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
