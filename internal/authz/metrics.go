package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultAdmin    = "admin"
	resultDenied   = "denied"
	resultMigrated = "migrated"
	resultError    = "error"
)

// Metrics contains authorization metrics.
type Metrics struct {
	decisionsTotal     *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	migrationsTotal    *prometheus.CounterVec
}

// NewMetrics registers authorization metrics with reg; nil leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		decisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "avaguard",
				Subsystem: "authz",
				Name:      "decisions_total",
				Help:      "Total number of administrator checks by result",
			},
			[]string{"result"},
		),
		evaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "avaguard",
			Subsystem: "authz",
			Name:      "evaluation_duration_seconds",
			Help:      "Administrator check duration in seconds, including store calls",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		migrationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "avaguard",
				Subsystem: "authz",
				Name:      "legacy_migrations_total",
				Help:      "Total number of legacy email-keyed admin migrations by status",
			},
			[]string{"status"},
		),
	}
	for _, r := range []string{resultAdmin, resultDenied, resultMigrated, resultError} {
		m.decisionsTotal.WithLabelValues(r)
	}
	return m
}

func (m *Metrics) recordDecision(result string, start time.Time) {
	m.decisionsTotal.WithLabelValues(result).Inc()
	m.evaluationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) recordMigration(ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.migrationsTotal.WithLabelValues(status).Inc()
}
