package gate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const outcomeProceed = "proceed"

// Metrics holds Prometheus metrics for gate decisions.
type Metrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
}

// NewMetrics registers gate metrics with reg; nil leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "avaguard",
				Subsystem: "gate",
				Name:      "decisions_total",
				Help:      "Access gate decisions by scope and outcome",
			},
			[]string{"scope", "outcome"},
		),
		decisionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "avaguard",
				Subsystem: "gate",
				Name:      "decision_duration_seconds",
				Help:      "Time spent in the access gate before the handler runs or the request is denied",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"scope"},
		),
	}
}

func (m *Metrics) record(scope, outcome string, start time.Time) {
	m.decisionsTotal.WithLabelValues(scope, outcome).Inc()
	m.decisionDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
}
