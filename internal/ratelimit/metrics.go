package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for rate limit decisions.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers rate limit metrics with reg; nil leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "avaguard",
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Rate limit decisions by scope, identity kind and outcome",
			},
			[]string{"scope", "identity", "outcome"},
		),
	}
}

func (m *Metrics) record(scope string, kind IdentityKind, d Decision) {
	outcome := "allowed"
	if !d.Allowed {
		outcome = d.Code()
	}
	m.decisions.WithLabelValues(scope, kind.String(), outcome).Inc()
}
