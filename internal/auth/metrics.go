package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeMissing = "missing_token"
	outcomeInvalid = "invalid_token"
)

// Metrics holds Prometheus metrics for authentication.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics registers authentication metrics with reg; nil leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "avaguard",
				Subsystem: "auth",
				Name:      "requests_total",
				Help:      "Total number of authentication attempts by outcome",
			},
			[]string{"outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "avaguard",
				Subsystem: "auth",
				Name:      "request_duration_seconds",
				Help:      "Authentication duration in seconds, including the verifier call",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"outcome"},
		),
	}

	for _, outcome := range []string{outcomeSuccess, outcomeMissing, outcomeInvalid} {
		m.requestsTotal.WithLabelValues(outcome)
	}
	return m
}

func (m *Metrics) observe(outcome string, d time.Duration) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
