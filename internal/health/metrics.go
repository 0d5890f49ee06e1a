package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the probe metrics.
type Metrics struct {
	probes      *prometheus.CounterVec
	checkStatus *prometheus.GaugeVec
}

// NewMetrics registers probe metrics with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		probes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avaguard",
			Subsystem: "health",
			Name:      "probes_total",
			Help:      "Total number of probe requests",
		}, []string{"type"}),
		checkStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "avaguard",
			Subsystem: "health",
			Name:      "check_status",
			Help:      "Last readiness check result (1=healthy, 0=unhealthy)",
		}, []string{"check"}),
	}
	for _, probe := range []string{"liveness", "readiness"} {
		m.probes.WithLabelValues(probe)
	}
	return m
}

func (m *Metrics) observe(check string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	m.checkStatus.WithLabelValues(check).Set(v)
}
