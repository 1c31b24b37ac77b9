package bearerhttp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the gate.
type Metrics struct {
	RequestsTotal         *prometheus.CounterVec
	IntrospectionDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns gate metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_requests_total",
			Help: "Requests seen by the bearer gate by outcome.",
		}, []string{"outcome"}),
		IntrospectionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_introspection_duration_seconds",
			Help:    "Duration of token introspection calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.RequestsTotal, m.IntrospectionDuration)

	return m
}

func (m *Metrics) observeRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeIntrospection(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.IntrospectionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
