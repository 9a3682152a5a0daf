package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP-level Prometheus metrics for the service.
type Metrics struct {
	RequestLatency *prometheus.HistogramVec
	RequestsTotal  *prometheus.CounterVec
}

// New creates and registers all HTTP metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics with reg. Tests pass a fresh registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "landrecords_http_request_duration_seconds",
			Help:    "Latency of HTTP requests by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "landrecords_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
	}
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	m.RequestLatency.WithLabelValues(method, route).Observe(seconds)
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
}
