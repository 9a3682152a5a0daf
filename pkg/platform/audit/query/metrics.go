package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit listings.
type Metrics struct {
	QueryDuration prometheus.Histogram
	QueryFailures *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the listing metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "landrecords_audit_query_duration_seconds",
			Help:    "Time spent answering one audit listing (count and page)",
			Buckets: prometheus.DefBuckets,
		}),
		QueryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "landrecords_audit_query_failures_total",
			Help: "Total number of audit listings that failed in storage",
		}, []string{"stage"}),
	}
}

// ObserveQueryDuration records the latency of one listing.
func (m *Metrics) ObserveQueryDuration(seconds float64) {
	m.QueryDuration.Observe(seconds)
}

// IncQueryFailures counts a failed listing by the stage that failed.
func (m *Metrics) IncQueryFailures(stage string) {
	m.QueryFailures.WithLabelValues(stage).Inc()
}
