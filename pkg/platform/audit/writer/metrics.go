package writer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit writer.
type Metrics struct {
	Written               *prometheus.CounterVec
	Failures              *prometheus.CounterVec
	SinkFailures          prometheus.Counter
	CircuitBreakerDropped prometheus.Counter
	CircuitBreakerState   prometheus.Gauge
	WriteDuration         prometheus.Histogram
}

// NewMetrics creates a Metrics instance registered with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the writer metrics with reg. Tests pass a fresh
// registry so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Written: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "landrecords_audit_records_written_total",
			Help: "Total number of audit records persisted",
		}, []string{"action"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "landrecords_audit_write_failures_total",
			Help: "Total number of audit writes that were dropped, by stage",
		}, []string{"stage"}),
		SinkFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "landrecords_audit_sink_failures_total",
			Help: "Total number of audit rows that could not be mirrored to the sink",
		}),
		CircuitBreakerDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "landrecords_audit_circuit_breaker_dropped_total",
			Help: "Total number of audit records dropped while the circuit breaker was open",
		}),
		CircuitBreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "landrecords_audit_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
		WriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "landrecords_audit_write_duration_seconds",
			Help:    "Time spent persisting one audit record",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// IncWritten counts a persisted record by action.
func (m *Metrics) IncWritten(action string) {
	m.Written.WithLabelValues(action).Inc()
}

// IncFailure counts a dropped write by the stage that failed.
func (m *Metrics) IncFailure(stage string) {
	m.Failures.WithLabelValues(stage).Inc()
}

// IncSinkFailures counts a row that was stored but not mirrored.
func (m *Metrics) IncSinkFailures() {
	m.SinkFailures.Inc()
}

// IncCircuitBreakerDropped counts a write skipped while the breaker is open.
func (m *Metrics) IncCircuitBreakerDropped() {
	m.CircuitBreakerDropped.Inc()
}

// SetCircuitBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetCircuitBreakerState(open bool) {
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}

// ObserveWriteDuration records how long one store append took.
func (m *Metrics) ObserveWriteDuration(seconds float64) {
	m.WriteDuration.Observe(seconds)
}
