package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit stream publishing.
type Metrics struct {
	Published       prometheus.Counter
	PublishFailures prometheus.Counter
	Buffered        prometheus.Counter
	CircuitState    prometheus.Gauge
}

// NewMetrics registers the stream metrics with the default registry.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewMetricsWithRegistry registers against reg; tests pass a fresh registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "procflow_audit_stream_published_total",
			Help: "Total number of audit entries published to the stream",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "procflow_audit_stream_publish_failures_total",
			Help: "Total number of failed audit stream publishes",
		}),
		Buffered: f.NewCounter(prometheus.CounterOpts{
			Name: "procflow_audit_stream_buffered_total",
			Help: "Total number of audit entries buffered while the stream circuit was open",
		}),
		CircuitState: f.NewGauge(prometheus.GaugeOpts{
			Name: "procflow_audit_stream_circuit_state",
			Help: "Stream circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) IncPublished()       { m.Published.Inc() }
func (m *Metrics) IncPublishFailures() { m.PublishFailures.Inc() }
func (m *Metrics) IncBuffered()        { m.Buffered.Inc() }
