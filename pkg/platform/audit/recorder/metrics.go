package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit recording.
type Metrics struct {
	Recorded      *prometheus.CounterVec
	WriteFailures prometheus.Counter
	CallerRuns    prometheus.Counter
	QueueDepth    prometheus.Gauge
	WriteDuration prometheus.Histogram
	Purged        prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers against reg; tests pass a fresh registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Recorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procflow_audit_recorded_total",
			Help: "Total number of audit entries persisted, by dispatch mode and outcome",
		}, []string{"mode", "status"}),
		WriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "procflow_audit_write_failures_total",
			Help: "Total number of audit entries that could not be persisted",
		}),
		CallerRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "procflow_audit_caller_runs_total",
			Help: "Total number of async audit entries written on the caller because the queue was full",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "procflow_audit_queue_depth",
			Help: "Audit entries waiting for a worker",
		}),
		WriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "procflow_audit_write_duration_seconds",
			Help:    "Time spent persisting one audit entry",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		Purged: f.NewCounter(prometheus.CounterOpts{
			Name: "procflow_audit_purged_total",
			Help: "Total number of audit entries removed by purge",
		}),
	}
}

func (m *Metrics) observeWrite(mode string, seconds float64, failed bool) {
	status := "ok"
	if failed {
		status = "error"
		m.WriteFailures.Inc()
	}
	m.Recorded.WithLabelValues(mode, status).Inc()
	m.WriteDuration.Observe(seconds)
}
