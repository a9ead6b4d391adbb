package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the approval engine.
type Metrics struct {
	Submitted       *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	BackendFailures *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec
	Discrepancies   prometheus.Counter
}

func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procflow_approval_submitted_total",
			Help: "Total number of approval requests submitted, by kind",
		}, []string{"kind"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procflow_approval_transitions_total",
			Help: "Total number of request status transitions",
		}, []string{"from", "to", "action"}),
		BackendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procflow_approval_backend_failures_total",
			Help: "Total number of failed workflow backend calls, by operation",
		}, []string{"operation"}),
		BackendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "procflow_approval_backend_duration_seconds",
			Help:    "Duration of workflow backend calls",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),
		Discrepancies: f.NewCounter(prometheus.CounterOpts{
			Name: "procflow_approval_backend_discrepancies_total",
			Help: "Requests whose workflow backend state disagrees with the store",
		}),
	}
}

func (m *Metrics) IncrementSubmitted(kind string) {
	m.Submitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementTransition(from, to, action string) {
	m.Transitions.WithLabelValues(from, to, action).Inc()
}

// ObserveBackend records the duration and outcome of one backend call.
func (m *Metrics) ObserveBackend(operation string, d time.Duration, err error) {
	m.BackendDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.BackendFailures.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) IncrementDiscrepancy() {
	m.Discrepancies.Inc()
}
