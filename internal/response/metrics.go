package response

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricResponseActionsTotal = "response_actions_total"
)

// Metrics contains Prometheus metrics for playbook execution.
// All operations are thread-safe.
type Metrics struct {
	actions *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricResponseActionsTotal,
				Help: "Total number of executed response actions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m.actions)
}

// RecordAction records one executed action.
func (m *Metrics) RecordAction(kind string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "completed"
	}
	m.actions.WithLabelValues(kind, outcome).Inc()
}
