package incident

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clearharbor/sentinel/internal/detect"
)

// Metric names as constants for consistency.
const (
	MetricIncidentsCreatedTotal    = "incidents_created_total"
	MetricIncidentTransitionsTotal = "incident_status_transitions_total"
)

// Metrics contains Prometheus metrics for incident lifecycle tracking.
// All operations are thread-safe.
type Metrics struct {
	created     *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		created: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricIncidentsCreatedTotal,
				Help: "Total number of incidents opened by severity and category",
			},
			[]string{"severity", "category"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricIncidentTransitionsTotal,
				Help: "Total number of incident status transitions",
			},
			[]string{"from", "to"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.created,
		m.transitions,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordCreated records one opened incident.
func (m *Metrics) RecordCreated(sev detect.Severity, cat detect.Category) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(string(sev), string(cat)).Inc()
}

// RecordTransition records one status transition.
func (m *Metrics) RecordTransition(from, to Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}
