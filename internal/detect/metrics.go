package detect

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricDetectEvaluationsTotal = "detect_evaluations_total"
	MetricDetectMatchesTotal     = "detect_rule_matches_total"
	MetricDetectRuleErrorsTotal  = "detect_rule_errors_total"
	MetricDetectLatencySeconds   = "detect_evaluation_duration_seconds"
)

// Metrics contains Prometheus metrics for rule evaluation.
// All operations are thread-safe.
type Metrics struct {
	evaluations prometheus.Counter
	matches     *prometheus.CounterVec
	ruleErrors  *prometheus.CounterVec
	latency     prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDetectEvaluationsTotal,
			Help: "Total number of security contexts evaluated",
		}),
		matches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDetectMatchesTotal,
				Help: "Total number of rule matches by rule and severity",
			},
			[]string{"rule_id", "severity"},
		),
		ruleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDetectRuleErrorsTotal,
				Help: "Total number of rule evaluation failures by rule",
			},
			[]string{"rule_id"},
		),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricDetectLatencySeconds,
			Help:    "Histogram of full rule-set evaluation duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.evaluations,
		m.matches,
		m.ruleErrors,
		m.latency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordEvaluation records one full rule-set evaluation.
func (m *Metrics) RecordEvaluation(d time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.Inc()
	m.latency.Observe(d.Seconds())
}

// RecordMatch records one rule match.
func (m *Metrics) RecordMatch(ruleID string, severity Severity) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(ruleID, string(severity)).Inc()
}

// RecordRuleError records one rule evaluation failure.
func (m *Metrics) RecordRuleError(ruleID string) {
	if m == nil {
		return
	}
	m.ruleErrors.WithLabelValues(ruleID).Inc()
}
