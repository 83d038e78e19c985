package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricAuditEntriesTotal       = "audit_entries_total"
	MetricAuditAppendErrorsTotal  = "audit_append_errors_total"
	MetricAuditArchiveErrorsTotal = "audit_archive_errors_total"
	MetricAuditVerifyChecksTotal  = "audit_verify_checks_total"
	MetricAuditVerifyFailures     = "audit_verify_failures_total"
	MetricAuditChainEntries       = "audit_chain_entries"
	MetricAuditEmergencyAccess    = "audit_emergency_access_total"
)

// Metrics contains Prometheus metrics for the audit trail.
// All operations are thread-safe.
type Metrics struct {
	entriesTotal    *prometheus.CounterVec
	appendErrors    prometheus.Counter
	archiveErrors   prometheus.Counter
	verifyChecks    prometheus.Counter
	verifyFailures  prometheus.Counter
	chainEntries    prometheus.Gauge
	emergencyAccess prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		entriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAuditEntriesTotal,
				Help: "Total number of audit entries appended, by classification",
			},
			[]string{"classification"},
		),
		appendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditAppendErrorsTotal,
			Help: "Total number of failed audit appends",
		}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditArchiveErrorsTotal,
			Help: "Total number of failed best-effort archive mirrors",
		}),
		verifyChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditVerifyChecksTotal,
			Help: "Total number of chain verification runs",
		}),
		verifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditVerifyFailures,
			Help: "Total number of chain verification runs that detected tampering",
		}),
		chainEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricAuditChainEntries,
			Help: "Number of entries in the audit chain",
		}),
		emergencyAccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditEmergencyAccess,
			Help: "Total number of emergency access events logged",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.entriesTotal,
		m.appendErrors,
		m.archiveErrors,
		m.verifyChecks,
		m.verifyFailures,
		m.chainEntries,
		m.emergencyAccess,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordAppend records a successful append.
func (m *Metrics) RecordAppend(classification Classification, chainLen int64) {
	if m == nil {
		return
	}
	m.entriesTotal.WithLabelValues(string(classification)).Inc()
	m.chainEntries.Set(float64(chainLen))
}

// RecordAppendError records a failed append.
func (m *Metrics) RecordAppendError() {
	if m == nil {
		return
	}
	m.appendErrors.Inc()
}

// RecordArchiveError records a failed archive mirror.
func (m *Metrics) RecordArchiveError() {
	if m == nil {
		return
	}
	m.archiveErrors.Inc()
}

// RecordVerify records a verification run and its outcome.
func (m *Metrics) RecordVerify(ok bool) {
	if m == nil {
		return
	}
	m.verifyChecks.Inc()
	if !ok {
		m.verifyFailures.Inc()
	}
}

// RecordEmergencyAccess records an emergency access log event.
func (m *Metrics) RecordEmergencyAccess() {
	if m == nil {
		return
	}
	m.emergencyAccess.Inc()
}
