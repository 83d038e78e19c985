// Package detect evaluates declarative security rules against per-request
// security contexts. Rules are independent, stateless predicates; the engine
// isolates rule failures so one bad rule never blocks the others.
package detect

import (
	"strings"
	"time"
)

// Severity levels for detection rules and the incidents they raise.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category is the fixed taxonomy of detection rule categories.
type Category string

const (
	CategoryAuthenticationFailure Category = "authentication_failure"
	CategoryPHIExposure           Category = "phi_exposure"
	CategoryPrivilegeEscalation   Category = "privilege_escalation"
	CategoryUnauthorizedAccess    Category = "unauthorized_access"
	CategorySystemCompromise      Category = "system_compromise"
	CategoryInsiderThreat         Category = "insider_threat"
	CategoryDataBreach            Category = "data_breach"
	CategoryMalware               Category = "malware"
	CategoryDDoS                  Category = "ddos"
	CategoryComplianceViolation   Category = "compliance_violation"
)

// ActivityMetrics is the sliding-window activity bundle attached to a
// security context by the activity tracker.
type ActivityMetrics struct {
	RequestCount       int
	ErrorRate          float64
	ResponseTimeMs     float64
	FailedAttempts     int
	SuspiciousPatterns map[string]bool
}

// HasPattern reports whether the tracker flagged a named suspicious pattern.
func (m ActivityMetrics) HasPattern(name string) bool {
	return m.SuspiciousPatterns[name]
}

// SecurityContext is the ephemeral, fixed-shape description of one evaluated
// event. It is constructed per request and discarded after rule evaluation;
// rules must not mutate it. New rules may only depend on the fields declared
// here.
type SecurityContext struct {
	ActorID        string
	ActorRole      string
	OrganizationID string
	SessionID      string

	Action   string // verb_resource form, e.g. "export_case_records"
	Resource string // resource path

	ClientIP  string
	UserAgent string

	Timestamp time.Time
	Location  *time.Location // for local-hour rules; nil means time.Local
	Window    time.Duration  // the sliding window Metrics covers

	Metrics ActivityMetrics
}

// LocalHour returns the event's hour of day in the configured location.
func (c *SecurityContext) LocalHour() int {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return c.Timestamp.In(loc).Hour()
}

// sensitiveResourceSegments are the record types whose access implies PHI.
var sensitiveResourceSegments = []string{
	"case_passport",
	"patient",
	"medical_record",
	"document",
	"consent",
	"prescription",
	"phi",
}

// TouchesSensitiveRecords reports whether a resource path refers to a
// sensitive (PHI-bearing) record type.
func TouchesSensitiveRecords(resource string) bool {
	for _, segment := range sensitiveResourceSegments {
		if containsFold(resource, segment) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// adminPathSegments mark admin-only resource paths.
var adminPathSegments = []string{"/admin", "/api/admin"}

// isAdminPath reports whether the resource path contains an admin-only segment.
func isAdminPath(resource string) bool {
	for _, segment := range adminPathSegments {
		if containsFold(resource, segment) {
			return true
		}
	}
	return false
}
