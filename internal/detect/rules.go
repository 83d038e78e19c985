package detect

import (
	"strings"
)

// Rule is one declarative detection rule: a pure predicate over a
// SecurityContext plus the metadata an incident inherits on match. Rules are
// stateless and order-independent; several rules may fire for one context.
type Rule struct {
	ID        string
	Name      string
	Category  Category
	Severity  Severity
	Playbook  string // named response playbook, snapshotted into incidents
	Enabled   bool
	Condition func(*SecurityContext) bool
}

// Thresholds for the built-in rules.
const (
	// FailedLoginThreshold is the failed-attempt count at which the
	// repeated-failed-logins rule fires.
	FailedLoginThreshold = 5
	// BulkExportRequestThreshold is the request count above which an export
	// action counts as bulk.
	BulkExportRequestThreshold = 100
	// AbnormalErrorRate is the error-rate fraction above which the
	// system-compromise rule fires.
	AbnormalErrorRate = 0.5
	// BusinessHoursStart and BusinessHoursEnd bound the local-time window
	// considered normal for sensitive record access.
	BusinessHoursStart = 6
	BusinessHoursEnd   = 22
)

// PatternUnusualIP is the tracker-flagged pattern for access from an IP not
// previously seen for the actor.
const PatternUnusualIP = "unusual_ip"

// BuiltinRules returns the built-in detection rule set. Each call returns a
// fresh slice so a caller toggling Enabled flags cannot affect other engines.
func BuiltinRules() []Rule {
	return []Rule{
		{
			ID:       "repeated_failed_logins",
			Name:     "Repeated failed login attempts",
			Category: CategoryAuthenticationFailure,
			Severity: SeverityMedium,
			Playbook: "account_lockout",
			Enabled:  true,
			Condition: func(c *SecurityContext) bool {
				return c.Metrics.FailedAttempts >= FailedLoginThreshold
			},
		},
		{
			ID:       "bulk_phi_export",
			Name:     "Bulk export of PHI records",
			Category: CategoryPHIExposure,
			Severity: SeverityHigh,
			Playbook: "phi_export_response",
			Enabled:  true,
			Condition: func(c *SecurityContext) bool {
				return strings.Contains(strings.ToLower(c.Action), "export") &&
					c.Metrics.RequestCount > BulkExportRequestThreshold
			},
		},
		{
			ID:       "admin_path_misuse",
			Name:     "Admin path accessed by non-admin role",
			Category: CategoryPrivilegeEscalation,
			Severity: SeverityCritical,
			Playbook: "privilege_escalation_response",
			Enabled:  true,
			Condition: func(c *SecurityContext) bool {
				return c.ActorRole != "admin" && isAdminPath(c.Resource)
			},
		},
		{
			ID:       "unusual_location_access",
			Name:     "Access from an unusual location",
			Category: CategoryUnauthorizedAccess,
			Severity: SeverityMedium,
			Playbook: "suspicious_access_review",
			Enabled:  true,
			Condition: func(c *SecurityContext) bool {
				return c.Metrics.HasPattern(PatternUnusualIP)
			},
		},
		{
			ID:       "abnormal_error_rate",
			Name:     "Abnormal request error rate",
			Category: CategorySystemCompromise,
			Severity: SeverityHigh,
			Playbook: "system_compromise_response",
			Enabled:  true,
			Condition: func(c *SecurityContext) bool {
				return c.Metrics.ErrorRate > AbnormalErrorRate
			},
		},
		{
			ID:       "after_hours_sensitive_access",
			Name:     "After-hours access to sensitive records",
			Category: CategoryInsiderThreat,
			Severity: SeverityMedium,
			Playbook: "insider_threat_review",
			Enabled:  true,
			Condition: func(c *SecurityContext) bool {
				hour := c.LocalHour()
				return (hour < BusinessHoursStart || hour > BusinessHoursEnd) &&
					TouchesSensitiveRecords(c.Resource)
			},
		},
	}
}
