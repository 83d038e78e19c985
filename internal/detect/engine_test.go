package detect

import (
	"testing"
	"time"
)

func baseContext() *SecurityContext {
	return &SecurityContext{
		ActorID:   "user-1",
		ActorRole: "clinician",
		Action:    "view_case_record",
		Resource:  "/api/cases/1",
		ClientIP:  "10.0.0.7",
		Timestamp: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Location:  time.UTC,
		Window:    5 * time.Minute,
	}
}

func newBuiltinEngine() *Engine {
	return NewEngine(BuiltinRules(), nil, nil)
}

func matchedIDs(rules []Rule) map[string]bool {
	ids := make(map[string]bool, len(rules))
	for _, r := range rules {
		ids[r.ID] = true
	}
	return ids
}

func TestEngine_RepeatedFailedLogins(t *testing.T) {
	tests := []struct {
		name           string
		failedAttempts int
		want           bool
	}{
		{"at threshold", 5, true},
		{"above threshold", 12, true},
		{"below threshold", 4, false},
		{"zero", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := baseContext()
			sc.Metrics.FailedAttempts = tt.failedAttempts

			matches := matchedIDs(newBuiltinEngine().Evaluate(sc))
			if matches["repeated_failed_logins"] != tt.want {
				t.Errorf("repeated_failed_logins fired = %v, want %v", matches["repeated_failed_logins"], tt.want)
			}
		})
	}
}

func TestEngine_RepeatedFailedLoginsFiresExactlyOnce(t *testing.T) {
	sc := baseContext()
	sc.Metrics.FailedAttempts = 5

	matched := newBuiltinEngine().Evaluate(sc)

	count := 0
	var rule Rule
	for _, r := range matched {
		if r.ID == "repeated_failed_logins" {
			count++
			rule = r
		}
	}
	if count != 1 {
		t.Fatalf("rule fired %d times, want 1", count)
	}
	if rule.Severity != SeverityMedium {
		t.Errorf("severity = %q, want %q", rule.Severity, SeverityMedium)
	}
	if rule.Category != CategoryAuthenticationFailure {
		t.Errorf("category = %q, want %q", rule.Category, CategoryAuthenticationFailure)
	}
	if rule.Playbook != "account_lockout" {
		t.Errorf("playbook = %q, want account_lockout", rule.Playbook)
	}
}

func TestEngine_BulkPHIExport(t *testing.T) {
	tests := []struct {
		name         string
		action       string
		requestCount int
		want         bool
	}{
		{"export above threshold", "export_case_records", 101, true},
		{"export at threshold", "export_case_records", 100, false},
		{"non-export above threshold", "view_case_records", 500, false},
		{"export low volume", "export_case_records", 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := baseContext()
			sc.Action = tt.action
			sc.Metrics.RequestCount = tt.requestCount

			matches := matchedIDs(newBuiltinEngine().Evaluate(sc))
			if matches["bulk_phi_export"] != tt.want {
				t.Errorf("bulk_phi_export fired = %v, want %v", matches["bulk_phi_export"], tt.want)
			}
		})
	}
}

func TestEngine_AdminPathMisuse(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		resource string
		want     bool
	}{
		{"non-admin on admin path", "clinician", "/api/admin/users", true},
		{"admin on admin path", "admin", "/api/admin/users", false},
		{"non-admin on normal path", "clinician", "/api/cases/1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := baseContext()
			sc.ActorRole = tt.role
			sc.Resource = tt.resource

			matched := newBuiltinEngine().Evaluate(sc)
			matches := matchedIDs(matched)
			if matches["admin_path_misuse"] != tt.want {
				t.Errorf("admin_path_misuse fired = %v, want %v", matches["admin_path_misuse"], tt.want)
			}
			if tt.want {
				for _, r := range matched {
					if r.ID == "admin_path_misuse" && r.Severity != SeverityCritical {
						t.Errorf("severity = %q, want critical", r.Severity)
					}
				}
			}
		})
	}
}

func TestEngine_UnusualLocationAccess(t *testing.T) {
	sc := baseContext()
	sc.Metrics.SuspiciousPatterns = map[string]bool{PatternUnusualIP: true}

	matches := matchedIDs(newBuiltinEngine().Evaluate(sc))
	if !matches["unusual_location_access"] {
		t.Error("unusual_location_access did not fire on flagged pattern")
	}

	sc.Metrics.SuspiciousPatterns = nil
	matches = matchedIDs(newBuiltinEngine().Evaluate(sc))
	if matches["unusual_location_access"] {
		t.Error("unusual_location_access fired without the pattern flag")
	}
}

func TestEngine_AbnormalErrorRate(t *testing.T) {
	sc := baseContext()
	sc.Metrics.ErrorRate = 0.51

	matches := matchedIDs(newBuiltinEngine().Evaluate(sc))
	if !matches["abnormal_error_rate"] {
		t.Error("abnormal_error_rate did not fire at 0.51")
	}

	sc.Metrics.ErrorRate = 0.5
	matches = matchedIDs(newBuiltinEngine().Evaluate(sc))
	if matches["abnormal_error_rate"] {
		t.Error("abnormal_error_rate fired at exactly 0.5")
	}
}

func TestEngine_AfterHoursSensitiveAccess(t *testing.T) {
	tests := []struct {
		name     string
		hour     int
		resource string
		want     bool
	}{
		{"3am sensitive", 3, "/api/case_passport/42", true},
		{"23h sensitive", 23, "/api/case_passport/42", true},
		{"3am non-sensitive", 3, "/api/settings", false},
		{"noon sensitive", 12, "/api/case_passport/42", false},
		{"6am sensitive (window start)", 6, "/api/case_passport/42", false},
		{"22h sensitive (window end)", 22, "/api/case_passport/42", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := baseContext()
			sc.Timestamp = time.Date(2026, 3, 14, tt.hour, 30, 0, 0, time.UTC)
			sc.Resource = tt.resource

			matches := matchedIDs(newBuiltinEngine().Evaluate(sc))
			if matches["after_hours_sensitive_access"] != tt.want {
				t.Errorf("after_hours_sensitive_access fired = %v, want %v",
					matches["after_hours_sensitive_access"], tt.want)
			}
		})
	}
}

func TestEngine_MultipleRulesFireIndependently(t *testing.T) {
	sc := baseContext()
	sc.Metrics.FailedAttempts = 6
	sc.Metrics.ErrorRate = 0.9

	matches := matchedIDs(newBuiltinEngine().Evaluate(sc))
	if !matches["repeated_failed_logins"] || !matches["abnormal_error_rate"] {
		t.Errorf("expected both rules to fire, got %v", matches)
	}
}

func TestEngine_PanickingRuleIsIsolated(t *testing.T) {
	rules := []Rule{
		{
			ID: "first", Name: "first", Enabled: true,
			Severity: SeverityLow, Category: CategoryComplianceViolation,
			Condition: func(c *SecurityContext) bool { return true },
		},
		{
			ID: "broken", Name: "broken", Enabled: true,
			Severity: SeverityLow, Category: CategoryComplianceViolation,
			Condition: func(c *SecurityContext) bool {
				panic("nil map write")
			},
		},
		{
			ID: "last", Name: "last", Enabled: true,
			Severity: SeverityLow, Category: CategoryComplianceViolation,
			Condition: func(c *SecurityContext) bool { return true },
		},
	}

	matches := matchedIDs(NewEngine(rules, nil, nil).Evaluate(baseContext()))
	if !matches["first"] || !matches["last"] {
		t.Errorf("healthy rules blocked by a panicking sibling: %v", matches)
	}
	if matches["broken"] {
		t.Error("panicking rule reported as matched")
	}
}

func TestEngine_DisabledRulesAreSkipped(t *testing.T) {
	rules := BuiltinRules()
	for i := range rules {
		if rules[i].ID == "repeated_failed_logins" {
			rules[i].Enabled = false
		}
	}

	sc := baseContext()
	sc.Metrics.FailedAttempts = 10

	matches := matchedIDs(NewEngine(rules, nil, nil).Evaluate(sc))
	if matches["repeated_failed_logins"] {
		t.Error("disabled rule fired")
	}
}

func TestTouchesSensitiveRecords(t *testing.T) {
	tests := []struct {
		resource string
		want     bool
	}{
		{"/api/case_passport/42", true},
		{"/api/patient/9/records", true},
		{"/api/documents/7", true},
		{"/api/consent/3", true},
		{"/api/settings", false},
		{"/health", false},
	}

	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			if got := TouchesSensitiveRecords(tt.resource); got != tt.want {
				t.Errorf("TouchesSensitiveRecords(%q) = %v, want %v", tt.resource, got, tt.want)
			}
		})
	}
}
