// Package incident turns detection matches into tracked security incidents:
// it snapshots a response playbook, assesses compliance impact, collects
// evidence from the audit trail, and hands the incident to a responder.
package incident

import (
	"fmt"
	"time"

	"github.com/clearharbor/sentinel/internal/audit"
	"github.com/clearharbor/sentinel/internal/detect"
)

// Status is the incident lifecycle state.
type Status string

const (
	StatusDetected      Status = "detected"
	StatusInvestigating Status = "investigating"
	StatusContained     Status = "contained"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// validTransitions is the allowed lifecycle graph. Closed is terminal.
var validTransitions = map[Status][]Status{
	StatusDetected:      {StatusInvestigating, StatusContained, StatusResolved},
	StatusInvestigating: {StatusContained, StatusResolved},
	StatusContained:     {StatusResolved},
	StatusResolved:      {StatusClosed},
	StatusClosed:        {},
}

// CanTransition reports whether an incident may move from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ExecutorKind distinguishes actions the system runs from actions a human
// must carry out.
type ExecutorKind string

const (
	ExecutorSystem ExecutorKind = "system"
	ExecutorHuman  ExecutorKind = "human"
)

// ActionStatus is the lifecycle state of a single response action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionExecuting ActionStatus = "executing"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// ResponseAction is one step of a response playbook. Actions are snapshotted
// into the incident at creation, so later playbook edits never change an
// incident already in flight.
type ResponseAction struct {
	ID               string       `json:"id"`
	Description      string       `json:"description"`
	Kind             string       `json:"kind"`
	Executor         ExecutorKind `json:"executor"`
	Status           ActionStatus `json:"status"`
	RequiresApproval bool         `json:"requires_approval"`
	Result           string       `json:"result,omitempty"`
	StartedAt        *time.Time   `json:"started_at,omitempty"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
}

// ComplianceImpact records which regulatory regimes an incident touches and
// the reporting deadline they impose.
type ComplianceImpact struct {
	HIPAA             bool `json:"hipaa"`
	GDPR              bool `json:"gdpr"`
	SOC2              bool `json:"soc2"`
	ReportingRequired bool `json:"reporting_required"`
	TimelineHours     int  `json:"timeline_hours,omitempty"`
}

// Evidence is the audit material gathered at incident creation time.
type Evidence struct {
	Entries []audit.Entry          `json:"entries,omitempty"`
	Metrics detect.ActivityMetrics `json:"metrics"`
}

// Incident is one tracked security incident.
type Incident struct {
	ID          string          `json:"id"`
	RuleID      string          `json:"rule_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    detect.Category `json:"category"`
	Severity    detect.Severity `json:"severity"`
	Status      Status          `json:"status"`

	ActorID        string `json:"actor_id"`
	OrganizationID string `json:"organization_id,omitempty"`
	Resource       string `json:"resource"`
	ClientIP       string `json:"client_ip,omitempty"`

	PHIInvolved bool             `json:"phi_involved"`
	Compliance  ComplianceImpact `json:"compliance"`
	Evidence    Evidence         `json:"evidence"`
	Actions     []ResponseAction `json:"actions"`

	DetectedAt time.Time  `json:"detected_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	Notes []Note `json:"notes,omitempty"`
}

// Note is a timestamped investigation note attached to an incident.
type Note struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy so callers can hand incidents across goroutines
// without sharing slices.
func (in *Incident) Clone() *Incident {
	if in == nil {
		return nil
	}
	cp := *in
	if in.ResolvedAt != nil {
		t := *in.ResolvedAt
		cp.ResolvedAt = &t
	}
	cp.Actions = cloneActions(in.Actions)
	cp.Notes = append([]Note(nil), in.Notes...)
	cp.Evidence.Entries = make([]audit.Entry, 0, len(in.Evidence.Entries))
	for i := range in.Evidence.Entries {
		cp.Evidence.Entries = append(cp.Evidence.Entries, *in.Evidence.Entries[i].Clone())
	}
	if in.Evidence.Metrics.SuspiciousPatterns != nil {
		patterns := make(map[string]bool, len(in.Evidence.Metrics.SuspiciousPatterns))
		for k, v := range in.Evidence.Metrics.SuspiciousPatterns {
			patterns[k] = v
		}
		cp.Evidence.Metrics.SuspiciousPatterns = patterns
	}
	return &cp
}

func cloneActions(actions []ResponseAction) []ResponseAction {
	out := make([]ResponseAction, len(actions))
	for i, a := range actions {
		out[i] = a
		if a.StartedAt != nil {
			t := *a.StartedAt
			out[i].StartedAt = &t
		}
		if a.CompletedAt != nil {
			t := *a.CompletedAt
			out[i].CompletedAt = &t
		}
	}
	return out
}

// Update is a partial change applied to an incident by an operator.
type Update struct {
	Status *Status
	Note   *Note
}

// Validate checks an update against the incident's current state.
func (u Update) Validate(current Status) error {
	if u.Status == nil && u.Note == nil {
		return fmt.Errorf("update changes nothing")
	}
	if u.Status != nil && !CanTransition(current, *u.Status) {
		return fmt.Errorf("invalid status transition %s -> %s", current, *u.Status)
	}
	return nil
}

// Filter narrows List results.
type Filter struct {
	Severity detect.Severity
	Category detect.Category
	Status   Status
	Limit    int
}

// Matches reports whether an incident satisfies every set filter field.
func (f Filter) Matches(in *Incident) bool {
	if f.Severity != "" && in.Severity != f.Severity {
		return false
	}
	if f.Category != "" && in.Category != f.Category {
		return false
	}
	if f.Status != "" && in.Status != f.Status {
		return false
	}
	return true
}
