package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearharbor/sentinel/internal/audit"
	"github.com/clearharbor/sentinel/internal/detect"
)

// ErrNotFound is returned when an incident id is unknown.
var ErrNotFound = errors.New("incident not found")

// evidenceWindow is how far back CreateIncident pulls the actor's audit
// entries as evidence.
const evidenceWindow = 5 * time.Minute

// Responder executes an incident's response playbook. The response package
// provides the concrete executor; the indirection keeps this package free of
// execution details.
type Responder interface {
	// Respond runs the incident's pending actions and returns them with
	// final statuses and results filled in.
	Respond(ctx context.Context, in *Incident) []ResponseAction
}

// Manager evaluates security contexts against the detection engine and
// manages the lifecycle of the incidents that result. Incidents are held in
// memory; the durable record of each incident is its audit trail.
type Manager struct {
	mu        sync.RWMutex
	incidents map[string]*Incident

	engine    *detect.Engine
	auditor   *audit.Logger
	responder Responder
	metrics   *Metrics
	log       *slog.Logger

	timeNow func() time.Time // For testability
	newID   func() string
}

// ManagerConfig holds the collaborators for a Manager.
type ManagerConfig struct {
	Engine    *detect.Engine
	Auditor   *audit.Logger
	Responder Responder // optional; actions stay pending without one
	Metrics   *Metrics  // optional
	Logger    *slog.Logger
}

// NewManager constructs an incident manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Engine == nil {
		return nil, errors.New("detection engine cannot be nil")
	}
	if cfg.Auditor == nil {
		return nil, errors.New("audit logger cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		incidents: make(map[string]*Incident),
		engine:    cfg.Engine,
		auditor:   cfg.Auditor,
		responder: cfg.Responder,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		timeNow:   time.Now,
		newID:     func() string { return uuid.New().String() },
	}, nil
}

// ProcessContext runs detection over one security context and opens an
// incident for every rule that matches. It never returns an error: detection
// runs off the request path and failures are surfaced to operational logging.
func (m *Manager) ProcessContext(ctx context.Context, sc *detect.SecurityContext) []*Incident {
	matched := m.engine.Evaluate(sc)
	if len(matched) == 0 {
		return nil
	}

	incidents := make([]*Incident, 0, len(matched))
	for _, rule := range matched {
		in, err := m.CreateIncident(ctx, rule, sc)
		if err != nil {
			m.log.Error("failed to open incident for matched rule",
				"rule_id", rule.ID,
				"actor_id", sc.ActorID,
				"error", err)
			continue
		}
		incidents = append(incidents, in)
	}
	return incidents
}

// CreateIncident opens one incident from a rule match: snapshots the rule's
// playbook, assesses compliance impact, gathers evidence, audits the
// creation, and runs the responder. The returned incident is a clone.
func (m *Manager) CreateIncident(ctx context.Context, rule detect.Rule, sc *detect.SecurityContext) (*Incident, error) {
	now := m.timeNow().UTC()
	phi := detect.TouchesSensitiveRecords(sc.Resource)

	in := &Incident{
		ID:             m.newID(),
		RuleID:         rule.ID,
		Title:          rule.Name,
		Description:    fmt.Sprintf("%s by %s on %s", rule.Name, sc.ActorID, sc.Resource),
		Category:       rule.Category,
		Severity:       rule.Severity,
		Status:         StatusDetected,
		ActorID:        sc.ActorID,
		OrganizationID: sc.OrganizationID,
		Resource:       sc.Resource,
		ClientIP:       sc.ClientIP,
		PHIInvolved:    phi,
		Compliance:     assessCompliance(rule.Category, phi),
		Actions:        PlaybookActions(rule.Playbook),
		DetectedAt:     now,
		UpdatedAt:      now,
	}
	in.Evidence = m.gatherEvidence(ctx, sc)

	m.auditCreation(ctx, in)

	// The responder runs before the incident is published, so readers never
	// observe actions mid-execution.
	if m.responder != nil {
		in.Actions = m.responder.Respond(ctx, in.Clone())
		in.UpdatedAt = m.timeNow().UTC()
	}

	m.mu.Lock()
	m.incidents[in.ID] = in
	m.mu.Unlock()

	m.metrics.RecordCreated(rule.Severity, rule.Category)
	m.log.Warn("security incident opened",
		"incident_id", in.ID,
		"rule_id", rule.ID,
		"severity", in.Severity,
		"actor_id", in.ActorID,
		"phi_involved", in.PHIInvolved)
	return in.Clone(), nil
}

// assessCompliance derives the regulatory impact from the category and
// whether PHI is involved. SOC 2 covers all security incidents; HIPAA and
// GDPR reporting attach to PHI exposure, and a 72-hour reporting deadline
// applies when they do.
func assessCompliance(cat detect.Category, phi bool) ComplianceImpact {
	exposure := phi || cat == detect.CategoryPHIExposure || cat == detect.CategoryDataBreach
	impact := ComplianceImpact{
		HIPAA:             exposure,
		GDPR:              exposure,
		SOC2:              true,
		ReportingRequired: exposure,
	}
	if exposure {
		impact.TimelineHours = 72
	} else {
		impact.TimelineHours = 24
	}
	return impact
}

// gatherEvidence snapshots the actor's recent audit entries and the activity
// metrics that triggered detection. Evidence gathering is best-effort: an
// audit search failure degrades the incident, it does not block it.
func (m *Manager) gatherEvidence(ctx context.Context, sc *detect.SecurityContext) Evidence {
	ev := Evidence{Metrics: sc.Metrics}
	entries, err := m.auditor.Search(ctx, audit.Query{
		ActorID: sc.ActorID,
		Start:   sc.Timestamp.Add(-evidenceWindow),
		End:     sc.Timestamp,
	})
	if err != nil {
		m.log.Warn("failed to gather audit evidence for incident",
			"actor_id", sc.ActorID,
			"error", err)
		return ev
	}
	ev.Entries = make([]audit.Entry, 0, len(entries))
	for _, e := range entries {
		ev.Entries = append(ev.Entries, *e)
	}
	return ev
}

// auditCreation records the incident itself in the audit trail. Critical
// incidents go under legal hold immediately.
func (m *Manager) auditCreation(ctx context.Context, in *Incident) {
	_, err := m.auditor.Log(ctx, audit.Record{
		ActorID:   "sentinel",
		ActorRole: "system",
		Action:    "create_incident",
		Resource:  "/incidents/" + in.ID,
		Details: map[string]any{
			"rule_id":      in.RuleID,
			"severity":     string(in.Severity),
			"category":     string(in.Category),
			"actor_id":     in.ActorID,
			"resource":     in.Resource,
			"phi_involved": in.PHIInvolved,
		},
		Options: audit.Options{
			ResourceID:     in.ID,
			OrganizationID: in.OrganizationID,
			Classification: audit.ClassificationRestricted,
			LegalHold:      in.Severity == detect.SeverityCritical,
		},
	})
	if err != nil {
		m.log.Error("failed to audit incident creation",
			"incident_id", in.ID,
			"error", err)
	}
}

// Get returns a clone of the incident, or ErrNotFound.
func (m *Manager) Get(id string) (*Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return in.Clone(), nil
}

// List returns incidents matching the filter, newest-first by detection time.
func (m *Manager) List(f Filter) []*Incident {
	m.mu.RLock()
	var results []*Incident
	for _, in := range m.incidents {
		if f.Matches(in) {
			results = append(results, in.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].DetectedAt.Equal(results[j].DetectedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].DetectedAt.After(results[j].DetectedAt)
	})
	if f.Limit > 0 && len(results) > f.Limit {
		results = results[:f.Limit]
	}
	return results
}

// Update applies an operator change to an incident: a status transition, an
// investigation note, or both. The change is audited with the operator's
// identity.
func (m *Manager) Update(ctx context.Context, id, operatorID string, u Update) (*Incident, error) {
	m.mu.Lock()
	in, ok := m.incidents[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if err := u.Validate(in.Status); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	now := m.timeNow().UTC()
	previous := in.Status
	if u.Status != nil {
		in.Status = *u.Status
		if *u.Status == StatusResolved && in.ResolvedAt == nil {
			t := now
			in.ResolvedAt = &t
		}
	}
	if u.Note != nil {
		note := *u.Note
		note.CreatedAt = now
		in.Notes = append(in.Notes, note)
	}
	in.UpdatedAt = now
	out := in.Clone()
	m.mu.Unlock()

	if u.Status != nil {
		m.metrics.RecordTransition(previous, *u.Status)
	}
	if _, err := m.auditor.Log(ctx, audit.Record{
		ActorID:   operatorID,
		ActorRole: "operator",
		Action:    "update_incident",
		Resource:  "/incidents/" + id,
		Details: map[string]any{
			"previous_status": string(previous),
			"status":          string(out.Status),
			"note_added":      u.Note != nil,
		},
		Options: audit.Options{
			ResourceID:     id,
			Classification: audit.ClassificationRestricted,
		},
	}); err != nil {
		m.log.Error("failed to audit incident update", "incident_id", id, "error", err)
	}
	return out, nil
}

// Report is an aggregate view over incidents in a time window, suitable for
// compliance reporting.
type Report struct {
	Start               time.Time               `json:"start"`
	End                 time.Time               `json:"end"`
	Total               int                     `json:"total"`
	Open                int                     `json:"open"`
	PHIIncidents        int                     `json:"phi_incidents"`
	ReportableIncidents int                     `json:"reportable_incidents"`
	BySeverity          map[detect.Severity]int `json:"by_severity"`
	ByCategory          map[detect.Category]int `json:"by_category"`
	MeanResolutionHours float64                 `json:"mean_resolution_hours"`
	OngoingIncidentIDs  []string                `json:"ongoing_incident_ids,omitempty"`
}

// Report aggregates incidents detected in [start, end].
func (m *Manager) Report(start, end time.Time) Report {
	rep := Report{
		Start:      start,
		End:        end,
		BySeverity: make(map[detect.Severity]int),
		ByCategory: make(map[detect.Category]int),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var resolved int
	var resolutionSum time.Duration
	for _, in := range m.incidents {
		if in.DetectedAt.Before(start) || in.DetectedAt.After(end) {
			continue
		}
		rep.Total++
		rep.BySeverity[in.Severity]++
		rep.ByCategory[in.Category]++
		if in.PHIInvolved {
			rep.PHIIncidents++
		}
		if in.Compliance.ReportingRequired {
			rep.ReportableIncidents++
		}
		if in.ResolvedAt != nil {
			resolved++
			resolutionSum += in.ResolvedAt.Sub(in.DetectedAt)
		} else if in.Status != StatusClosed {
			rep.Open++
			rep.OngoingIncidentIDs = append(rep.OngoingIncidentIDs, in.ID)
		}
	}
	if resolved > 0 {
		rep.MeanResolutionHours = resolutionSum.Hours() / float64(resolved)
	}
	sort.Strings(rep.OngoingIncidentIDs)
	return rep
}

// IncidentReport is the per-incident summary used for case review.
type IncidentReport struct {
	Incident        *Incident `json:"incident"`
	Resolution      string    `json:"resolution"`
	ResolutionHours float64   `json:"resolution_hours,omitempty"`
}

// IncidentReport returns one incident with its resolution summary: the time
// to resolution when resolved, "ongoing" otherwise.
func (m *Manager) IncidentReport(id string) (IncidentReport, error) {
	in, err := m.Get(id)
	if err != nil {
		return IncidentReport{}, err
	}

	rep := IncidentReport{Incident: in, Resolution: "ongoing"}
	if in.ResolvedAt != nil {
		d := in.ResolvedAt.Sub(in.DetectedAt)
		rep.ResolutionHours = d.Hours()
		rep.Resolution = "resolved in " + d.Round(time.Second).String()
	}
	return rep, nil
}
