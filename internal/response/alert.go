// Package response executes incident playbooks: it maps action kinds to
// concrete handlers, isolates per-action failures, and alerts the security
// team. It implements the incident package's Responder contract.
package response

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clearharbor/sentinel/internal/incident"
)

// AlertSink delivers incident notifications to the security team. Send is the
// normal channel; SendCritical is the out-of-band channel used for critical
// incidents regardless of playbook content.
type AlertSink interface {
	Send(ctx context.Context, in *incident.Incident) error
	SendCritical(ctx context.Context, in *incident.Incident) error
}

// LogSink writes alerts to the operational log. It is the default sink for
// development and the fallback when no webhook is configured.
type LogSink struct {
	Log *slog.Logger
}

func (s *LogSink) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// Send logs the alert at warn level.
func (s *LogSink) Send(ctx context.Context, in *incident.Incident) error {
	s.logger().Warn("security alert",
		"incident_id", in.ID,
		"rule_id", in.RuleID,
		"severity", in.Severity,
		"actor_id", in.ActorID,
		"resource", in.Resource)
	return nil
}

// SendCritical logs the alert at error level.
func (s *LogSink) SendCritical(ctx context.Context, in *incident.Incident) error {
	s.logger().Error("CRITICAL security alert",
		"incident_id", in.ID,
		"rule_id", in.RuleID,
		"severity", in.Severity,
		"actor_id", in.ActorID,
		"resource", in.Resource,
		"phi_involved", in.PHIInvolved)
	return nil
}

const webhookTimeout = 10 * time.Second

// WebhookSink posts alert payloads to configured HTTP endpoints. The critical
// URL falls back to the standard URL when unset.
type WebhookSink struct {
	URL         string
	CriticalURL string
	Client      *http.Client
	Log         *slog.Logger
}

// NewWebhookSink creates a webhook sink with a bounded-timeout client.
func NewWebhookSink(url, criticalURL string, logger *slog.Logger) *WebhookSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSink{
		URL:         url,
		CriticalURL: criticalURL,
		Client:      &http.Client{Timeout: webhookTimeout},
		Log:         logger,
	}
}

// alertPayload is the wire shape posted to webhook endpoints.
type alertPayload struct {
	IncidentID  string `json:"incident_id"`
	RuleID      string `json:"rule_id"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	ActorID     string `json:"actor_id"`
	Resource    string `json:"resource"`
	PHIInvolved bool   `json:"phi_involved"`
	DetectedAt  string `json:"detected_at"`
}

// Send posts the incident to the standard webhook.
func (s *WebhookSink) Send(ctx context.Context, in *incident.Incident) error {
	return s.post(ctx, s.URL, in)
}

// SendCritical posts the incident to the critical webhook, falling back to
// the standard one.
func (s *WebhookSink) SendCritical(ctx context.Context, in *incident.Incident) error {
	url := s.CriticalURL
	if url == "" {
		url = s.URL
	}
	return s.post(ctx, url, in)
}

func (s *WebhookSink) post(ctx context.Context, url string, in *incident.Incident) error {
	if url == "" {
		return fmt.Errorf("no webhook url configured")
	}

	body, err := json.Marshal(alertPayload{
		IncidentID:  in.ID,
		RuleID:      in.RuleID,
		Title:       in.Title,
		Severity:    string(in.Severity),
		Category:    string(in.Category),
		ActorID:     in.ActorID,
		Resource:    in.Resource,
		PHIInvolved: in.PHIInvolved,
		DetectedAt:  in.DetectedAt.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert endpoint returned %d", resp.StatusCode)
	}
	return nil
}
