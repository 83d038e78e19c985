package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clearharbor/sentinel/internal/audit"
	"github.com/clearharbor/sentinel/internal/detect"
	"github.com/clearharbor/sentinel/internal/incident"
)

// detectionTimeout bounds the post-request detection pass.
const detectionTimeout = 10 * time.Second

// monitorSkipPaths are operational endpoints that never feed detection.
var monitorSkipPaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// SecurityMonitor observes every completed request: it feeds the activity
// tracker and runs detection asynchronously, so rule evaluation never adds
// request latency. Detection failures are logged, never surfaced to clients.
// loc is the timezone the after-hours rule reads "local hour" in; nil means
// the host's local zone.
func SecurityMonitor(tracker ActivityTracker, manager *incident.Manager, loc *time.Location, logger *slog.Logger) func(http.Handler) http.Handler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if monitorSkipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)
			duration := time.Since(start)

			actor := GetActor(r.Context())
			actorID := actor.ID
			ip := ExtractIPAddress(r)
			if actorID == "" {
				// Unauthenticated traffic is tracked by IP so failed logins
				// from one source still accumulate.
				actorID = "anon:" + ip
			}

			ctx := context.WithoutCancel(r.Context())
			tracker.Observe(ctx, actorID, ip, rw.statusCode, duration)

			sc := &detect.SecurityContext{
				ActorID:        actorID,
				ActorRole:      actor.Role,
				OrganizationID: actor.OrganizationID,
				SessionID:      actor.SessionID,
				Action:         ActionName(r.Method, r.URL.Path),
				Resource:       r.URL.Path,
				ClientIP:       ip,
				UserAgent:      r.UserAgent(),
				Timestamp:      time.Now().UTC(),
				Location:       loc,
				Window:         tracker.Window(),
				Metrics:        tracker.Snapshot(ctx, actorID),
			}

			go func() {
				defer func() {
					if rec := recover(); rec != nil {
						logger.Error("detection pass panicked", "panic", rec)
					}
				}()
				dctx, cancel := context.WithTimeout(ctx, detectionTimeout)
				defer cancel()
				manager.ProcessContext(dctx, sc)
			}()
		})
	}
}

// methodVerbs maps HTTP methods to action verbs.
var methodVerbs = map[string]string{
	http.MethodGet:    "view",
	http.MethodHead:   "view",
	http.MethodPost:   "create",
	http.MethodPut:    "update",
	http.MethodPatch:  "update",
	http.MethodDelete: "delete",
}

// ActionName derives a verb_resource action from the request method and path,
// e.g. GET /api/audit/export -> "export_audit". Path segments that look like
// identifiers are dropped.
func ActionName(method, path string) string {
	verb, ok := methodVerbs[method]
	if !ok {
		verb = strings.ToLower(method)
	}

	var nouns []string
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" || seg == "api" || looksLikeID(seg) {
			continue
		}
		nouns = append(nouns, strings.ToLower(seg))
	}
	// Export endpoints are their own verb: the distinction matters to
	// bulk-export detection.
	for i, n := range nouns {
		if n == "export" {
			verb = "export"
			nouns = append(nouns[:i], nouns[i+1:]...)
			break
		}
	}
	if len(nouns) == 0 {
		return verb
	}
	return verb + "_" + strings.Join(nouns, "_")
}

// looksLikeID reports whether a path segment is an identifier rather than a
// route noun: UUIDs, numbers, or long opaque tokens.
func looksLikeID(seg string) bool {
	if len(seg) >= 32 {
		return true
	}
	digits := 0
	hyphens := 0
	for _, r := range seg {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '-':
			hyphens++
		}
	}
	if digits == len(seg) && digits > 0 {
		return true
	}
	// UUID-ish: mostly hex with hyphens
	return hyphens >= 4 && len(seg) == 36
}

// AuditTrail records sensitive requests in the audit log after they complete:
// every mutating request, plus reads of PHI-bearing resources. The write is
// synchronous so the trail cannot silently lag the response; a failure is
// logged and surfaced through audit metrics, not to the client.
func AuditTrail(auditor *audit.Logger, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if monitorSkipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			sensitiveRead := r.Method == http.MethodGet && detect.TouchesSensitiveRecords(r.URL.Path)
			if r.Method == http.MethodGet && !sensitiveRead {
				return
			}

			actor := GetActor(r.Context())
			if actor.ID == "" {
				// Failed auth is covered by the security monitor; there is
				// no identity to attribute an audit entry to.
				return
			}

			classification := audit.ClassificationInternal
			if sensitiveRead || detect.TouchesSensitiveRecords(r.URL.Path) {
				classification = audit.ClassificationConfidential
			}

			_, err := auditor.Log(r.Context(), audit.Record{
				ActorID:   actor.ID,
				ActorRole: actor.Role,
				Action:    ActionName(r.Method, r.URL.Path),
				Resource:  r.URL.Path,
				ClientIP:  ExtractIPAddress(r),
				UserAgent: r.UserAgent(),
				Details: map[string]any{
					"status":     rw.statusCode,
					"request_id": GetRequestID(r.Context()),
				},
				Options: audit.Options{
					OrganizationID: actor.OrganizationID,
					SessionID:      actor.SessionID,
					Classification: classification,
				},
			})
			if err != nil {
				logger.Error("failed to audit request",
					"method", r.Method,
					"path", r.URL.Path,
					"actor_id", actor.ID,
					"error", err)
			}
		})
	}
}
