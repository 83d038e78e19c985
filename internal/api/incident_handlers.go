package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clearharbor/sentinel/internal/detect"
	"github.com/clearharbor/sentinel/internal/incident"
	"github.com/clearharbor/sentinel/internal/middleware"
)

// maxUpdateBodySize caps incident update request bodies.
const maxUpdateBodySize = 64 * 1024

// IncidentHandlers holds dependencies for incident HTTP handlers.
type IncidentHandlers struct {
	manager *incident.Manager
}

// NewIncidentHandlers creates a new IncidentHandlers instance.
func NewIncidentHandlers(manager *incident.Manager) *IncidentHandlers {
	return &IncidentHandlers{manager: manager}
}

// IncidentsResponse is the response body for incident listings.
type IncidentsResponse struct {
	Incidents []*incident.Incident `json:"incidents"`
	Count     int                  `json:"count"`
}

// UpdateIncidentRequest is the request body for updating an incident.
// At least one of status or note must be set.
type UpdateIncidentRequest struct {
	Status *incident.Status `json:"status,omitempty"`
	Note   *string          `json:"note,omitempty"`
}

// List handles GET /incidents.
// Supports filtering by severity, category, status, and limit.
func (h *IncidentHandlers) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	f := incident.Filter{
		Severity: detect.Severity(r.URL.Query().Get("severity")),
		Category: detect.Category(r.URL.Query().Get("category")),
		Status:   incident.Status(r.URL.Query().Get("status")),
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		f.Limit = limit
	}

	incidents := h.manager.List(f)
	writeJSON(w, http.StatusOK, IncidentsResponse{Incidents: incidents, Count: len(incidents)})
}

// HandleIncident routes GET and PATCH /incidents/{id}, and
// GET /incidents/{id}/report.
func (h *IncidentHandlers) HandleIncident(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/incidents/")
	wantReport := false
	if rest, ok := strings.CutSuffix(id, "/report"); ok {
		id = rest
		wantReport = true
	}
	if id == "" || strings.Contains(id, "/") {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Incident not found")
		return
	}

	switch {
	case wantReport && r.Method == http.MethodGet:
		h.incidentReport(w, r, id)
	case wantReport:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	case r.Method == http.MethodGet:
		h.get(w, r, id)
	case r.Method == http.MethodPatch:
		h.update(w, r, id)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	}
}

func (h *IncidentHandlers) incidentReport(w http.ResponseWriter, r *http.Request, id string) {
	rep, err := h.manager.IncidentReport(id)
	if err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Incident not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *IncidentHandlers) get(w http.ResponseWriter, r *http.Request, id string) {
	in, err := h.manager.Get(id)
	if err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Incident not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load incident")
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (h *IncidentHandlers) update(w http.ResponseWriter, r *http.Request, id string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBodySize))
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read request body")
		return
	}

	var req UpdateIncidentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.Status == nil && (req.Note == nil || strings.TrimSpace(*req.Note) == "") {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Update must set status or note")
		return
	}

	actor := middleware.GetActor(r.Context())
	operatorID := actor.ID
	if operatorID == "" {
		operatorID = "unknown"
	}

	u := incident.Update{Status: req.Status}
	if req.Note != nil && strings.TrimSpace(*req.Note) != "" {
		u.Note = &incident.Note{
			Author: operatorID,
			Body:   strings.TrimSpace(*req.Note),
		}
	}

	in, err := h.manager.Update(r.Context(), id, operatorID, u)
	if err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Incident not found")
			return
		}
		// Anything else is a transition or validation failure.
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidTransition)
		WriteError(w, ctx, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// Report handles GET /incidents/report.
// Aggregates incidents over the requested window (default: the last 30 days)
// into the summary counts compliance reporting needs.
func (h *IncidentHandlers) Report(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	start, end, err := parseTimeRange(r)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}

	writeJSON(w, http.StatusOK, h.manager.Report(start, end))
}
