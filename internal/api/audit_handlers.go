package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/clearharbor/sentinel/internal/audit"
	"github.com/clearharbor/sentinel/internal/middleware"
)

// defaultSearchLimit caps audit searches that do not specify a limit.
const defaultSearchLimit = 100

// maxSearchLimit is the hard ceiling on a single search response.
const maxSearchLimit = 1000

// AuditHandlers holds dependencies for audit trail HTTP handlers.
type AuditHandlers struct {
	auditor *audit.Logger
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(auditor *audit.Logger) *AuditHandlers {
	return &AuditHandlers{auditor: auditor}
}

// parseTimeRange reads optional RFC 3339 start/end query parameters.
func parseTimeRange(r *http.Request) (start, end time.Time, err error) {
	if s := r.URL.Query().Get("start"); s != "" {
		start, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return start, end, fmt.Errorf("invalid start time %q: must be RFC 3339", s)
		}
	}
	if s := r.URL.Query().Get("end"); s != "" {
		end, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return start, end, fmt.Errorf("invalid end time %q: must be RFC 3339", s)
		}
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return start, end, fmt.Errorf("start must be before end")
	}
	return start, end, nil
}

// EntriesResponse is the response body for audit entry searches.
type EntriesResponse struct {
	Entries []*audit.Entry `json:"entries"`
	Count   int            `json:"count"`
}

// Entries handles GET /audit/entries.
// Supports filtering by actor_id, action, resource (substring),
// organization_id, start, end (RFC 3339), and limit.
func (h *AuditHandlers) Entries(w http.ResponseWriter, r *http.Request) {
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

	limit := defaultSearchLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit <= 0 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}
	}

	q := audit.Query{
		ActorID:        r.URL.Query().Get("actor_id"),
		Action:         r.URL.Query().Get("action"),
		Resource:       r.URL.Query().Get("resource"),
		OrganizationID: r.URL.Query().Get("organization_id"),
		Start:          start,
		End:            end,
		Limit:          limit,
	}

	entries, err := h.auditor.Search(r.Context(), q)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to search audit entries")
		return
	}

	writeJSON(w, http.StatusOK, EntriesResponse{Entries: entries, Count: len(entries)})
}

// VerifyResponse is the response body for chain verification.
type VerifyResponse struct {
	Valid      bool      `json:"valid"`
	VerifiedAt time.Time `json:"verified_at"`
}

// Verify handles POST /audit/verify.
// Re-derives the hash chain over a recent window of entries and reports
// whether it is intact. A tampered or broken chain returns valid=false with
// 200; the verification itself succeeded.
func (h *AuditHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	valid, err := h.auditor.Verify(r.Context(), nil)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to verify audit chain")
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{
		Valid:      valid,
		VerifiedAt: time.Now().UTC(),
	})
}

// Export handles GET /audit/export.
// Requires start and end (RFC 3339) and returns entries in the requested
// format: json (default), csv, or cbor. The response is a complete document,
// suitable for handing to a compliance reviewer.
func (h *AuditHandlers) Export(w http.ResponseWriter, r *http.Request) {
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
	if start.IsZero() || end.IsZero() {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "start and end are required")
		return
	}

	format := audit.ExportFormatJSON
	if s := r.URL.Query().Get("format"); s != "" {
		switch audit.ExportFormat(s) {
		case audit.ExportFormatJSON, audit.ExportFormatCSV, audit.ExportFormatCBOR:
			format = audit.ExportFormat(s)
		default:
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidFormat)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidFormat, fmt.Sprintf("unsupported format %q: use json, csv, or cbor", s))
			return
		}
	}

	entries, err := h.auditor.Export(r.Context(), start, end)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to export audit entries")
		return
	}

	data, err := audit.EncodeEntries(entries, format)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to encode audit entries")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-export.%s", format))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(r.Context(), "failed to write export response", "error", err)
	}
}

// Chain handles GET /audit/chain.
// Exposes the chain head metadata for operational dashboards.
func (h *AuditHandlers) Chain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	state, err := h.auditor.ChainState(r.Context())
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to read chain state")
		return
	}

	writeJSON(w, http.StatusOK, state)
}
