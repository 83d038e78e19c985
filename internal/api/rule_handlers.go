package api

import (
	"net/http"

	"github.com/clearharbor/sentinel/internal/detect"
	"github.com/clearharbor/sentinel/internal/middleware"
)

// RuleHandlers exposes the detection rule catalog.
type RuleHandlers struct {
	engine *detect.Engine
}

// NewRuleHandlers creates a new RuleHandlers instance.
func NewRuleHandlers(engine *detect.Engine) *RuleHandlers {
	return &RuleHandlers{engine: engine}
}

// RuleView is the wire shape of a detection rule. Conditions are code, not
// data, so only the rule metadata is exposed.
type RuleView struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category detect.Category `json:"category"`
	Severity detect.Severity `json:"severity"`
	Playbook string          `json:"playbook"`
	Enabled  bool            `json:"enabled"`
}

// RulesResponse is the response body for the rule catalog.
type RulesResponse struct {
	Rules []RuleView `json:"rules"`
	Count int        `json:"count"`
}

// List handles GET /rules.
func (h *RuleHandlers) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	rules := h.engine.Rules()
	views := make([]RuleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, RuleView{
			ID:       rule.ID,
			Name:     rule.Name,
			Category: rule.Category,
			Severity: rule.Severity,
			Playbook: rule.Playbook,
			Enabled:  rule.Enabled,
		})
	}

	writeJSON(w, http.StatusOK, RulesResponse{Rules: views, Count: len(views)})
}
