package detect

import (
	"log/slog"
	"time"
)

// Engine evaluates every enabled rule against a security context. Rules have
// no shared mutable state, so one engine is safe for concurrent Evaluate
// calls across incoming contexts.
type Engine struct {
	rules   []Rule
	metrics *Metrics
	log     *slog.Logger
	timeNow func() time.Time // For testability
}

// NewEngine creates a detection engine over the given rule set.
// Pass BuiltinRules() for the standard set. Metrics may be nil.
func NewEngine(rules []Rule, metrics *Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rules:   rules,
		metrics: metrics,
		log:     logger,
		timeNow: time.Now,
	}
}

// Evaluate runs every enabled rule against the context and returns the rules
// that matched. A rule that panics is caught, logged with its id, and
// skipped; the remaining rules still run.
func (e *Engine) Evaluate(sc *SecurityContext) []Rule {
	start := e.timeNow()

	var matched []Rule
	for _, rule := range e.rules {
		if !rule.Enabled || rule.Condition == nil {
			continue
		}
		if e.evaluateRule(rule, sc) {
			matched = append(matched, rule)
			e.metrics.RecordMatch(rule.ID, rule.Severity)
		}
	}

	e.metrics.RecordEvaluation(e.timeNow().Sub(start))
	return matched
}

// evaluateRule runs one rule inside a failure boundary.
func (e *Engine) evaluateRule(rule Rule, sc *SecurityContext) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			fired = false
			e.metrics.RecordRuleError(rule.ID)
			e.log.Error("detection rule failed and was skipped",
				"rule_id", rule.ID,
				"panic", r)
		}
	}()
	return rule.Condition(sc)
}

// Rules returns the engine's rule set (for operational surfaces).
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}
