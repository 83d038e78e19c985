// Package audit provides the tamper-evident, hash-chained audit trail for
// sensitive actions: entry construction, chain maintenance, HMAC signing,
// pluggable storage backends, search, and compliance export.
package audit

import (
	"time"
)

// Classification levels for audit entries.
type Classification string

const (
	ClassificationPublic       Classification = "public"
	ClassificationInternal     Classification = "internal"
	ClassificationConfidential Classification = "confidential"
	ClassificationRestricted   Classification = "restricted"
)

// DefaultRetentionYears is the retention period applied when none is given.
const DefaultRetentionYears = 7

// EmergencyRetentionYears is the extended retention for emergency access entries.
const EmergencyRetentionYears = 10

// Entry is one immutable record of an action. Entries are sealed at write
// time: the store contract has no update or delete operation.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"` // UTC

	// Actor
	ActorID        string `json:"actor_id"`
	ActorRole      string `json:"actor_role"`
	OrganizationID string `json:"organization_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`

	// Subject: action is verb_resource form, e.g. "export_case_records".
	Action     string `json:"action"`
	Resource   string `json:"resource"`
	ResourceID string `json:"resource_id,omitempty"`

	// Payload, redacted before it reaches the store.
	Details map[string]any `json:"details,omitempty"`

	// Network context
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Integrity. Hash covers every other field; PreviousHash is the prior
	// entry's hash (empty for the first entry in a chain); Signature is a
	// keyed digest over Hash.
	Hash         string `json:"hash"`
	PreviousHash string `json:"previous_hash"`
	Signature    string `json:"signature,omitempty"`

	// Compliance
	RetentionYears int            `json:"retention_years"`
	LegalHold      bool           `json:"legal_hold"`
	Classification Classification `json:"classification"`
}

// Clone returns a deep copy of the entry. Details is copied one level deep,
// which is sufficient because stores never hand out the same nested maps twice
// (entries are rebuilt from serialized form or cloned on write).
func (e *Entry) Clone() *Entry {
	clone := *e
	if e.Details != nil {
		details := make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
		clone.Details = details
	}
	return &clone
}

// ChainState is the derived chain metadata a store maintains so a new writer
// can resume the chain without re-reading history.
type ChainState struct {
	LastHash       string    `json:"last_hash"`
	EntryCount     int64     `json:"entry_count"`
	ChainStartTime time.Time `json:"chain_start_time"`
	LastVerifiedAt time.Time `json:"last_verified_at"`
}

// Record is the input for creating an audit entry.
type Record struct {
	ActorID   string
	ActorRole string
	Action    string
	Resource  string
	Details   map[string]any
	ClientIP  string
	UserAgent string
	Options   Options
}

// Options carries the optional fields of a log call.
type Options struct {
	ResourceID     string
	OrganizationID string
	SessionID      string
	Classification Classification
	RetentionYears int
	LegalHold      bool
}

// Query filters a search over stored entries. Zero values are ignored.
// Results are returned newest-first.
type Query struct {
	ActorID        string
	Action         string
	Resource       string // substring match on the resource path
	OrganizationID string
	Start          time.Time
	End            time.Time
	Limit          int // 0 = no limit
}

// Matches reports whether an entry satisfies every set filter.
func (q Query) Matches(e *Entry) bool {
	if q.ActorID != "" && e.ActorID != q.ActorID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.Resource != "" && !containsFold(e.Resource, q.Resource) {
		return false
	}
	if q.OrganizationID != "" && e.OrganizationID != q.OrganizationID {
		return false
	}
	if !q.Start.IsZero() && e.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && e.Timestamp.After(q.End) {
		return false
	}
	return true
}
