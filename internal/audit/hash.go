package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// hashEnvelope mirrors Entry minus the integrity fields. Marshaling a struct
// gives a fixed field order, and encoding/json sorts map keys, so the
// serialization is stable and recomputation is deterministic.
type hashEnvelope struct {
	ID             string         `json:"id"`
	Timestamp      string         `json:"timestamp"`
	ActorID        string         `json:"actor_id"`
	ActorRole      string         `json:"actor_role"`
	OrganizationID string         `json:"organization_id"`
	SessionID      string         `json:"session_id"`
	Action         string         `json:"action"`
	Resource       string         `json:"resource"`
	ResourceID     string         `json:"resource_id"`
	Details        map[string]any `json:"details"`
	ClientIP       string         `json:"client_ip"`
	UserAgent      string         `json:"user_agent"`
	PreviousHash   string         `json:"previous_hash"`
	RetentionYears int            `json:"retention_years"`
	LegalHold      bool           `json:"legal_hold"`
	Classification Classification `json:"classification"`
}

// ComputeHash returns the SHA-256 digest (hex) over all entry fields except
// Hash and Signature. The same entry content always yields the same hash.
func ComputeHash(e *Entry) (string, error) {
	envelope := hashEnvelope{
		ID:             e.ID,
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		ActorID:        e.ActorID,
		ActorRole:      e.ActorRole,
		OrganizationID: e.OrganizationID,
		SessionID:      e.SessionID,
		Action:         e.Action,
		Resource:       e.Resource,
		ResourceID:     e.ResourceID,
		Details:        e.Details,
		ClientIP:       e.ClientIP,
		UserAgent:      e.UserAgent,
		PreviousHash:   e.PreviousHash,
		RetentionYears: e.RetentionYears,
		LegalHold:      e.LegalHold,
		Classification: e.Classification,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to serialize entry for hashing: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Sign returns the HMAC-SHA256 (hex) of the entry hash under the signing key.
func Sign(hash string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(hash))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is a valid keyed digest over hash.
func VerifySignature(hash, signature string, key []byte) bool {
	expected := Sign(hash, key)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyChain validates an ordered (oldest-first) slice of entries:
// each entry's stored hash must match its recomputed hash, and each
// entry's PreviousHash must equal the prior entry's hash. Returns true
// when the chain is intact, otherwise false and the index of the first
// entry that failed (-1 when the chain is intact).
func VerifyChain(entries []*Entry) (bool, int) {
	for i, e := range entries {
		computed, err := ComputeHash(e)
		if err != nil || computed != e.Hash {
			return false, i
		}
		if i > 0 && e.PreviousHash != entries[i-1].Hash {
			return false, i
		}
	}
	return true, -1
}
