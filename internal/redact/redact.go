// Package redact strips protected health information from structured
// payloads before they are persisted to the audit trail or attached to
// incident evidence.
package redact

import "strings"

// Marker replaces the value of any field whose key matches a sensitive pattern.
const Marker = "[REDACTED]"

// sensitivePatterns are matched as substrings against lower-cased field keys.
// Keys are normalized (underscores and hyphens removed) before matching so
// "date_of_birth", "dateOfBirth" and "date-of-birth" all match "dateofbirth".
var sensitivePatterns = []string{
	"ssn",
	"socialsecurity",
	"dateofbirth",
	"dob",
	"birthdate",
	"phone",
	"email",
	"address",
	"medicalrecord",
	"mrn",
	"insurance",
	"phi",
}

// IsSensitiveKey reports whether a field key matches a sensitive-name pattern.
func IsSensitiveKey(key string) bool {
	normalized := strings.ToLower(key)
	normalized = strings.ReplaceAll(normalized, "_", "")
	normalized = strings.ReplaceAll(normalized, "-", "")
	for _, p := range sensitivePatterns {
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}

// Redact deep-copies a JSON-like value (maps, slices, primitives) and
// replaces the value of every sensitive field with Marker, recursing into
// nested maps and arrays. Primitives and nil pass through unchanged.
// The input value is never mutated.
func Redact(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if IsSensitiveKey(key) {
				out[key] = Marker
				continue
			}
			out[key] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}

// Map is a convenience wrapper for the common map payload case.
// Returns nil for a nil input.
func Map(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	redacted, _ := Redact(details).(map[string]any)
	return redacted
}
