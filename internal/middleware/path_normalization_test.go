package middleware

import (
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		// Static routes - no normalization
		{
			name:     "root path",
			path:     "/",
			expected: "/",
		},
		{
			name:     "audit entries",
			path:     "/audit/entries",
			expected: "/audit/entries",
		},
		{
			name:     "audit verify",
			path:     "/audit/verify",
			expected: "/audit/verify",
		},
		{
			name:     "audit export",
			path:     "/audit/export",
			expected: "/audit/export",
		},
		{
			name:     "audit chain",
			path:     "/audit/chain",
			expected: "/audit/chain",
		},
		{
			name:     "incidents collection",
			path:     "/incidents",
			expected: "/incidents",
		},
		{
			name:     "incident report",
			path:     "/incidents/report",
			expected: "/incidents/report",
		},
		{
			name:     "rules",
			path:     "/rules",
			expected: "/rules",
		},
		{
			name:     "health endpoint",
			path:     "/health",
			expected: "/health",
		},
		{
			name:     "ready endpoint",
			path:     "/ready",
			expected: "/ready",
		},
		{
			name:     "metrics endpoint",
			path:     "/metrics",
			expected: "/metrics",
		},

		// Incident patterns
		{
			name:     "incident by id",
			path:     "/incidents/123",
			expected: "/incidents/{id}",
		},
		{
			name:     "incident by uuid",
			path:     "/incidents/550e8400-e29b-41d4-a716-446655440000",
			expected: "/incidents/{id}",
		},
		{
			name:     "per-incident report",
			path:     "/incidents/123/report",
			expected: "/incidents/{id}/report",
		},

		// Edge cases
		{
			name:     "trailing slash on collection",
			path:     "/incidents/",
			expected: "/incidents/",
		},
		{
			name:     "unknown route",
			path:     "/unknown/path",
			expected: "/unknown/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizePath(tt.path)
			if result != tt.expected {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, result, tt.expected)
			}
		})
	}
}

func TestNormalizePath_CardinalityControl(t *testing.T) {
	// Test that different IDs normalize to the same pattern
	paths := []string{
		"/incidents/1",
		"/incidents/2",
		"/incidents/999",
		"/incidents/550e8400-e29b-41d4-a716-446655440000",
		"/incidents/abc-def-ghi",
	}

	expected := "/incidents/{id}"
	seen := make(map[string]bool)

	for _, path := range paths {
		result := normalizePath(path)
		if result != expected {
			t.Errorf("normalizePath(%q) = %q, want %q", path, result, expected)
		}
		seen[result] = true
	}

	// Should all normalize to the same pattern (low cardinality)
	if len(seen) != 1 {
		t.Errorf("Expected all paths to normalize to single pattern, got %d patterns: %v", len(seen), seen)
	}
}
