package audit

import (
	"testing"
	"time"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"ipv4", "192.168.1.100", "192.168.1.0"},
		{"ipv4 already zero", "10.0.0.0", "10.0.0.0"},
		{"ipv6", "2001:db8:abcd:1234:5678:9abc:def0:1234", "2001:db8:abcd::"},
		{"invalid", "not-an-ip", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnonymizeIP(tt.input); got != tt.want {
				t.Errorf("AnonymizeIP(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestShouldAnonymize(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	old := testEntry("entry-1", "")
	old.Timestamp = now.Add(-120 * 24 * time.Hour)
	if !ShouldAnonymize(old, now) {
		t.Error("entry past the cutoff should be anonymized")
	}

	recent := testEntry("entry-2", "")
	recent.Timestamp = now.Add(-24 * time.Hour)
	if ShouldAnonymize(recent, now) {
		t.Error("recent entry should keep full precision")
	}

	held := testEntry("entry-3", "")
	held.Timestamp = now.Add(-120 * 24 * time.Hour)
	held.LegalHold = true
	if ShouldAnonymize(held, now) {
		t.Error("legal hold must override anonymization")
	}
}
