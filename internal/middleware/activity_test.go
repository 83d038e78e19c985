package middleware

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/clearharbor/sentinel/internal/detect"
)

func TestMemoryActivityTracker_CountsRequests(t *testing.T) {
	tracker := NewMemoryActivityTracker(0)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		tracker.Observe(ctx, "user-1", "10.0.0.1", http.StatusOK, 50*time.Millisecond)
	}

	m := tracker.Snapshot(ctx, "user-1")
	if m.RequestCount != 4 {
		t.Errorf("RequestCount = %d, want 4", m.RequestCount)
	}
	if m.ErrorRate != 0 {
		t.Errorf("ErrorRate = %v, want 0", m.ErrorRate)
	}
	if m.ResponseTimeMs != 50 {
		t.Errorf("ResponseTimeMs = %v, want 50", m.ResponseTimeMs)
	}
}

func TestMemoryActivityTracker_FailedAttempts(t *testing.T) {
	tracker := NewMemoryActivityTracker(0)
	ctx := context.Background()

	tracker.Observe(ctx, "user-1", "10.0.0.1", http.StatusUnauthorized, 0)
	tracker.Observe(ctx, "user-1", "10.0.0.1", http.StatusForbidden, 0)
	tracker.Observe(ctx, "user-1", "10.0.0.1", http.StatusOK, 0)
	tracker.Observe(ctx, "user-1", "10.0.0.1", http.StatusNotFound, 0)

	m := tracker.Snapshot(ctx, "user-1")
	if m.FailedAttempts != 2 {
		t.Errorf("FailedAttempts = %d, want 2 (only 401 and 403 count)", m.FailedAttempts)
	}
	// 401, 403, and 404 are all errors out of 4 requests
	if m.ErrorRate != 0.75 {
		t.Errorf("ErrorRate = %v, want 0.75", m.ErrorRate)
	}
}

func TestMemoryActivityTracker_UnusualIP(t *testing.T) {
	tracker := NewMemoryActivityTracker(0)
	ctx := context.Background()

	// First IP establishes the known set; it is never unusual.
	tracker.Observe(ctx, "user-1", "10.0.0.1", http.StatusOK, 0)
	m := tracker.Snapshot(ctx, "user-1")
	if m.SuspiciousPatterns[detect.PatternUnusualIP] {
		t.Error("first IP should not flag unusual_ip")
	}

	// A second, never-seen IP flags the pattern.
	tracker.Observe(ctx, "user-1", "198.51.100.9", http.StatusOK, 0)
	m = tracker.Snapshot(ctx, "user-1")
	if !m.SuspiciousPatterns[detect.PatternUnusualIP] {
		t.Error("expected unusual_ip pattern after request from new IP")
	}

	// Repeat requests from the now-known IP do not re-flag once the
	// window passes, but within the window the flag persists.
	tracker.Observe(ctx, "user-1", "198.51.100.9", http.StatusOK, 0)
	m = tracker.Snapshot(ctx, "user-1")
	if !m.SuspiciousPatterns[detect.PatternUnusualIP] {
		t.Error("unusual_ip flag should persist for the window duration")
	}
}

func TestMemoryActivityTracker_WindowPrunes(t *testing.T) {
	tracker := NewMemoryActivityTracker(time.Minute)
	ctx := context.Background()

	now := time.Now()
	tracker.timeNow = func() time.Time { return now }

	tracker.Observe(ctx, "user-1", "10.0.0.1", http.StatusUnauthorized, 0)
	tracker.Observe(ctx, "user-1", "10.0.0.1", http.StatusUnauthorized, 0)

	// Advance past the window; old events drop out.
	tracker.timeNow = func() time.Time { return now.Add(2 * time.Minute) }
	tracker.Observe(ctx, "user-1", "10.0.0.1", http.StatusOK, 0)

	m := tracker.Snapshot(ctx, "user-1")
	if m.RequestCount != 1 {
		t.Errorf("RequestCount = %d, want 1 after window expiry", m.RequestCount)
	}
	if m.FailedAttempts != 0 {
		t.Errorf("FailedAttempts = %d, want 0 after window expiry", m.FailedAttempts)
	}
}

func TestMemoryActivityTracker_UnknownActor(t *testing.T) {
	tracker := NewMemoryActivityTracker(0)

	m := tracker.Snapshot(context.Background(), "nobody")
	if m.RequestCount != 0 || m.FailedAttempts != 0 {
		t.Errorf("expected zero metrics for unknown actor, got %+v", m)
	}
}

func TestMemoryActivityTracker_IgnoresEmptyActor(t *testing.T) {
	tracker := NewMemoryActivityTracker(0)
	ctx := context.Background()

	tracker.Observe(ctx, "", "10.0.0.1", http.StatusOK, 0)

	tracker.mu.Lock()
	n := len(tracker.actors)
	tracker.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no tracked actors, got %d", n)
	}
}

func TestMemoryActivityTracker_ActorsAreIsolated(t *testing.T) {
	tracker := NewMemoryActivityTracker(0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tracker.Observe(ctx, "attacker", "10.0.0.1", http.StatusUnauthorized, 0)
	}
	tracker.Observe(ctx, "bystander", "10.0.0.2", http.StatusOK, 0)

	if m := tracker.Snapshot(ctx, "attacker"); m.FailedAttempts != 5 {
		t.Errorf("attacker FailedAttempts = %d, want 5", m.FailedAttempts)
	}
	if m := tracker.Snapshot(ctx, "bystander"); m.FailedAttempts != 0 {
		t.Errorf("bystander FailedAttempts = %d, want 0", m.FailedAttempts)
	}
}

func TestNewMemoryActivityTracker_DefaultWindow(t *testing.T) {
	tracker := NewMemoryActivityTracker(0)
	if tracker.Window() != DefaultActivityWindow {
		t.Errorf("Window() = %v, want %v", tracker.Window(), DefaultActivityWindow)
	}

	tracker = NewMemoryActivityTracker(time.Hour)
	if tracker.Window() != time.Hour {
		t.Errorf("Window() = %v, want 1h", tracker.Window())
	}
}
