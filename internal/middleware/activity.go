package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clearharbor/sentinel/internal/detect"
)

// DefaultActivityWindow is the sliding window activity metrics cover.
const DefaultActivityWindow = 5 * time.Minute

// knownIPHorizon is how long a client IP stays "known" for an actor. A
// request from an IP outside this set flags the unusual-ip pattern.
const knownIPHorizon = 24 * time.Hour

// ActivityTracker accumulates per-actor request activity and serves the
// sliding-window metrics the detection rules evaluate.
type ActivityTracker interface {
	// Observe records one completed request for the actor.
	Observe(ctx context.Context, actorID, ip string, status int, duration time.Duration)

	// Snapshot returns the actor's current window metrics.
	Snapshot(ctx context.Context, actorID string) detect.ActivityMetrics

	// Window returns the tracker's sliding window size.
	Window() time.Duration
}

// isAuthFailure reports whether a status counts as a failed access attempt.
func isAuthFailure(status int) bool {
	return status == 401 || status == 403
}

// event is one observed request in the in-memory tracker.
type event struct {
	at       time.Time
	failed   bool
	isError  bool
	duration time.Duration
}

type actorActivity struct {
	events       []event
	knownIPs     map[string]time.Time
	unusualUntil time.Time
}

// MemoryActivityTracker is an in-memory ActivityTracker for single-instance
// deployments and tests. Thread-safe.
type MemoryActivityTracker struct {
	mu     sync.Mutex
	actors map[string]*actorActivity
	window time.Duration

	timeNow func() time.Time // For testability
}

// NewMemoryActivityTracker creates an in-memory tracker. A window of 0 uses
// DefaultActivityWindow.
func NewMemoryActivityTracker(window time.Duration) *MemoryActivityTracker {
	if window <= 0 {
		window = DefaultActivityWindow
	}
	return &MemoryActivityTracker{
		actors:  make(map[string]*actorActivity),
		window:  window,
		timeNow: time.Now,
	}
}

// Window returns the sliding window size.
func (t *MemoryActivityTracker) Window() time.Duration { return t.window }

// Observe records one completed request.
func (t *MemoryActivityTracker) Observe(ctx context.Context, actorID, ip string, status int, duration time.Duration) {
	if actorID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.timeNow()
	a, ok := t.actors[actorID]
	if !ok {
		a = &actorActivity{knownIPs: make(map[string]time.Time)}
		t.actors[actorID] = a
	}

	if ip != "" {
		seen, known := a.knownIPs[ip]
		if known && now.Sub(seen) > knownIPHorizon {
			known = false
		}
		// A fresh IP is only unusual once the actor has an established set.
		if !known && len(a.knownIPs) > 0 {
			a.unusualUntil = now.Add(t.window)
		}
		a.knownIPs[ip] = now
	}

	a.events = append(a.events, event{
		at:       now,
		failed:   isAuthFailure(status),
		isError:  status >= 400,
		duration: duration,
	})
	a.prune(now, t.window)
}

// Snapshot returns the actor's metrics over the current window.
func (t *MemoryActivityTracker) Snapshot(ctx context.Context, actorID string) detect.ActivityMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.actors[actorID]
	if !ok {
		return detect.ActivityMetrics{}
	}

	now := t.timeNow()
	a.prune(now, t.window)

	var m detect.ActivityMetrics
	var totalDuration time.Duration
	for _, e := range a.events {
		m.RequestCount++
		totalDuration += e.duration
		if e.isError {
			m.ErrorRate++ // running error count; normalized below
		}
		if e.failed {
			m.FailedAttempts++
		}
	}
	if m.RequestCount > 0 {
		m.ErrorRate /= float64(m.RequestCount)
		m.ResponseTimeMs = float64(totalDuration.Milliseconds()) / float64(m.RequestCount)
	}
	if now.Before(a.unusualUntil) {
		m.SuspiciousPatterns = map[string]bool{detect.PatternUnusualIP: true}
	}
	return m
}

func (a *actorActivity) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	keep := a.events[:0]
	for _, e := range a.events {
		if e.at.After(cutoff) {
			keep = append(keep, e)
		}
	}
	a.events = keep
}

// RedisActivityTracker is a Redis-backed ActivityTracker for multi-instance
// deployments: every instance sees the same per-actor window. Redis failures
// fail open to empty metrics so detection degrades instead of blocking
// requests.
type RedisActivityTracker struct {
	client  *redis.Client
	window  time.Duration
	metrics *Metrics
}

// NewRedisActivityTracker creates a Redis-backed tracker. A window of 0 uses
// DefaultActivityWindow.
func NewRedisActivityTracker(client *redis.Client, window time.Duration, metrics *Metrics) *RedisActivityTracker {
	if window <= 0 {
		window = DefaultActivityWindow
	}
	return &RedisActivityTracker{client: client, window: window, metrics: metrics}
}

// Window returns the sliding window size.
func (t *RedisActivityTracker) Window() time.Duration { return t.window }

func activityKey(actorID, field string) string {
	return fmt.Sprintf("sentinel:activity:%s:%s", actorID, field)
}

// Observe records one completed request.
func (t *RedisActivityTracker) Observe(ctx context.Context, actorID, ip string, status int, duration time.Duration) {
	if actorID == "" {
		return
	}

	ipsKey := fmt.Sprintf("sentinel:ips:%s", actorID)
	if ip != "" {
		known, err := t.client.SIsMember(ctx, ipsKey, ip).Result()
		if err != nil {
			t.failOpen(err)
		} else if !known {
			size, err := t.client.SCard(ctx, ipsKey).Result()
			if err != nil {
				t.failOpen(err)
			} else if size > 0 {
				unusualKey := activityKey(actorID, "unusual_ip")
				if err := t.client.Set(ctx, unusualKey, "1", t.window).Err(); err != nil {
					t.failOpen(err)
				}
			}
		}
	}

	pipe := t.client.Pipeline()
	reqKey := activityKey(actorID, "req")
	pipe.Incr(ctx, reqKey)
	pipe.Expire(ctx, reqKey, t.window)
	durKey := activityKey(actorID, "dur_ms")
	pipe.IncrByFloat(ctx, durKey, float64(duration.Milliseconds()))
	pipe.Expire(ctx, durKey, t.window)
	if status >= 400 {
		errKey := activityKey(actorID, "err")
		pipe.Incr(ctx, errKey)
		pipe.Expire(ctx, errKey, t.window)
	}
	if isAuthFailure(status) {
		failKey := activityKey(actorID, "fail")
		pipe.Incr(ctx, failKey)
		pipe.Expire(ctx, failKey, t.window)
	}
	if ip != "" {
		pipe.SAdd(ctx, ipsKey, ip)
		pipe.Expire(ctx, ipsKey, knownIPHorizon)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		t.failOpen(err)
	}
}

// Snapshot returns the actor's metrics over the current window.
func (t *RedisActivityTracker) Snapshot(ctx context.Context, actorID string) detect.ActivityMetrics {
	pipe := t.client.Pipeline()
	reqCmd := pipe.Get(ctx, activityKey(actorID, "req"))
	errCmd := pipe.Get(ctx, activityKey(actorID, "err"))
	failCmd := pipe.Get(ctx, activityKey(actorID, "fail"))
	durCmd := pipe.Get(ctx, activityKey(actorID, "dur_ms"))
	unusualCmd := pipe.Exists(ctx, activityKey(actorID, "unusual_ip"))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		t.failOpen(err)
		return detect.ActivityMetrics{}
	}

	var m detect.ActivityMetrics
	m.RequestCount = intResult(reqCmd)
	errorCount := intResult(errCmd)
	m.FailedAttempts = intResult(failCmd)
	if m.RequestCount > 0 {
		m.ErrorRate = float64(errorCount) / float64(m.RequestCount)
		m.ResponseTimeMs = floatResult(durCmd) / float64(m.RequestCount)
	}
	if n, err := unusualCmd.Result(); err == nil && n > 0 {
		m.SuspiciousPatterns = map[string]bool{detect.PatternUnusualIP: true}
	}
	return m
}

func (t *RedisActivityTracker) failOpen(err error) {
	if t.metrics != nil {
		t.metrics.IncActivityRedisErrors()
	}
}

func intResult(cmd *redis.StringCmd) int {
	s, err := cmd.Result()
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func floatResult(cmd *redis.StringCmd) float64 {
	s, err := cmd.Result()
	if err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
