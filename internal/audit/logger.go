package audit

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearharbor/sentinel/internal/redact"
)

// Validation errors.
var (
	ErrNilStore       = errors.New("audit store cannot be nil")
	ErrInvalidActor   = errors.New("actor id cannot be empty")
	ErrInvalidAction  = errors.New("action cannot be empty")
	ErrInvalidSubject = errors.New("resource cannot be empty")
)

// defaultVerifyWindow is how many recent entries Verify checks when the
// caller does not supply a slice.
const defaultVerifyWindow = 100

// Logger builds audit entries, maintains the hash chain, signs entries, and
// delegates persistence to a Store. A single Logger owns its chain: the
// read-lastHash / compute / append / update-lastHash sequence is a critical
// section guarded by a mutex, so concurrent Log calls cannot fork the chain.
type Logger struct {
	mu         sync.Mutex
	store      Store
	archiver   Archiver
	signingKey []byte
	metrics    *Metrics
	log        *slog.Logger

	lastHash   string
	entryCount int64

	timeNow func() time.Time // For testability
	newID   func() string
}

// LoggerConfig holds the collaborators and keys for a Logger.
type LoggerConfig struct {
	Store      Store
	SigningKey []byte   // generated when empty; required in production deployments (enforced by config)
	Archiver   Archiver // optional best-effort remote mirror
	Metrics    *Metrics // optional
	Logger     *slog.Logger
}

// NewLogger constructs the audit logger and resumes the chain from the
// store's chain metadata.
func NewLogger(ctx context.Context, cfg LoggerConfig) (*Logger, error) {
	if cfg.Store == nil {
		return nil, ErrNilStore
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.SigningKey) == 0 {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		cfg.SigningKey = key
		cfg.Logger.Warn("audit signing key generated at startup; entries from previous runs cannot be signature-checked with it")
	}

	chain, err := cfg.Store.ChainState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resume audit chain: %w", err)
	}

	return &Logger{
		store:      cfg.Store,
		archiver:   cfg.Archiver,
		signingKey: cfg.SigningKey,
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		lastHash:   chain.LastHash,
		entryCount: chain.EntryCount,
		timeNow:    time.Now,
		newID:      func() string { return uuid.New().String() },
	}, nil
}

// Log records one action in the audit trail: redacts the payload, links the
// entry to the chain head, hashes, signs, and persists. Any persistence
// failure propagates to the caller and leaves the in-memory chain head
// unchanged so a retry attaches correctly.
func (l *Logger) Log(ctx context.Context, rec Record) (*Entry, error) {
	if rec.ActorID == "" {
		return nil, ErrInvalidActor
	}
	if rec.Action == "" {
		return nil, ErrInvalidAction
	}
	if rec.Resource == "" {
		return nil, ErrInvalidSubject
	}

	l.mu.Lock()
	e, err := l.buildLocked(rec)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}

	if err := l.store.Append(ctx, e); err != nil {
		l.mu.Unlock()
		l.metrics.RecordAppendError()
		return nil, fmt.Errorf("failed to persist audit entry: %w", err)
	}

	l.lastHash = e.Hash
	l.entryCount++
	count := l.entryCount
	l.mu.Unlock()

	l.metrics.RecordAppend(e.Classification, count)

	// The mirror is a network call; it runs outside the chain critical
	// section so a slow archive endpoint never serializes appends.
	if l.archiver != nil {
		l.archive(e)
	}
	return e.Clone(), nil
}

// LogEmergencyAccess records a break-glass access event. The entry is always
// classified restricted, retained for at least ten years, and placed under
// legal hold. A logging failure here is never propagated: emergency access
// must not be blocked by an audit hiccup, so failures are surfaced to
// operational logging only. Returns the entry, or nil if logging failed.
func (l *Logger) LogEmergencyAccess(ctx context.Context, actorID, actorRole, resource, reason string, details map[string]any) *Entry {
	if details == nil {
		details = map[string]any{}
	}
	details["emergency_reason"] = reason

	e, err := l.Log(ctx, Record{
		ActorID:   actorID,
		ActorRole: actorRole,
		Action:    "emergency_access",
		Resource:  resource,
		Details:   details,
		Options: Options{
			Classification: ClassificationRestricted,
			RetentionYears: EmergencyRetentionYears,
			LegalHold:      true,
		},
	})
	if err != nil {
		l.log.Error("emergency access could not be audited",
			"actor_id", actorID,
			"resource", resource,
			"error", err)
		return nil
	}
	l.metrics.RecordEmergencyAccess()
	return e
}

// Verify checks chain continuity and hash correctness. When entries is nil it
// fetches a recent window via Search. Returns true when the chain is intact;
// on failure the offending entry is identified in the operational log.
func (l *Logger) Verify(ctx context.Context, entries []*Entry) (bool, error) {
	if entries == nil {
		found, err := l.store.Search(ctx, Query{Limit: defaultVerifyWindow})
		if err != nil {
			return false, fmt.Errorf("failed to fetch entries for verification: %w", err)
		}
		// Search returns newest-first; the chain is verified oldest-first.
		entries = make([]*Entry, len(found))
		for i, e := range found {
			entries[len(found)-1-i] = e
		}
	}

	ok, failedAt := VerifyChain(entries)
	l.metrics.RecordVerify(ok)
	if !ok {
		id := "unknown"
		if failedAt >= 0 && failedAt < len(entries) {
			id = entries[failedAt].ID
		}
		l.log.Error("audit chain verification failed",
			"entry_id", id,
			"position", failedAt,
			"entries_checked", len(entries))
		return false, nil
	}

	if err := l.store.MarkVerified(ctx, l.timeNow().UTC()); err != nil {
		// Verification succeeded; failing to record the timestamp is not
		// an integrity failure.
		l.log.Warn("failed to record verification time", "error", err)
	}
	return true, nil
}

// Search delegates to the store.
func (l *Logger) Search(ctx context.Context, q Query) ([]*Entry, error) {
	return l.store.Search(ctx, q)
}

// Export returns entries in [start, end] for compliance report generation.
func (l *Logger) Export(ctx context.Context, start, end time.Time) ([]*Entry, error) {
	return l.store.Export(ctx, start, end)
}

// ChainState exposes the chain metadata for operational surfaces.
func (l *Logger) ChainState(ctx context.Context) (ChainState, error) {
	return l.store.ChainState(ctx)
}

// buildLocked constructs a sealed entry linked to the current chain head.
// Caller must hold l.mu.
func (l *Logger) buildLocked(rec Record) (*Entry, error) {
	opts := rec.Options
	if opts.Classification == "" {
		opts.Classification = ClassificationInternal
	}
	if opts.RetentionYears <= 0 {
		opts.RetentionYears = DefaultRetentionYears
	}

	e := &Entry{
		ID:             l.newID(),
		Timestamp:      l.timeNow().UTC(),
		ActorID:        rec.ActorID,
		ActorRole:      rec.ActorRole,
		OrganizationID: opts.OrganizationID,
		SessionID:      opts.SessionID,
		Action:         rec.Action,
		Resource:       rec.Resource,
		ResourceID:     opts.ResourceID,
		Details:        redact.Map(rec.Details),
		ClientIP:       rec.ClientIP,
		UserAgent:      rec.UserAgent,
		PreviousHash:   l.lastHash,
		RetentionYears: opts.RetentionYears,
		LegalHold:      opts.LegalHold,
		Classification: opts.Classification,
	}

	hash, err := ComputeHash(e)
	if err != nil {
		return nil, err
	}
	e.Hash = hash
	e.Signature = Sign(hash, l.signingKey)
	return e, nil
}

// archive mirrors an appended entry to the remote target, best-effort.
func (l *Logger) archive(e *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := l.archiver.Archive(ctx, e); err != nil {
		l.metrics.RecordArchiveError()
		l.log.Warn("failed to mirror audit entry to archive", "entry_id", e.ID, "error", err)
	}
}
