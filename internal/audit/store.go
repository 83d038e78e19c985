package audit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store errors.
var (
	// ErrNilEntry is returned when a nil entry is appended.
	ErrNilEntry = errors.New("audit entry cannot be nil")
	// ErrChainConflict is returned when an entry's PreviousHash does not
	// match the store's current chain head. It indicates two writers racing
	// on the same chain.
	ErrChainConflict = errors.New("entry previous hash does not match chain head")
)

// Store is the pluggable persistence contract for audit entries. Appends are
// durable and never silently dropped: any failure propagates to the caller.
// There is no update or delete operation.
type Store interface {
	// Append durably persists one entry and advances the chain metadata.
	// Returns ErrChainConflict if the entry does not extend the current chain.
	Append(ctx context.Context, e *Entry) error

	// Search returns entries matching the query, newest-first,
	// honoring Query.Limit.
	Search(ctx context.Context, q Query) ([]*Entry, error)

	// Export returns entries in [start, end], newest-first. Used for
	// compliance report generation.
	Export(ctx context.Context, start, end time.Time) ([]*Entry, error)

	// ChainState returns the current chain metadata so a new writer can
	// resume the chain without re-reading history.
	ChainState(ctx context.Context) (ChainState, error)

	// MarkVerified records the time of the last successful chain verification.
	MarkVerified(ctx context.Context, at time.Time) error
}

// containsFold is a case-insensitive substring match used by resource filters.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// sortNewestFirst orders entries by timestamp descending. Entries with equal
// timestamps keep their relative append order reversed, which matches the
// newest-first contract for same-instant writes.
func sortNewestFirst(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}

// applyLimit truncates a newest-first result set to q.Limit when set.
func applyLimit(entries []*Entry, limit int) []*Entry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

// MemoryStore is an in-memory Store used for testing and development.
// Thread-safe via RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	chain   ChainState
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append persists one entry and advances the chain metadata.
func (s *MemoryStore) Append(ctx context.Context, e *Entry) error {
	if e == nil {
		return ErrNilEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.PreviousHash != s.chain.LastHash {
		return ErrChainConflict
	}

	stored := e.Clone()
	s.entries = append(s.entries, stored)

	s.chain.LastHash = stored.Hash
	s.chain.EntryCount++
	if s.chain.ChainStartTime.IsZero() {
		s.chain.ChainStartTime = stored.Timestamp
	}
	return nil
}

// Search returns matching entries, newest-first.
func (s *MemoryStore) Search(ctx context.Context, q Query) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Entry
	// Iterate in reverse append order so equal timestamps come out newest-first.
	for i := len(s.entries) - 1; i >= 0; i-- {
		if q.Matches(s.entries[i]) {
			results = append(results, s.entries[i].Clone())
		}
	}
	sortNewestFirst(results)
	return applyLimit(results, q.Limit), nil
}

// Export returns entries within the time range, newest-first.
func (s *MemoryStore) Export(ctx context.Context, start, end time.Time) ([]*Entry, error) {
	return s.Search(ctx, Query{Start: start, End: end})
}

// ChainState returns the current chain metadata.
func (s *MemoryStore) ChainState(ctx context.Context) (ChainState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain, nil
}

// MarkVerified records the last successful verification time.
func (s *MemoryStore) MarkVerified(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain.LastVerifiedAt = at
	return nil
}
