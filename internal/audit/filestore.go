package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// dayFilePrefix and dayFileSuffix bound the append-only per-day record
	// streams, e.g. "entries-2026-08-24.jsonl".
	dayFilePrefix = "entries-"
	dayFileSuffix = ".jsonl"
	// chainFileName holds the chain metadata record, rewritten after every append.
	chainFileName = "chain.json"

	dayLayout = "2006-01-02"
)

// FileStore is the local reference Store: one append-only JSONL stream per
// UTC calendar day plus a separate chain metadata record. Appends are fsynced
// before the chain record is advanced, so a crash never acknowledges an entry
// that is not on disk. Single-writer: serialize multi-process deployments
// through the Postgres store instead.
type FileStore struct {
	mu    sync.Mutex
	dir   string
	chain ChainState
}

// NewFileStore opens (creating if absent) a file-backed audit store rooted at
// dir and resumes the chain from the metadata record when one exists.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit storage directory: %w", err)
	}

	s := &FileStore{dir: dir}

	data, err := os.ReadFile(filepath.Join(dir, chainFileName))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s.chain); err != nil {
			return nil, fmt.Errorf("corrupt chain metadata record: %w", err)
		}
	case os.IsNotExist(err):
		// Fresh store.
	default:
		return nil, fmt.Errorf("failed to read chain metadata record: %w", err)
	}

	return s, nil
}

// Append persists one entry to its UTC day file and advances the chain record.
func (s *FileStore) Append(ctx context.Context, e *Entry) error {
	if e == nil {
		return ErrNilEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.PreviousHash != s.chain.LastHash {
		return ErrChainConflict
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize audit entry: %w", err)
	}

	path := s.dayFilePath(e.Timestamp)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open day file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit entry: %w", err)
	}

	next := s.chain
	next.LastHash = e.Hash
	next.EntryCount++
	if next.ChainStartTime.IsZero() {
		next.ChainStartTime = e.Timestamp
	}
	if err := s.writeChainLocked(next); err != nil {
		return err
	}
	s.chain = next
	return nil
}

// Search scans the day files intersecting the query's time range and returns
// matching entries newest-first.
func (s *FileStore) Search(ctx context.Context, q Query) ([]*Entry, error) {
	days, err := s.dayFiles(q.Start, q.End)
	if err != nil {
		return nil, err
	}

	var results []*Entry
	// Walk days newest-first so equal timestamps keep newest-first order.
	for i := len(days) - 1; i >= 0; i-- {
		entries, err := s.readDayFile(days[i])
		if err != nil {
			return nil, err
		}
		for j := len(entries) - 1; j >= 0; j-- {
			if q.Matches(entries[j]) {
				results = append(results, entries[j])
			}
		}
	}
	sortNewestFirst(results)
	return applyLimit(results, q.Limit), nil
}

// Export returns entries within the time range, newest-first.
func (s *FileStore) Export(ctx context.Context, start, end time.Time) ([]*Entry, error) {
	return s.Search(ctx, Query{Start: start, End: end})
}

// ChainState returns the chain metadata record.
func (s *FileStore) ChainState(ctx context.Context) (ChainState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain, nil
}

// MarkVerified records the last successful verification time in the chain record.
func (s *FileStore) MarkVerified(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.chain
	next.LastVerifiedAt = at
	if err := s.writeChainLocked(next); err != nil {
		return err
	}
	s.chain = next
	return nil
}

// writeChainLocked rewrites the chain metadata record atomically
// (temp file + rename). Caller must hold s.mu.
func (s *FileStore) writeChainLocked(chain ChainState) error {
	data, err := json.MarshalIndent(chain, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize chain metadata: %w", err)
	}

	tmp := filepath.Join(s.dir, chainFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write chain metadata: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, chainFileName)); err != nil {
		return fmt.Errorf("failed to replace chain metadata: %w", err)
	}
	return nil
}

func (s *FileStore) dayFilePath(ts time.Time) string {
	name := dayFilePrefix + ts.UTC().Format(dayLayout) + dayFileSuffix
	return filepath.Join(s.dir, name)
}

// dayFiles lists day file paths sorted ascending by date, restricted to the
// [start, end] range when either bound is set.
func (s *FileStore) dayFiles(start, end time.Time) ([]string, error) {
	names, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit storage directory: %w", err)
	}

	var files []string
	for _, entry := range names {
		name := entry.Name()
		if !strings.HasPrefix(name, dayFilePrefix) || !strings.HasSuffix(name, dayFileSuffix) {
			continue
		}
		dayStr := strings.TrimSuffix(strings.TrimPrefix(name, dayFilePrefix), dayFileSuffix)
		day, err := time.Parse(dayLayout, dayStr)
		if err != nil {
			continue
		}
		if !start.IsZero() && day.Before(start.UTC().Truncate(24*time.Hour)) {
			continue
		}
		if !end.IsZero() && day.After(end.UTC()) {
			continue
		}
		files = append(files, filepath.Join(s.dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// readDayFile parses one JSONL day file in append order.
func (s *FileStore) readDayFile(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open day file %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var entries []*Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("corrupt audit record in %s: %w", filepath.Base(path), err)
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read day file %s: %w", filepath.Base(path), err)
	}
	return entries, nil
}
