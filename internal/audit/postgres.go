package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// PostgresStore implements Store on PostgreSQL. Unlike the file store it is
// safe for multiple concurrent writer processes: Append re-reads the chain
// head inside a transaction with a row lock, so the database, not in-process
// state, is the source of truth for the last hash.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a Postgres-backed audit store.
// The schema is managed by the migrations under migrations/.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// Append persists one entry inside a transaction that locks the chain row,
// validates linkage, inserts the entry, and advances the chain metadata.
func (s *PostgresStore) Append(ctx context.Context, e *Entry) error {
	if e == nil {
		return ErrNilEntry
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// No-op after a successful commit.
	defer func() { _ = tx.Rollback() }()

	var lastHash string
	var entryCount int64
	var chainStart sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT last_hash, entry_count, chain_start_time FROM audit_chain WHERE id = 1 FOR UPDATE`,
	).Scan(&lastHash, &entryCount, &chainStart)
	if err != nil {
		return fmt.Errorf("failed to lock chain row: %w", err)
	}

	if e.PreviousHash != lastHash {
		return ErrChainConflict
	}

	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to serialize entry details: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_entries (
			id, ts, actor_id, actor_role, organization_id, session_id,
			action, resource, resource_id, details, client_ip, user_agent,
			hash, previous_hash, signature, retention_years, legal_hold, classification
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		e.ID, e.Timestamp.UTC(), e.ActorID, e.ActorRole, nullable(e.OrganizationID), nullable(e.SessionID),
		e.Action, e.Resource, nullable(e.ResourceID), details, nullable(e.ClientIP), nullable(e.UserAgent),
		e.Hash, e.PreviousHash, nullable(e.Signature), e.RetentionYears, e.LegalHold, string(e.Classification),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	start := e.Timestamp.UTC()
	if chainStart.Valid {
		start = chainStart.Time
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE audit_chain SET last_hash = $1, entry_count = $2, chain_start_time = $3 WHERE id = 1`,
		e.Hash, entryCount+1, start,
	)
	if err != nil {
		return fmt.Errorf("failed to advance chain metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit entry: %w", err)
	}
	return nil
}

// Search returns matching entries, newest-first.
func (s *PostgresStore) Search(ctx context.Context, q Query) ([]*Entry, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, strings.Replace(condition, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if q.ActorID != "" {
		add("actor_id = ?", q.ActorID)
	}
	if q.Action != "" {
		add("action = ?", q.Action)
	}
	if q.Resource != "" {
		add("resource ILIKE ?", "%"+q.Resource+"%")
	}
	if q.OrganizationID != "" {
		add("organization_id = ?", q.OrganizationID)
	}
	if !q.Start.IsZero() {
		add("ts >= ?", q.Start.UTC())
	}
	if !q.End.IsZero() {
		add("ts <= ?", q.End.UTC())
	}

	query := `SELECT id, ts, actor_id, actor_role, organization_id, session_id,
		action, resource, resource_id, details, client_ip, user_agent,
		hash, previous_hash, signature, retention_years, legal_hold, classification
		FROM audit_entries`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	var results []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}
	return results, nil
}

// Export returns entries within the time range, newest-first.
func (s *PostgresStore) Export(ctx context.Context, start, end time.Time) ([]*Entry, error) {
	return s.Search(ctx, Query{Start: start, End: end})
}

// ChainState returns the chain metadata row.
func (s *PostgresStore) ChainState(ctx context.Context) (ChainState, error) {
	var chain ChainState
	var chainStart, lastVerified sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT last_hash, entry_count, chain_start_time, last_verified_at FROM audit_chain WHERE id = 1`,
	).Scan(&chain.LastHash, &chain.EntryCount, &chainStart, &lastVerified)
	if err != nil {
		return ChainState{}, fmt.Errorf("failed to read chain metadata: %w", err)
	}
	if chainStart.Valid {
		chain.ChainStartTime = chainStart.Time
	}
	if lastVerified.Valid {
		chain.LastVerifiedAt = lastVerified.Time
	}
	return chain, nil
}

// MarkVerified records the last successful verification time.
func (s *PostgresStore) MarkVerified(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_chain SET last_verified_at = $1 WHERE id = 1`, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to record verification time: %w", err)
	}
	return nil
}

// scanEntry reads one audit_entries row.
func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e              Entry
		orgID          sql.NullString
		sessionID      sql.NullString
		resourceID     sql.NullString
		clientIP       sql.NullString
		userAgent      sql.NullString
		signature      sql.NullString
		details        []byte
		classification string
	)
	err := rows.Scan(
		&e.ID, &e.Timestamp, &e.ActorID, &e.ActorRole, &orgID, &sessionID,
		&e.Action, &e.Resource, &resourceID, &details, &clientIP, &userAgent,
		&e.Hash, &e.PreviousHash, &signature, &e.RetentionYears, &e.LegalHold, &classification,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	e.Timestamp = e.Timestamp.UTC()
	e.OrganizationID = orgID.String
	e.SessionID = sessionID.String
	e.ResourceID = resourceID.String
	e.ClientIP = clientIP.String
	e.UserAgent = userAgent.String
	e.Signature = signature.String
	e.Classification = Classification(classification)

	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("corrupt details payload for entry %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

// nullable maps "" to NULL for optional text columns.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
