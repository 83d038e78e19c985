// Package db provides database connection handling and schema setup for Sentinel.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	// maxOpenConns bounds the pool; audit writes serialize on the chain row
	// anyway, so a large pool only adds lock contention.
	maxOpenConns = 25
	maxIdleConns = 5
	connLifetime = 5 * time.Minute
)

// Schema is the audit storage schema. It is idempotent and matches the SQL
// migration under migrations/; Migrate applies it for deployments that do not
// run a migration tool.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id              UUID PRIMARY KEY,
    ts              TIMESTAMPTZ NOT NULL,
    actor_id        TEXT NOT NULL,
    actor_role      TEXT NOT NULL,
    organization_id TEXT,
    session_id      TEXT,
    action          TEXT NOT NULL,
    resource        TEXT NOT NULL,
    resource_id     TEXT,
    details         JSONB,
    client_ip       TEXT,
    user_agent      TEXT,
    hash            TEXT NOT NULL,
    previous_hash   TEXT NOT NULL,
    signature       TEXT,
    retention_years INTEGER NOT NULL DEFAULT 7,
    legal_hold      BOOLEAN NOT NULL DEFAULT FALSE,
    classification  TEXT NOT NULL DEFAULT 'internal'
);

CREATE INDEX IF NOT EXISTS idx_audit_entries_ts ON audit_entries (ts DESC);
CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries (actor_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries (action, ts DESC);
CREATE INDEX IF NOT EXISTS idx_audit_entries_org ON audit_entries (organization_id, ts DESC);

CREATE TABLE IF NOT EXISTS audit_chain (
    id               INTEGER PRIMARY KEY CHECK (id = 1),
    last_hash        TEXT NOT NULL DEFAULT '',
    entry_count      BIGINT NOT NULL DEFAULT 0,
    chain_start_time TIMESTAMPTZ,
    last_verified_at TIMESTAMPTZ
);

INSERT INTO audit_chain (id) VALUES (1) ON CONFLICT (id) DO NOTHING;
`

// Open connects to PostgreSQL, configures the pool, and verifies the
// connection before returning.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	pool, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pool.SetMaxOpenConns(maxOpenConns)
	pool.SetMaxIdleConns(maxIdleConns)
	pool.SetConnMaxLifetime(connLifetime)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// Migrate applies the audit schema. Safe to call on every startup.
func Migrate(ctx context.Context, pool *sql.DB) error {
	if _, err := pool.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply audit schema: %w", err)
	}
	return nil
}
