// Package audit persists a durable record of RPC calls (who called what,
// when, with what result) over a pgx pool.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const poolLogPrefix = "audit:pool"

// NewPool creates a new pgx connection pool from the given database URL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - connecting to audit database", poolLogPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", poolLogPrefix, err)
	}
	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", poolLogPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", poolLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - audit database connection established", poolLogPrefix))
	return pool, nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS rpc_call_audit (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT,
	action TEXT NOT NULL,
	version TEXT NOT NULL,
	user_id TEXT,
	status INT NOT NULL,
	error_kind TEXT,
	duration_ms BIGINT NOT NULL,
	called_at TIMESTAMPTZ NOT NULL
)`

const createIndexSQL = `
CREATE INDEX IF NOT EXISTS rpc_call_audit_action_idx ON rpc_call_audit (action, called_at DESC)`

// EnsureSchema creates the audit table and supporting index if absent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("%s - failed to create rpc_call_audit table: %w", poolLogPrefix, err)
	}
	if _, err := pool.Exec(ctx, createIndexSQL); err != nil {
		return fmt.Errorf("%s - failed to create rpc_call_audit index: %w", poolLogPrefix, err)
	}
	return nil
}
