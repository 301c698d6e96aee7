package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "audit:repository"

// Record is a single durable entry in the RPC call audit trail.
type Record struct {
	ID         int64
	RequestID  string
	Action     string
	Version    string
	UserID     string
	Status     int
	ErrorKind  string
	DurationMs int64
	CalledAt   time.Time
}

// Repository persists and queries RPC call audit records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a Repository over the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists one audit record.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rpc_call_audit (request_id, action, version, user_id, status, error_kind, duration_ms, called_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		nullableString(rec.RequestID), rec.Action, rec.Version, nullableString(rec.UserID), rec.Status, nullableString(rec.ErrorKind), rec.DurationMs, rec.CalledAt,
	)
	if err != nil {
		return fmt.Errorf("%s - insert failed: %w", repoLogPrefix, err)
	}
	return nil
}

// ListByAction returns the most recent audit records for an action, newest first.
func (r *Repository) ListByAction(ctx context.Context, action string, limit int) ([]Record, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, request_id, action, version, user_id, status, error_kind, duration_ms, called_at
		 FROM rpc_call_audit
		 WHERE action = $1
		 ORDER BY called_at DESC
		 LIMIT $2`, action, limit)
	if err != nil {
		return nil, fmt.Errorf("%s - ListByAction failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FailureRate computes the fraction of calls to action within the lookback
// window that resulted in a non-2xx status.
func (r *Repository) FailureRate(ctx context.Context, action string, lookback time.Duration) (float64, error) {
	var total, failed int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status >= 300)
		 FROM rpc_call_audit
		 WHERE action = $1 AND called_at >= $2`,
		action, time.Now().Add(-lookback)).Scan(&total, &failed)
	if err != nil {
		return 0, fmt.Errorf("%s - FailureRate failed: %w", repoLogPrefix, err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(failed) / float64(total), nil
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		var requestID, userID, errorKind *string
		if err := rows.Scan(&rec.ID, &requestID, &rec.Action, &rec.Version, &userID, &rec.Status, &errorKind, &rec.DurationMs, &rec.CalledAt); err != nil {
			return nil, fmt.Errorf("%s - scan failed: %w", repoLogPrefix, err)
		}
		if requestID != nil {
			rec.RequestID = *requestID
		}
		if userID != nil {
			rec.UserID = *userID
		}
		if errorKind != nil {
			rec.ErrorKind = *errorKind
		}
		out = append(out, rec)
	}
	return out, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
