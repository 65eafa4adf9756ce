package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tokligence/tokligence-report-proxy/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// PoolConfig tunes the connection pool. Zero values keep database/sql defaults.
type PoolConfig struct {
	MaxOpen         int
	MaxIdle         int
	LifetimeMinutes int
	IdleTimeMinutes int
}

// New opens a PostgreSQL-backed ledger store using the provided DSN and connection pool settings.
func New(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.LifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(pool.LifetimeMinutes) * time.Minute)
	}
	if pool.IdleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(pool.IdleTimeMinutes) * time.Minute)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS report_entries (
	id UUID PRIMARY KEY,
	request_id TEXT,
	endpoint TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	upstream_status INTEGER NOT NULL DEFAULT 0,
	items INTEGER NOT NULL DEFAULT 0,
	report_chars BIGINT NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	client_ip TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_report_entries_created ON report_entries(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_report_entries_outcome_created ON report_entries(outcome, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PingContext checks the database connection.
func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if err := ledger.Normalize(&entry); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO report_entries(id, request_id, endpoint, model, outcome, upstream_status, items, report_chars, duration_ms, client_ip, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID,
		nullIfEmpty(entry.RequestID),
		entry.Endpoint,
		entry.Model,
		string(entry.Outcome),
		entry.UpstreamStatus,
		entry.Items,
		entry.ReportChars,
		entry.DurationMs,
		nullIfEmpty(entry.ClientIP),
		entry.CreatedAt,
	)
	return err
}

// Summary aggregates entries created at or after since.
func (s *Store) Summary(ctx context.Context, since time.Time) (ledger.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT outcome, COUNT(*), COALESCE(SUM(report_chars), 0), COALESCE(SUM(duration_ms), 0)
FROM report_entries
WHERE created_at >= $1
GROUP BY outcome`, since)
	if err != nil {
		return ledger.Summary{}, err
	}
	defer rows.Close()

	acc := ledger.NewSummaryBuilder()
	for rows.Next() {
		var outcome string
		var count, chars, duration int64
		if err := rows.Scan(&outcome, &count, &chars, &duration); err != nil {
			return ledger.Summary{}, err
		}
		acc.Add(ledger.Outcome(outcome), count, chars, duration)
	}
	if err := rows.Err(); err != nil {
		return ledger.Summary{}, err
	}
	return acc.Summary(), nil
}

// ListRecent returns the latest entries.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id::text, COALESCE(request_id, ''), endpoint, model, outcome, upstream_status, items, report_chars, duration_ms, COALESCE(client_ip, ''), created_at
FROM report_entries
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var outcome string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Endpoint, &e.Model, &outcome, &e.UpstreamStatus, &e.Items, &e.ReportChars, &e.DurationMs, &e.ClientIP, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Outcome = ledger.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
