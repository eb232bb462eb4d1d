package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/streamgate/streamgate/internal/audit"
)

// Store implements audit.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed audit store using the provided DSN and
// connection pool settings.
func New(dsn string, maxOpen, maxIdle int, lifetime, idleTime time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetime > 0 {
		db.SetConnMaxLifetime(lifetime)
	}
	if idleTime > 0 {
		db.SetConnMaxIdleTime(idleTime)
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
CREATE TABLE IF NOT EXISTS stream_records (
	id BIGSERIAL PRIMARY KEY,
	stream_id TEXT,
	transport TEXT NOT NULL,
	operation TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	total_chunks INTEGER NOT NULL DEFAULT 0,
	success BOOLEAN NOT NULL,
	detail TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_stream_records_created ON stream_records(created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new stream record.
func (s *Store) Record(ctx context.Context, rec audit.Record) error {
	if strings.TrimSpace(rec.Transport) == "" || strings.TrimSpace(rec.Operation) == "" {
		return errors.New("audit record requires transport and operation")
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO stream_records(stream_id, transport, operation, duration_ms, total_chunks, success, detail, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.StreamID,
		rec.Transport,
		rec.Operation,
		rec.DurationMs,
		rec.TotalChunks,
		rec.Success,
		rec.Detail,
		created,
	)
	return err
}

// Summary returns aggregated terminal outcomes.
func (s *Store) Summary(ctx context.Context) (audit.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(duration_ms), 0)
FROM stream_records`)

	var summary audit.Summary
	if err := row.Scan(&summary.Total, &summary.Succeeded, &summary.TotalDurationMs); err != nil {
		return audit.Summary{}, err
	}
	summary.Failed = summary.Total - summary.Succeeded
	return summary, nil
}

// ListRecent returns the latest records.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, stream_id, transport, operation, duration_ms, total_chunks, success, detail, created_at
FROM stream_records
ORDER BY created_at DESC, id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		var rec audit.Record
		if err := rows.Scan(&rec.ID, &rec.StreamID, &rec.Transport, &rec.Operation, &rec.DurationMs, &rec.TotalChunks, &rec.Success, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
