package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"database/sql"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/streamgate/streamgate/internal/audit"
)

// Store implements audit.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite audit store at the given path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
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
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	stream_id TEXT,
	transport TEXT NOT NULL,
	operation TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	total_chunks INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL,
	detail TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.StreamID,
		rec.Transport,
		rec.Operation,
		rec.DurationMs,
		rec.TotalChunks,
		boolToInt(rec.Success),
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
	COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
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
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		var rec audit.Record
		var success int
		if err := rows.Scan(&rec.ID, &rec.StreamID, &rec.Transport, &rec.Operation, &rec.DurationMs, &rec.TotalChunks, &success, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Success = success == 1
		records = append(records, rec)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
