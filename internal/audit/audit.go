// Package audit persists a record for every terminated stream so operators
// can account for relay usage after the fact.
package audit

import (
	"context"
	"time"
)

// Record is a single terminal-stream entry written to the audit store.
type Record struct {
	ID          int64     `json:"id"`
	StreamID    string    `json:"stream_id,omitempty"`
	Transport   string    `json:"transport"`
	Operation   string    `json:"operation"`
	DurationMs  int64     `json:"duration_ms"`
	TotalChunks int       `json:"total_chunks"`
	Success     bool      `json:"success"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary aggregates terminal outcomes across the store.
type Summary struct {
	Total           int64 `json:"total"`
	Succeeded       int64 `json:"succeeded"`
	Failed          int64 `json:"failed"`
	TotalDurationMs int64 `json:"total_duration_ms"`
}

// Store defines persistence behaviour for audit records.
type Store interface {
	Record(ctx context.Context, rec Record) error
	ListRecent(ctx context.Context, limit int) ([]Record, error)
	Summary(ctx context.Context) (Summary, error)
	Close() error
}

// Observer adapts a Store to the terminal call-out contract. Failures are
// swallowed: auditing is best-effort and never affects the protocol.
type Observer struct {
	store Store
}

// NewObserver wraps a store; store may be nil, making the observer a no-op.
func NewObserver(store Store) *Observer {
	return &Observer{store: store}
}

// ObserveTerminal records one terminated stream, ignoring storage errors.
func (o *Observer) ObserveTerminal(transport, operation string, duration time.Duration, success bool) {
	if o.store == nil {
		return
	}
	_ = o.store.Record(context.Background(), Record{
		Transport:  transport,
		Operation:  operation,
		DurationMs: duration.Milliseconds(),
		Success:    success,
	})
}
