package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/streamgate/streamgate/internal/audit"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndSummary(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	records := []audit.Record{
		{StreamID: "a1", Transport: "socket", Operation: "chat", DurationMs: 120, TotalChunks: 4, Success: true},
		{StreamID: "a2", Transport: "socket", Operation: "chat", DurationMs: 30, Success: false, Detail: "producer error"},
		{StreamID: "b1", Transport: "sse", Operation: "completion", DurationMs: 55, TotalChunks: 2, Success: true},
	}
	for _, rec := range records {
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	summary, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Total != 3 || summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.TotalDurationMs != 205 {
		t.Fatalf("duration sum = %d", summary.TotalDurationMs)
	}
}

func TestListRecent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := audit.Record{
			StreamID:  "s",
			Transport: "socket",
			Operation: "chat",
			Success:   true,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if !recent[0].CreatedAt.After(recent[1].CreatedAt) {
		t.Fatalf("records not in reverse chronological order")
	}
}

func TestRecordValidation(t *testing.T) {
	store := openStore(t)
	if err := store.Record(context.Background(), audit.Record{}); err == nil {
		t.Fatalf("expected error for empty record")
	}
}
