package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/streamgate/streamgate/internal/audit"
)

type memStore struct {
	mu      sync.Mutex
	records []audit.Record
	closed  bool
}

func (m *memStore) Record(_ context.Context, rec audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) ListRecent(_ context.Context, limit int) ([]audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]audit.Record, limit)
	copy(out, m.records[len(m.records)-limit:])
	return out, nil
}

func (m *memStore) Summary(_ context.Context) (audit.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := audit.Summary{Total: int64(len(m.records))}
	for _, rec := range m.records {
		if rec.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.TotalDurationMs += rec.DurationMs
	}
	return s, nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func TestCloseFlushesQueued(t *testing.T) {
	mem := &memStore{}
	store := New(mem, Config{BatchSize: 100, FlushInterval: time.Hour})

	for i := 0; i < 10; i++ {
		if err := store.Record(context.Background(), audit.Record{Transport: "socket", Operation: "chat", Success: true}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := mem.count(); got != 10 {
		t.Fatalf("expected 10 flushed records, got %d", got)
	}
	if !mem.closed {
		t.Fatalf("underlying store not closed")
	}
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	mem := &memStore{}
	store := New(mem, Config{BatchSize: 3, FlushInterval: time.Hour})
	defer store.Close()

	for i := 0; i < 3; i++ {
		_ = store.Record(context.Background(), audit.Record{Transport: "sse", Operation: "completion"})
	}

	deadline := time.After(2 * time.Second)
	for mem.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("batch never flushed, have %d records", mem.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDelegatesReads(t *testing.T) {
	mem := &memStore{}
	store := New(mem, Config{})

	_ = store.Record(context.Background(), audit.Record{Transport: "socket", Operation: "chat", Success: true, DurationMs: 40})
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	summary, err := mem.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Total != 1 || summary.Succeeded != 1 || summary.TotalDurationMs != 40 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}
