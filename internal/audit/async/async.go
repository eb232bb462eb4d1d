// Package async wraps an audit store with buffered background writes so that
// stream termination never blocks on storage latency.
package async

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/streamgate/streamgate/internal/audit"
)

// Store queues records in memory and flushes them to the underlying store in
// batches. Records may be lost if the process crashes before a flush.
type Store struct {
	underlying    audit.Store
	recordChan    chan audit.Record
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
	logger        *log.Logger
}

// Config controls batching behaviour.
type Config struct {
	BatchSize     int           // maximum records per flush (default 100)
	FlushInterval time.Duration // maximum time between flushes (default 1s)
	ChannelBuffer int           // queue capacity (default 1000)
	Logger        *log.Logger   // optional diagnostics
}

// New wraps an existing audit store with async batch writing.
func New(underlying audit.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 1000
	}

	s := &Store{
		underlying:    underlying,
		recordChan:    make(chan audit.Record, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		stopChan:      make(chan struct{}),
		logger:        cfg.Logger,
	}
	s.wg.Add(1)
	go s.batchWriter()
	return s
}

func (s *Store) batchWriter() {
	defer s.wg.Done()

	batch := make([]audit.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx := context.Background()
		for _, rec := range batch {
			if err := s.underlying.Record(ctx, rec); err != nil && s.logger != nil {
				s.logger.Printf("[async-audit] write failed: %v", err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.recordChan:
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-s.stopChan:
			// Drain whatever is still queued before returning.
			close(s.recordChan)
			for rec := range s.recordChan {
				batch = append(batch, rec)
				if len(batch) >= s.batchSize {
					flush()
				}
			}
			flush()
			return
		}
	}
}

// Record queues a record without blocking. A full queue drops the record.
func (s *Store) Record(ctx context.Context, rec audit.Record) error {
	select {
	case s.recordChan <- rec:
		return nil
	default:
		if s.logger != nil {
			s.logger.Printf("[async-audit] WARNING: queue full, dropping record")
		}
		return nil
	}
}

// Summary delegates to the underlying store.
func (s *Store) Summary(ctx context.Context) (audit.Summary, error) {
	return s.underlying.Summary(ctx)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Record, error) {
	return s.underlying.ListRecent(ctx, limit)
}

// Close flushes remaining records and closes the underlying store.
func (s *Store) Close() error {
	close(s.stopChan)
	s.wg.Wait()
	return s.underlying.Close()
}
