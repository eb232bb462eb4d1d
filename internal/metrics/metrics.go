// Package metrics collects relay counters and exports them in Prometheus
// text format.
package metrics

import (
	"sync"
	"time"
)

// Collector aggregates per-transport and per-operation stream metrics. It is
// the in-process implementation of the terminal observer contract: updates
// are cheap, mutex-guarded map increments that can never fail.
type Collector struct {
	mu sync.RWMutex

	// Terminal stream metrics, keyed "transport/operation".
	streamsTotal    map[string]int64
	streamsFailed   map[string]int64
	streamDurations map[string]int64 // total duration in ms

	// Connection metrics by transport.
	connectionsOpened map[string]int64
	connectionsActive map[string]int64

	chunksDelivered int64

	startTime time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		streamsTotal:      make(map[string]int64),
		streamsFailed:     make(map[string]int64),
		streamDurations:   make(map[string]int64),
		connectionsOpened: make(map[string]int64),
		connectionsActive: make(map[string]int64),
		startTime:         time.Now(),
	}
}

// ObserveTerminal records one finished stream. Called after every terminal
// envelope regardless of outcome.
func (c *Collector) ObserveTerminal(transport, operation string, duration time.Duration, success bool) {
	key := transport + "/" + operation
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamsTotal[key]++
	c.streamDurations[key] += duration.Milliseconds()
	if !success {
		c.streamsFailed[key]++
	}
}

// RecordChunks adds delivered chunk counts.
func (c *Collector) RecordChunks(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunksDelivered += int64(n)
}

// ConnectionOpened tracks a new physical connection.
func (c *Collector) ConnectionOpened(transport string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionsOpened[transport]++
	c.connectionsActive[transport]++
}

// ConnectionClosed tracks a connection teardown.
func (c *Collector) ConnectionClosed(transport string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectionsActive[transport] > 0 {
		c.connectionsActive[transport]--
	}
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime            int64
	StreamsTotal      map[string]int64
	StreamsFailed     map[string]int64
	StreamDurations   map[string]int64
	ConnectionsOpened map[string]int64
	ConnectionsActive map[string]int64
	ChunksDelivered   int64
}

// GetSnapshot returns a copy of the current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Uptime:            int64(time.Since(c.startTime).Seconds()),
		StreamsTotal:      copyMap(c.streamsTotal),
		StreamsFailed:     copyMap(c.streamsFailed),
		StreamDurations:   copyMap(c.streamDurations),
		ConnectionsOpened: copyMap(c.connectionsOpened),
		ConnectionsActive: copyMap(c.connectionsActive),
		ChunksDelivered:   c.chunksDelivered,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
