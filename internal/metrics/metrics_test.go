package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestCollectorObserveTerminal(t *testing.T) {
	c := NewCollector()
	c.ObserveTerminal("socket", "chat", 120*time.Millisecond, true)
	c.ObserveTerminal("socket", "chat", 80*time.Millisecond, false)
	c.ObserveTerminal("sse", "completion", 10*time.Millisecond, true)

	snap := c.GetSnapshot()
	if snap.StreamsTotal["socket/chat"] != 2 {
		t.Fatalf("streams total = %d", snap.StreamsTotal["socket/chat"])
	}
	if snap.StreamsFailed["socket/chat"] != 1 {
		t.Fatalf("streams failed = %d", snap.StreamsFailed["socket/chat"])
	}
	if snap.StreamDurations["socket/chat"] != 200 {
		t.Fatalf("durations = %d", snap.StreamDurations["socket/chat"])
	}
	if snap.StreamsTotal["sse/completion"] != 1 {
		t.Fatalf("sse total = %d", snap.StreamsTotal["sse/completion"])
	}
}

func TestCollectorConnections(t *testing.T) {
	c := NewCollector()
	c.ConnectionOpened("socket")
	c.ConnectionOpened("socket")
	c.ConnectionClosed("socket")
	snap := c.GetSnapshot()
	if snap.ConnectionsOpened["socket"] != 2 || snap.ConnectionsActive["socket"] != 1 {
		t.Fatalf("unexpected connection counts %+v", snap)
	}
	// Never goes negative.
	c.ConnectionClosed("socket")
	c.ConnectionClosed("socket")
	if c.GetSnapshot().ConnectionsActive["socket"] != 0 {
		t.Fatalf("active count went negative")
	}
}

func TestFormatPrometheus(t *testing.T) {
	c := NewCollector()
	c.ObserveTerminal("socket", "chat", 50*time.Millisecond, true)
	c.ConnectionOpened("socket")
	c.RecordChunks(7)

	out := FormatPrometheus(c.GetSnapshot())
	for _, want := range []string{
		`relay_streams_total{transport="socket",operation="chat"} 1`,
		`relay_connections_active{transport="socket"} 1`,
		"relay_chunks_delivered_total 7",
		"# TYPE relay_uptime_seconds gauge",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}
