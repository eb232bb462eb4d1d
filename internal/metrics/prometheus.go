package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats a snapshot in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP relay_uptime_seconds Time since the relay started\n")
	sb.WriteString("# TYPE relay_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("relay_uptime_seconds %d\n", snap.Uptime))
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_streams_total Terminated streams by transport and operation\n")
	sb.WriteString("# TYPE relay_streams_total counter\n")
	for _, key := range sortedKeys(snap.StreamsTotal) {
		transport, operation := splitKey(key)
		sb.WriteString(fmt.Sprintf("relay_streams_total{transport=%q,operation=%q} %d\n", transport, operation, snap.StreamsTotal[key]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_streams_failed_total Streams that ended cancelled or errored\n")
	sb.WriteString("# TYPE relay_streams_failed_total counter\n")
	for _, key := range sortedKeys(snap.StreamsFailed) {
		transport, operation := splitKey(key)
		sb.WriteString(fmt.Sprintf("relay_streams_failed_total{transport=%q,operation=%q} %d\n", transport, operation, snap.StreamsFailed[key]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_stream_duration_ms_total Total stream duration in milliseconds\n")
	sb.WriteString("# TYPE relay_stream_duration_ms_total counter\n")
	for _, key := range sortedKeys(snap.StreamDurations) {
		transport, operation := splitKey(key)
		sb.WriteString(fmt.Sprintf("relay_stream_duration_ms_total{transport=%q,operation=%q} %d\n", transport, operation, snap.StreamDurations[key]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_connections_opened_total Connections accepted by transport\n")
	sb.WriteString("# TYPE relay_connections_opened_total counter\n")
	for _, transport := range sortedKeys(snap.ConnectionsOpened) {
		sb.WriteString(fmt.Sprintf("relay_connections_opened_total{transport=%q} %d\n", transport, snap.ConnectionsOpened[transport]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_connections_active Currently open connections by transport\n")
	sb.WriteString("# TYPE relay_connections_active gauge\n")
	for _, transport := range sortedKeys(snap.ConnectionsActive) {
		sb.WriteString(fmt.Sprintf("relay_connections_active{transport=%q} %d\n", transport, snap.ConnectionsActive[transport]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_chunks_delivered_total Chunk envelopes delivered to clients\n")
	sb.WriteString("# TYPE relay_chunks_delivered_total counter\n")
	sb.WriteString(fmt.Sprintf("relay_chunks_delivered_total %d\n", snap.ChunksDelivered))

	return sb.String()
}

func splitKey(key string) (transport, operation string) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 {
		return key, ""
	}
	return parts[0], parts[1]
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
