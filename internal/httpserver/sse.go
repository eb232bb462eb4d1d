package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamgate/streamgate/internal/producer"
	"github.com/streamgate/streamgate/internal/protocol"
	"github.com/streamgate/streamgate/internal/stream"
)

// generationRequest is the body accepted by the chat and completion
// endpoints. Stream selects SSE delivery; StreamID optionally names the
// stream so clients can correlate envelopes.
type generationRequest struct {
	Model    string             `json:"model,omitempty"`
	Messages []producer.Message `json:"messages,omitempty"`
	Prompt   string             `json:"prompt,omitempty"`
	Stream   bool               `json:"stream,omitempty"`
	StreamID string             `json:"stream_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.handleGeneration(w, r, protocol.KindChat, "chat")
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	s.handleGeneration(w, r, protocol.KindCompletion, "completion")
}

func (s *Server) handleGeneration(w http.ResponseWriter, r *http.Request, kind protocol.Kind, operation string) {
	var body generationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(body.Messages) == 0 && strings.TrimSpace(body.Prompt) == "" {
		s.respondError(w, http.StatusBadRequest, "request requires messages or prompt")
		return
	}

	id := strings.TrimSpace(body.StreamID)
	if id == "" {
		id = uuid.NewString()
	}
	req := producer.Request{Model: body.Model, Messages: body.Messages, Prompt: body.Prompt}

	if body.Stream {
		s.streamGeneration(w, r, kind, operation, id, req)
		return
	}
	s.bufferGeneration(w, r, kind, operation, id, req)
}

// streamGeneration runs a single implicit session over SSE. Client
// disconnect cancels via the request context, which is the SSE analogue of
// the socket cancel envelope.
func (s *Server) streamGeneration(w http.ResponseWriter, r *http.Request, kind protocol.Kind, operation, id string, req producer.Request) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	sink := &sseSink{w: w, flusher: flusher}
	sess := stream.NewSession(r.Context(), id, kind)

	var outcome stream.Outcome
	sess.Run(req, s.prod, sink, func(_ *stream.Session, out stream.Outcome) {
		outcome = out
	})

	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}

	s.collector.RecordChunks(outcome.Chunks)
	s.observer.ObserveTerminal("sse", operation, outcome.Duration, outcome.Terminal == protocol.KindStreamComplete)
	if s.logger != nil {
		s.logger.Printf("sse.%s stream=%s terminal=%s chunks=%d total_ms=%d",
			operation, id, outcome.Terminal, outcome.Chunks, outcome.Duration.Milliseconds())
	}
}

// bufferGeneration aggregates the full chunk sequence and responds with a
// single JSON document. The stream lifecycle runs unchanged underneath, so
// auditing and metrics see buffered requests too, labelled "http" to keep
// them apart from event-stream deliveries.
func (s *Server) bufferGeneration(w http.ResponseWriter, r *http.Request, kind protocol.Kind, operation, id string, req producer.Request) {
	sink := &collectSink{}
	sess := stream.NewSession(r.Context(), id, kind)

	var outcome stream.Outcome
	sess.Run(req, s.prod, sink, func(_ *stream.Session, out stream.Outcome) {
		outcome = out
	})

	s.collector.RecordChunks(outcome.Chunks)
	s.observer.ObserveTerminal("http", operation, outcome.Duration, outcome.Terminal == protocol.KindStreamComplete)

	switch outcome.Terminal {
	case protocol.KindStreamComplete:
		s.respondJSON(w, http.StatusOK, map[string]any{
			"id":           id,
			"model":        req.Model,
			"content":      sink.content.String(),
			"total_chunks": outcome.Chunks,
			"duration_ms":  outcome.Duration.Milliseconds(),
		})
	case protocol.KindStreamCancelled:
		// Client went away; nothing useful to write.
	default:
		s.respondError(w, http.StatusBadGateway, outcome.Err.Error())
	}
}

// sseSink delivers envelopes as SSE data events, stamping monotone
// non-decreasing timestamps.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu            sync.Mutex
	lastTimestamp int64
	failed        bool
}

func (s *sseSink) WriteEnvelope(env protocol.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}
	ts := time.Now().UnixMilli()
	if ts < s.lastTimestamp {
		ts = s.lastTimestamp
	}
	s.lastTimestamp = ts
	env.Timestamp = ts

	if _, err := io.WriteString(s.w, "data: "); err != nil {
		s.failed = true
		return
	}
	if _, err := s.w.Write(protocol.Encode(env)); err != nil {
		s.failed = true
		return
	}
	if _, err := io.WriteString(s.w, "\n\n"); err != nil {
		s.failed = true
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// collectSink accumulates chunk deltas for buffered responses.
type collectSink struct {
	content strings.Builder
}

func (c *collectSink) WriteEnvelope(env protocol.Envelope) {
	if env.Kind != protocol.KindChatChunk && env.Kind != protocol.KindCompletionChunk {
		return
	}
	var payload protocol.ChunkPayload
	if err := protocol.DecodePayload(env, &payload); err != nil {
		return
	}
	c.content.WriteString(payload.Delta)
}
