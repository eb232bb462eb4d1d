// Package stream owns the lifecycle of in-flight generation streams and the
// per-connection registry that tracks them.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/streamgate/streamgate/internal/producer"
	"github.com/streamgate/streamgate/internal/protocol"
)

// Sink receives the envelopes a session emits. Implementations stamp
// timestamps and own transport delivery; writes after connection close are
// silently dropped there, never surfaced to the session.
type Sink interface {
	WriteEnvelope(env protocol.Envelope)
}

// Outcome describes how a session reached its terminal state.
type Outcome struct {
	Terminal protocol.Kind // stream_complete, stream_cancelled or error
	Chunks   int
	Duration time.Duration
	Err      error // set for error terminals
}

// Session is one active generation stream. A session transitions to a
// terminal state exactly once: natural completion, cancellation, or producer
// error. The terminal envelope is the last envelope emitted under its id.
type Session struct {
	ID   string
	Kind protocol.Kind

	ctx        context.Context
	cancel     context.CancelFunc
	startedAt  time.Time
	chunkIndex int
}

// NewSession creates a session keyed by the originating envelope id. The
// session's cancellation is derived from the connection context, so closing
// the connection cancels every session on it.
func NewSession(parent context.Context, id string, kind protocol.Kind) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:        id,
		Kind:      kind,
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
}

// Cancel signals cooperative cancellation. It is triggered by the registry
// (explicit cancel envelope or connection teardown), never called by the
// session itself.
func (s *Session) Cancel() { s.cancel() }

// Run consumes the producer's chunk sequence and emits envelopes until a
// terminal state is reached, then reports the outcome. Between chunks the
// session blocks on channel receives only, so concurrent sessions on the
// same connection always make progress.
func (s *Session) Run(req producer.Request, prod producer.Producer, sink Sink, onTerminal func(*Session, Outcome)) {
	defer s.cancel()

	chunkKind := s.Kind.ChunkKind()
	sink.WriteEnvelope(protocol.Envelope{
		ID:   s.ID,
		Kind: protocol.KindStreamStart,
		Data: protocol.MustData(protocol.StreamStartPayload{StreamID: s.ID, Kind: s.Kind}),
	})

	ch, err := prod.Stream(s.ctx, req)
	if err != nil {
		s.terminate(sink, onTerminal, s.errorOutcome(err))
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			s.terminate(sink, onTerminal, Outcome{Terminal: protocol.KindStreamCancelled, Chunks: s.chunkIndex, Duration: s.elapsed()})
			return
		case ev, ok := <-ch:
			if !ok {
				// Producer closed without a finished chunk; the sequence is
				// over, so treat it as completion.
				s.terminate(sink, onTerminal, Outcome{Terminal: protocol.KindStreamComplete, Chunks: s.chunkIndex, Duration: s.elapsed()})
				return
			}
			if ev.Err != nil {
				s.terminate(sink, onTerminal, s.errorOutcome(ev.Err))
				return
			}
			if ev.Chunk == nil {
				continue
			}
			if ev.Chunk.Finished {
				s.terminate(sink, onTerminal, Outcome{Terminal: protocol.KindStreamComplete, Chunks: s.chunkIndex, Duration: s.elapsed()})
				return
			}
			// A chunk that raced with cancellation is discarded, never
			// delivered after the cancellation was observed.
			if s.ctx.Err() != nil {
				s.terminate(sink, onTerminal, Outcome{Terminal: protocol.KindStreamCancelled, Chunks: s.chunkIndex, Duration: s.elapsed()})
				return
			}
			sink.WriteEnvelope(protocol.Envelope{
				ID:   s.ID,
				Kind: chunkKind,
				Data: protocol.MustData(protocol.ChunkPayload{Delta: ev.Chunk.Delta, Content: ev.Chunk.Content, ChunkIndex: s.chunkIndex}),
			})
			s.chunkIndex++
		}
	}
}

func (s *Session) elapsed() time.Duration { return time.Since(s.startedAt) }

func (s *Session) errorOutcome(err error) Outcome {
	// Cancellation surfaced through the producer is still a cancellation.
	if errors.Is(err, context.Canceled) {
		return Outcome{Terminal: protocol.KindStreamCancelled, Chunks: s.chunkIndex, Duration: s.elapsed()}
	}
	return Outcome{Terminal: protocol.KindError, Chunks: s.chunkIndex, Duration: s.elapsed(), Err: err}
}

// terminate emits the terminal envelope for the outcome and fires the
// terminal callback. Exactly one of stream_complete, stream_cancelled and
// error is emitted per session, and it is emitted last.
func (s *Session) terminate(sink Sink, onTerminal func(*Session, Outcome), out Outcome) {
	switch out.Terminal {
	case protocol.KindStreamComplete:
		sink.WriteEnvelope(protocol.Envelope{
			ID:   s.ID,
			Kind: protocol.KindStreamComplete,
			Data: protocol.MustData(protocol.CompletePayload{TotalChunks: out.Chunks, DurationMs: out.Duration.Milliseconds()}),
		})
	case protocol.KindStreamCancelled:
		sink.WriteEnvelope(protocol.Envelope{
			ID:   s.ID,
			Kind: protocol.KindStreamCancelled,
			Data: protocol.MustData(protocol.CancelledPayload{DurationMs: out.Duration.Milliseconds()}),
		})
	case protocol.KindError:
		payload := protocol.ErrorPayload{Message: out.Err.Error()}
		var perr *producer.Error
		if errors.As(out.Err, &perr) {
			payload.Provider = perr.Provider
			payload.Message = perr.Message
			payload.Code = "producer_error"
		}
		sink.WriteEnvelope(protocol.Envelope{
			ID:   s.ID,
			Kind: protocol.KindError,
			Data: protocol.MustData(payload),
		})
	}
	if onTerminal != nil {
		onTerminal(s, out)
	}
}
