// Package conn supervises one physical connection: inbound dispatch,
// keepalive, and teardown of every stream session when the connection ends.
package conn

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/streamgate/streamgate/internal/producer"
	"github.com/streamgate/streamgate/internal/protocol"
	"github.com/streamgate/streamgate/internal/stream"
)

// State is the connection lifecycle: Open -> Closing -> Closed.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

// Writer is the transport write side handed to a supervisor. WriteFrame
// delivers one encoded envelope as one transport message.
type Writer interface {
	WriteFrame(data []byte) error
	Close() error
}

// Observer receives a call-out after every terminal envelope. Implementations
// are best-effort; a failing observer never affects the connection.
type Observer interface {
	ObserveTerminal(transport, operation string, duration time.Duration, success bool)
}

// Config carries the immutable per-connection settings, owned by external
// configuration loading.
type Config struct {
	Transport         string // "socket" or "sse", used for observability only
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	MaxStreams        int // per-connection concurrent stream cap, 0 = unlimited
}

// Supervisor owns one connection's lifetime: it decodes inbound envelopes,
// dispatches them to the registry, emits keepalive pings, and guarantees
// every session is torn down exactly once when the connection closes.
type Supervisor struct {
	cfg      Config
	prod     producer.Producer
	observer Observer
	logger   *log.Logger

	writer   Writer
	registry *stream.Registry

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	writeMu       sync.Mutex
	lastTimestamp int64
	lastActivity  atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewSupervisor wires a supervisor for one connection. Close must be called
// on every exit path of the owning transport handler.
func NewSupervisor(parent context.Context, cfg Config, prod producer.Producer, writer Writer, observer Observer, logger *log.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		cfg:      cfg,
		prod:     prod,
		observer: observer,
		logger:   logger,
		writer:   writer,
		registry: stream.NewRegistry(cfg.MaxStreams),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// State reports the current lifecycle state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Registry exposes the connection's session registry.
func (s *Supervisor) Registry() *stream.Registry { return s.registry }

// Done is closed once the supervisor has fully torn down.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Start launches the heartbeat loop. The loop owns its own cancellation tied
// 1:1 to the connection lifetime and stops on every exit path.
func (s *Supervisor) Start() {
	go s.heartbeatLoop()
}

func (s *Supervisor) heartbeatLoop() {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.cfg.IdleTimeout > 0 {
				idle := time.Since(time.Unix(0, s.lastActivity.Load()))
				if idle > s.cfg.IdleTimeout {
					s.logf("connection idle timeout idle=%s limit=%s", idle.Truncate(time.Millisecond), s.cfg.IdleTimeout)
					s.Close()
					return
				}
			}
			s.WriteEnvelope(protocol.Envelope{ID: uuid.NewString(), Kind: protocol.KindPing})
		}
	}
}

// Dispatch handles one inbound frame. A malformed frame yields an error
// envelope under the synthetic id; the connection stays open.
func (s *Supervisor) Dispatch(raw []byte) {
	s.markActivity()
	env, err := protocol.Decode(raw)
	if err != nil {
		s.writeError(protocol.SyntheticErrorID, err.Error(), "decode_error")
		return
	}
	switch env.Kind {
	case protocol.KindChat, protocol.KindCompletion:
		s.startStream(env)
	case protocol.KindCancel:
		s.cancelStream(env)
	case protocol.KindPing:
		// Liveness probe: answered synchronously, never queued behind
		// in-flight streams.
		s.WriteEnvelope(protocol.Envelope{ID: env.ID, Kind: protocol.KindPong})
	case protocol.KindPong, protocol.KindSystem:
		// Activity already recorded; nothing else to do.
	default:
		s.writeError(env.ID, "unexpected inbound kind "+string(env.Kind), "protocol_error")
	}
}

func (s *Supervisor) startStream(env protocol.Envelope) {
	if env.ID == "" {
		s.writeError(protocol.SyntheticErrorID, "stream request missing id", "protocol_error")
		return
	}
	req, err := decodeRequest(env)
	if err != nil {
		s.writeError(env.ID, err.Error(), "decode_error")
		return
	}
	sess := stream.NewSession(s.ctx, env.ID, env.Kind)
	if err := s.registry.Register(sess); err != nil {
		// The original session, if any, is left untouched.
		s.writeError(env.ID, err.Error(), registerErrorCode(err))
		return
	}
	s.logf("stream start id=%s kind=%s model=%s", sess.ID, sess.Kind, req.Model)
	go sess.Run(req, s.prod, s, s.onTerminal)
}

func (s *Supervisor) cancelStream(env protocol.Envelope) {
	var payload protocol.CancelPayload
	if err := protocol.DecodePayload(env, &payload); err != nil {
		s.writeError(env.ID, err.Error(), "decode_error")
		return
	}
	if err := s.registry.Cancel(payload.StreamID); err != nil {
		s.writeError(env.ID, err.Error(), "unknown_stream")
		return
	}
	s.logf("stream cancel requested id=%s", payload.StreamID)
}

// onTerminal runs after a session's terminal envelope. It detaches the
// session and fires the metrics/audit call-out.
func (s *Supervisor) onTerminal(sess *stream.Session, out stream.Outcome) {
	s.registry.Drop(sess.ID)
	s.logf("stream terminal id=%s state=%s chunks=%d duration_ms=%d", sess.ID, out.Terminal, out.Chunks, out.Duration.Milliseconds())
	s.observe(string(sess.Kind), out)
}

func (s *Supervisor) observe(operation string, out stream.Outcome) {
	if s.observer == nil {
		return
	}
	// A misbehaving observer must not take down the connection.
	defer func() {
		if r := recover(); r != nil {
			s.logf("observer panic recovered: %v", r)
		}
	}()
	s.observer.ObserveTerminal(s.cfg.Transport, operation, out.Duration, out.Terminal == protocol.KindStreamComplete)
}

// WriteEnvelope stamps a per-connection non-decreasing timestamp and writes
// one frame. Writes attempted after close are silently dropped. A transport
// write failure is fatal to the connection.
func (s *Supervisor) WriteEnvelope(env protocol.Envelope) {
	if s.State() != StateOpen {
		return
	}
	s.writeMu.Lock()
	now := time.Now().UnixMilli()
	if now < s.lastTimestamp {
		now = s.lastTimestamp
	}
	s.lastTimestamp = now
	env.Timestamp = now
	err := s.writer.WriteFrame(protocol.Encode(env))
	s.writeMu.Unlock()

	if err != nil {
		s.logf("transport write failed kind=%s id=%s err=%v", env.Kind, env.ID, err)
		s.Close()
		return
	}
	s.markActivity()
}

func (s *Supervisor) writeError(id, message, code string) {
	s.WriteEnvelope(protocol.Envelope{
		ID:   id,
		Kind: protocol.KindError,
		Data: protocol.MustData(protocol.ErrorPayload{Message: message, Code: code}),
	})
}

// Close transitions Open -> Closing -> Closed exactly once: all sessions are
// cancelled, the heartbeat is released, and the transport is closed. Safe to
// call from any goroutine and on every exit path.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		s.cancel()
		s.registry.CloseAll()
		s.state.Store(int32(StateClosed))
		_ = s.writer.Close()
		s.logf("connection closed transport=%s", s.cfg.Transport)
		close(s.done)
	})
}

func (s *Supervisor) markActivity() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Supervisor) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func decodeRequest(env protocol.Envelope) (producer.Request, error) {
	switch env.Kind {
	case protocol.KindChat:
		var p protocol.ChatPayload
		if err := protocol.DecodePayload(env, &p); err != nil {
			return producer.Request{}, err
		}
		req := producer.Request{Model: p.Model}
		for _, m := range p.Messages {
			req.Messages = append(req.Messages, producer.Message{Role: m.Role, Content: m.Content})
		}
		return req, nil
	default:
		var p protocol.CompletionPayload
		if err := protocol.DecodePayload(env, &p); err != nil {
			return producer.Request{}, err
		}
		return producer.Request{Model: p.Model, Prompt: p.Prompt}, nil
	}
}

func registerErrorCode(err error) string {
	switch err.(type) {
	case *stream.DuplicateStreamError:
		return "duplicate_stream"
	case *stream.LimitError:
		return "stream_limit"
	default:
		return "protocol_error"
	}
}
