package stream

import (
	"fmt"
	"sync"
)

// DuplicateStreamError reports a register attempt with an id that is already
// live on the connection.
type DuplicateStreamError struct{ ID string }

func (e *DuplicateStreamError) Error() string {
	return fmt.Sprintf("stream %q already active on this connection", e.ID)
}

// UnknownStreamError reports a cancel for an id with no registered session.
type UnknownStreamError struct{ ID string }

func (e *UnknownStreamError) Error() string {
	return fmt.Sprintf("no active stream %q on this connection", e.ID)
}

// LimitError reports that the per-connection concurrent stream cap was hit.
type LimitError struct{ Limit int }

func (e *LimitError) Error() string {
	return fmt.Sprintf("connection stream limit of %d reached", e.Limit)
}

// ClosedError reports a register attempt after the connection began teardown.
type ClosedError struct{}

func (e *ClosedError) Error() string {
	return "connection is closing, no new streams accepted"
}

// Registry tracks the live sessions of one connection, keyed by stream id.
// Ids are connection-scoped; cross-connection state is never shared. All map
// mutation happens under a single connection-scoped mutex, and no lock is
// held across a chunk await.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	limit    int // 0 means unlimited
	closed   bool
}

// NewRegistry creates a registry allowing at most limit concurrent sessions;
// limit <= 0 disables the cap.
func NewRegistry(limit int) *Registry {
	return &Registry{sessions: make(map[string]*Session), limit: limit}
}

// Register inserts a session. A duplicate id is rejected, not replaced: a
// silent replacement would orphan a live generation.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return &ClosedError{}
	}
	if _, ok := r.sessions[s.ID]; ok {
		return &DuplicateStreamError{ID: s.ID}
	}
	if r.limit > 0 && len(r.sessions) >= r.limit {
		return &LimitError{Limit: r.limit}
	}
	r.sessions[s.ID] = s
	return nil
}

// Cancel signals the session registered under id and removes it immediately,
// independent of how long the producer takes to actually stop. Removal on
// request means a second cancel of the same id is rejected as unknown.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return &UnknownStreamError{ID: id}
	}
	s.Cancel()
	return nil
}

// Drop removes a session after a natural or erroneous terminal transition.
// Idempotent: a second drop of the same id is a no-op.
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// CloseAll cancels every registered session and marks the registry closed.
// Called when the owning connection closes; safe to call more than once.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	pending := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		pending = append(pending, s)
	}
	r.sessions = make(map[string]*Session)
	r.closed = true
	r.mu.Unlock()

	for _, s := range pending {
		s.Cancel()
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
