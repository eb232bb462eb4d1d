// Package producer defines the chunk producer contract consumed by stream
// sessions: a generation request in, a lazy ordered finite chunk sequence out.
package producer

import (
	"context"
	"fmt"
)

// Request is a provider-agnostic generation request. Exactly one of Messages
// (chat) or Prompt (text completion) is populated.
type Request struct {
	Model    string
	Messages []Message
	Prompt   string
}

// Message is one conversation turn.
type Message struct {
	Role    string
	Content string
}

// Chunk is one incremental fragment of a generated response. The sequence is
// terminated by exactly one chunk with Finished set; a finished chunk may
// carry a final (possibly empty) delta.
type Chunk struct {
	Content  string
	Delta    string
	Finished bool
}

// Event is one element of a producer's output channel. Exactly one of Chunk
// and Err is set; an Err event terminates the sequence.
type Event struct {
	Chunk *Chunk
	Err   error
}

// Error is the typed failure surfaced by producers.
type Error struct {
	Provider string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("producer %s: %s", e.Provider, e.Message)
	}
	return "producer: " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Producer yields chunk sequences for generation requests. The returned
// channel is closed after the finished chunk or an error event; cancelling
// ctx makes the producer stop promptly and close the channel.
type Producer interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}
