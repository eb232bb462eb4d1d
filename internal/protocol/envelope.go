package protocol

import "encoding/json"

// Kind identifies the envelope message type on the wire.
type Kind string

const (
	KindChat            Kind = "chat"
	KindCompletion      Kind = "completion"
	KindCancel          Kind = "cancel"
	KindPing            Kind = "ping"
	KindPong            Kind = "pong"
	KindChatChunk       Kind = "chat_chunk"
	KindCompletionChunk Kind = "completion_chunk"
	KindStreamStart     Kind = "stream_start"
	KindStreamComplete  Kind = "stream_complete"
	KindStreamCancelled Kind = "stream_cancelled"
	KindError           Kind = "error"
	KindSystem          Kind = "system"
)

// SyntheticErrorID addresses error envelopes that cannot be correlated to a
// request id, such as replies to malformed inbound frames.
const SyntheticErrorID = "error"

var validKinds = map[Kind]struct{}{
	KindChat:            {},
	KindCompletion:      {},
	KindCancel:          {},
	KindPing:            {},
	KindPong:            {},
	KindChatChunk:       {},
	KindCompletionChunk: {},
	KindStreamStart:     {},
	KindStreamComplete:  {},
	KindStreamCancelled: {},
	KindError:           {},
	KindSystem:          {},
}

// Valid reports whether k is a recognized envelope kind.
func (k Kind) Valid() bool {
	_, ok := validKinds[k]
	return ok
}

// ChunkKind returns the chunk envelope kind paired with a request kind.
// Only meaningful for KindChat and KindCompletion.
func (k Kind) ChunkKind() Kind {
	if k == KindCompletion {
		return KindCompletionChunk
	}
	return KindChatChunk
}

// Envelope is the unit of wire exchange on both transports. ID is a
// client-chosen opaque string correlating a request with all of its
// responses; Data is a kind-specific payload the codec treats as opaque;
// Timestamp is producer-assigned milliseconds since epoch.
type Envelope struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ChatMessage is one conversation turn in a chat request payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatPayload is the data carried by a chat envelope.
type ChatPayload struct {
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages"`
}

// CompletionPayload is the data carried by a completion envelope.
type CompletionPayload struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
}

// CancelPayload names the stream a cancel envelope targets.
type CancelPayload struct {
	StreamID string `json:"stream_id"`
}

// ChunkPayload is the data carried by chat_chunk and completion_chunk
// envelopes. ChunkIndex starts at 0 and increments once per delivered chunk.
type ChunkPayload struct {
	Delta      string `json:"delta"`
	Content    string `json:"content,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
}

// StreamStartPayload acknowledges that a stream session was accepted.
type StreamStartPayload struct {
	StreamID string `json:"stream_id"`
	Kind     Kind   `json:"kind"`
}

// CompletePayload is the data carried by a stream_complete envelope.
type CompletePayload struct {
	TotalChunks int   `json:"total_chunks"`
	DurationMs  int64 `json:"duration_ms"`
}

// CancelledPayload is the data carried by a stream_cancelled envelope.
type CancelledPayload struct {
	DurationMs int64 `json:"duration_ms"`
}

// ErrorPayload is the data carried by an error envelope.
type ErrorPayload struct {
	Message  string `json:"message"`
	Provider string `json:"provider,omitempty"`
	Code     string `json:"code,omitempty"`
}

// MustData marshals a payload for embedding in an envelope. Payload structs
// in this package marshal unconditionally, so a failure is a programming
// error and panics.
func MustData(payload any) json.RawMessage {
	b, err := json.Marshal(payload)
	if err != nil {
		panic("protocol: marshal payload: " + err.Error())
	}
	return b
}
