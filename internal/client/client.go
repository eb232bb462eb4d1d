// Package client implements a WebSocket client for the relay's multiplexed
// stream endpoint. One client connection can carry several concurrent
// streams, each delivered on its own channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/streamgate/streamgate/internal/protocol"
)

// ErrClosed is returned for operations on a closed client.
var ErrClosed = errors.New("client: connection closed")

// Client multiplexes stream requests over a single relay connection.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[string]chan protocol.Envelope
	closed  bool
	readErr error

	logger *log.Logger
}

// SetLogger installs a logger for envelopes that arrive outside any open
// stream, such as error replies to a cancel request. Must be set before
// traffic flows; a nil logger drops them silently.
func (c *Client) SetLogger(logger *log.Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// Dial connects to the relay stream endpoint, e.g. ws://host:8080/v1/stream.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c := &Client{
		conn:    conn,
		streams: make(map[string]chan protocol.Envelope),
	}
	go c.readLoop()
	return c, nil
}

// StartChat opens a chat stream and returns the channel its envelopes arrive
// on. The channel closes after the terminal envelope.
func (c *Client) StartChat(model string, messages []protocol.ChatMessage) (string, <-chan protocol.Envelope, error) {
	id := uuid.NewString()
	ch, err := c.start(id, protocol.KindChat, protocol.MustData(protocol.ChatPayload{Model: model, Messages: messages}))
	return id, ch, err
}

// StartCompletion opens a completion stream for a bare prompt.
func (c *Client) StartCompletion(model, prompt string) (string, <-chan protocol.Envelope, error) {
	id := uuid.NewString()
	ch, err := c.start(id, protocol.KindCompletion, protocol.MustData(protocol.CompletionPayload{Model: model, Prompt: prompt}))
	return id, ch, err
}

func (c *Client) start(id string, kind protocol.Kind, data []byte) (<-chan protocol.Envelope, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	ch := make(chan protocol.Envelope, 64)
	c.streams[id] = ch
	c.mu.Unlock()

	if err := c.send(protocol.Envelope{ID: id, Kind: kind, Data: data}); err != nil {
		c.mu.Lock()
		delete(c.streams, id)
		c.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// Cancel requests cooperative cancellation of an in-flight stream. The
// stream's channel still delivers its terminal envelope.
func (c *Client) Cancel(streamID string) error {
	return c.send(protocol.Envelope{
		ID:   uuid.NewString(),
		Kind: protocol.KindCancel,
		Data: protocol.MustData(protocol.CancelPayload{StreamID: streamID}),
	})
}

// Ping sends a liveness probe. The pong is consumed by the read loop.
func (c *Client) Ping() error {
	return c.send(protocol.Envelope{ID: uuid.NewString(), Kind: protocol.KindPing})
}

func (c *Client) send(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, protocol.Encode(env))
}

func (c *Client) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.teardown(err)
			return
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			continue
		}
		switch env.Kind {
		case protocol.KindPing:
			_ = c.send(protocol.Envelope{ID: env.ID, Kind: protocol.KindPong})
			continue
		case protocol.KindPong:
			continue
		}

		c.mu.Lock()
		ch, ok := c.streams[env.ID]
		if ok {
			select {
			case ch <- env:
			default:
				// Slow consumer; drop rather than stall the whole connection.
			}
			if isTerminal(env.Kind) {
				close(ch)
				delete(c.streams, env.ID)
			}
		} else if env.Kind == protocol.KindError && c.logger != nil {
			// Error replies to cancel or malformed requests arrive under
			// their own request id, not a stream id.
			var p protocol.ErrorPayload
			_ = protocol.DecodePayload(env, &p)
			c.logger.Printf("relay error id=%s code=%s message=%s", env.ID, p.Code, p.Message)
		}
		c.mu.Unlock()
	}
}

func isTerminal(kind protocol.Kind) bool {
	switch kind {
	case protocol.KindStreamComplete, protocol.KindStreamCancelled, protocol.KindError:
		return true
	}
	return false
}

// teardown closes every open stream channel after a read failure.
func (c *Client) teardown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.readErr = err
	for id, ch := range c.streams {
		close(ch)
		delete(c.streams, id)
	}
}

// Err reports the read loop failure after the connection ends, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.readErr
	}
	return nil
}

// Close tears the connection down. Open stream channels are closed.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.teardown(ErrClosed)
	return err
}
