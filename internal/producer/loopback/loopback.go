package loopback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/streamgate/streamgate/internal/producer"
)

// Ensure Producer implements the producer contract.
var _ producer.Producer = (*Producer)(nil)

// Producer echoes the request text back word by word. It exists so the relay
// pipeline can run end to end without an upstream provider.
type Producer struct {
	// Delay between chunks; zero emits as fast as the consumer drains.
	Delay time.Duration
}

// New creates a loopback producer with no inter-chunk delay.
func New() *Producer {
	return &Producer{}
}

func (p *Producer) Name() string { return "loopback" }

// Stream emits one chunk per word of the source text, then a finished chunk.
func (p *Producer) Stream(ctx context.Context, req producer.Request) (<-chan producer.Event, error) {
	text := sourceText(req)
	if text == "" {
		return nil, errors.New("loopback: empty request")
	}
	words := strings.Fields("[loopback] " + text)

	ch := make(chan producer.Event)
	go func() {
		defer close(ch)
		content := strings.Builder{}
		for i, w := range words {
			if p.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.Delay):
				}
			}
			delta := w
			if i > 0 {
				delta = " " + w
			}
			content.WriteString(delta)
			ev := producer.Event{Chunk: &producer.Chunk{Delta: delta, Content: content.String()}}
			select {
			case <-ctx.Done():
				return
			case ch <- ev:
			}
		}
		select {
		case <-ctx.Done():
		case ch <- producer.Event{Chunk: &producer.Chunk{Content: content.String(), Finished: true}}:
		}
	}()
	return ch, nil
}

// sourceText picks the prompt for completions and the last user message for
// chat, falling back to the final message.
func sourceText(req producer.Request) string {
	if strings.TrimSpace(req.Prompt) != "" {
		return strings.TrimSpace(req.Prompt)
	}
	if len(req.Messages) == 0 {
		return ""
	}
	msg := req.Messages[len(req.Messages)-1]
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.ToLower(req.Messages[i].Role) == "user" {
			msg = req.Messages[i]
			break
		}
	}
	return strings.TrimSpace(msg.Content)
}
