// Package openai streams chunks from an OpenAI-compatible chat completions
// endpoint.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/streamgate/streamgate/internal/producer"
)

// Ensure Producer implements the producer contract.
var _ producer.Producer = (*Producer)(nil)

// Producer consumes an upstream SSE stream and converts deltas into chunks.
type Producer struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config holds upstream connection settings.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.openai.com/v1
	RequestTimeout time.Duration
}

// New creates an upstream producer instance.
func New(cfg Config) (*Producer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key required")
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		// Long default: streamed generations routinely run for minutes.
		timeout = 10 * time.Minute
	}
	return &Producer{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (p *Producer) Name() string { return "openai" }

type upstreamRequest struct {
	Model    string            `json:"model"`
	Messages []upstreamMessage `json:"messages"`
	Stream   bool              `json:"stream"`
}

type upstreamMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type upstreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream opens the upstream SSE request and relays text deltas as chunks.
func (p *Producer) Stream(ctx context.Context, req producer.Request) (<-chan producer.Event, error) {
	messages := make([]upstreamMessage, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		messages = append(messages, upstreamMessage{Role: m.Role, Content: m.Content})
	}
	if len(messages) == 0 {
		if strings.TrimSpace(req.Prompt) == "" {
			return nil, errors.New("openai: no messages or prompt provided")
		}
		messages = append(messages, upstreamMessage{Role: "user", Content: req.Prompt})
	}

	body, err := json.Marshal(upstreamRequest{Model: req.Model, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &producer.Error{Provider: "openai", Message: "send request", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, &producer.Error{Provider: "openai", Message: fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))}
	}

	ch := make(chan producer.Event, 10)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		content := strings.Builder{}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == "[DONE]" {
				p.send(ctx, ch, producer.Event{Chunk: &producer.Chunk{Content: content.String(), Finished: true}})
				return
			}
			var chunk upstreamChunk
			if perr := json.Unmarshal([]byte(payload), &chunk); perr != nil {
				p.send(ctx, ch, producer.Event{Err: &producer.Error{Provider: "openai", Message: "parse stream", Cause: perr}})
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta != "" {
				content.WriteString(delta)
				if !p.send(ctx, ch, producer.Event{Chunk: &producer.Chunk{Delta: delta, Content: content.String()}}) {
					return
				}
			}
			if chunk.Choices[0].FinishReason != nil && *chunk.Choices[0].FinishReason != "" {
				p.send(ctx, ch, producer.Event{Chunk: &producer.Chunk{Content: content.String(), Finished: true}})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			p.send(ctx, ch, producer.Event{Err: &producer.Error{Provider: "openai", Message: "read stream", Cause: err}})
			return
		}
		// Upstream closed without [DONE]; treat what we have as complete.
		p.send(ctx, ch, producer.Event{Chunk: &producer.Chunk{Content: content.String(), Finished: true}})
	}()
	return ch, nil
}

func (p *Producer) send(ctx context.Context, ch chan<- producer.Event, ev producer.Event) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- ev:
		return true
	}
}
