package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/streamgate/streamgate/internal/producer"
)

func collect(t *testing.T, ch <-chan producer.Event) []producer.Event {
	t.Helper()
	var events []producer.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStreamEchoesWords(t *testing.T) {
	p := New()
	ch, err := p.Stream(context.Background(), producer.Request{
		Messages: []producer.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello world"},
		},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)
	// "[loopback] hello world" -> three word chunks plus the finished chunk.
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Chunk == nil || !last.Chunk.Finished {
		t.Fatalf("expected finished terminal chunk, got %+v", last)
	}
	if last.Chunk.Content != "[loopback] hello world" {
		t.Fatalf("unexpected final content %q", last.Chunk.Content)
	}
	for i, ev := range events[:len(events)-1] {
		if ev.Chunk == nil || ev.Chunk.Finished {
			t.Fatalf("event %d should be a non-finished chunk: %+v", i, ev)
		}
	}
}

func TestStreamPrompt(t *testing.T) {
	p := New()
	ch, err := p.Stream(context.Background(), producer.Request{Prompt: "ping"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

func TestStreamEmptyRequest(t *testing.T) {
	p := New()
	if _, err := p.Stream(context.Background(), producer.Request{}); err == nil {
		t.Fatalf("expected error for empty request")
	}
}

func TestStreamCancellation(t *testing.T) {
	p := &Producer{Delay: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.Stream(ctx, producer.Request{Prompt: "one two three four five six"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	// Take one chunk, then cancel; the channel must close promptly.
	<-ch
	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("producer did not stop after cancellation")
		}
	}
}
