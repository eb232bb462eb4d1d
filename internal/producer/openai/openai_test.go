package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/streamgate/streamgate/internal/producer"
)

func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}))
}

func TestStreamSuccess(t *testing.T) {
	srv := sseServer(t, ""+
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n"+
		"data: {\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\n\n"+
		"data: [DONE]\n\n")
	defer srv.Close()

	p, err := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := p.Stream(context.Background(), producer.Request{
		Model:    "gpt-test",
		Messages: []producer.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var deltas []string
	finished := false
	for ev := range ch {
		if ev.Err != nil {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
		if ev.Chunk.Finished {
			finished = true
			if ev.Chunk.Content != "Hi!" {
				t.Fatalf("unexpected final content %q", ev.Chunk.Content)
			}
			continue
		}
		deltas = append(deltas, ev.Chunk.Delta)
	}
	if !finished {
		t.Fatalf("missing finished chunk")
	}
	if len(deltas) != 2 || deltas[0] != "Hi" || deltas[1] != "!" {
		t.Fatalf("unexpected deltas %v", deltas)
	}
}

func TestStreamFinishReason(t *testing.T) {
	srv := sseServer(t, ""+
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n"+
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
	defer srv.Close()

	p, _ := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	ch, err := p.Stream(context.Background(), producer.Request{Model: "gpt-test", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var last producer.Event
	count := 0
	for ev := range ch {
		last = ev
		count++
	}
	if count != 2 || last.Chunk == nil || !last.Chunk.Finished {
		t.Fatalf("expected delta + finished, got %d events, last %+v", count, last)
	}
}

func TestStreamUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	_, err := p.Stream(context.Background(), producer.Request{Model: "gpt-test", Prompt: "hello"})
	if err == nil {
		t.Fatalf("expected error for 401")
	}
	var perr *producer.Error
	if !errors.As(err, &perr) || perr.Provider != "openai" {
		t.Fatalf("expected typed producer error, got %v", err)
	}
}

func TestStreamParseError(t *testing.T) {
	srv := sseServer(t, "data: {broken\n\n")
	defer srv.Close()

	p, _ := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	ch, err := p.Stream(context.Background(), producer.Request{Model: "gpt-test", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var sawErr bool
	for ev := range ch {
		if ev.Err != nil {
			sawErr = true
		}
	}
	if !sawErr {
		t.Fatalf("expected error event for malformed payload")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}
