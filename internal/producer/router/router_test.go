package router

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/streamgate/streamgate/internal/producer"
)

type namedProducer struct{ name string }

func (p *namedProducer) Name() string { return p.name }

func (p *namedProducer) Stream(ctx context.Context, req producer.Request) (<-chan producer.Event, error) {
	ch := make(chan producer.Event, 2)
	ch <- producer.Event{Chunk: &producer.Chunk{Delta: p.name, Content: p.name}}
	ch <- producer.Event{Chunk: &producer.Chunk{Content: p.name, Finished: true}}
	close(ch)
	return ch, nil
}

func firstDelta(t *testing.T, r *Router, model string) string {
	t.Helper()
	ch, err := r.Stream(context.Background(), producer.Request{Model: model, Prompt: "x"})
	if err != nil {
		t.Fatalf("Stream(%s): %v", model, err)
	}
	ev := <-ch
	for range ch {
	}
	return ev.Chunk.Delta
}

func TestRouterOrderedRules(t *testing.T) {
	r := New()
	if err := r.Register("openai", &namedProducer{name: "openai"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("loopback", &namedProducer{name: "loopback"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.AddRule("gpt*", "openai"); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if err := r.AddRule("*", "loopback"); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	if got := firstDelta(t, r, "gpt-4o"); got != "openai" {
		t.Fatalf("gpt-4o routed to %s", got)
	}
	if got := firstDelta(t, r, "anything-else"); got != "loopback" {
		t.Fatalf("anything-else routed to %s", got)
	}
}

func TestRouterFallbackAndMisses(t *testing.T) {
	r := New()
	if _, err := r.Stream(context.Background(), producer.Request{Model: "gpt-4"}); err == nil {
		t.Fatalf("expected error with no rules and no fallback")
	}
	r.SetFallback(&namedProducer{name: "fallback"})
	if got := firstDelta(t, r, "gpt-4"); got != "fallback" {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestRouterRuleValidation(t *testing.T) {
	r := New()
	if err := r.AddRule("gpt*", "missing"); err == nil {
		t.Fatalf("expected error for unregistered producer")
	}
	if err := r.Register("", &namedProducer{name: "x"}); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if err := r.Register("nil", nil); err == nil {
		t.Fatalf("expected error for nil producer")
	}
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		model, pattern string
		want           bool
	}{
		{"gpt-4", "gpt-4", true},
		{"gpt-4o-mini", "gpt*", true},
		{"claude-sonnet", "gpt*", false},
		{"gpt-3.5-turbo", "*turbo", true},
		{"gpt-3.5-turbo", "*3.5*", true},
		{"anything", "*", true},
	}
	for _, tc := range cases {
		if got := matchPattern(tc.model, tc.pattern); got != tc.want {
			t.Errorf("matchPattern(%q,%q) = %v, want %v", tc.model, tc.pattern, got, tc.want)
		}
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	content := "rules:\n  - pattern: \"gpt*\"\n    producer: openai\n  - pattern: \"*\"\n    producer: loopback\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 2 || rules[0].Pattern != "gpt*" || rules[1].Producer != "loopback" {
		t.Fatalf("unexpected rules %+v", rules)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("rules:\n  - pattern: \"\"\n    producer: x\n"), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := LoadRules(bad); err == nil {
		t.Fatalf("expected error for empty pattern")
	}
}

func TestParseRules(t *testing.T) {
	rules := ParseRules("gpt*=>openai, claude*=>anthropic\n# comment\nloopback=loopback")
	if len(rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(rules))
	}
	if rules[0].Pattern != "gpt*" || rules[0].Producer != "openai" {
		t.Fatalf("unexpected first rule %+v", rules[0])
	}
	if ParseRules("  ") != nil {
		t.Fatalf("expected nil for blank input")
	}
}
