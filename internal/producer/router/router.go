// Package router selects a chunk producer for a request by model pattern.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/streamgate/streamgate/internal/producer"
)

// Ensure Router implements the producer contract.
var _ producer.Producer = (*Router)(nil)

// Rule maps a model pattern to a registered producer name. Rules are applied
// in declaration order; the first match wins.
type Rule struct {
	Pattern  string `yaml:"pattern"`
	Producer string `yaml:"producer"`
}

// Router routes generation requests to registered producers by model name.
type Router struct {
	mu        sync.RWMutex
	producers map[string]producer.Producer
	rules     []Rule
	fallback  producer.Producer
}

// New creates an empty Router.
func New() *Router {
	return &Router{producers: make(map[string]producer.Producer)}
}

func (r *Router) Name() string { return "router" }

// Register adds a named producer.
func (r *Router) Register(name string, p producer.Producer) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("router: producer name cannot be empty")
	}
	if p == nil {
		return errors.New("router: producer cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[name] = p
	return nil
}

// AddRule appends an ordered pattern=>producer rule. The producer must
// already be registered.
func (r *Router) AddRule(pattern, name string) error {
	if strings.TrimSpace(pattern) == "" {
		return errors.New("router: pattern cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.producers[name]; !ok {
		return fmt.Errorf("router: producer %q not registered", name)
	}
	r.rules = append(r.rules, Rule{Pattern: pattern, Producer: name})
	return nil
}

// SetFallback sets the producer used when no rule matches.
func (r *Router) SetFallback(p producer.Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = p
}

// Stream resolves the target producer for req.Model and delegates to it.
func (r *Router) Stream(ctx context.Context, req producer.Request) (<-chan producer.Event, error) {
	target, err := r.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	return target.Stream(ctx, req)
}

func (r *Router) resolve(model string) (producer.Producer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model = strings.ToLower(strings.TrimSpace(model))
	for _, rule := range r.rules {
		if matchPattern(model, strings.ToLower(rule.Pattern)) {
			if p, ok := r.producers[rule.Producer]; ok {
				return p, nil
			}
		}
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("router: no producer for model %q", model)
}

// matchPattern supports exact, "prefix*", "*suffix" and bare "*" patterns.
func matchPattern(model, pattern string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		return strings.Contains(model, strings.Trim(pattern, "*"))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(model, strings.TrimPrefix(pattern, "*"))
	default:
		return model == pattern
	}
}
