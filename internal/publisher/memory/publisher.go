// Package memory contains an in-memory completion publisher for tests.
package memory

import (
	"context"
	"sync"

	"github.com/customeros/customeros-sub005/internal/automation"
)

// Publisher stores published completion events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []automation.CompletionEvent
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event.
func (p *Publisher) Publish(_ context.Context, event automation.CompletionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error { return nil }

// Events returns the recorded publishes.
func (p *Publisher) Events() []automation.CompletionEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]automation.CompletionEvent, len(p.events))
	copy(out, p.events)
	return out
}
