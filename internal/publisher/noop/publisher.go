// Package noop provides a publisher that drops every event, for deployments
// without a downstream consumer.
package noop

import (
	"context"

	"github.com/customeros/customeros-sub005/internal/automation"
)

// Publisher discards all events.
type Publisher struct{}

// New returns a noop Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish drops the event.
func (Publisher) Publish(_ context.Context, _ automation.CompletionEvent) error { return nil }

// Close is a no-op.
func (Publisher) Close() error { return nil }
