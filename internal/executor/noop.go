package executor

import (
	"context"
	"errors"

	"github.com/customeros/customeros-sub005/internal/automation"
)

// Noop implements automation.Executor but always returns an error, for
// deployments where headless Chrome is not available.
type Noop struct{}

// NewNoop creates a new Noop executor.
func NewNoop() *Noop {
	return &Noop{}
}

// Execute returns an error since this is a stub implementation.
func (Noop) Execute(_ context.Context, _ automation.Run, _ automation.BrowserSession, _ automation.Proxy) (automation.Outcome, error) {
	return automation.Outcome{}, errors.New("browser executor not configured")
}
