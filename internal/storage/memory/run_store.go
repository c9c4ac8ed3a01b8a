// Package memory provides in-memory store implementations for development and
// testing.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/customeros/customeros-sub005/internal/automation"
)

// RunStore is a mutex-guarded in-memory automation.RunStore. Claim semantics
// match the Postgres store: one claim wins per eligible run, and a user with
// a RUNNING run is never claimed again until it finishes.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]automation.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]automation.Run),
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run automation.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by id.
func (s *RunStore) GetRun(_ context.Context, id string) (automation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return automation.Run{}, automation.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs, optionally filtered by status, ordered by
// scheduled_at descending then id.
func (s *RunStore) ListRuns(_ context.Context, status *automation.RunStatus, limit, offset int) ([]automation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]automation.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.After(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ClaimNextRun claims the next dispatchable run under the ordering contract
// (priority DESC, scheduled_at ASC, id ASC), skipping users that already have
// a RUNNING run.
func (s *RunStore) ClaimNextRun(_ context.Context, now time.Time) (automation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	busy := make(map[string]bool)
	for _, run := range s.runs {
		if run.Status == automation.RunStatusRunning {
			busy[run.Tenant+"/"+run.UserID] = true
		}
	}

	var candidates []automation.Run
	for _, run := range s.runs {
		if run.Status != automation.RunStatusScheduled {
			continue
		}
		if run.ScheduledAt.After(now) {
			continue
		}
		if busy[run.Tenant+"/"+run.UserID] {
			continue
		}
		candidates = append(candidates, run)
	}
	if len(candidates) == 0 {
		return automation.Run{}, automation.ErrNotFound
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		if !candidates[i].ScheduledAt.Equal(candidates[j].ScheduledAt) {
			return candidates[i].ScheduledAt.Before(candidates[j].ScheduledAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	run := candidates[0]
	if err := run.Transition(automation.RunStatusRunning); err != nil {
		return automation.Run{}, err
	}
	started := now
	run.StartedAt = &started
	s.runs[run.ID] = run
	return run, nil
}

// CompleteRun transitions a RUNNING run to a terminal status.
func (s *RunStore) CompleteRun(
	_ context.Context,
	id string,
	status automation.RunStatus,
	finishedAt time.Time,
	durationMs int64,
	logLocation string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return automation.ErrNotFound
	}
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", automation.ErrInvalidTransition, status)
	}
	if err := run.Transition(status); err != nil {
		return err
	}
	finished := finishedAt
	run.FinishedAt = &finished
	run.RunDurationMs = durationMs
	if logLocation != "" {
		run.LogLocation = logLocation
	}
	s.runs[id] = run
	return nil
}

// RescheduleRun moves a RUNNING run through RETRYING back to SCHEDULED with
// the next attempt time.
func (s *RunStore) RescheduleRun(_ context.Context, id string, retryCount int, nextAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return automation.ErrNotFound
	}
	if err := run.Transition(automation.RunStatusRetrying); err != nil {
		return err
	}
	if err := run.Transition(automation.RunStatusScheduled); err != nil {
		return err
	}
	run.RetryCount = retryCount
	run.ScheduledAt = nextAt
	run.StartedAt = nil
	s.runs[id] = run
	return nil
}

// AssignBrowserConfig records the session a RUNNING run was dispatched with.
func (s *RunStore) AssignBrowserConfig(_ context.Context, id, browserConfigID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return automation.ErrNotFound
	}
	run.BrowserConfigID = browserConfigID
	s.runs[id] = run
	return nil
}

// CancelRun transitions a SCHEDULED or RUNNING run to CANCELLED. Idempotent
// for already-cancelled runs.
func (s *RunStore) CancelRun(_ context.Context, id string, now time.Time) (automation.Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return automation.Run{}, false, automation.ErrNotFound
	}
	if run.Status == automation.RunStatusCancelled {
		return run, false, nil
	}
	if err := run.Transition(automation.RunStatusCancelled); err != nil {
		return automation.Run{}, false, err
	}
	finished := now
	run.FinishedAt = &finished
	s.runs[id] = run
	return run, true, nil
}

// CountByStatus reports how many runs sit in the given status. Test helper.
func (s *RunStore) CountByStatus(status automation.RunStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, run := range s.runs {
		if run.Status == status {
			n++
		}
	}
	return n
}
