package automation

import "fmt"

// transitions enumerates every legal status edge. Anything absent is rejected
// with ErrInvalidTransition; there is no way to write an arbitrary status.
var transitions = map[RunStatus][]RunStatus{
	RunStatusScheduled: {RunStatusRunning, RunStatusCancelled},
	RunStatusRunning:   {RunStatusCompleted, RunStatusProcessed, RunStatusRetrying, RunStatusFailed, RunStatusCancelled},
	RunStatusRetrying:  {RunStatusScheduled},
}

// CanTransition reports whether from -> to is a legal status edge.
func CanTransition(from, to RunStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition mutates the run's status after validating the edge.
func (r *Run) Transition(to RunStatus) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	return nil
}

// IsTerminal reports whether a run in this status never transitions again.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusProcessed, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}
