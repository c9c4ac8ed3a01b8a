package automation

import "errors"

// Sentinel errors shared across stores, the assigner, and the scheduler.
var (
	// ErrNotFound is returned by stores when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition rejects a status edge outside the lifecycle machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidType rejects a submission with an unknown run type.
	ErrInvalidType = errors.New("invalid run type")

	// ErrInvalidPayload rejects a submission whose payload does not match the
	// run type's expected shape.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidSchedule rejects a scheduled_at in the past beyond the grace
	// window.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrNoProxyAvailable means the pool has zero enabled proxies left for the
	// user. Retryable: an operator may enable one before the next attempt.
	ErrNoProxyAvailable = errors.New("no proxy available")

	// ErrNoValidSession means the user has no VALID browser session. Fatal for
	// the run: re-provisioning is an external concern.
	ErrNoValidSession = errors.New("no valid browser session")

	// ErrSessionExists rejects creating a second session for a user.
	ErrSessionExists = errors.New("session already exists for user")
)
