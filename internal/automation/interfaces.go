package automation

import (
	"context"
	"time"
)

// RunStore persists runs and owns the atomic lifecycle writes. Implementations
// must enforce the status machine: every mutation is guarded by the run's
// current status, so a terminal run can never transition again regardless of
// caller bugs.
type RunStore interface {
	// CreateRun inserts a new run in SCHEDULED.
	CreateRun(ctx context.Context, run Run) error

	// GetRun fetches a run by id, or ErrNotFound.
	GetRun(ctx context.Context, id string) (Run, error)

	// ListRuns returns runs, optionally filtered by status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)

	// ClaimNextRun atomically claims the next dispatchable run: the
	// highest-priority, earliest-scheduled SCHEDULED run with
	// scheduled_at <= now whose user has no run currently RUNNING. The claim
	// transitions it to RUNNING and records started_at. Returns ErrNotFound
	// when nothing is eligible. Safe to call from multiple scheduler
	// instances.
	ClaimNextRun(ctx context.Context, now time.Time) (Run, error)

	// CompleteRun transitions a RUNNING run to a terminal status and records
	// finished_at, duration and the execution log location.
	CompleteRun(ctx context.Context, id string, status RunStatus, finishedAt time.Time, durationMs int64, logLocation string) error

	// RescheduleRun moves a RUNNING run through RETRYING back to SCHEDULED
	// with the next attempt time and incremented retry count.
	RescheduleRun(ctx context.Context, id string, retryCount int, nextAt time.Time) error

	// AssignBrowserConfig records which browser session a RUNNING run was
	// dispatched with.
	AssignBrowserConfig(ctx context.Context, id, browserConfigID string) error

	// CancelRun transitions a SCHEDULED or RUNNING run to CANCELLED and
	// returns the resulting run plus whether this call performed the
	// transition. Cancelling an already CANCELLED run is idempotent; any
	// other terminal status returns ErrInvalidTransition.
	CancelRun(ctx context.Context, id string, now time.Time) (Run, bool, error)
}

// ResultStore is the append-only sink for structured results and errors.
// MarkProcessed exists for the external post-processing consumer; the
// scheduler never calls it.
type ResultStore interface {
	AddResult(ctx context.Context, result RunResult) error
	AddError(ctx context.Context, runErr RunError) error
	ListResults(ctx context.Context, runID string) ([]RunResult, error)
	ListErrors(ctx context.Context, runID string) ([]RunError, error)
	MarkProcessed(ctx context.Context, resultID string) error
}

// SessionStore tracks browser session validity. The scheduler consumes
// sessions and may invalidate them; it never re-provisions. There is
// deliberately no Validate operation here.
type SessionStore interface {
	// CreateSession registers a user's session. One per (tenant, user);
	// a second insert returns ErrSessionExists.
	CreateSession(ctx context.Context, session BrowserSession) error

	// GetValidSession returns the user's session only if VALID. EXPIRED and
	// INVALID behave exactly like absent: ErrNoValidSession.
	GetValidSession(ctx context.Context, tenant, userID string) (BrowserSession, error)

	// Invalidate sets the session INVALID. Idempotent; a missing session is
	// not an error.
	Invalidate(ctx context.Context, tenant, userID, reason string) error
}

// ProxyStore holds the proxy pool and the per-user bindings. Assignment
// read-modify-write atomicity is the assigner's job; the store only promises
// that SaveAssignment replaces any existing binding for the user.
type ProxyStore interface {
	AddProxy(ctx context.Context, proxy Proxy) error
	SetProxyEnabled(ctx context.Context, id string, enabled bool) error
	ListEnabledProxies(ctx context.Context) ([]Proxy, error)
	GetAssignment(ctx context.Context, tenant, userID string) (ProxyAssignment, error)

	// SaveAssignment upserts the user's binding and stamps the proxy's
	// last_assigned_at for the round-robin selection policy.
	SaveAssignment(ctx context.Context, assignment ProxyAssignment) error
}

// Outcome is what an executor yields for one attempt. Empty Errors means
// success; Results alongside Errors means partial success; Errors alone means
// failure. PostProcess requests the PROCESSED terminal status, signalling that
// results still need external post-processing.
type Outcome struct {
	Results     []RunResult
	Errors      []RunError
	Log         []byte
	PostProcess bool
}

// Executor performs the actual browser automation for a claimed run. The
// scheduler treats it as an opaque, cancellable unit of work bounded by the
// context deadline.
type Executor interface {
	Execute(ctx context.Context, run Run, session BrowserSession, proxy Proxy) (Outcome, error)
}

// CompletionEvent is published on every terminal transition for the external
// CRM-sync consumer.
type CompletionEvent struct {
	RunID       string    `json:"run_id"`
	Tenant      string    `json:"tenant"`
	UserID      string    `json:"user_id"`
	Type        RunType   `json:"type"`
	Status      RunStatus `json:"status"`
	DurationMs  int64     `json:"duration_ms"`
	ResultCount int       `json:"result_count"`
	ErrorCount  int       `json:"error_count"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Publisher delivers completion events. Implementations must be safe for
// concurrent use by multiple workers.
type Publisher interface {
	Publish(ctx context.Context, event CompletionEvent) error
	Close() error
}

// LogStore persists execution logs and returns a URI recorded as the run's
// log location.
type LogStore interface {
	Put(ctx context.Context, path string, data []byte) (string, error)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run/result/error ids.
type IDGenerator interface {
	NewID() (string, error)
}
