// Package scheduler owns the run lifecycle and the dispatch loop.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/customeros/customeros-sub005/internal/automation"
	"github.com/customeros/customeros-sub005/internal/metrics"
	"github.com/customeros/customeros-sub005/internal/proxy"
)

// Config controls dispatch behavior.
type Config struct {
	// Workers is the global concurrency cap.
	Workers int
	// ExecutionTimeout is the hard per-run execution budget.
	ExecutionTimeout time.Duration
	// ClaimInterval is how long the loop idles when nothing is dispatchable.
	ClaimInterval time.Duration
	// ClaimBackoff is how long the loop backs off after an infrastructure
	// error on the claim path.
	ClaimBackoff time.Duration
	// GraceWindow is how far in the past a submitted scheduled_at may lie.
	GraceWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = 10 * time.Minute
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = time.Second
	}
	if c.ClaimBackoff <= 0 {
		c.ClaimBackoff = 5 * time.Second
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = time.Minute
	}
	return c
}

// SubmitRequest carries everything needed to enqueue a run.
type SubmitRequest struct {
	Tenant      string
	UserID      string
	Type        automation.RunType
	Payload     json.RawMessage
	Priority    int
	TriggeredBy automation.TriggeredBy
	ScheduledAt *time.Time
}

type inflight struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Scheduler accepts run submissions, claims due runs in priority order, and
// drives each claimed run through execution, retry, and completion.
type Scheduler struct {
	runs      automation.RunStore
	results   automation.ResultStore
	sessions  automation.SessionStore
	assigner  *proxy.Assigner
	executor  automation.Executor
	logs      automation.LogStore
	publisher automation.Publisher
	policy    *automation.RetryPolicy
	clock     automation.Clock
	idGen     automation.IDGenerator
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	running map[string]*inflight
}

// New constructs a Scheduler.
func New(
	runs automation.RunStore,
	results automation.ResultStore,
	sessions automation.SessionStore,
	assigner *proxy.Assigner,
	executor automation.Executor,
	logs automation.LogStore,
	publisher automation.Publisher,
	policy *automation.RetryPolicy,
	clock automation.Clock,
	idGen automation.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	metrics.Init()
	return &Scheduler{
		runs:      runs,
		results:   results,
		sessions:  sessions,
		assigner:  assigner,
		executor:  executor,
		logs:      logs,
		publisher: publisher,
		policy:    policy,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		running:   make(map[string]*inflight),
	}
}

// Submit validates and persists a new run in SCHEDULED. The run becomes
// visible to the dispatch loop once its scheduled_at is due.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Tenant == "" || req.UserID == "" {
		return "", fmt.Errorf("%w: tenant and user_id required", automation.ErrInvalidPayload)
	}
	if !automation.KnownRunType(req.Type) {
		return "", fmt.Errorf("%w: %s", automation.ErrInvalidType, req.Type)
	}
	if err := automation.ValidatePayload(req.Type, req.Payload); err != nil {
		return "", err
	}

	now := s.clock.Now()
	scheduledAt := now
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
		if scheduledAt.Before(now.Add(-s.cfg.GraceWindow)) {
			return "", fmt.Errorf("%w: scheduled_at %s is in the past", automation.ErrInvalidSchedule, scheduledAt)
		}
	}
	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = automation.TriggeredByManual
	}
	if !automation.KnownTriggeredBy(triggeredBy) {
		return "", fmt.Errorf("%w: unknown triggered_by %q", automation.ErrInvalidPayload, triggeredBy)
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	run := automation.Run{
		ID:          id,
		Tenant:      req.Tenant,
		UserID:      req.UserID,
		Type:        req.Type,
		Payload:     req.Payload,
		Status:      automation.RunStatusScheduled,
		Priority:    req.Priority,
		TriggeredBy: triggeredBy,
		ScheduledAt: scheduledAt,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	metrics.ObserveSubmission(string(req.Type), string(triggeredBy))
	s.logger.Info("run submitted",
		zap.String("run_id", id),
		zap.String("tenant", req.Tenant),
		zap.String("user_id", req.UserID),
		zap.String("type", string(req.Type)),
		zap.Int("priority", req.Priority),
	)
	return id, nil
}

// Cancel transitions a SCHEDULED or RUNNING run to CANCELLED. In-flight
// executions are cancelled cooperatively; best-effort, not instantaneous.
func (s *Scheduler) Cancel(ctx context.Context, runID string) (automation.Run, error) {
	run, changed, err := s.runs.CancelRun(ctx, runID, s.clock.Now())
	if err != nil {
		return automation.Run{}, err
	}
	if !changed {
		return run, nil
	}

	s.mu.Lock()
	if inf, ok := s.running[runID]; ok {
		inf.cancelled = true
		inf.cancel()
	}
	s.mu.Unlock()

	metrics.ObserveCompletion(string(run.Type), string(run.Status), 0)
	s.publishCompletion(ctx, run, 0, 0)
	s.logger.Info("run cancelled", zap.String("run_id", runID))
	return run, nil
}

// Run blocks, claiming and executing due runs until the context finishes.
// Claims are serialized in this loop so the ordering contract stays
// deterministic; execution fans out to at most cfg.Workers goroutines.
func (s *Scheduler) Run(ctx context.Context) {
	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		run, err := s.runs.ClaimNextRun(ctx, s.clock.Now())
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				wg.Wait()
				return
			}
			if errors.Is(err, automation.ErrNotFound) {
				s.sleep(ctx, s.cfg.ClaimInterval)
				continue
			}
			// Infrastructure error: the run was never claimed, so no run
			// state is touched; back off and retry the claim itself.
			metrics.ObserveClaimError()
			s.logger.Error("claim next run failed", zap.Error(err))
			s.sleep(ctx, s.cfg.ClaimBackoff)
			continue
		}

		wg.Add(1)
		go func(run automation.Run) {
			defer wg.Done()
			defer func() { <-sem }()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			s.process(ctx, run)
		}(run)
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// process executes one claimed run end to end: resource resolution, the
// executor call under the hard timeout, and the resulting transition.
func (s *Scheduler) process(ctx context.Context, run automation.Run) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
	defer cancel()

	inf := &inflight{cancel: cancel}
	s.mu.Lock()
	s.running[run.ID] = inf
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, run.ID)
		s.mu.Unlock()
	}()

	logger := s.logger.With(
		zap.String("run_id", run.ID),
		zap.String("tenant", run.Tenant),
		zap.String("user_id", run.UserID),
		zap.String("type", string(run.Type)),
	)
	logger.Info("run dispatched", zap.Int("retry_count", run.RetryCount))

	session, err := s.sessions.GetValidSession(ctx, run.Tenant, run.UserID)
	if err != nil {
		// No VALID session is fatal: re-provisioning is external, so retrying
		// would only burn attempts.
		s.recordError(ctx, run, automation.RunError{
			ErrorType:    automation.ErrorTypeSessionInvalid,
			ErrorCode:    "NO_VALID_SESSION",
			ErrorMessage: "no valid browser session for user",
		})
		s.finishRun(ctx, run, automation.RunStatusFailed, 0, "", 0, 1)
		logger.Warn("run failed: no valid browser session")
		return
	}
	if err := s.runs.AssignBrowserConfig(ctx, run.ID, session.ID); err != nil {
		logger.Warn("assign browser config failed", zap.Error(err))
	}

	egress, err := s.assigner.GetOrAssign(ctx, run.Tenant, run.UserID)
	if err != nil {
		s.recordError(ctx, run, automation.RunError{
			ErrorType:    automation.ErrorTypeProxyFailure,
			ErrorCode:    "NO_PROXY_AVAILABLE",
			ErrorMessage: "no enabled proxy available in the pool",
		})
		s.handleFailure(ctx, run, automation.ErrorTypeProxyFailure, "", "", 0, 1, logger)
		return
	}

	start := s.clock.Now()
	outcome, execErr := s.execute(runCtx, run, session, egress)
	duration := s.clock.Now().Sub(start)

	if s.wasCancelled(run.ID) {
		// Cancel already wrote the terminal status; discard the outcome.
		logger.Info("run cancelled mid-flight, outcome discarded")
		return
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		// Hard execution timeout: force FAILED regardless of what the
		// executor eventually returns. The executor tears down its own
		// browser via the context.
		s.recordError(ctx, run, automation.RunError{
			ErrorType:    automation.ErrorTypeTimeout,
			ErrorCode:    "EXECUTION_TIMEOUT",
			ErrorMessage: fmt.Sprintf("run exceeded execution timeout of %s", s.cfg.ExecutionTimeout),
		})
		s.finishRun(ctx, run, automation.RunStatusFailed, duration.Milliseconds(), "", 0, 1)
		logger.Warn("run timed out", zap.Duration("timeout", s.cfg.ExecutionTimeout))
		return
	}
	if ctx.Err() != nil {
		// Scheduler shutdown mid-run: leave the run as claimed; operators
		// resolve stranded RUNNING rows on restart.
		logger.Warn("shutdown during execution, run left in RUNNING")
		return
	}

	if execErr != nil {
		// Hard executor crash: unclassifiable, defaults to UNKNOWN.
		s.recordError(ctx, run, automation.RunError{
			ErrorType:    automation.ErrorTypeUnknown,
			ErrorCode:    "EXECUTOR_CRASH",
			ErrorMessage: execErr.Error(),
		})
		logURI := s.storeLog(ctx, run, outcome.Log, logger)
		s.handleFailure(ctx, run, automation.ErrorTypeUnknown, egress.ID, logURI, duration.Milliseconds(), 1, logger)
		return
	}

	// Audit trail first: every attempt error is persisted before any status
	// write so it survives a failed transition.
	for _, runErr := range outcome.Errors {
		s.recordError(ctx, run, runErr)
	}
	logURI := s.storeLog(ctx, run, outcome.Log, logger)

	if len(outcome.Errors) == 0 || len(outcome.Results) > 0 {
		// Full or partial success: results are persisted and the run
		// completes. PostProcess requests the PROCESSED terminal status.
		resultCount := s.recordResults(ctx, run, outcome.Results)
		status := automation.RunStatusCompleted
		if outcome.PostProcess {
			status = automation.RunStatusProcessed
		}
		s.finishRun(ctx, run, status, duration.Milliseconds(), logURI, resultCount, len(outcome.Errors))
		logger.Info("run completed",
			zap.String("status", string(status)),
			zap.Int("results", resultCount),
			zap.Int("errors", len(outcome.Errors)),
			zap.Duration("duration", duration),
		)
		return
	}

	s.handleFailure(ctx, run, outcome.Errors[0].ErrorType, egress.ID, logURI, duration.Milliseconds(), len(outcome.Errors), logger)
}

// execute runs the executor in a child goroutine so a hung automation cannot
// pin the worker past the hard timeout; on timeout the goroutine is abandoned
// and the context tears down the underlying browser.
func (s *Scheduler) execute(
	runCtx context.Context,
	run automation.Run,
	session automation.BrowserSession,
	egress automation.Proxy,
) (automation.Outcome, error) {
	type result struct {
		outcome automation.Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := s.executor.Execute(runCtx, run, session, egress)
		done <- result{outcome: outcome, err: err}
	}()

	select {
	case r := <-done:
		return r.outcome, r.err
	case <-runCtx.Done():
		return automation.Outcome{}, fmt.Errorf("execution aborted: %w", runCtx.Err())
	}
}

func (s *Scheduler) handleFailure(
	ctx context.Context,
	run automation.Run,
	errType automation.ErrorType,
	failingProxyID string,
	logURI string,
	durationMs int64,
	errCount int,
	logger *zap.Logger,
) {
	if logger == nil {
		logger = s.logger
	}

	if errType == automation.ErrorTypeSessionInvalid {
		// Mark the session so future submissions fail fast at dispatch time.
		if err := s.sessions.Invalidate(ctx, run.Tenant, run.UserID, "rejected during run "+run.ID); err != nil {
			logger.Error("session invalidate failed", zap.Error(err))
		}
		s.finishRun(ctx, run, automation.RunStatusFailed, durationMs, logURI, 0, errCount)
		logger.Warn("run failed: session invalid, browser session invalidated")
		return
	}

	if errType == automation.ErrorTypeProxyFailure && failingProxyID != "" {
		// Rebind away from the failing proxy before the next attempt.
		if _, err := s.assigner.Rebind(ctx, run.Tenant, run.UserID, failingProxyID); err != nil {
			if errors.Is(err, automation.ErrNoProxyAvailable) {
				s.recordError(ctx, run, automation.RunError{
					ErrorType:    automation.ErrorTypeProxyFailure,
					ErrorCode:    "NO_PROXY_AVAILABLE",
					ErrorMessage: "no enabled proxy left after excluding failing proxy",
				})
				s.finishRun(ctx, run, automation.RunStatusFailed, durationMs, logURI, 0, errCount+1)
				logger.Warn("run failed: proxy pool exhausted for user")
				return
			}
			logger.Error("proxy rebind failed", zap.Error(err))
		}
	}

	if s.policy.ShouldRetry(errType, run.RetryCount) {
		nextAt := s.clock.Now().Add(s.policy.Backoff(run.RetryCount))
		if err := s.runs.RescheduleRun(ctx, run.ID, run.RetryCount+1, nextAt); err != nil {
			if errors.Is(err, automation.ErrInvalidTransition) {
				logger.Info("reschedule skipped, run already terminal")
				return
			}
			logger.Error("reschedule failed", zap.Error(err))
			return
		}
		metrics.ObserveRetry(string(run.Type), string(errType))
		logger.Info("run rescheduled",
			zap.String("error_type", string(errType)),
			zap.Int("retry_count", run.RetryCount+1),
			zap.Time("next_attempt_at", nextAt),
		)
		return
	}

	s.finishRun(ctx, run, automation.RunStatusFailed, durationMs, logURI, 0, errCount)
	logger.Warn("run failed",
		zap.String("error_type", string(errType)),
		zap.Int("retry_count", run.RetryCount),
	)
}

func (s *Scheduler) finishRun(
	ctx context.Context,
	run automation.Run,
	status automation.RunStatus,
	durationMs int64,
	logURI string,
	resultCount, errCount int,
) {
	finishedAt := s.clock.Now()
	if err := s.runs.CompleteRun(ctx, run.ID, status, finishedAt, durationMs, logURI); err != nil {
		if errors.Is(err, automation.ErrInvalidTransition) {
			s.logger.Info("completion skipped, run already terminal", zap.String("run_id", run.ID))
			return
		}
		s.logger.Error("complete run failed", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	run.Status = status
	run.RunDurationMs = durationMs
	run.FinishedAt = &finishedAt
	metrics.ObserveCompletion(string(run.Type), string(status), time.Duration(durationMs)*time.Millisecond)
	s.publishCompletion(ctx, run, resultCount, errCount)
}

func (s *Scheduler) publishCompletion(ctx context.Context, run automation.Run, resultCount, errCount int) {
	if s.publisher == nil {
		return
	}
	finishedAt := s.clock.Now()
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}
	event := automation.CompletionEvent{
		RunID:       run.ID,
		Tenant:      run.Tenant,
		UserID:      run.UserID,
		Type:        run.Type,
		Status:      run.Status,
		DurationMs:  run.RunDurationMs,
		ResultCount: resultCount,
		ErrorCount:  errCount,
		FinishedAt:  finishedAt,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("publish completion failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *Scheduler) recordError(ctx context.Context, run automation.Run, runErr automation.RunError) {
	runErr.RunID = run.ID
	if runErr.ID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			s.logger.Error("generate error id failed", zap.Error(err))
			return
		}
		runErr.ID = id
	}
	if runErr.OccurredAt.IsZero() {
		runErr.OccurredAt = s.clock.Now()
	}
	if err := s.results.AddError(ctx, runErr); err != nil {
		s.logger.Error("record run error failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *Scheduler) recordResults(ctx context.Context, run automation.Run, results []automation.RunResult) int {
	count := 0
	for _, result := range results {
		result.RunID = run.ID
		if result.ID == "" {
			id, err := s.idGen.NewID()
			if err != nil {
				s.logger.Error("generate result id failed", zap.Error(err))
				continue
			}
			result.ID = id
		}
		if result.CreatedAt.IsZero() {
			result.CreatedAt = s.clock.Now()
		}
		if err := s.results.AddResult(ctx, result); err != nil {
			s.logger.Error("record run result failed", zap.String("run_id", run.ID), zap.Error(err))
			continue
		}
		count++
	}
	return count
}

func (s *Scheduler) storeLog(ctx context.Context, run automation.Run, log []byte, logger *zap.Logger) string {
	if s.logs == nil || len(log) == 0 {
		return ""
	}
	path := fmt.Sprintf("%s/%s/attempt-%d.log", run.Tenant, run.ID, run.RetryCount)
	uri, err := s.logs.Put(ctx, path, log)
	if err != nil {
		logger.Warn("store execution log failed", zap.Error(err))
		return ""
	}
	return uri
}

func (s *Scheduler) wasCancelled(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	inf, ok := s.running[runID]
	return ok && inf.cancelled
}
