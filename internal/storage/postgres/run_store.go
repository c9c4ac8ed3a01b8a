// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/customeros/customeros-sub005/internal/automation"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// db is the subset of pgxpool.Pool the stores use; pgxmock satisfies it.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NewPool builds a pgx pool from the config.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// RunStore implements automation.RunStore on Postgres. Claim atomicity relies
// on FOR UPDATE SKIP LOCKED plus a per-user advisory lock, so multiple
// scheduler instances can share one table without double-dispatching or
// running two runs for the same user.
type RunStore struct {
	pool db
}

// NewRunStore creates a Postgres-backed RunStore.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for
// testing).
func NewRunStoreWithPool(pool db) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// run_duration_ms, browser_config_id and log_location are only written after
// dispatch, so fresh rows carry NULL under a plain schema; COALESCE keeps
// scanRun on non-pointer fields.
const runColumns = `id, tenant, user_id, run_type, payload, status, priority, triggered_by,
	scheduled_at, started_at, finished_at, COALESCE(run_duration_ms, 0), retry_count,
	COALESCE(browser_config_id, ''), COALESCE(log_location, '')`

// CreateRun inserts a new run in SCHEDULED.
func (s *RunStore) CreateRun(ctx context.Context, run automation.Run) error {
	query := `
		INSERT INTO browser_automation_runs (
			id, tenant, user_id, run_type, payload, status, priority,
			triggered_by, scheduled_at, retry_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`
	_, err := s.pool.Exec(ctx, query,
		run.ID,
		run.Tenant,
		run.UserID,
		run.Type,
		run.Payload,
		run.Status,
		run.Priority,
		run.TriggeredBy,
		run.ScheduledAt,
		run.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *RunStore) GetRun(ctx context.Context, id string) (automation.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM browser_automation_runs WHERE id = $1;`, runColumns)
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return automation.Run{}, automation.ErrNotFound
		}
		return automation.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs, optionally filtered by status, newest first.
func (s *RunStore) ListRuns(ctx context.Context, status *automation.RunStatus, limit, offset int) ([]automation.Run, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM browser_automation_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY scheduled_at DESC, id DESC
		LIMIT $2 OFFSET $3;
	`, runColumns)
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []automation.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ClaimNextRun claims the next dispatchable run in one guarded UPDATE. The
// inner select skips users that already have a RUNNING run, orders by
// priority DESC then scheduled_at then id, and SKIP LOCKED keeps concurrent
// claimers from blocking on each other. The NOT EXISTS busy check alone is not
// enough across instances: under READ COMMITTED, two claimers can both pass it
// before either commit is visible and pick two different runs of the same
// user. The per-user advisory xact lock closes that window; whichever claimer
// holds it commits its RUNNING row before the other can select that user
// again.
func (s *RunStore) ClaimNextRun(ctx context.Context, now time.Time) (automation.Run, error) {
	query := fmt.Sprintf(`
		UPDATE browser_automation_runs SET status = $1, started_at = $2
		WHERE id = (
			SELECT r.id FROM browser_automation_runs r
			WHERE r.status = $3
			  AND r.scheduled_at <= $2
			  AND NOT EXISTS (
				SELECT 1 FROM browser_automation_runs b
				WHERE b.status = $1 AND b.tenant = r.tenant AND b.user_id = r.user_id
			  )
			  AND pg_try_advisory_xact_lock(hashtext(r.tenant || ':' || r.user_id))
			ORDER BY r.priority DESC, r.scheduled_at ASC, r.id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING %s;
	`, runColumns)
	run, err := scanRun(s.pool.QueryRow(ctx, query,
		automation.RunStatusRunning, now, automation.RunStatusScheduled))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return automation.Run{}, automation.ErrNotFound
		}
		return automation.Run{}, fmt.Errorf("claim run: %w", err)
	}
	return run, nil
}

// CompleteRun transitions a RUNNING run to a terminal status. The status
// guard in the WHERE clause makes terminal runs immutable even under races.
func (s *RunStore) CompleteRun(ctx context.Context, id string, status automation.RunStatus, finishedAt time.Time, durationMs int64, logLocation string) error {
	query := `
		UPDATE browser_automation_runs
		SET status = $2, finished_at = $3, run_duration_ms = $4, log_location = $5
		WHERE id = $1 AND status = $6;
	`
	tag, err := s.pool.Exec(ctx, query, id, status, finishedAt, durationMs, logLocation, automation.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id)
	}
	return nil
}

// RescheduleRun moves a RUNNING run back to SCHEDULED for its next attempt.
func (s *RunStore) RescheduleRun(ctx context.Context, id string, retryCount int, nextAt time.Time) error {
	query := `
		UPDATE browser_automation_runs
		SET status = $2, retry_count = $3, scheduled_at = $4, started_at = NULL
		WHERE id = $1 AND status = $5;
	`
	tag, err := s.pool.Exec(ctx, query, id, automation.RunStatusScheduled, retryCount, nextAt, automation.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("reschedule run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id)
	}
	return nil
}

// AssignBrowserConfig records which browser session a run was dispatched with.
func (s *RunStore) AssignBrowserConfig(ctx context.Context, id, browserConfigID string) error {
	query := `UPDATE browser_automation_runs SET browser_config_id = $2 WHERE id = $1;`
	tag, err := s.pool.Exec(ctx, query, id, browserConfigID)
	if err != nil {
		return fmt.Errorf("assign browser config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return automation.ErrNotFound
	}
	return nil
}

// CancelRun transitions a SCHEDULED or RUNNING run to CANCELLED.
func (s *RunStore) CancelRun(ctx context.Context, id string, now time.Time) (automation.Run, bool, error) {
	query := fmt.Sprintf(`
		UPDATE browser_automation_runs SET status = $2, finished_at = $3
		WHERE id = $1 AND status IN ($4, $5)
		RETURNING %s;
	`, runColumns)
	run, err := scanRun(s.pool.QueryRow(ctx, query, id,
		automation.RunStatusCancelled, now,
		automation.RunStatusScheduled, automation.RunStatusRunning))
	if err == nil {
		return run, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return automation.Run{}, false, fmt.Errorf("cancel run: %w", err)
	}

	// Nothing matched the guard: either missing, already cancelled, or in
	// another terminal state.
	run, err = s.GetRun(ctx, id)
	if err != nil {
		return automation.Run{}, false, err
	}
	if run.Status == automation.RunStatusCancelled {
		return run, false, nil
	}
	return automation.Run{}, false, fmt.Errorf("cancel %s run %s: %w", run.Status, id, automation.ErrInvalidTransition)
}

// transitionConflict distinguishes a missing run from a status-guard miss.
func (s *RunStore) transitionConflict(ctx context.Context, id string) error {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("run %s is %s: %w", id, run.Status, automation.ErrInvalidTransition)
}

func scanRun(row pgx.Row) (automation.Run, error) {
	var run automation.Run
	err := row.Scan(
		&run.ID,
		&run.Tenant,
		&run.UserID,
		&run.Type,
		&run.Payload,
		&run.Status,
		&run.Priority,
		&run.TriggeredBy,
		&run.ScheduledAt,
		&run.StartedAt,
		&run.FinishedAt,
		&run.RunDurationMs,
		&run.RetryCount,
		&run.BrowserConfigID,
		&run.LogLocation,
	)
	return run, err
}
