package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/customeros/customeros-sub005/internal/automation"
)

var runCols = []string{
	"id", "tenant", "user_id", "run_type", "payload", "status", "priority",
	"triggered_by", "scheduled_at", "started_at", "finished_at",
	"run_duration_ms", "retry_count", "browser_config_id", "log_location",
}

func runRow(id string, status automation.RunStatus, now time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(runCols).AddRow(
		id, "acme", "u1", string(automation.RunTypeSendMessage),
		[]byte(`{"profile_url":"https://example.com/in/jane","message":"hi"}`),
		string(status), 3, string(automation.TriggeredByManual),
		now, (*time.Time)(nil), (*time.Time)(nil),
		int64(0), 0, "", "",
	)
}

func TestCreateRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	run := automation.Run{
		ID:          "run-1",
		Tenant:      "acme",
		UserID:      "u1",
		Type:        automation.RunTypeSendMessage,
		Payload:     json.RawMessage(`{"profile_url":"u","message":"m"}`),
		Status:      automation.RunStatusScheduled,
		Priority:    3,
		TriggeredBy: automation.TriggeredByManual,
		ScheduledAt: now,
	}

	mock.ExpectExec("INSERT INTO browser_automation_runs").
		WithArgs(
			run.ID, run.Tenant, run.UserID, run.Type, run.Payload,
			run.Status, run.Priority, run.TriggeredBy, run.ScheduledAt,
			run.RetryCount,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextRunReturnsClaimedRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	// The claim must carry the per-user advisory lock guard alongside the
	// busy check; without it two instances can start runs for one user.
	mock.ExpectQuery(`(?s)UPDATE browser_automation_runs SET status.+NOT EXISTS.+pg_try_advisory_xact_lock\(hashtext`).
		WithArgs(automation.RunStatusRunning, now, automation.RunStatusScheduled).
		WillReturnRows(runRow("run-1", automation.RunStatusRunning, now))

	run, err := store.ClaimNextRun(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, "run-1", run.ID)
	require.Equal(t, automation.RunStatusRunning, run.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextRunEmptyQueue(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("UPDATE browser_automation_runs SET status").
		WithArgs(automation.RunStatusRunning, now, automation.RunStatusScheduled).
		WillReturnRows(pgxmock.NewRows(runCols))

	_, err = store.ClaimNextRun(context.Background(), now)
	require.ErrorIs(t, err, automation.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunToleratesNullDerivedColumns(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	// Fresh rows never had run_duration_ms, browser_config_id or log_location
	// written; the select must coalesce them so the scan does not break.
	mock.ExpectQuery(`(?s)SELECT.+COALESCE\(run_duration_ms, 0\).+COALESCE\(browser_config_id, ''\), COALESCE\(log_location, ''\).+FROM browser_automation_runs WHERE id`).
		WithArgs("run-1").
		WillReturnRows(runRow("run-1", automation.RunStatusScheduled, now))

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Zero(t, run.RunDurationMs)
	require.Empty(t, run.BrowserConfigID)
	require.Empty(t, run.LogLocation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunGuardsTerminalStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	// The status guard matches nothing; the store looks up the run to
	// classify the conflict.
	mock.ExpectExec("UPDATE browser_automation_runs").
		WithArgs("run-1", automation.RunStatusCompleted, now, int64(1200), "file:///logs/run-1",
			automation.RunStatusRunning).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT (.+) FROM browser_automation_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(runRow("run-1", automation.RunStatusCancelled, now))

	err = store.CompleteRun(context.Background(), "run-1", automation.RunStatusCompleted, now, 1200, "file:///logs/run-1")
	require.ErrorIs(t, err, automation.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleRunUpdatesScheduleAndRetryCount(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	nextAt := time.Unix(1700000600, 0).UTC()
	mock.ExpectExec("UPDATE browser_automation_runs").
		WithArgs("run-1", automation.RunStatusScheduled, 2, nextAt, automation.RunStatusRunning).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.RescheduleRun(context.Background(), "run-1", 2, nextAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelRunIdempotentOnCancelled(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("UPDATE browser_automation_runs SET status").
		WithArgs("run-1", automation.RunStatusCancelled, now,
			automation.RunStatusScheduled, automation.RunStatusRunning).
		WillReturnRows(pgxmock.NewRows(runCols))
	mock.ExpectQuery("SELECT (.+) FROM browser_automation_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(runRow("run-1", automation.RunStatusCancelled, now))

	run, changed, err := store.CancelRun(context.Background(), "run-1", now)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, automation.RunStatusCancelled, run.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelRunRejectsCompleted(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("UPDATE browser_automation_runs SET status").
		WithArgs("run-1", automation.RunStatusCancelled, now,
			automation.RunStatusScheduled, automation.RunStatusRunning).
		WillReturnRows(pgxmock.NewRows(runCols))
	mock.ExpectQuery("SELECT (.+) FROM browser_automation_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(runRow("run-1", automation.RunStatusCompleted, now))

	_, _, err = store.CancelRun(context.Background(), "run-1", now)
	require.ErrorIs(t, err, automation.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}
