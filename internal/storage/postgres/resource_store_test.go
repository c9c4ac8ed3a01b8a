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

func TestAddResultInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResultStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	result := automation.RunResult{
		ID:         "res-1",
		RunID:      "run-1",
		Type:       "connection",
		ResultData: json.RawMessage(`{"name":"Jane"}`),
		CreatedAt:  now,
	}

	mock.ExpectExec("INSERT INTO browser_automation_run_results").
		WithArgs(result.ID, result.RunID, result.Type, result.ResultData, result.CreatedAt, false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.AddResult(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessedMissingResult(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResultStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE browser_automation_run_results SET is_processed").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.ErrorIs(t, store.MarkProcessed(context.Background(), "missing"), automation.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetValidSessionMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSessionStoreWithPool(mock)
	require.NoError(t, err)

	cols := []string{"id", "tenant", "user_id", "cookies", "user_agent", "session_status", "updated_at"}
	mock.ExpectQuery("SELECT (.+) FROM browser_configs").
		WithArgs("acme", "u1", automation.SessionStatusValid).
		WillReturnRows(pgxmock.NewRows(cols))

	_, err = store.GetValidSession(context.Background(), "acme", "u1")
	require.ErrorIs(t, err, automation.ErrNoValidSession)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetValidSessionDecodesCookies(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSessionStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	cols := []string{"id", "tenant", "user_id", "cookies", "user_agent", "session_status", "updated_at"}
	mock.ExpectQuery("SELECT (.+) FROM browser_configs").
		WithArgs("acme", "u1", automation.SessionStatusValid).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"cfg-1", "acme", "u1",
			[]byte(`[{"name":"li_at","value":"tok","domain":".linkedin.com"}]`),
			"Mozilla/5.0", string(automation.SessionStatusValid), now,
		))

	session, err := store.GetValidSession(context.Background(), "acme", "u1")
	require.NoError(t, err)
	require.Len(t, session.Cookies, 1)
	require.Equal(t, "li_at", session.Cookies[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAssignmentUpsertsAndStampsProxy(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProxyStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	assignment := automation.ProxyAssignment{
		Tenant:           "acme",
		UserID:           "u1",
		ProxyID:          "p2",
		AssignedAt:       now,
		ExcludedProxyIDs: []string{"p1"},
	}

	mock.ExpectExec("INSERT INTO proxy_assignments").
		WithArgs(assignment.Tenant, assignment.UserID, assignment.ProxyID,
			assignment.AssignedAt, assignment.ExcludedProxyIDs).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE proxies SET last_assigned_at").
		WithArgs("p2", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SaveAssignment(context.Background(), assignment))
	require.NoError(t, mock.ExpectationsWereMet())
}
