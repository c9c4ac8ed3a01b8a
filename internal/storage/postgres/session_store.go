package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/customeros/customeros-sub005/internal/automation"
)

// uniqueViolation is the Postgres error code for unique constraint breaks.
const uniqueViolation = "23505"

// SessionStore implements automation.SessionStore on Postgres. Cookies are
// stored as a JSONB blob on the browser_configs row.
type SessionStore struct {
	pool db
}

// NewSessionStore creates a Postgres-backed SessionStore.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// NewSessionStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewSessionStoreWithPool(pool db) (*SessionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SessionStore{pool: pool}, nil
}

// CreateSession registers a user's session. The (tenant, user_id) unique
// index enforces one session per user.
func (s *SessionStore) CreateSession(ctx context.Context, session automation.BrowserSession) error {
	cookies, err := json.Marshal(session.Cookies)
	if err != nil {
		return fmt.Errorf("marshal cookies: %w", err)
	}
	query := `
		INSERT INTO browser_configs (
			id, tenant, user_id, cookies, user_agent, session_status, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, err = s.pool.Exec(ctx, query,
		session.ID,
		session.Tenant,
		session.UserID,
		cookies,
		session.UserAgent,
		session.Status,
		session.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return automation.ErrSessionExists
		}
		return fmt.Errorf("insert browser config: %w", err)
	}
	return nil
}

// GetValidSession returns the user's session only if VALID.
func (s *SessionStore) GetValidSession(ctx context.Context, tenant, userID string) (automation.BrowserSession, error) {
	query := `
		SELECT id, tenant, user_id, cookies, user_agent, session_status, updated_at
		FROM browser_configs
		WHERE tenant = $1 AND user_id = $2 AND session_status = $3;
	`
	var (
		session automation.BrowserSession
		cookies []byte
	)
	err := s.pool.QueryRow(ctx, query, tenant, userID, automation.SessionStatusValid).Scan(
		&session.ID,
		&session.Tenant,
		&session.UserID,
		&cookies,
		&session.UserAgent,
		&session.Status,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return automation.BrowserSession{}, automation.ErrNoValidSession
		}
		return automation.BrowserSession{}, fmt.Errorf("get browser config: %w", err)
	}
	if len(cookies) > 0 {
		if err := json.Unmarshal(cookies, &session.Cookies); err != nil {
			return automation.BrowserSession{}, fmt.Errorf("unmarshal cookies: %w", err)
		}
	}
	return session, nil
}

// Invalidate sets the session INVALID. A missing session is not an error.
func (s *SessionStore) Invalidate(ctx context.Context, tenant, userID, reason string) error {
	query := `
		UPDATE browser_configs
		SET session_status = $3, invalidated_reason = $4, updated_at = NOW()
		WHERE tenant = $1 AND user_id = $2;
	`
	if _, err := s.pool.Exec(ctx, query, tenant, userID, automation.SessionStatusInvalid, reason); err != nil {
		return fmt.Errorf("invalidate browser config: %w", err)
	}
	return nil
}
