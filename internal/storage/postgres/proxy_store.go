package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/customeros/customeros-sub005/internal/automation"
)

// ProxyStore implements automation.ProxyStore on Postgres.
type ProxyStore struct {
	pool db
}

// NewProxyStore creates a Postgres-backed ProxyStore.
func NewProxyStore(pool *pgxpool.Pool) *ProxyStore {
	return &ProxyStore{pool: pool}
}

// NewProxyStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewProxyStoreWithPool(pool db) (*ProxyStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProxyStore{pool: pool}, nil
}

// AddProxy registers a proxy in the pool.
func (s *ProxyStore) AddProxy(ctx context.Context, proxy automation.Proxy) error {
	query := `
		INSERT INTO proxies (id, url, username, password, enabled, last_assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := s.pool.Exec(ctx, query,
		proxy.ID,
		proxy.URL,
		proxy.Username,
		proxy.Password,
		proxy.Enabled,
		proxy.LastAssignedAt,
	)
	if err != nil {
		return fmt.Errorf("insert proxy: %w", err)
	}
	return nil
}

// SetProxyEnabled toggles a proxy's availability for new assignments.
func (s *ProxyStore) SetProxyEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE proxies SET enabled = $2 WHERE id = $1;`
	tag, err := s.pool.Exec(ctx, query, id, enabled)
	if err != nil {
		return fmt.Errorf("set proxy enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return automation.ErrNotFound
	}
	return nil
}

// ListEnabledProxies returns the selectable pool.
func (s *ProxyStore) ListEnabledProxies(ctx context.Context) ([]automation.Proxy, error) {
	query := `
		SELECT id, url, username, password, enabled, last_assigned_at
		FROM proxies
		WHERE enabled
		ORDER BY id ASC;
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	defer rows.Close()

	var proxies []automation.Proxy
	for rows.Next() {
		var proxy automation.Proxy
		err := rows.Scan(
			&proxy.ID,
			&proxy.URL,
			&proxy.Username,
			&proxy.Password,
			&proxy.Enabled,
			&proxy.LastAssignedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan proxy row: %w", err)
		}
		proxies = append(proxies, proxy)
	}
	return proxies, rows.Err()
}

// GetAssignment returns the user's proxy binding, or ErrNotFound.
func (s *ProxyStore) GetAssignment(ctx context.Context, tenant, userID string) (automation.ProxyAssignment, error) {
	query := `
		SELECT tenant, user_id, proxy_id, assigned_at, excluded_proxy_ids
		FROM proxy_assignments
		WHERE tenant = $1 AND user_id = $2;
	`
	var assignment automation.ProxyAssignment
	err := s.pool.QueryRow(ctx, query, tenant, userID).Scan(
		&assignment.Tenant,
		&assignment.UserID,
		&assignment.ProxyID,
		&assignment.AssignedAt,
		&assignment.ExcludedProxyIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return automation.ProxyAssignment{}, automation.ErrNotFound
		}
		return automation.ProxyAssignment{}, fmt.Errorf("get proxy assignment: %w", err)
	}
	return assignment, nil
}

// SaveAssignment upserts the user's binding and stamps the proxy's
// last_assigned_at for the least-recently-assigned selection policy.
func (s *ProxyStore) SaveAssignment(ctx context.Context, assignment automation.ProxyAssignment) error {
	query := `
		INSERT INTO proxy_assignments (tenant, user_id, proxy_id, assigned_at, excluded_proxy_ids)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant, user_id) DO UPDATE
		SET proxy_id = EXCLUDED.proxy_id,
		    assigned_at = EXCLUDED.assigned_at,
		    excluded_proxy_ids = EXCLUDED.excluded_proxy_ids;
	`
	_, err := s.pool.Exec(ctx, query,
		assignment.Tenant,
		assignment.UserID,
		assignment.ProxyID,
		assignment.AssignedAt,
		assignment.ExcludedProxyIDs,
	)
	if err != nil {
		return fmt.Errorf("upsert proxy assignment: %w", err)
	}

	stamp := `UPDATE proxies SET last_assigned_at = $2 WHERE id = $1;`
	if _, err := s.pool.Exec(ctx, stamp, assignment.ProxyID, assignment.AssignedAt); err != nil {
		return fmt.Errorf("stamp proxy last_assigned_at: %w", err)
	}
	return nil
}
