package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/customeros/customeros-sub005/internal/automation"
)

// ResultStore implements automation.ResultStore on Postgres. Rows are
// append-only; only is_processed is ever updated.
type ResultStore struct {
	pool db
}

// NewResultStore creates a Postgres-backed ResultStore.
func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewResultStoreWithPool(pool db) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ResultStore{pool: pool}, nil
}

// AddResult inserts one result row.
func (s *ResultStore) AddResult(ctx context.Context, result automation.RunResult) error {
	query := `
		INSERT INTO browser_automation_run_results (
			id, run_id, result_type, result_data, created_at, is_processed
		) VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := s.pool.Exec(ctx, query,
		result.ID,
		result.RunID,
		result.Type,
		result.ResultData,
		result.CreatedAt,
		result.IsProcessed,
	)
	if err != nil {
		return fmt.Errorf("insert run result: %w", err)
	}
	return nil
}

// AddError inserts one error row.
func (s *ResultStore) AddError(ctx context.Context, runErr automation.RunError) error {
	query := `
		INSERT INTO browser_automation_run_errors (
			id, run_id, occurred_at, error_type, error_code, error_message, error_details
		) VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, err := s.pool.Exec(ctx, query,
		runErr.ID,
		runErr.RunID,
		runErr.OccurredAt,
		runErr.ErrorType,
		runErr.ErrorCode,
		runErr.ErrorMessage,
		runErr.ErrorDetails,
	)
	if err != nil {
		return fmt.Errorf("insert run error: %w", err)
	}
	return nil
}

// ListResults returns a run's results in insertion order.
func (s *ResultStore) ListResults(ctx context.Context, runID string) ([]automation.RunResult, error) {
	query := `
		SELECT id, run_id, result_type, result_data, created_at, is_processed
		FROM browser_automation_run_results
		WHERE run_id = $1
		ORDER BY created_at ASC, id ASC;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list run results: %w", err)
	}
	defer rows.Close()

	var results []automation.RunResult
	for rows.Next() {
		var result automation.RunResult
		err := rows.Scan(
			&result.ID,
			&result.RunID,
			&result.Type,
			&result.ResultData,
			&result.CreatedAt,
			&result.IsProcessed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// ListErrors returns a run's errors in occurrence order, one per failed
// attempt.
func (s *ResultStore) ListErrors(ctx context.Context, runID string) ([]automation.RunError, error) {
	query := `
		SELECT id, run_id, occurred_at, error_type, error_code, error_message, error_details
		FROM browser_automation_run_errors
		WHERE run_id = $1
		ORDER BY occurred_at ASC, id ASC;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list run errors: %w", err)
	}
	defer rows.Close()

	var errs []automation.RunError
	for rows.Next() {
		var runErr automation.RunError
		err := rows.Scan(
			&runErr.ID,
			&runErr.RunID,
			&runErr.OccurredAt,
			&runErr.ErrorType,
			&runErr.ErrorCode,
			&runErr.ErrorMessage,
			&runErr.ErrorDetails,
		)
		if err != nil {
			return nil, fmt.Errorf("scan error row: %w", err)
		}
		errs = append(errs, runErr)
	}
	return errs, rows.Err()
}

// MarkProcessed flips one result's is_processed flag.
func (s *ResultStore) MarkProcessed(ctx context.Context, resultID string) error {
	query := `UPDATE browser_automation_run_results SET is_processed = TRUE WHERE id = $1;`
	tag, err := s.pool.Exec(ctx, query, resultID)
	if err != nil {
		return fmt.Errorf("mark result processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return automation.ErrNotFound
	}
	return nil
}
