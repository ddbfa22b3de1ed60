package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/snapenv/snapenv/internal/domain"
)

// RecordAttempt appends a reconciliation attempt to the audit log.
func (r *Repository) RecordAttempt(ctx context.Context, attempt *domain.DeploymentAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO deployment_attempts
			(id, environment_id, generation, action, outcome, error_kind, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		attempt.ID,
		attempt.EnvironmentID,
		attempt.Generation,
		string(attempt.Action),
		string(attempt.Outcome),
		emptyToNil(attempt.ErrorKind),
		attempt.Error,
		durationToMillis(attempt.Duration),
		attempt.CreatedAt,
	)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

// ListAttemptsByEnvironment returns the most recent attempts for one
// environment, newest first.
func (r *Repository) ListAttemptsByEnvironment(ctx context.Context, environmentID string, limit int) ([]domain.DeploymentAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, environment_id, generation, action, outcome, error_kind, error, duration_ms, created_at
		FROM deployment_attempts
		WHERE environment_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, environmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]domain.DeploymentAttempt, 0)
	for rows.Next() {
		var (
			attempt    domain.DeploymentAttempt
			errorKind  *string
			durationMS int64
		)
		if err := rows.Scan(
			&attempt.ID,
			&attempt.EnvironmentID,
			&attempt.Generation,
			&attempt.Action,
			&attempt.Outcome,
			&errorKind,
			&attempt.Error,
			&durationMS,
			&attempt.CreatedAt,
		); err != nil {
			return nil, err
		}
		if errorKind != nil {
			attempt.ErrorKind = *errorKind
		}
		attempt.Duration = time.Duration(durationMS) * time.Millisecond
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}
