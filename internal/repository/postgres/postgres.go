package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapenv/snapenv/internal/domain"
	"github.com/snapenv/snapenv/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.EnvironmentRepository = (*Repository)(nil)
	_ repository.AttemptRepository     = (*Repository)(nil)
	_ repository.EventRepository       = (*Repository)(nil)
)

const environmentColumns = `id, repository, pr_number, branch, head_sha, deployed_sha,
	target_state, state, desired_generation, observed_generation, checks_passed,
	failure_count, not_before, ingress_host, last_error, created_at, updated_at`

// UpsertEnvironment creates the environment record for a PR or bumps its
// desired generation when it already exists. A bump resets the failure
// budget, the backoff gate and the quality-gate flag, and revives a
// terminated record when the PR is reopened.
func (r *Repository) UpsertEnvironment(ctx context.Context, ref domain.PullRequestRef) (*domain.Environment, error) {
	if ref.Repository == "" || ref.Number <= 0 {
		return nil, repository.ErrInvalidArgument
	}
	query := `INSERT INTO environments
			(id, repository, pr_number, branch, head_sha, target_state, state, desired_generation, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'active', 'pending', 1, NOW(), NOW())
		ON CONFLICT (repository, pr_number) DO UPDATE SET
			desired_generation = environments.desired_generation + 1,
			head_sha = EXCLUDED.head_sha,
			branch = EXCLUDED.branch,
			target_state = 'active',
			state = CASE WHEN environments.state = 'terminated' THEN 'pending' ELSE environments.state END,
			checks_passed = FALSE,
			failure_count = 0,
			not_before = NULL,
			last_error = '',
			updated_at = NOW()
		RETURNING ` + environmentColumns
	row := r.pool.QueryRow(ctx, query,
		ref.EnvironmentID(),
		ref.Repository,
		ref.Number,
		ref.Branch,
		ref.HeadSHA,
	)
	env, err := scanEnvironment(row)
	if err != nil {
		return nil, mapPgError(err)
	}
	return env, nil
}

// MarkTermination sets the desired target state to terminated. The desired
// generation is untouched: teardown always targets "no resources".
func (r *Repository) MarkTermination(ctx context.Context, repo string, prNumber int) (*domain.Environment, error) {
	query := `UPDATE environments
		SET target_state = 'terminated', updated_at = NOW()
		WHERE repository = $1 AND pr_number = $2
		RETURNING ` + environmentColumns
	row := r.pool.QueryRow(ctx, query, repo, prNumber)
	env, err := scanEnvironment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return env, nil
}

// MarkChecksPassed flags the quality gate for the head SHA. The SHA match
// makes stale check results for superseded pushes fall through to
// ErrNotFound, which callers treat as out-of-order and ignore.
func (r *Repository) MarkChecksPassed(ctx context.Context, repo string, prNumber int, headSHA string) (*domain.Environment, error) {
	query := `UPDATE environments
		SET checks_passed = TRUE, updated_at = NOW()
		WHERE repository = $1 AND pr_number = $2 AND head_sha = $3
		RETURNING ` + environmentColumns
	row := r.pool.QueryRow(ctx, query, repo, prNumber, headSHA)
	env, err := scanEnvironment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return env, nil
}

// GetEnvironment loads a single environment.
func (r *Repository) GetEnvironment(ctx context.Context, id string) (*domain.Environment, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments WHERE id = $1`
	env, err := scanEnvironment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return env, nil
}

// ListEnvironments enumerates environments, optionally filtered by state.
func (r *Repository) ListEnvironments(ctx context.Context, state string, limit, offset int) ([]domain.Environment, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + environmentColumns + `
		FROM environments
		WHERE ($1 = '' OR state = $1)
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, strings.TrimSpace(state), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnvironments(rows)
}

// ListUnconverged returns environments whose observed state trails desired
// state: pending work after a crash or a missed enqueue. A failed environment
// is excluded only while its failure budget is spent; a generation bump resets
// failure_count, so a revived record is picked up again on the next resync.
func (r *Repository) ListUnconverged(ctx context.Context) ([]domain.Environment, error) {
	query := `SELECT ` + environmentColumns + `
		FROM environments
		WHERE (target_state = 'terminated' AND state NOT IN ('terminated'))
		   OR (target_state = 'active' AND NOT (state = 'failed' AND failure_count > 0) AND (observed_generation < desired_generation OR state <> 'active'))
		ORDER BY updated_at ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnvironments(rows)
}

// UpdateObserved writes the outcome of a reconciliation pass. The write is
// guarded by the desired generation the reconciler believed it was
// converging; a concurrent bump rejects it with ErrStaleGeneration.
func (r *Repository) UpdateObserved(ctx context.Context, update domain.ObservedUpdate) error {
	if update.EnvironmentID == "" {
		return repository.ErrInvalidArgument
	}
	const query = `UPDATE environments
		SET state = $3,
			observed_generation = $4,
			deployed_sha = $5,
			ingress_host = $6,
			last_error = $7,
			failure_count = $8,
			not_before = $9,
			updated_at = NOW()
		WHERE id = $1 AND desired_generation = $2`
	tag, err := r.pool.Exec(ctx, query,
		update.EnvironmentID,
		update.ExpectedGeneration,
		string(update.State),
		update.ObservedGeneration,
		update.DeployedSHA,
		update.IngressHost,
		update.LastError,
		update.FailureCount,
		timePtrToNil(update.NotBefore),
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a deleted record from a raced generation bump.
		const exists = `SELECT 1 FROM environments WHERE id = $1`
		var one int
		if scanErr := r.pool.QueryRow(ctx, exists, update.EnvironmentID).Scan(&one); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return repository.ErrNotFound
			}
			return scanErr
		}
		return repository.ErrStaleGeneration
	}
	return nil
}

// DeleteTerminated removes a registry record once teardown is confirmed. The
// state guard means an active environment can never be removed.
func (r *Repository) DeleteTerminated(ctx context.Context, id string) error {
	const query = `DELETE FROM environments WHERE id = $1 AND state = 'terminated'`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListTerminatedBefore returns terminated environments last touched before
// the cutoff, eligible for removal by the janitor.
func (r *Repository) ListTerminatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Environment, error) {
	query := `SELECT ` + environmentColumns + `
		FROM environments WHERE state = 'terminated' AND updated_at < $1`
	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnvironments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvironment(row rowScanner) (*domain.Environment, error) {
	var (
		env       domain.Environment
		notBefore sql.NullTime
	)
	if err := row.Scan(
		&env.ID,
		&env.Repository,
		&env.PRNumber,
		&env.Branch,
		&env.HeadSHA,
		&env.DeployedSHA,
		&env.TargetState,
		&env.State,
		&env.DesiredGeneration,
		&env.ObservedGeneration,
		&env.ChecksPassed,
		&env.FailureCount,
		&notBefore,
		&env.IngressHost,
		&env.LastError,
		&env.CreatedAt,
		&env.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if notBefore.Valid {
		value := notBefore.Time.UTC()
		env.NotBefore = &value
	}
	return &env, nil
}

func collectEnvironments(rows pgx.Rows) ([]domain.Environment, error) {
	envs := make([]domain.Environment, 0)
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, err
		}
		envs = append(envs, *env)
	}
	return envs, rows.Err()
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23505", "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func timePtrToNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func durationToMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return d.Milliseconds()
}
