package postgres

import (
	"context"
	"database/sql"

	"github.com/snapenv/snapenv/internal/domain"
)

// GetStats aggregates dashboard counters in a single round trip. Open PRs
// count by target_state: a PR stays open while its environment is failed, so
// the number tracks PR lifecycle, not environment health.
func (r *Repository) GetStats(ctx context.Context) (*domain.Stats, error) {
	const query = `SELECT
		(SELECT COUNT(*) FROM environments WHERE state = 'active'),
		(SELECT COUNT(*) FROM environments),
		(SELECT COUNT(*) FROM environments WHERE target_state = 'active'),
		(SELECT COUNT(*) FROM deployment_attempts WHERE created_at >= NOW() - INTERVAL '24 hours'),
		(SELECT COALESCE(
			100.0 * COUNT(*) FILTER (WHERE outcome = 'succeeded') / NULLIF(COUNT(*), 0), 0)
			FROM deployment_attempts WHERE created_at >= NOW() - INTERVAL '24 hours'),
		(SELECT AVG(duration_ms) / 1000.0
			FROM deployment_attempts
			WHERE action = 'apply' AND outcome = 'succeeded'
			AND created_at >= NOW() - INTERVAL '24 hours')`

	var (
		stats    domain.Stats
		avgApply sql.NullFloat64
	)
	err := r.pool.QueryRow(ctx, query).Scan(
		&stats.ActiveEnvironments,
		&stats.TotalEnvironments,
		&stats.OpenPullRequests,
		&stats.AttemptsToday,
		&stats.SuccessRatePercent,
		&avgApply,
	)
	if err != nil {
		return nil, err
	}
	if avgApply.Valid {
		value := avgApply.Float64
		stats.AvgApplySeconds = &value
	}
	return &stats, nil
}
