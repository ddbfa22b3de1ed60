// Package janitor removes terminated environments from the registry after a
// retention window, keeping recent teardowns visible on the dashboard while
// the table stays bounded.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/snapenv/snapenv/internal/repository"
)

const (
	defaultInterval  = time.Hour
	defaultRetention = 24 * time.Hour
	sweepTimeout     = 30 * time.Second
)

// Janitor sweeps terminated environments past their retention window.
type Janitor struct {
	envs      repository.EnvironmentRepository
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration

	now func() time.Time
}

// New constructs a Janitor. A non-positive retention disables removal and
// New returns nil.
func New(envs repository.EnvironmentRepository, logger *slog.Logger, interval, retention time.Duration) *Janitor {
	if envs == nil || retention <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	j := &Janitor{
		envs:      envs,
		logger:    logger,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
	if j.logger != nil {
		j.logger = j.logger.With("component", "janitor")
	}
	return j
}

// Run executes the sweep loop until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	if j == nil {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("janitor started", "interval", j.interval, "retention", j.retention)
	j.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(parent context.Context) {
	opCtx, cancel := context.WithTimeout(parent, sweepTimeout)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	expired, err := j.envs.ListTerminatedBefore(opCtx, cutoff)
	if err != nil {
		j.logger.Warn("list expired environments", "error", err)
		return
	}

	removed := 0
	for i := range expired {
		if err := j.envs.DeleteTerminated(opCtx, expired[i].ID); err != nil {
			j.logger.Warn("remove expired environment", "environment", expired[i].ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		j.logger.Info("expired environments removed", "count", removed)
	}
}
