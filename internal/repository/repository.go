package repository

import (
	"context"
	"time"

	"github.com/snapenv/snapenv/internal/domain"
)

// EnvironmentRepository is the environment registry: the single source of
// truth for desired and observed environment state.
type EnvironmentRepository interface {
	// UpsertEnvironment creates the environment for a PR or, when it already
	// exists, bumps the desired generation and stores the new head SHA.
	UpsertEnvironment(ctx context.Context, ref domain.PullRequestRef) (*domain.Environment, error)
	// MarkTermination sets the desired target state to terminated without
	// bumping the generation.
	MarkTermination(ctx context.Context, repository string, prNumber int) (*domain.Environment, error)
	// MarkChecksPassed records a passing quality gate for the given head SHA.
	// Returns ErrNotFound when no environment matches the SHA anymore.
	MarkChecksPassed(ctx context.Context, repository string, prNumber int, headSHA string) (*domain.Environment, error)
	GetEnvironment(ctx context.Context, id string) (*domain.Environment, error)
	ListEnvironments(ctx context.Context, state string, limit, offset int) ([]domain.Environment, error)
	// ListUnconverged returns every environment whose observed state does not
	// yet match its desired state. Used for crash recovery and resync.
	ListUnconverged(ctx context.Context) ([]domain.Environment, error)
	// UpdateObserved applies an observed-state write with compare-and-swap on
	// the desired generation; returns ErrStaleGeneration on conflict.
	UpdateObserved(ctx context.Context, update domain.ObservedUpdate) error
	// DeleteTerminated removes a registry record, but only while it is in the
	// terminated state.
	DeleteTerminated(ctx context.Context, id string) error
	ListTerminatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Environment, error)
	GetStats(ctx context.Context) (*domain.Stats, error)
}

// AttemptRepository stores the append-only reconciliation audit log.
type AttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *domain.DeploymentAttempt) error
	ListAttemptsByEnvironment(ctx context.Context, environmentID string, limit int) ([]domain.DeploymentAttempt, error)
}

// EventRepository stores dashboard feed events.
type EventRepository interface {
	InsertEvent(ctx context.Context, event *domain.Event) error
	ListEvents(ctx context.Context, environmentID string, limit int) ([]domain.Event, error)
}
