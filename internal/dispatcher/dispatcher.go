// Package dispatcher turns normalized pull request events into registry
// writes and reconciliation work. It is the only writer of desired state.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/snapenv/snapenv/internal/domain"
	"github.com/snapenv/snapenv/internal/feed"
	"github.com/snapenv/snapenv/internal/repository"
)

// Enqueuer accepts environment IDs for reconciliation. Implemented by the
// reconciler queue.
type Enqueuer interface {
	Add(id string)
}

// Dispatcher applies PR events to the environment registry.
type Dispatcher struct {
	envs  repository.EnvironmentRepository
	queue Enqueuer
	feed  *feed.Publisher
	log   *slog.Logger
}

// New builds a Dispatcher.
func New(envs repository.EnvironmentRepository, queue Enqueuer, publisher *feed.Publisher, log *slog.Logger) *Dispatcher {
	return &Dispatcher{envs: envs, queue: queue, feed: publisher, log: log}
}

// Accept processes one PR event. Duplicate deliveries are safe: desired
// state writes are idempotent per head SHA and the queue deduplicates.
// Unknown kinds and events for unknown environments are ignored.
func (d *Dispatcher) Accept(ctx context.Context, event domain.PREvent) error {
	switch event.Kind {
	case domain.PROpened, domain.PRSynchronized, domain.PRReopened:
		return d.acceptDeploy(ctx, event)
	case domain.PRClosed, domain.PRMerged:
		return d.acceptTeardown(ctx, event)
	case domain.ChecksPassed:
		return d.acceptChecks(ctx, event)
	default:
		d.log.Debug("ignoring event kind", "kind", event.Kind, "repository", event.Ref.Repository, "pr", event.Ref.Number)
		return nil
	}
}

func (d *Dispatcher) acceptDeploy(ctx context.Context, event domain.PREvent) error {
	env, err := d.envs.UpsertEnvironment(ctx, event.Ref)
	if err != nil {
		return fmt.Errorf("upsert environment: %w", err)
	}

	var (
		eventType domain.EventType
		message   string
	)
	switch event.Kind {
	case domain.PROpened:
		eventType = domain.EventPROpened
		message = fmt.Sprintf("PR #%d opened in %s", event.Ref.Number, event.Ref.Repository)
	case domain.PRReopened:
		eventType = domain.EventPRReopened
		message = fmt.Sprintf("PR #%d reopened in %s", event.Ref.Number, event.Ref.Repository)
	default:
		eventType = domain.EventPRUpdated
		message = fmt.Sprintf("PR #%d updated to %s", event.Ref.Number, shortSHA(event.Ref.HeadSHA))
	}
	d.feed.Publish(ctx, eventType, env.ID, message, map[string]any{
		"repository": event.Ref.Repository,
		"pr":         event.Ref.Number,
		"sha":        event.Ref.HeadSHA,
		"generation": env.DesiredGeneration,
	})

	d.log.Info("deploy requested",
		"environment", env.ID, "generation", env.DesiredGeneration, "sha", event.Ref.HeadSHA)
	d.queue.Add(env.ID)
	return nil
}

func (d *Dispatcher) acceptTeardown(ctx context.Context, event domain.PREvent) error {
	env, err := d.envs.MarkTermination(ctx, event.Ref.Repository, event.Ref.Number)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Close for a PR we never deployed; nothing to tear down.
			d.log.Debug("teardown for unknown environment", "repository", event.Ref.Repository, "pr", event.Ref.Number)
			return nil
		}
		return fmt.Errorf("mark termination: %w", err)
	}

	eventType := domain.EventPRClosed
	message := fmt.Sprintf("PR #%d closed", event.Ref.Number)
	if event.Kind == domain.PRMerged {
		eventType = domain.EventPRMerged
		message = fmt.Sprintf("PR #%d merged", event.Ref.Number)
	}
	d.feed.Publish(ctx, eventType, env.ID, message, nil)

	d.log.Info("teardown requested", "environment", env.ID)
	d.queue.Add(env.ID)
	return nil
}

func (d *Dispatcher) acceptChecks(ctx context.Context, event domain.PREvent) error {
	env, err := d.envs.MarkChecksPassed(ctx, event.Ref.Repository, event.Ref.Number, event.Ref.HeadSHA)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Check result for a superseded push or an unknown PR.
			d.log.Debug("stale check result",
				"repository", event.Ref.Repository, "pr", event.Ref.Number, "sha", event.Ref.HeadSHA)
			return nil
		}
		return fmt.Errorf("mark checks passed: %w", err)
	}

	d.feed.Publish(ctx, domain.EventChecksPassed, env.ID,
		fmt.Sprintf("Checks passed for PR #%d", event.Ref.Number),
		map[string]any{"sha": event.Ref.HeadSHA})

	d.queue.Add(env.ID)
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
