// Package reconciler converges environments toward their desired state. It
// owns the worker pool, the retry budget and the observed-state writes; the
// actual cluster operations are delegated to the driver.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/snapenv/snapenv/internal/cluster"
	"github.com/snapenv/snapenv/internal/domain"
	"github.com/snapenv/snapenv/internal/feed"
	"github.com/snapenv/snapenv/internal/lifecycle"
	"github.com/snapenv/snapenv/internal/repository"
)

// Config tunes the reconciliation loop.
type Config struct {
	Workers        int
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	DriveTimeout   time.Duration
	ResyncInterval time.Duration
	PreviewDomain  string
	RequireChecks  bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
	if c.DriveTimeout <= 0 {
		c.DriveTimeout = 2 * time.Minute
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = time.Minute
	}
	return c
}

// Reconciler runs the convergence loop.
type Reconciler struct {
	cfg      Config
	queue    *Queue
	envs     repository.EnvironmentRepository
	attempts repository.AttemptRepository
	driver   cluster.Driver
	feed     *feed.Publisher
	log      *slog.Logger
	metrics  *metrics
	now      func() time.Time
}

// New builds a Reconciler around the given queue.
func New(cfg Config, queue *Queue, envs repository.EnvironmentRepository, attempts repository.AttemptRepository, driver cluster.Driver, publisher *feed.Publisher, log *slog.Logger) *Reconciler {
	cfg = cfg.withDefaults()
	return &Reconciler{
		cfg:      cfg,
		queue:    queue,
		envs:     envs,
		attempts: attempts,
		driver:   driver,
		feed:     publisher,
		log:      log,
		metrics:  newMetrics(queue),
		now:      time.Now,
	}
}

// Run starts the worker pool and the periodic resync, then blocks until the
// context is cancelled and every worker has drained.
func (r *Reconciler) Run(ctx context.Context) {
	// Crash recovery: anything left unconverged by a previous process gets
	// queued before the workers start picking up new events.
	r.resync(ctx)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.resyncLoop(ctx)
	}()

	<-ctx.Done()
	r.queue.Close()
	wg.Wait()
}

func (r *Reconciler) worker(ctx context.Context) {
	for {
		id, ok := r.queue.Get()
		if !ok {
			return
		}
		r.process(ctx, id)
		r.queue.Done(id)
	}
}

func (r *Reconciler) resyncLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.resync(ctx)
		}
	}
}

func (r *Reconciler) resync(ctx context.Context) {
	envs, err := r.envs.ListUnconverged(ctx)
	if err != nil {
		r.log.Error("list unconverged environments", "error", err)
		return
	}
	for i := range envs {
		r.queue.Add(envs[i].ID)
	}
	if len(envs) > 0 {
		r.log.Info("resync queued environments", "count", len(envs))
	}
}

// process runs one reconciliation pass for an environment. Every pass
// re-reads the record so decisions always see the latest desired state.
func (r *Reconciler) process(ctx context.Context, id string) {
	env, err := r.envs.GetEnvironment(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return
		}
		r.log.Error("load environment", "environment", id, "error", err)
		r.queue.AddAfter(id, r.cfg.BackoffBase)
		return
	}

	decision := lifecycle.Decide(env, r.cfg.RequireChecks, r.now())
	switch decision.Action {
	case lifecycle.ActionNone:
		if decision.WaitUntil != nil {
			r.queue.AddAfter(id, decision.WaitUntil.Sub(r.now()))
		}
		return
	case lifecycle.ActionApply:
		r.drive(ctx, env, decision, domain.ActionApply)
	case lifecycle.ActionDelete:
		r.drive(ctx, env, decision, domain.ActionDelete)
	}
}

func (r *Reconciler) drive(ctx context.Context, env *domain.Environment, decision lifecycle.Decision, action domain.AttemptAction) {
	if !r.markInFlight(ctx, env, decision.InFlight) {
		return
	}

	switch action {
	case domain.ActionApply:
		r.feed.Publish(ctx, domain.EventEnvProvisioning, env.ID,
			fmt.Sprintf("Deploying %s for PR #%d", cluster.ShortSHA(env.HeadSHA), env.PRNumber),
			map[string]any{"generation": env.DesiredGeneration, "sha": env.HeadSHA})
	case domain.ActionDelete:
		r.feed.Publish(ctx, domain.EventEnvDestroying, env.ID,
			fmt.Sprintf("Tearing down environment for PR #%d", env.PRNumber), nil)
	}

	spec := cluster.RenderSpec(env, r.cfg.PreviewDomain)
	driveCtx, cancel := context.WithTimeout(ctx, r.cfg.DriveTimeout)
	start := r.now()
	var driveErr error
	if action == domain.ActionApply {
		driveErr = r.driver.Apply(driveCtx, spec)
	} else {
		driveErr = r.driver.Delete(driveCtx, env.ID)
	}
	cancel()
	elapsed := r.now().Sub(start)
	r.metrics.duration.WithLabelValues(string(action)).Observe(elapsed.Seconds())

	r.recordAttempt(ctx, env, action, driveErr, elapsed)

	if driveErr != nil {
		r.metrics.attempts.WithLabelValues(string(action), string(domain.OutcomeFailed)).Inc()
		r.handleFailure(ctx, env, decision.InFlight, driveErr)
		return
	}
	r.metrics.attempts.WithLabelValues(string(action), string(domain.OutcomeSucceeded)).Inc()
	r.handleSuccess(ctx, env, action, spec)
}

// markInFlight records the transitional state before touching the cluster.
// A stale-generation conflict means a newer push raced us; the dispatcher
// already queued that work, so this pass simply stops.
func (r *Reconciler) markInFlight(ctx context.Context, env *domain.Environment, state domain.State) bool {
	if env.State == state {
		return true
	}
	err := r.envs.UpdateObserved(ctx, domain.ObservedUpdate{
		EnvironmentID:      env.ID,
		ExpectedGeneration: env.DesiredGeneration,
		State:              state,
		ObservedGeneration: env.ObservedGeneration,
		DeployedSHA:        env.DeployedSHA,
		IngressHost:        env.IngressHost,
		FailureCount:       env.FailureCount,
	})
	switch {
	case err == nil:
		env.State = state
		return true
	case errors.Is(err, repository.ErrStaleGeneration):
		r.queue.Add(env.ID)
		return false
	case errors.Is(err, repository.ErrNotFound):
		return false
	default:
		r.log.Error("mark in-flight state", "environment", env.ID, "error", err)
		r.queue.AddAfter(env.ID, r.cfg.BackoffBase)
		return false
	}
}

func (r *Reconciler) handleSuccess(ctx context.Context, env *domain.Environment, action domain.AttemptAction, spec cluster.DeploySpec) {
	update := domain.ObservedUpdate{
		EnvironmentID:      env.ID,
		ExpectedGeneration: env.DesiredGeneration,
		ObservedGeneration: env.DesiredGeneration,
	}
	if action == domain.ActionApply {
		update.State = domain.StateActive
		update.DeployedSHA = env.HeadSHA
		update.IngressHost = spec.IngressHost
	} else {
		update.State = domain.StateTerminated
	}

	err := r.envs.UpdateObserved(ctx, update)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStaleGeneration):
		// A newer push arrived while we were deploying. The resources on the
		// cluster are from the old generation; queue another pass.
		r.queue.Add(env.ID)
		return
	case errors.Is(err, repository.ErrNotFound):
		return
	default:
		r.log.Error("record observed state", "environment", env.ID, "error", err)
		r.queue.AddAfter(env.ID, r.cfg.BackoffBase)
		return
	}

	if action == domain.ActionApply {
		r.log.Info("environment ready", "environment", env.ID, "generation", env.DesiredGeneration, "host", spec.IngressHost)
		r.feed.Publish(ctx, domain.EventEnvReady, env.ID,
			fmt.Sprintf("Environment ready at https://%s", spec.IngressHost),
			map[string]any{"host": spec.IngressHost, "sha": env.HeadSHA})
	} else {
		r.log.Info("environment terminated", "environment", env.ID)
		r.feed.Publish(ctx, domain.EventEnvDestroyed, env.ID,
			fmt.Sprintf("Environment for PR #%d destroyed", env.PRNumber), nil)
	}
}

func (r *Reconciler) handleFailure(ctx context.Context, env *domain.Environment, inFlight domain.State, driveErr error) {
	failures := env.FailureCount + 1
	exhausted := failures >= r.cfg.MaxAttempts || !cluster.IsTransient(driveErr)

	update := domain.ObservedUpdate{
		EnvironmentID:      env.ID,
		ExpectedGeneration: env.DesiredGeneration,
		ObservedGeneration: env.ObservedGeneration,
		DeployedSHA:        env.DeployedSHA,
		IngressHost:        env.IngressHost,
		LastError:          driveErr.Error(),
		FailureCount:       failures,
	}

	var delay time.Duration
	if exhausted {
		update.State = domain.StateFailed
	} else {
		update.State = inFlight
		delay = lifecycle.Backoff(failures, r.cfg.BackoffBase, r.cfg.BackoffMax)
		notBefore := r.now().Add(delay)
		update.NotBefore = &notBefore
	}

	err := r.envs.UpdateObserved(ctx, update)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStaleGeneration):
		r.queue.Add(env.ID)
		return
	case errors.Is(err, repository.ErrNotFound):
		return
	default:
		r.log.Error("record failure", "environment", env.ID, "error", err)
		r.queue.AddAfter(env.ID, r.cfg.BackoffBase)
		return
	}

	if exhausted {
		r.log.Error("environment failed", "environment", env.ID, "attempts", failures, "error", driveErr)
		r.feed.Publish(ctx, domain.EventEnvFailed, env.ID,
			fmt.Sprintf("Deployment failed after %d attempt(s): %v", failures, driveErr),
			map[string]any{"attempts": failures})
		// Teardown failures stay eligible for resync so orphaned resources
		// are eventually removed.
		if env.TargetState == domain.TargetTerminated {
			r.queue.AddAfter(env.ID, r.cfg.BackoffMax)
		}
		return
	}

	r.log.Warn("reconciliation attempt failed",
		"environment", env.ID, "attempt", failures, "retry_in", delay, "error", driveErr)
	r.queue.AddAfter(env.ID, delay)
}

func (r *Reconciler) recordAttempt(ctx context.Context, env *domain.Environment, action domain.AttemptAction, driveErr error, elapsed time.Duration) {
	attempt := &domain.DeploymentAttempt{
		EnvironmentID: env.ID,
		Generation:    env.DesiredGeneration,
		Action:        action,
		Outcome:       domain.OutcomeSucceeded,
		Duration:      elapsed,
		CreatedAt:     r.now().UTC(),
	}
	if driveErr != nil {
		attempt.Outcome = domain.OutcomeFailed
		attempt.ErrorKind = string(cluster.KindOf(driveErr))
		attempt.Error = driveErr.Error()
	}
	if err := r.attempts.RecordAttempt(ctx, attempt); err != nil {
		r.log.Warn("record attempt", "environment", env.ID, "error", err)
	}
}
