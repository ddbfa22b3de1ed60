package janitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/snapenv/snapenv/internal/domain"
	"github.com/snapenv/snapenv/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRegistry struct {
	mu   sync.Mutex
	envs map[string]*domain.Environment
}

func (f *fakeRegistry) ListTerminatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Environment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Environment, 0)
	for _, env := range f.envs {
		if env.State == domain.StateTerminated && env.UpdatedAt.Before(cutoff) {
			out = append(out, *env)
		}
	}
	return out, nil
}

func (f *fakeRegistry) DeleteTerminated(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	env, ok := f.envs[id]
	if !ok || env.State != domain.StateTerminated {
		return repository.ErrNotFound
	}
	delete(f.envs, id)
	return nil
}

func (f *fakeRegistry) UpsertEnvironment(context.Context, domain.PullRequestRef) (*domain.Environment, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeRegistry) MarkTermination(context.Context, string, int) (*domain.Environment, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeRegistry) MarkChecksPassed(context.Context, string, int, string) (*domain.Environment, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeRegistry) GetEnvironment(context.Context, string) (*domain.Environment, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeRegistry) ListEnvironments(context.Context, string, int, int) ([]domain.Environment, error) {
	return nil, nil
}
func (f *fakeRegistry) ListUnconverged(context.Context) ([]domain.Environment, error) {
	return nil, nil
}
func (f *fakeRegistry) UpdateObserved(context.Context, domain.ObservedUpdate) error { return nil }
func (f *fakeRegistry) GetStats(context.Context) (*domain.Stats, error) {
	return &domain.Stats{}, nil
}

func TestSweepRemovesExpiredTerminated(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	registry := &fakeRegistry{envs: map[string]*domain.Environment{
		"old-pr-1": {
			ID:        "old-pr-1",
			State:     domain.StateTerminated,
			UpdatedAt: now.Add(-48 * time.Hour),
		},
		"fresh-pr-2": {
			ID:        "fresh-pr-2",
			State:     domain.StateTerminated,
			UpdatedAt: now.Add(-time.Hour),
		},
		"active-pr-3": {
			ID:        "active-pr-3",
			State:     domain.StateActive,
			UpdatedAt: now.Add(-72 * time.Hour),
		},
	}}

	j := New(registry, testLogger(), time.Hour, 24*time.Hour)
	j.now = func() time.Time { return now }

	j.sweep(context.Background())

	if _, ok := registry.envs["old-pr-1"]; ok {
		t.Fatal("expired terminated environment was not removed")
	}
	if _, ok := registry.envs["fresh-pr-2"]; !ok {
		t.Fatal("environment inside retention window was removed")
	}
	if _, ok := registry.envs["active-pr-3"]; !ok {
		t.Fatal("active environment was removed")
	}
}

func TestNewDisabledWithoutRetention(t *testing.T) {
	if j := New(&fakeRegistry{}, testLogger(), time.Hour, 0); j != nil {
		t.Fatal("expected nil janitor when retention is disabled")
	}
	var j *Janitor
	// Run on a nil janitor is a no-op rather than a panic.
	j.Run(context.Background())
}
