package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/snapenv/snapenv/internal/domain"
	"github.com/snapenv/snapenv/internal/feed"
	"github.com/snapenv/snapenv/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRegistry struct {
	mu   sync.Mutex
	envs map[string]*domain.Environment
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{envs: make(map[string]*domain.Environment)}
}

func (f *fakeRegistry) UpsertEnvironment(ctx context.Context, ref domain.PullRequestRef) (*domain.Environment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := ref.EnvironmentID()
	env, ok := f.envs[id]
	if !ok {
		env = &domain.Environment{
			ID: id, Repository: ref.Repository, PRNumber: ref.Number,
			HeadSHA: ref.HeadSHA, TargetState: domain.TargetActive,
			State: domain.StatePending, DesiredGeneration: 1,
		}
		f.envs[id] = env
	} else {
		env.DesiredGeneration++
		env.HeadSHA = ref.HeadSHA
		env.TargetState = domain.TargetActive
		env.ChecksPassed = false
	}
	copied := *env
	return &copied, nil
}

func (f *fakeRegistry) MarkTermination(ctx context.Context, repo string, prNumber int) (*domain.Environment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, env := range f.envs {
		if env.Repository == repo && env.PRNumber == prNumber {
			env.TargetState = domain.TargetTerminated
			copied := *env
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeRegistry) MarkChecksPassed(ctx context.Context, repo string, prNumber int, headSHA string) (*domain.Environment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, env := range f.envs {
		if env.Repository == repo && env.PRNumber == prNumber && env.HeadSHA == headSHA {
			env.ChecksPassed = true
			copied := *env
			return &copied, nil
		}
	}
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
func (f *fakeRegistry) DeleteTerminated(context.Context, string) error              { return nil }
func (f *fakeRegistry) ListTerminatedBefore(context.Context, time.Time) ([]domain.Environment, error) {
	return nil, nil
}
func (f *fakeRegistry) GetStats(context.Context) (*domain.Stats, error) {
	return &domain.Stats{}, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeEvents) InsertEvent(ctx context.Context, event *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeEvents) ListEvents(context.Context, string, int) ([]domain.Event, error) {
	return nil, nil
}

type fakeQueue struct {
	mu    sync.Mutex
	added []string
}

func (f *fakeQueue) Add(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, id)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeRegistry, *fakeQueue, *fakeEvents) {
	t.Helper()
	registry := newFakeRegistry()
	queue := &fakeQueue{}
	events := &fakeEvents{}
	d := New(registry, queue, feed.NewPublisher(events, nil, testLogger()), testLogger())
	return d, registry, queue, events
}

func ref(sha string) domain.PullRequestRef {
	return domain.PullRequestRef{Repository: "acme/webapp", Number: 42, HeadSHA: sha, Branch: "feature"}
}

func TestAcceptOpenedCreatesAndEnqueues(t *testing.T) {
	d, registry, queue, events := newTestDispatcher(t)

	err := d.Accept(context.Background(), domain.PREvent{Ref: ref("abc1234"), Kind: domain.PROpened})
	if err != nil {
		t.Fatal(err)
	}

	env, ok := registry.envs["acme-webapp-pr-42"]
	if !ok {
		t.Fatal("environment was not created")
	}
	if env.DesiredGeneration != 1 {
		t.Fatalf("expected generation 1, got %d", env.DesiredGeneration)
	}
	if len(queue.added) != 1 || queue.added[0] != env.ID {
		t.Fatalf("expected enqueue of %s, got %v", env.ID, queue.added)
	}
	if len(events.events) != 1 || events.events[0].Type != domain.EventPROpened {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestAcceptSynchronizeBumpsGeneration(t *testing.T) {
	d, registry, queue, _ := newTestDispatcher(t)

	ctx := context.Background()
	if err := d.Accept(ctx, domain.PREvent{Ref: ref("abc1234"), Kind: domain.PROpened}); err != nil {
		t.Fatal(err)
	}
	if err := d.Accept(ctx, domain.PREvent{Ref: ref("def5678"), Kind: domain.PRSynchronized}); err != nil {
		t.Fatal(err)
	}

	env := registry.envs["acme-webapp-pr-42"]
	if env.DesiredGeneration != 2 {
		t.Fatalf("expected generation 2, got %d", env.DesiredGeneration)
	}
	if env.HeadSHA != "def5678" {
		t.Fatalf("expected new head SHA, got %q", env.HeadSHA)
	}
	if len(queue.added) != 2 {
		t.Fatalf("expected 2 enqueues, got %d", len(queue.added))
	}
}

func TestAcceptClosedMarksTermination(t *testing.T) {
	d, registry, queue, events := newTestDispatcher(t)

	ctx := context.Background()
	if err := d.Accept(ctx, domain.PREvent{Ref: ref("abc1234"), Kind: domain.PROpened}); err != nil {
		t.Fatal(err)
	}
	if err := d.Accept(ctx, domain.PREvent{Ref: ref("abc1234"), Kind: domain.PRMerged}); err != nil {
		t.Fatal(err)
	}

	env := registry.envs["acme-webapp-pr-42"]
	if env.TargetState != domain.TargetTerminated {
		t.Fatalf("expected terminated target, got %s", env.TargetState)
	}
	if env.DesiredGeneration != 1 {
		t.Fatalf("teardown must not bump the generation, got %d", env.DesiredGeneration)
	}
	if len(queue.added) != 2 {
		t.Fatalf("expected 2 enqueues, got %d", len(queue.added))
	}
	if events.events[len(events.events)-1].Type != domain.EventPRMerged {
		t.Fatalf("expected pr_merged event, got %+v", events.events)
	}
}

func TestAcceptClosedForUnknownPRIsIgnored(t *testing.T) {
	d, _, queue, _ := newTestDispatcher(t)

	err := d.Accept(context.Background(), domain.PREvent{Ref: ref("abc1234"), Kind: domain.PRClosed})
	if err != nil {
		t.Fatalf("unknown PR close should be ignored, got %v", err)
	}
	if len(queue.added) != 0 {
		t.Fatalf("nothing should be enqueued, got %v", queue.added)
	}
}

func TestAcceptChecksPassed(t *testing.T) {
	d, registry, queue, _ := newTestDispatcher(t)

	ctx := context.Background()
	if err := d.Accept(ctx, domain.PREvent{Ref: ref("abc1234"), Kind: domain.PROpened}); err != nil {
		t.Fatal(err)
	}
	if err := d.Accept(ctx, domain.PREvent{Ref: ref("abc1234"), Kind: domain.ChecksPassed}); err != nil {
		t.Fatal(err)
	}

	if !registry.envs["acme-webapp-pr-42"].ChecksPassed {
		t.Fatal("checks_passed flag was not set")
	}
	if len(queue.added) != 2 {
		t.Fatalf("expected 2 enqueues, got %d", len(queue.added))
	}
}

func TestAcceptStaleChecksIgnored(t *testing.T) {
	d, registry, queue, _ := newTestDispatcher(t)

	ctx := context.Background()
	if err := d.Accept(ctx, domain.PREvent{Ref: ref("abc1234"), Kind: domain.PROpened}); err != nil {
		t.Fatal(err)
	}
	// Check result for a SHA that has since been superseded.
	if err := d.Accept(ctx, domain.PREvent{Ref: ref("stale999"), Kind: domain.ChecksPassed}); err != nil {
		t.Fatal(err)
	}

	if registry.envs["acme-webapp-pr-42"].ChecksPassed {
		t.Fatal("stale check result must not set the flag")
	}
	if len(queue.added) != 1 {
		t.Fatalf("stale check result must not enqueue, got %v", queue.added)
	}
}

func TestAcceptUnknownKindIgnored(t *testing.T) {
	d, _, queue, _ := newTestDispatcher(t)

	err := d.Accept(context.Background(), domain.PREvent{Ref: ref("abc1234"), Kind: "labeled"})
	if err != nil {
		t.Fatal(err)
	}
	if len(queue.added) != 0 {
		t.Fatalf("unknown kind enqueued work: %v", queue.added)
	}
}
