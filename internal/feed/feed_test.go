package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/snapenv/snapenv/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (f *fakeEvents) InsertEvent(ctx context.Context, event *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeEvents) ListEvents(context.Context, string, int) ([]domain.Event, error) {
	return nil, nil
}

type fakeHub struct {
	mu       sync.Mutex
	streams  []string
	payloads [][]byte
}

func (f *fakeHub) Broadcast(environmentID string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, environmentID)
	f.payloads = append(f.payloads, payload)
}

func TestPublishPersistsAndBroadcasts(t *testing.T) {
	events := &fakeEvents{}
	hub := &fakeHub{}
	p := NewPublisher(events, hub, testLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Publish(context.Background(), domain.EventEnvReady, "acme-webapp-pr-42",
		"Environment ready", map[string]any{"host": "acme-webapp-pr-42.preview.example.com"})

	if len(events.events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events.events))
	}
	stored := events.events[0]
	if stored.Type != domain.EventEnvReady || stored.EnvironmentID == nil || *stored.EnvironmentID != "acme-webapp-pr-42" {
		t.Fatalf("unexpected stored event %+v", stored)
	}
	if !stored.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at %v, got %v", now, stored.CreatedAt)
	}

	if len(hub.payloads) != 1 || hub.streams[0] != "acme-webapp-pr-42" {
		t.Fatalf("unexpected broadcast streams %v", hub.streams)
	}
	var payload domain.Event
	if err := json.Unmarshal(hub.payloads[0], &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Type != domain.EventEnvReady {
		t.Fatalf("unexpected broadcast payload %+v", payload)
	}
}

func TestPublishSurvivesStoreFailure(t *testing.T) {
	events := &fakeEvents{err: errors.New("database down")}
	hub := &fakeHub{}
	p := NewPublisher(events, hub, testLogger())

	// Must not panic or propagate; the broadcast still goes out.
	p.Publish(context.Background(), domain.EventEnvFailed, "env-pr-1", "failed", nil)

	if len(hub.payloads) != 1 {
		t.Fatalf("expected broadcast despite store failure, got %d", len(hub.payloads))
	}
}

func TestPublishWithoutHub(t *testing.T) {
	events := &fakeEvents{}
	p := NewPublisher(events, nil, testLogger())

	p.Publish(context.Background(), domain.EventPROpened, "", "platform event", nil)

	if len(events.events) != 1 {
		t.Fatalf("expected stored event, got %d", len(events.events))
	}
	if events.events[0].EnvironmentID != nil {
		t.Fatal("empty environment ID should store NULL")
	}
}
