// Package feed publishes lifecycle events to the dashboard: each event is
// persisted for history and pushed to connected WebSocket clients.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/snapenv/snapenv/internal/domain"
	"github.com/snapenv/snapenv/internal/repository"
)

// Broadcaster pushes a payload to live subscribers. Implemented by the
// WebSocket hub.
type Broadcaster interface {
	Broadcast(environmentID string, payload []byte)
}

// Publisher records events and fans them out to live subscribers. Publishing
// is best effort: a failed write is logged, never propagated, so the
// reconciler and dispatcher are not coupled to feed availability.
type Publisher struct {
	events repository.EventRepository
	hub    Broadcaster
	log    *slog.Logger
	now    func() time.Time
}

// NewPublisher builds a Publisher. hub may be nil when no live feed is wired.
func NewPublisher(events repository.EventRepository, hub Broadcaster, log *slog.Logger) *Publisher {
	return &Publisher{events: events, hub: hub, log: log, now: time.Now}
}

// Publish stores an event and broadcasts it. environmentID may be empty for
// platform-wide events; metadata may be nil.
func (p *Publisher) Publish(ctx context.Context, eventType domain.EventType, environmentID, message string, metadata map[string]any) {
	event := &domain.Event{
		Type:      eventType,
		Message:   message,
		CreatedAt: p.now().UTC(),
	}
	if environmentID != "" {
		event.EnvironmentID = &environmentID
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			p.log.Warn("encode event metadata", "type", eventType, "error", err)
		} else {
			event.Metadata = raw
		}
	}

	if err := p.events.InsertEvent(ctx, event); err != nil {
		p.log.Warn("persist event", "type", eventType, "environment", environmentID, "error", err)
	}

	if p.hub == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("encode event", "type", eventType, "error", err)
		return
	}
	p.hub.Broadcast(environmentID, payload)
}
