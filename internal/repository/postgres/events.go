package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/snapenv/snapenv/internal/domain"
)

// InsertEvent stores a dashboard feed event.
func (r *Repository) InsertEvent(ctx context.Context, event *domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	metadata := event.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	const query = `INSERT INTO events (id, type, message, environment_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		event.ID,
		string(event.Type),
		event.Message,
		event.EnvironmentID,
		metadata,
		event.CreatedAt,
	)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

// ListEvents returns the most recent feed events, optionally scoped to one
// environment.
func (r *Repository) ListEvents(ctx context.Context, environmentID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, type, message, environment_id, metadata, created_at
		FROM events
		WHERE ($1 = '' OR environment_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, environmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var event domain.Event
		if err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Message,
			&event.EnvironmentID,
			&event.Metadata,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
