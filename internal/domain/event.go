package domain

import (
	"encoding/json"
	"time"
)

// EventType tags entries in the dashboard event feed.
type EventType string

const (
	EventPROpened        EventType = "pr_opened"
	EventPRUpdated       EventType = "pr_updated"
	EventPRClosed        EventType = "pr_closed"
	EventPRMerged        EventType = "pr_merged"
	EventPRReopened      EventType = "pr_reopened"
	EventChecksPassed    EventType = "checks_passed"
	EventEnvProvisioning EventType = "env_provisioning"
	EventEnvReady        EventType = "env_ready"
	EventEnvDestroying   EventType = "env_destroying"
	EventEnvDestroyed    EventType = "env_destroyed"
	EventEnvFailed       EventType = "env_failed"
)

// Event is a timestamped record for the dashboard real-time feed.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	Message       string          `json:"message"`
	EnvironmentID *string         `json:"environment_id,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
