package domain

import (
	"encoding/json"
	"time"
)

// AttemptAction identifies the cluster operation an attempt performed.
type AttemptAction string

const (
	ActionApply  AttemptAction = "apply"
	ActionDelete AttemptAction = "delete"
)

// AttemptOutcome is the terminal result of one reconciliation attempt.
type AttemptOutcome string

const (
	OutcomeSucceeded AttemptOutcome = "succeeded"
	OutcomeFailed    AttemptOutcome = "failed"
)

// DeploymentAttempt records a single reconciliation action against the
// cluster. Rows are append-only and never mutated after write.
type DeploymentAttempt struct {
	ID            string         `json:"id"`
	EnvironmentID string         `json:"environment_id"`
	Generation    int64          `json:"generation"`
	Action        AttemptAction  `json:"action"`
	Outcome       AttemptOutcome `json:"outcome"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	Error         string         `json:"error,omitempty"`
	Duration      time.Duration  `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
}

// MarshalJSON reports the attempt duration in milliseconds.
func (a DeploymentAttempt) MarshalJSON() ([]byte, error) {
	type alias DeploymentAttempt
	return json.Marshal(struct {
		alias
		DurationMS int64 `json:"duration_ms"`
	}{alias(a), a.Duration.Milliseconds()})
}
