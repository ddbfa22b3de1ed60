package domain

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a preview environment.
type State string

// Lifecycle states. Terminated is terminal; Failed is terminal for the
// current generation only.
const (
	StatePending      State = "pending"
	StateProvisioning State = "provisioning"
	StateActive       State = "active"
	StateUpdating     State = "updating"
	StateTerminating  State = "terminating"
	StateTerminated   State = "terminated"
	StateFailed       State = "failed"
)

// TargetState is the desired end state requested by PR events.
type TargetState string

const (
	TargetActive     TargetState = "active"
	TargetTerminated TargetState = "terminated"
)

// Environment is the desired and observed state of one PR preview environment.
type Environment struct {
	ID                 string      `json:"id"`
	Repository         string      `json:"repository"`
	PRNumber           int         `json:"pr_number"`
	Branch             string      `json:"branch"`
	HeadSHA            string      `json:"head_sha"`
	DeployedSHA        string      `json:"deployed_sha"`
	TargetState        TargetState `json:"target_state"`
	State              State       `json:"state"`
	DesiredGeneration  int64       `json:"desired_generation"`
	ObservedGeneration int64       `json:"observed_generation"`
	ChecksPassed       bool        `json:"checks_passed"`
	FailureCount       int         `json:"failure_count"`
	NotBefore          *time.Time  `json:"not_before,omitempty"`
	IngressHost        string      `json:"ingress_host"`
	LastError          string      `json:"last_error,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Converged reports whether the observed state matches the desired state.
func (e *Environment) Converged() bool {
	if e.TargetState == TargetTerminated {
		return e.State == StateTerminated
	}
	return e.State == StateActive && e.ObservedGeneration == e.DesiredGeneration
}

// EnvironmentID derives the deterministic environment identifier for a PR.
// The identifier doubles as the Kubernetes namespace, so it is lowercased and
// bounded by the 63 character namespace limit.
func EnvironmentID(repository string, prNumber int) string {
	suffix := fmt.Sprintf("-pr-%d", prNumber)
	slug := repoSlug(repository)
	if max := 63 - len(suffix); len(slug) > max {
		slug = strings.Trim(slug[:max], "-")
	}
	return slug + suffix
}

func repoSlug(repository string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(repository) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
