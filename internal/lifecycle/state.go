// Package lifecycle decides which cluster action, if any, moves an
// environment toward its desired state. Decisions are pure functions of the
// registry record so they can run on any reconciler worker.
package lifecycle

import (
	"time"

	"github.com/snapenv/snapenv/internal/domain"
)

// ActionKind enumerates what the reconciler should do next.
type ActionKind string

const (
	// ActionNone means the environment is converged or must not be touched.
	ActionNone ActionKind = "none"
	// ActionApply means provision or update cluster resources.
	ActionApply ActionKind = "apply"
	// ActionDelete means tear down cluster resources.
	ActionDelete ActionKind = "delete"
)

// Decision is the outcome of evaluating one environment.
type Decision struct {
	Action ActionKind
	// InFlight is the transitional state to record before driving the
	// cluster, so observers see provisioning/updating/terminating while the
	// action runs.
	InFlight domain.State
	// WaitUntil is set when the environment is backing off; the reconciler
	// should requeue it at that time instead of acting now.
	WaitUntil *time.Time
	Reason    string
}

// Decide evaluates an environment against its desired state.
//
// Teardown always wins over deployment. A failed environment stays failed
// until a new desired generation resets its failure budget. When
// requireChecks is set, first-time provisioning and updates wait for the
// quality gate.
func Decide(env *domain.Environment, requireChecks bool, now time.Time) Decision {
	if env.TargetState == domain.TargetTerminated {
		if env.State == domain.StateTerminated {
			return Decision{Action: ActionNone, Reason: "already terminated"}
		}
		if wait := backoffGate(env, now); wait != nil {
			return *wait
		}
		return Decision{Action: ActionDelete, InFlight: domain.StateTerminating}
	}

	if env.State == domain.StateFailed && env.FailureCount > 0 {
		// Sticky until a new push resets the failure budget.
		return Decision{Action: ActionNone, Reason: "failed, awaiting new generation"}
	}

	if env.Converged() {
		return Decision{Action: ActionNone, Reason: "converged"}
	}

	if requireChecks && !env.ChecksPassed {
		return Decision{Action: ActionNone, Reason: "awaiting checks"}
	}

	if wait := backoffGate(env, now); wait != nil {
		return *wait
	}

	return Decision{Action: ActionApply, InFlight: applyInFlight(env.State)}
}

// applyInFlight picks the transitional state for an apply: environments that
// already served traffic show as updating, everything else as provisioning.
func applyInFlight(current domain.State) domain.State {
	switch current {
	case domain.StateActive, domain.StateUpdating:
		return domain.StateUpdating
	default:
		return domain.StateProvisioning
	}
}

func backoffGate(env *domain.Environment, now time.Time) *Decision {
	if env.NotBefore == nil || !now.Before(*env.NotBefore) {
		return nil
	}
	until := *env.NotBefore
	return &Decision{
		Action:    ActionNone,
		WaitUntil: &until,
		Reason:    "backing off",
	}
}

// Backoff computes the delay before retry attempt n (1-based) using
// exponential doubling from base, capped at max.
func Backoff(n int, base, max time.Duration) time.Duration {
	if n <= 1 {
		return base
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
