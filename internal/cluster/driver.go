// Package cluster drives preview environment resources in Kubernetes
// through the Argo CD API. All operations are idempotent so the reconciler
// can repeat them after crashes or partial failures.
package cluster

import (
	"context"
	"errors"
	"fmt"
)

// Health mirrors the Argo CD application health states the orchestrator
// cares about.
type Health string

const (
	HealthHealthy     Health = "Healthy"
	HealthProgressing Health = "Progressing"
	HealthDegraded    Health = "Degraded"
	HealthMissing     Health = "Missing"
	HealthUnknown     Health = "Unknown"
)

// Driver provisions, updates, tears down and inspects preview environments.
type Driver interface {
	// Apply creates or updates the environment's resources and blocks until
	// they are healthy, the context expires, or a failure is detected.
	Apply(ctx context.Context, spec DeploySpec) error
	// Delete removes the environment's resources and blocks until they are
	// gone. Deleting an absent environment succeeds.
	Delete(ctx context.Context, appName string) error
	// Inspect reports the current health of the environment's resources.
	Inspect(ctx context.Context, appName string) (Health, error)
}

// ErrorKind classifies driver failures for retry decisions.
type ErrorKind string

const (
	// KindTransient failures (network faults, timeouts, throttling) are worth
	// retrying with backoff.
	KindTransient ErrorKind = "transient"
	// KindPermanent failures (invalid spec, auth, degraded workloads) will
	// not resolve on their own.
	KindPermanent ErrorKind = "permanent"
)

// Error wraps a driver failure with its retry classification.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cluster: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable driver failure.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable driver failure.
func Permanent(op string, err error) error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

// IsTransient reports whether err is a retryable driver failure. Unclassified
// errors count as transient so unknown faults get the retry budget instead of
// failing the environment outright.
func IsTransient(err error) bool {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind == KindTransient
	}
	return true
}

// KindOf returns the classification label for an error, for audit records.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if IsTransient(err) {
		return KindTransient
	}
	return KindPermanent
}
