package domain

import "time"

// ObservedUpdate captures the outcome of one reconciliation pass. The write
// is conditional on ExpectedGeneration still being the desired generation;
// a concurrent bump rejects the update so a slow reconciliation of an old
// push cannot clobber newer desired state.
type ObservedUpdate struct {
	EnvironmentID      string
	ExpectedGeneration int64
	State              State
	ObservedGeneration int64
	DeployedSHA        string
	IngressHost        string
	LastError          string
	FailureCount       int
	NotBefore          *time.Time
}
