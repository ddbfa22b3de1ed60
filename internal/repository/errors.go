package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrStaleGeneration indicates an observed-state update lost a race with a
// newer desired-state write; the caller must re-read and reconcile again.
var ErrStaleGeneration = errors.New("repository: stale generation")

// ErrInvalidArgument indicates the database rejected the record.
var ErrInvalidArgument = errors.New("repository: invalid argument")
