package models

import "errors"

// Sentinel errors for the domain-level error taxonomy. Packages wrap these
// with context via fmt.Errorf("...: %w", err); boundaries classify with
// errors.Is.
var (
	// ErrConfigInvalid rejects an experiment at submission time.
	ErrConfigInvalid = errors.New("invalid experiment configuration")

	// ErrNotFound is returned when a requested entity is absent.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when creating a duplicate entity.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrConflict is returned when an operation is illegal in the entity's
	// current state (e.g. starting an experiment that is already running).
	ErrConflict = errors.New("conflicting experiment state")

	// ErrExperimentAborted terminates an experiment when every role's
	// circuit breaker is open.
	ErrExperimentAborted = errors.New("experiment aborted")

	// ErrTimeoutExceeded fails an experiment whose wall-clock budget ran out.
	ErrTimeoutExceeded = errors.New("experiment timeout exceeded")
)
