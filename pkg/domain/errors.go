package domain

import "errors"

// Common domain errors
var (
	ErrDuplicateWorker        = errors.New("worker already registered")
	ErrWorkerNotFound         = errors.New("worker not found")
	ErrCyclicDependency       = errors.New("cyclic dependency in task graph")
	ErrGovernanceDenied       = errors.New("governance denied execution")
	ErrValidationRejected     = errors.New("governance rejected result")
	ErrApprovalTimeout        = errors.New("approval wait timed out")
	ErrTaskTimeout            = errors.New("task deadline exceeded")
	ErrGovernanceUnavailable  = errors.New("governance collaborator unavailable")
	ErrWorkerConcurrencyLimit = errors.New("worker concurrency limit reached")
	ErrConfigInvalid          = errors.New("invalid configuration")
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}
