package core

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors surface synchronously to callers of the scheduling API.
var (
	ErrInvalidTrigger  = errors.New("scheduler: invalid trigger specification")
	ErrUnregisteredJob = errors.New("scheduler: job id was never registered")
	ErrInvalidJobID    = errors.New("scheduler: invalid job id (must be alphanumeric, start with letter)")
	ErrJobIDTooLong    = errors.New("scheduler: job id too long")
	ErrInstanceExists  = errors.New("scheduler: instance id already scheduled")
	ErrUnknownInstance = errors.New("scheduler: unknown instance id")

	// ErrStoreUnavailable wraps persistence failures. Callers treat it as
	// transient: scheduling operations propagate it, best-effort paths
	// swallow and log it.
	ErrStoreUnavailable = errors.New("scheduler: state store unavailable")

	// ErrCircuitOpen is returned when the circuit breaker short-circuits
	// an execution without attempting it.
	ErrCircuitOpen = errors.New("scheduler: circuit breaker open")

	// ErrExecutionCancelled is returned to the caller after a cancelled
	// execution has been bookkept, so cancellation is observable.
	ErrExecutionCancelled = errors.New("scheduler: execution cancelled")

	// ErrShuttingDown rejects new executions during executor shutdown.
	ErrShuttingDown = errors.New("scheduler: executor shutting down")
)

// DependenciesNotMetMessage is the error string recorded on executions that
// fail their dependency check.
const DependenciesNotMetMessage = "Dependencies not met"

// NoRetryError marks an error as permanent: the resilient executor will not
// retry it regardless of policy.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// TransientError marks an error as environmental flakiness worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps an error to indicate it should be retried.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// TimeoutError records an execution that exceeded its deadline.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %s", e.Timeout)
}

// StoreError wraps a driver failure so it matches ErrStoreUnavailable
// with errors.Is while preserving the cause.
func StoreError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
