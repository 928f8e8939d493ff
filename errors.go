package workflow

import (
	"errors"
	"fmt"
)

// Error definitions
var (
	// ErrNoSuspendHandler indicates Suspend was called on a context whose
	// instance has not installed a suspend hook.
	ErrNoSuspendHandler = errors.New("workflow: no suspend handler registered")

	// ErrEventTimeout indicates a WaitForEvent call timed out before a
	// matching event arrived.
	ErrEventTimeout = errors.New("workflow: event wait timed out")

	// ErrWorkflowNotFound indicates the persistence backend has no state for
	// the given persistence id.
	ErrWorkflowNotFound = errors.New("workflow: workflow not found")

	// ErrNotSuspended indicates Resume was called on a run that is not suspended.
	ErrNotSuspended = errors.New("workflow: run is not suspended")

	// ErrAlreadyStarted indicates Start was called on a run that already left idle.
	ErrAlreadyStarted = errors.New("workflow: run already started")

	// ErrCancelled indicates Start was called on a run that has been cancelled.
	ErrCancelled = errors.New("workflow: run cancelled")

	// ErrUnknownStep indicates a reference to a step id that is not registered.
	ErrUnknownStep = errors.New("workflow: unknown step")

	// ErrContextClosed indicates the run's execution context has been disposed.
	ErrContextClosed = errors.New("workflow: execution context closed")
)

// CycleError is returned when a step registration would make the dependency
// graph cyclic. The graph is left unchanged.
type CycleError struct {
	Step StepID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow: step %q introduces a dependency cycle", e.Step)
}

// ValidationError reports a trigger payload or step output that failed its
// schema. It wraps the validator's error.
type ValidationError struct {
	Subject string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow: %s failed validation: %v", e.Subject, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// UnsupportedOperatorError reports a condition predicate with an operator the
// evaluator does not know.
type UnsupportedOperatorError struct {
	Operator Operator
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("workflow: unsupported condition operator %q", e.Operator)
}

// RetryExhaustedError wraps the last underlying error after all retry
// attempts were spent.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("workflow: retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// StepError wraps a step executor failure with the failing step's id.
type StepError struct {
	Step StepID
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("workflow: step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
