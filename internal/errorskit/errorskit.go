// Package errorskit provides the coordinator's typed error taxonomy:
// domain-specific error types, sentinel errors, and classification
// helpers that let callers branch on the kind of failure without
// stringmatching error text.
//
// LockConflict is deliberately absent from this taxonomy: per the lock
// manager's contract, a conflicting lock request is reported as data on
// LockResult, never raised as an error value.
//
// # Usage
//
//	err := errorskit.NewTaskError("could not assign task", errorskit.ErrTaskNotFound).
//		WithTaskID("task-1")
//
//	if errorskit.Is(err, errorskit.ErrTaskNotFound) { ... }
//
//	var taskErr *errorskit.TaskError
//	if errorskit.As(err, &taskErr) { ... }
//
//	if errorskit.IsRetryable(err) { ... }
package errorskit

import (
	"errors"
	"fmt"
)

// Re-exported for callers that want to import only this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity classifies how serious an error is.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Sentinel errors for agent-related failures.
var (
	ErrAgentNotFound    = New("agent not found")
	ErrAgentOffline     = New("agent is offline")
	ErrMaxAgentsReached = New("maximum number of agents reached")
)

// Sentinel errors for task-related failures.
var (
	ErrTaskNotFound        = New("task not found")
	ErrTaskNotAssignable   = New("task is not assignable")
	ErrTaskNotOwnedByAgent = New("task is not assigned to this agent")
	ErrTaskRetriesExceeded = New("task exceeded max attempts")
	ErrDependencyCycle     = New("dependency cycle detected")
)

// Sentinel errors for lock-related failures (everything except the
// conflict case itself, which is never an error).
var (
	ErrLockNotFound  = New("lock not found")
	ErrLockNotOwner  = New("agent does not own this lock")
	ErrInvalidLockID = New("invalid lock path")
	ErrLockTimeout   = New("timed out waiting for lock response")
)

// Sentinel errors for state-store failures.
var (
	ErrStateContended = New("could not acquire state lock")
	ErrStateCorrupted = New("state file is corrupted")
)

// CoordinatorError is the base interface every typed error in this package
// satisfies, in addition to the standard error interface.
type CoordinatorError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

// baseError provides the shared implementation used by every concrete
// error type below.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// Wrap annotates err with message, preserving errors.Is/As chains.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
