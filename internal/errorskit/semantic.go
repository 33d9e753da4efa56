package errorskit

import "fmt"

// NotFoundError represents a lookup that found nothing: an unknown agent
// id, task id, or lock path.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError:    baseError{message: fmt.Sprintf("%s not found: %s", resourceType, resourceID), severity: SeverityWarning, userFacing: true},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

func (e *NotFoundError) Error() string { return e.message }

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// IllegalTransitionError represents an operation requested on an
// agent/task that is not in a state that permits it — for example,
// completing a task the caller is not currently assigned to.
type IllegalTransitionError struct {
	baseError
	Resource   string
	FromStatus string
	Operation  string
}

func NewIllegalTransitionError(resource, fromStatus, operation string) *IllegalTransitionError {
	msg := fmt.Sprintf("cannot %s %s in status %q", operation, resource, fromStatus)
	return &IllegalTransitionError{
		baseError:  baseError{message: msg, severity: SeverityWarning, userFacing: true},
		Resource:   resource,
		FromStatus: fromStatus,
		Operation:  operation,
	}
}

func (e *IllegalTransitionError) Error() string { return e.message }

func (e *IllegalTransitionError) Is(target error) bool {
	_, ok := target.(*IllegalTransitionError)
	return ok
}

// ContendedStateError represents a failure to acquire the state store's
// advisory lock within the retry budget.
type ContendedStateError struct {
	baseError
}

func NewContendedStateError() *ContendedStateError {
	return &ContendedStateError{baseError{message: "state lock held by another process", severity: SeverityWarning, retryable: true}}
}

func (e *ContendedStateError) Error() string { return e.message }

func (e *ContendedStateError) Is(target error) bool {
	_, ok := target.(*ContendedStateError)
	return ok
}

// AgentTimeoutError is synthesized by the heartbeat watchdog when an agent
// has gone silent past its configured timeout.
type AgentTimeoutError struct {
	baseError
	AgentID string
	Silence string
}

func NewAgentTimeoutError(agentID, silence string) *AgentTimeoutError {
	return &AgentTimeoutError{
		baseError: baseError{message: fmt.Sprintf("agent %s silent for %s", agentID, silence), severity: SeverityWarning},
		AgentID:   agentID,
		Silence:   silence,
	}
}

func (e *AgentTimeoutError) Error() string { return e.message }

func (e *AgentTimeoutError) Is(target error) bool {
	_, ok := target.(*AgentTimeoutError)
	return ok
}

// TaskRetryExhaustedError marks a task that failed maxAttempts times and
// has moved to the terminal failed state.
type TaskRetryExhaustedError struct {
	baseError
	TaskID      string
	Attempts    int
	MaxAttempts int
}

func NewTaskRetryExhaustedError(taskID string, attempts, maxAttempts int) *TaskRetryExhaustedError {
	msg := fmt.Sprintf("task %s exhausted retries (%d/%d)", taskID, attempts, maxAttempts)
	return &TaskRetryExhaustedError{
		baseError:   baseError{message: msg, severity: SeverityError, userFacing: true},
		TaskID:      taskID,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}
}

func (e *TaskRetryExhaustedError) Error() string { return e.message }

func (e *TaskRetryExhaustedError) Is(target error) bool {
	_, ok := target.(*TaskRetryExhaustedError)
	return ok
}
