package errorskit

// AgentError represents a failure in agent registration, heartbeat
// tracking, or lifecycle management.
type AgentError struct {
	baseError
	AgentID string
}

// NewAgentError builds an AgentError wrapping cause with an error-severity,
// non-retryable, user-facing default classification.
func NewAgentError(message string, cause error) *AgentError {
	return &AgentError{baseError: baseError{message: message, cause: cause, severity: SeverityError, userFacing: true}}
}

func (e *AgentError) WithAgentID(id string) *AgentError {
	e.AgentID = id
	return e
}

func (e *AgentError) WithSeverity(s Severity) *AgentError {
	e.severity = s
	return e
}

func (e *AgentError) WithRetryable(r bool) *AgentError {
	e.retryable = r
	return e
}

func (e *AgentError) Error() string {
	prefix := "agent error"
	if e.AgentID != "" {
		prefix = "agent error [agent=" + e.AgentID + "]"
	}
	if e.cause != nil {
		return prefix + ": " + e.message + ": " + e.cause.Error()
	}
	return prefix + ": " + e.message
}

func (e *AgentError) Is(target error) bool {
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// TaskError represents a failure in task creation, assignment, or lifecycle
// transition.
type TaskError struct {
	baseError
	TaskID string
}

// NewTaskError builds a TaskError wrapping cause.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{baseError: baseError{message: message, cause: cause, severity: SeverityError, userFacing: true}}
}

func (e *TaskError) WithTaskID(id string) *TaskError {
	e.TaskID = id
	return e
}

func (e *TaskError) WithSeverity(s Severity) *TaskError {
	e.severity = s
	return e
}

func (e *TaskError) WithRetryable(r bool) *TaskError {
	e.retryable = r
	return e
}

func (e *TaskError) Error() string {
	prefix := "task error"
	if e.TaskID != "" {
		prefix = "task error [task=" + e.TaskID + "]"
	}
	if e.cause != nil {
		return prefix + ": " + e.message + ": " + e.cause.Error()
	}
	return prefix + ": " + e.message
}

func (e *TaskError) Is(target error) bool {
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// LockError represents a failure to acquire, release, or extend a file
// lock for reasons other than a plain compatibility conflict (which is
// carried as LockResult data, not an error).
type LockError struct {
	baseError
	Path string
}

// NewLockError builds a LockError wrapping cause.
func NewLockError(message string, cause error) *LockError {
	return &LockError{baseError: baseError{message: message, cause: cause, severity: SeverityWarning, userFacing: true}}
}

func (e *LockError) WithPath(path string) *LockError {
	e.Path = path
	return e
}

func (e *LockError) Error() string {
	prefix := "lock error"
	if e.Path != "" {
		prefix = "lock error [path=" + e.Path + "]"
	}
	if e.cause != nil {
		return prefix + ": " + e.message + ": " + e.cause.Error()
	}
	return prefix + ": " + e.message
}

func (e *LockError) Is(target error) bool {
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// StateError represents a failure reading, writing, or contending for the
// state store.
type StateError struct {
	baseError
}

// NewStateError builds a StateError wrapping cause. Contention is
// classified retryable by default since a caller can simply try again.
func NewStateError(message string, cause error) *StateError {
	retryable := Is(cause, ErrStateContended)
	return &StateError{baseError{message: message, cause: cause, severity: SeverityWarning, retryable: retryable}}
}

func (e *StateError) Error() string {
	if e.cause != nil {
		return "state error: " + e.message + ": " + e.cause.Error()
	}
	return "state error: " + e.message
}

func (e *StateError) Is(target error) bool {
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}
