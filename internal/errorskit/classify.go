package errorskit

// IsRetryable reports whether err's underlying cause is transient enough
// that the caller may reasonably retry the operation.
func IsRetryable(err error) bool {
	var ce CoordinatorError
	if As(err, &ce) {
		return ce.IsRetryable()
	}
	return false
}

// IsUserFacing reports whether err's message is safe to surface to an
// external caller rather than only to logs.
func IsUserFacing(err error) bool {
	var ce CoordinatorError
	if As(err, &ce) {
		return ce.IsUserFacing()
	}
	return false
}

// GetSeverity returns err's classified severity, defaulting to
// SeverityError for errors that don't implement CoordinatorError.
func GetSeverity(err error) Severity {
	var ce CoordinatorError
	if As(err, &ce) {
		return ce.Severity()
	}
	return SeverityError
}

// IsDomainError reports whether err is one of the package's
// subsystem-scoped types (AgentError, TaskError, LockError, StateError).
func IsDomainError(err error) bool {
	var agentErr *AgentError
	var taskErr *TaskError
	var lockErr *LockError
	var stateErr *StateError
	return As(err, &agentErr) || As(err, &taskErr) || As(err, &lockErr) || As(err, &stateErr)
}

// IsSemanticError reports whether err is one of the package's
// condition-scoped types (NotFoundError, IllegalTransitionError,
// ContendedStateError, AgentTimeoutError, TaskRetryExhaustedError).
func IsSemanticError(err error) bool {
	var notFound *NotFoundError
	var illegal *IllegalTransitionError
	var contended *ContendedStateError
	var agentTimeout *AgentTimeoutError
	var retryExhausted *TaskRetryExhaustedError
	return As(err, &notFound) || As(err, &illegal) || As(err, &contended) ||
		As(err, &agentTimeout) || As(err, &retryExhausted)
}
