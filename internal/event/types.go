// Package event defines the in-process pub/sub events published by the
// coordinator so that observers (loggers, metrics, tests) can react to
// agent and task lifecycle transitions without the broker depending on
// them directly. Events are never persisted; they exist only for the
// duration of one coordinator process.
package event

import "time"

// Event is the interface every event satisfies.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "agent.registered").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events. Embed this in concrete
// event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// -----------------------------------------------------------------------------
// Agent Lifecycle Events
// -----------------------------------------------------------------------------

// AgentRegisteredEvent is emitted when an agent successfully registers.
type AgentRegisteredEvent struct {
	baseEvent
	AgentID string
	Name    string
}

func NewAgentRegisteredEvent(agentID, name string) AgentRegisteredEvent {
	return AgentRegisteredEvent{baseEvent: newBaseEvent("agent.registered"), AgentID: agentID, Name: name}
}

// AgentDisconnectedEvent is emitted when an agent disconnects, whether
// voluntarily or via the heartbeat watchdog.
type AgentDisconnectedEvent struct {
	baseEvent
	AgentID string
	Reason  string
}

func NewAgentDisconnectedEvent(agentID, reason string) AgentDisconnectedEvent {
	return AgentDisconnectedEvent{baseEvent: newBaseEvent("agent.disconnected"), AgentID: agentID, Reason: reason}
}

// AgentStatusChangedEvent is emitted when a heartbeat report
// (Broker.UpdateHeartbeat) changes an agent's status field. Status changes
// made by assignment, completion, failure, or the heartbeat watchdog do not
// emit it.
type AgentStatusChangedEvent struct {
	baseEvent
	AgentID string
	From    string
	To      string
}

func NewAgentStatusChangedEvent(agentID, from, to string) AgentStatusChangedEvent {
	return AgentStatusChangedEvent{baseEvent: newBaseEvent("agent.status_changed"), AgentID: agentID, From: from, To: to}
}

// -----------------------------------------------------------------------------
// Task Lifecycle Events
// -----------------------------------------------------------------------------

// TaskCreatedEvent is emitted when a new task enters the pending queue.
type TaskCreatedEvent struct {
	baseEvent
	TaskID   string
	Priority string
}

func NewTaskCreatedEvent(taskID, priority string) TaskCreatedEvent {
	return TaskCreatedEvent{baseEvent: newBaseEvent("task.created"), TaskID: taskID, Priority: priority}
}

// TaskAssignedEvent is emitted when the broker hands a task to an agent.
type TaskAssignedEvent struct {
	baseEvent
	TaskID  string
	AgentID string
}

func NewTaskAssignedEvent(taskID, agentID string) TaskAssignedEvent {
	return TaskAssignedEvent{baseEvent: newBaseEvent("task.assigned"), TaskID: taskID, AgentID: agentID}
}

// TaskStartedEvent is emitted when an agent reports it has begun working
// on an assigned task.
type TaskStartedEvent struct {
	baseEvent
	TaskID  string
	AgentID string
}

func NewTaskStartedEvent(taskID, agentID string) TaskStartedEvent {
	return TaskStartedEvent{baseEvent: newBaseEvent("task.started"), TaskID: taskID, AgentID: agentID}
}

// TaskProgressEvent is emitted on a TASK_UPDATE progress report.
type TaskProgressEvent struct {
	baseEvent
	TaskID   string
	AgentID  string
	Progress int
	Message  string
}

func NewTaskProgressEvent(taskID, agentID string, progress int, message string) TaskProgressEvent {
	return TaskProgressEvent{
		baseEvent: newBaseEvent("task.progress"),
		TaskID:    taskID,
		AgentID:   agentID,
		Progress:  progress,
		Message:   message,
	}
}

// TaskCompletedEvent is emitted when a task reaches the terminal completed
// state.
type TaskCompletedEvent struct {
	baseEvent
	TaskID  string
	AgentID string
}

func NewTaskCompletedEvent(taskID, agentID string) TaskCompletedEvent {
	return TaskCompletedEvent{baseEvent: newBaseEvent("task.completed"), TaskID: taskID, AgentID: agentID}
}

// TaskFailedEvent is emitted on every failure, whether or not retries
// remain; Terminal distinguishes the two cases.
type TaskFailedEvent struct {
	baseEvent
	TaskID   string
	AgentID  string
	Error    string
	Terminal bool
}

func NewTaskFailedEvent(taskID, agentID, errMsg string, terminal bool) TaskFailedEvent {
	return TaskFailedEvent{
		baseEvent: newBaseEvent("task.failed"),
		TaskID:    taskID,
		AgentID:   agentID,
		Error:     errMsg,
		Terminal:  terminal,
	}
}

// -----------------------------------------------------------------------------
// Lock Events
// -----------------------------------------------------------------------------

// LockAcquiredEvent is emitted for each path successfully locked.
type LockAcquiredEvent struct {
	baseEvent
	Path     string
	AgentID  string
	LockType string
}

func NewLockAcquiredEvent(path, agentID, lockType string) LockAcquiredEvent {
	return LockAcquiredEvent{baseEvent: newBaseEvent("lock.acquired"), Path: path, AgentID: agentID, LockType: lockType}
}

// LockReleasedEvent is emitted for each path released explicitly, by a
// bulk or per-task release, or by a forced release. Leases that lapse and
// are swept as expired do not emit it.
type LockReleasedEvent struct {
	baseEvent
	Path    string
	AgentID string
	Reason  string
}

func NewLockReleasedEvent(path, agentID, reason string) LockReleasedEvent {
	return LockReleasedEvent{baseEvent: newBaseEvent("lock.released"), Path: path, AgentID: agentID, Reason: reason}
}

// LockConflictEvent is emitted for each path that could not be granted
// because of an incompatible existing lock.
type LockConflictEvent struct {
	baseEvent
	Path       string
	AgentID    string
	HeldByType string
}

func NewLockConflictEvent(path, agentID, heldBy string) LockConflictEvent {
	return LockConflictEvent{baseEvent: newBaseEvent("lock.conflict"), Path: path, AgentID: agentID, HeldByType: heldBy}
}

// -----------------------------------------------------------------------------
// General Events
// -----------------------------------------------------------------------------

// CoordinatorErrorEvent is emitted whenever the coordinator absorbs an
// error that callers can't react to synchronously (a parse failure during
// a tick, a tick stage that failed).
type CoordinatorErrorEvent struct {
	baseEvent
	Stage string
	Error string
}

func NewCoordinatorErrorEvent(stage, errMsg string) CoordinatorErrorEvent {
	return CoordinatorErrorEvent{baseEvent: newBaseEvent("coordinator.error"), Stage: stage, Error: errMsg}
}
