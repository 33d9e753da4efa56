// Package event provides a pub-sub event bus for decoupled inter-component
// communication inside the coordinator process.
//
// This package lets the broker and lock manager publish lifecycle events
// without knowing who, if anyone, is listening. Loggers, metrics hooks, and tests subscribe without coupling to the publishers.
// Events are in-process only and are never persisted or sent across the
// message queue.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Agent Lifecycle:
//   - [AgentRegisteredEvent]: Emitted when an agent successfully registers
//   - [AgentDisconnectedEvent]: Emitted when an agent disconnects or times out
//   - [AgentStatusChangedEvent]: Emitted when a heartbeat report changes an agent's status
//
// Task Lifecycle:
//   - [TaskCreatedEvent]: Emitted when a new task enters the pending queue
//   - [TaskAssignedEvent]: Emitted when the broker hands a task to an agent
//   - [TaskStartedEvent]: Emitted when an agent begins working a task
//   - [TaskProgressEvent]: Emitted on a progress report
//   - [TaskCompletedEvent]: Emitted when a task reaches the completed state
//   - [TaskFailedEvent]: Emitted on failure, terminal or retryable
//
// Lock Events:
//   - [LockAcquiredEvent]: Emitted for each path successfully locked
//   - [LockReleasedEvent]: Emitted for each path released
//   - [LockConflictEvent]: Emitted for each path that could not be granted
//
// General:
//   - [CoordinatorErrorEvent]: Emitted when the coordinator absorbs an error
//     that no synchronous caller can react to
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Multiple goroutines can publish
// and subscribe concurrently. Handlers are called synchronously and protected
// against panics - a panicking handler will not prevent other handlers from
// being called.
//
// # Basic Usage
//
//	bus := event.NewBus(nil)
//
//	// Subscribe to specific event types
//	bus.Subscribe("agent.registered", func(e event.Event) {
//	    registered := e.(event.AgentRegisteredEvent)
//	    log.Printf("agent %s registered", registered.AgentID)
//	})
//
//	// Subscribe to all events (useful for logging)
//	bus.SubscribeAll(func(e event.Event) {
//	    log.Printf("event: %s at %v", e.EventType(), e.Timestamp())
//	})
//
//	// Publish events
//	bus.Publish(event.NewAgentRegisteredEvent("agent-1", "worker-1"))
//
//	// Unsubscribe when done
//	id := bus.Subscribe("task.completed", handler)
//	bus.Unsubscribe(id)
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - agent.registered, agent.disconnected, agent.status_changed
//   - task.created, task.assigned, task.started, task.progress, task.completed, task.failed
//   - lock.acquired, lock.released, lock.conflict
//   - coordinator.error
package event
