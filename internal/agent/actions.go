package agent

import (
	"context"
	"time"

	"github.com/agentmesh/coordinator/internal/envelope"
	"github.com/agentmesh/coordinator/internal/errorskit"
	"github.com/agentmesh/coordinator/internal/model"
)

// RequestTask asks the coordinator for the next claimable task rather than
// waiting for the next auto-assign tick.
func (a *Agent) RequestTask() error {
	msg := envelope.New(a.id, envelope.TaskRequest, envelope.TaskRequestPayload{AgentID: a.id})
	return a.q.SendToCoordinator(a.id, msg)
}

// ReportProgress posts a TASK_UPDATE carrying progress, without changing
// task status.
func (a *Agent) ReportProgress(taskID string, progress int, message string) error {
	msg := envelope.New(a.id, envelope.TaskUpdate, envelope.TaskUpdatePayload{
		TaskID:   taskID,
		Progress: progress,
		Message:  message,
	})
	return a.q.SendToCoordinator(a.id, msg)
}

// CompleteTask reports a successful outcome for taskID and returns the
// agent to idle.
func (a *Agent) CompleteTask(taskID string, result model.TaskResult) error {
	msg := envelope.New(a.id, envelope.TaskComplete, envelope.TaskCompletePayload{TaskID: taskID, Result: result})
	if err := a.q.SendToCoordinator(a.id, msg); err != nil {
		return err
	}
	a.setStatus(model.AgentIdle, "")
	return nil
}

// FailTask reports a failed outcome for taskID and returns the agent to
// idle. Whether the coordinator retries or terminally fails the task is
// its decision, not the agent's.
func (a *Agent) FailTask(taskID, errMsg string) error {
	msg := envelope.New(a.id, envelope.TaskFailed, envelope.TaskFailedPayload{TaskID: taskID, Error: errMsg})
	if err := a.q.SendToCoordinator(a.id, msg); err != nil {
		return err
	}
	a.setStatus(model.AgentIdle, "")
	return nil
}

// AcceptTask transitions the agent to working on task and announces
// TASK_UPDATE{in_progress}. Call this before running the task body when
// auto-accept is disabled and the caller is driving acceptance manually.
func (a *Agent) AcceptTask(task model.Task) error {
	a.setStatus(model.AgentWorking, task.ID)
	msg := envelope.New(a.id, envelope.TaskUpdate, envelope.TaskUpdatePayload{
		TaskID: task.ID,
		Status: model.TaskInProgress,
	})
	return a.q.SendToCoordinator(a.id, msg)
}

// RequestLocks posts a LOCK_REQUEST for paths and blocks until the
// correlated LOCK_RESPONSE arrives or lockReplyTimeout elapses. Any other
// message delivered to the inbox while waiting is dispatched normally by
// the concurrently running inbox watch, not dropped.
func (a *Agent) RequestLocks(paths []string, lockType model.LockType) (model.LockResult, error) {
	req := envelope.New(a.id, envelope.LockRequest, model.LockRequest{
		AgentID:  a.id,
		Paths:    paths,
		LockType: lockType,
	})

	reply := make(chan envelope.Envelope, 1)
	a.mu.Lock()
	a.pending[req.ID] = reply
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, req.ID)
		a.mu.Unlock()
	}()

	if err := a.q.SendToCoordinator(a.id, req); err != nil {
		return model.LockResult{}, err
	}

	select {
	case msg := <-reply:
		return envelope.DecodePayload[model.LockResult](msg)
	case <-time.After(lockReplyTimeout):
		return model.LockResult{}, errorskit.NewLockError("timed out waiting for lock response", errorskit.ErrLockTimeout)
	}
}

// ReleaseLocks posts a LOCK_RELEASE for paths. The coordinator releases
// them on its next drain; this call does not wait for confirmation.
func (a *Agent) ReleaseLocks(paths []string) error {
	msg := envelope.New(a.id, envelope.LockRelease, envelope.LockReleasePayload{Paths: paths})
	return a.q.SendToCoordinator(a.id, msg)
}

// handleMessage is the inbox watch's callback: it intercepts replies
// awaited by RequestLocks, and otherwise dispatches by type. onMessage,
// if set, observes every message regardless of how it was handled.
func (a *Agent) handleMessage(msg envelope.Envelope) {
	if a.seen.SeenOrRemember(msg.ID) {
		a.log.Debug("agent: skipping redelivered message", "id", msg.ID, "type", msg.Type)
		return
	}

	if a.onMessage != nil {
		a.onMessage(msg)
	}

	if msg.CorrelationID != "" {
		a.mu.Lock()
		ch, waiting := a.pending[msg.CorrelationID]
		a.mu.Unlock()
		if waiting {
			ch <- msg
			return
		}
	}

	switch msg.Type {
	case envelope.TaskAssign:
		a.handleTaskAssign(msg)
	case envelope.SyncState, envelope.Broadcast:
		a.log.Debug("agent: received arbitrary-payload message", "type", msg.Type)
	default:
		a.log.Debug("agent: no built-in handling for message type", "type", msg.Type)
	}
}

// handleTaskAssign implements the auto-accept path: if enabled, the agent
// is idle, and a callback is registered, it runs the task synchronously
// (the inbox watch's single goroutine is the agent's only application
// thread, so this keeps message handling strictly sequential) and reports
// the outcome.
func (a *Agent) handleTaskAssign(msg envelope.Envelope) {
	payload, err := envelope.DecodePayload[envelope.TaskAssignPayload](msg)
	if err != nil {
		a.log.Error("agent: failed to decode TASK_ASSIGN", "error", err)
		return
	}
	task := payload.Task

	a.mu.Lock()
	callback := a.callback
	autoAccept := a.autoAccept
	busy := a.currentTask != ""
	a.mu.Unlock()

	if !autoAccept || callback == nil || busy {
		a.log.Debug("agent: ignoring TASK_ASSIGN", "task_id", task.ID, "auto_accept", autoAccept, "busy", busy)
		return
	}

	if err := a.AcceptTask(task); err != nil {
		a.log.Error("agent: failed to announce task acceptance", "task_id", task.ID, "error", err)
		return
	}

	result, runErr := callback(context.Background(), task)
	if runErr != nil {
		if err := a.FailTask(task.ID, runErr.Error()); err != nil {
			a.log.Error("agent: failed to report task failure", "task_id", task.ID, "error", err)
		}
		return
	}
	if err := a.CompleteTask(task.ID, result); err != nil {
		a.log.Error("agent: failed to report task completion", "task_id", task.ID, "error", err)
	}
}
