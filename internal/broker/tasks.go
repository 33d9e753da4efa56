package broker

import (
	"time"

	"github.com/agentmesh/coordinator/internal/envelope"
	"github.com/agentmesh/coordinator/internal/errorskit"
	"github.com/agentmesh/coordinator/internal/event"
	"github.com/agentmesh/coordinator/internal/model"
)

// CreateTask enqueues task, assigning it an id if it does not already have
// one and computing BlockedBy from DependsOn against the current task
// table.
func (b *Broker) CreateTask(task model.Task) (model.Task, error) {
	if task.ID == "" {
		task.ID = envelope.NewID()
	}
	if task.MaxAttempts == 0 {
		task.MaxAttempts = model.DefaultMaxAttempts
	}
	if task.Priority == "" {
		task.Priority = model.PriorityNormal
	}
	task.Status = model.TaskPending
	task.CreatedAt = time.Now()

	err := b.store.Update(b.layout.ProjectRoot, b.cfg, func(state *model.ServerState) error {
		task.BlockedBy = computeBlockedByLocked(state, task.DependsOn)
		state.Tasks[task.ID] = task
		state.Queue = append(state.Queue, task.ID)
		return nil
	})
	if err != nil {
		return model.Task{}, err
	}
	b.bus.Publish(event.NewTaskCreatedEvent(task.ID, string(task.Priority)))
	return task, nil
}

// AssignTask hands taskID to agentID outside of the periodic auto-assign
// pass, for callers that want to schedule explicitly. It applies the same
// eligibility and lock-acquisition rules as the tick's assignment
// algorithm.
func (b *Broker) AssignTask(taskID, agentID string) error {
	var assigned model.Task
	err := b.store.Update(b.layout.ProjectRoot, b.cfg, func(state *model.ServerState) error {
		agent, ok := state.Agents[agentID]
		if !ok {
			return errorskit.NewNotFoundError("agent", agentID)
		}
		if !agent.IsIdle() {
			return errorskit.NewAgentError("agent is not idle", errorskit.ErrAgentOffline).WithAgentID(agentID)
		}
		task, ok := state.Tasks[taskID]
		if !ok {
			return errorskit.NewNotFoundError("task", taskID)
		}
		if !task.IsClaimable() {
			return errorskit.NewTaskError("task is not claimable", errorskit.ErrTaskNotAssignable).WithTaskID(taskID)
		}

		if !b.tryAcquireTaskLocks(agentID, &task) {
			return errorskit.NewTaskError("target files are locked by another agent", errorskit.ErrTaskNotAssignable).WithTaskID(taskID)
		}

		commitAssignmentLocked(state, &task, &agent)
		assigned = task
		return nil
	})
	if err != nil {
		return err
	}
	b.bus.Publish(event.NewTaskAssignedEvent(taskID, agentID))
	b.deliverTaskAssignment(assigned, agentID)
	return nil
}

// StartTask transitions taskID from assigned to in_progress.
func (b *Broker) StartTask(taskID string) error {
	var agentID string
	err := b.store.Update(b.layout.ProjectRoot, b.cfg, func(state *model.ServerState) error {
		task, ok := state.Tasks[taskID]
		if !ok {
			return errorskit.NewNotFoundError("task", taskID)
		}
		if task.Status != model.TaskAssigned {
			return errorskit.NewIllegalTransitionError("task", string(task.Status), "start")
		}
		now := time.Now()
		task.Status = model.TaskInProgress
		task.StartedAt = &now
		state.Tasks[taskID] = task
		agentID = task.AssignedAgent
		return nil
	})
	if err != nil {
		return err
	}
	b.bus.Publish(event.NewTaskStartedEvent(taskID, agentID))
	return nil
}

// CompleteTask transitions taskID to completed, but only if agentID is the
// task's currently assigned agent and the task is in {assigned,
// in_progress}.
func (b *Broker) CompleteTask(taskID, agentID string, result model.TaskResult) error {
	err := b.store.Update(b.layout.ProjectRoot, b.cfg, func(state *model.ServerState) error {
		task, ok := state.Tasks[taskID]
		if !ok {
			return errorskit.NewNotFoundError("task", taskID)
		}
		if task.AssignedAgent != agentID {
			return errorskit.NewTaskError("task is not assigned to this agent", errorskit.ErrTaskNotOwnedByAgent).WithTaskID(taskID)
		}
		if task.Status != model.TaskAssigned && task.Status != model.TaskInProgress {
			return errorskit.NewIllegalTransitionError("task", string(task.Status), "complete")
		}

		now := time.Now()
		task.Status = model.TaskCompleted
		task.CompletedAt = &now
		task.Result = &result
		state.Tasks[taskID] = task
		state.History = append(state.History, taskID)

		unblockDependentsLocked(state, taskID)

		if agent, ok := state.Agents[agentID]; ok {
			agent.Status = model.AgentIdle
			agent.CurrentTask = ""
			agent.CompletedTasks++
			state.Agents[agentID] = agent
		}
		return nil
	})
	if err != nil {
		return err
	}
	_ = b.locks.ReleaseTaskLocks(taskID)
	b.bus.Publish(event.NewTaskCompletedEvent(taskID, agentID))
	return nil
}

// FailTask records a failure for taskID. If the task's attempts remain
// under MaxAttempts it is returned to the front of the pending queue;
// otherwise it becomes terminally failed.
func (b *Broker) FailTask(taskID, agentID, errMsg string) error {
	var terminal bool
	var finalTask model.Task
	err := b.store.Update(b.layout.ProjectRoot, b.cfg, func(state *model.ServerState) error {
		task, ok := state.Tasks[taskID]
		if !ok {
			return errorskit.NewNotFoundError("task", taskID)
		}
		terminal = failTaskLocked(state, &task, errMsg)
		state.Tasks[taskID] = task
		finalTask = task

		if agent, ok := state.Agents[agentID]; ok {
			agent.Status = model.AgentIdle
			agent.CurrentTask = ""
			agent.FailedTasks++
			state.Agents[agentID] = agent
		}
		return nil
	})
	if err != nil {
		return err
	}
	_ = b.locks.ReleaseTaskLocks(taskID)
	if terminal {
		exhausted := errorskit.NewTaskRetryExhaustedError(taskID, finalTask.Attempts, finalTask.MaxAttempts)
		b.log.Warn("broker: task retries exhausted", "task_id", taskID, "error", exhausted)
		b.bus.Publish(event.NewCoordinatorErrorEvent("fail_task", exhausted.Error()))
	}
	b.bus.Publish(event.NewTaskFailedEvent(taskID, agentID, errMsg, terminal))
	return nil
}

// UnassignTask returns taskID to the front of the pending queue without
// recording a failure, releasing its locks. Used when an agent dies or
// voluntarily returns a task.
func (b *Broker) UnassignTask(taskID string) error {
	err := b.store.Update(b.layout.ProjectRoot, b.cfg, func(state *model.ServerState) error {
		if _, ok := state.Tasks[taskID]; !ok {
			return errorskit.NewNotFoundError("task", taskID)
		}
		unassignTaskLocked(state, taskID)
		return nil
	})
	if err != nil {
		return err
	}
	return b.locks.ReleaseTaskLocks(taskID)
}

// failTaskLocked applies the retry-or-terminate rule to task in place and
// reports whether the failure was terminal. Callers must be inside a
// store.Update closure.
func failTaskLocked(state *model.ServerState, task *model.Task, errMsg string) (terminal bool) {
	task.Error = errMsg

	if task.Attempts < task.MaxAttempts {
		task.Status = model.TaskPending
		task.AssignedAgent = ""
		task.AssignedAt = nil
		task.StartedAt = nil
		requeueFrontLocked(state, task.ID)
		return false
	}

	task.Status = model.TaskFailed
	now := time.Now()
	task.CompletedAt = &now
	removeFromQueueLocked(state, task.ID)
	state.History = append(state.History, task.ID)
	return true
}

// computeBlockedByLocked returns the subset of dependsOn whose tasks are
// not yet completed.
func computeBlockedByLocked(state *model.ServerState, dependsOn []string) []string {
	var blocked []string
	for _, dep := range dependsOn {
		if t, ok := state.Tasks[dep]; !ok || t.Status != model.TaskCompleted {
			blocked = append(blocked, dep)
		}
	}
	return blocked
}

// unblockDependentsLocked removes completedID from every known task's
// BlockedBy list.
func unblockDependentsLocked(state *model.ServerState, completedID string) {
	for id, task := range state.Tasks {
		if task.RemoveBlocker(completedID) {
			state.Tasks[id] = task
		}
	}
}

// commitAssignmentLocked records task as assigned to agent: it mutates
// both in place, removes task from the pending queue, and stamps
// timestamps and attempt counts.
func commitAssignmentLocked(state *model.ServerState, task *model.Task, agent *model.AgentInfo) {
	now := time.Now()
	task.Status = model.TaskAssigned
	task.AssignedAgent = agent.ID
	task.AssignedAt = &now
	task.Attempts++
	state.Tasks[task.ID] = *task
	removeFromQueueLocked(state, task.ID)

	agent.Status = model.AgentWorking
	agent.CurrentTask = task.ID
	state.Agents[agent.ID] = *agent
}
