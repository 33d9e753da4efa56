package broker

import (
	"github.com/agentmesh/coordinator/internal/envelope"
	"github.com/agentmesh/coordinator/internal/event"
	"github.com/agentmesh/coordinator/internal/model"
)

// autoAssign walks idle agents in registration order and, for each, the
// first claimable pending task (by priority, then queue position) whose
// target files it can lock. It runs as one state.Update transaction so
// the whole pass observes a consistent snapshot.
func (b *Broker) autoAssign() error {
	type assignment struct {
		task    model.Task
		agentID string
	}
	var made []assignment

	err := b.store.Update(b.layout.ProjectRoot, b.cfg, func(state *model.ServerState) error {
		for _, agentID := range idleAgentsInRegistrationOrder(state) {
			if task, ok := b.assignNextClaimableLocked(state, agentID); ok {
				made = append(made, assignment{task: task, agentID: agentID})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, a := range made {
		b.bus.Publish(event.NewTaskAssignedEvent(a.task.ID, a.agentID))
		b.deliverTaskAssignment(a.task, a.agentID)
	}
	return nil
}

// assignNextClaimableLocked finds the highest-priority claimable task
// whose target files agentID can lock, commits the assignment, and
// returns it. Callers must be inside a store.Update closure.
func (b *Broker) assignNextClaimableLocked(state *model.ServerState, agentID string) (model.Task, bool) {
	agent := state.Agents[agentID]
	if !agent.IsIdle() {
		return model.Task{}, false
	}

	for _, taskID := range sortedQueue(state) {
		task, ok := state.Tasks[taskID]
		if !ok || !task.IsClaimable() {
			continue
		}
		if !b.tryAcquireTaskLocks(agentID, &task) {
			continue
		}

		commitAssignmentLocked(state, &task, &agent)
		return task, true
	}
	return model.Task{}, false
}

// RequestTask attempts an immediate, single-agent assignment in response
// to a TASK_REQUEST message, rather than waiting for the next tick's
// auto-assign pass.
func (b *Broker) RequestTask(agentID string) error {
	var assigned model.Task
	var ok bool
	err := b.store.Update(b.layout.ProjectRoot, b.cfg, func(state *model.ServerState) error {
		if _, exists := state.Agents[agentID]; !exists {
			return nil
		}
		assigned, ok = b.assignNextClaimableLocked(state, agentID)
		return nil
	})
	if err != nil || !ok {
		return err
	}
	b.bus.Publish(event.NewTaskAssignedEvent(assigned.ID, agentID))
	b.deliverTaskAssignment(assigned, agentID)
	return nil
}

// tryAcquireTaskLocks attempts to acquire write locks over task's target
// files and directories on behalf of agentID. On partial or total
// failure, anything acquired during this attempt is rolled back so the
// task can be retried against the next candidate without leaking a
// lease.
func (b *Broker) tryAcquireTaskLocks(agentID string, task *model.Task) bool {
	paths := append(append([]string(nil), task.TargetFiles...), task.TargetDirectories...)
	if len(paths) == 0 {
		return true
	}

	result, err := b.locks.Acquire(model.LockRequest{
		AgentID:  agentID,
		TaskID:   task.ID,
		Paths:    paths,
		LockType: model.LockWrite,
	})
	if err != nil {
		return false
	}
	if !result.Success {
		if len(result.Acquired) > 0 {
			_ = b.locks.Release(agentID, result.Acquired)
		}
		return false
	}
	return true
}

// deliverTaskAssignment posts a TASK_ASSIGN envelope to agentID's inbox.
func (b *Broker) deliverTaskAssignment(task model.Task, agentID string) {
	msg := envelope.New("coordinator", envelope.TaskAssign, envelope.TaskAssignPayload{Task: task})
	if err := b.q.SendToAgent(agentID, msg); err != nil {
		b.log.Error("broker: failed to deliver task assignment", "task_id", task.ID, "agent_id", agentID, "error", err)
	}
}
