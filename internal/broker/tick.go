package broker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentmesh/coordinator/internal/errorskit"
	"github.com/agentmesh/coordinator/internal/event"
	"github.com/agentmesh/coordinator/internal/model"
)

// StartWatching begins the coordinator's tick loop, running one pass
// every cfg.HeartbeatIntervalDuration until ctx is cancelled or
// StopWatching is called. It is an error to call StartWatching twice
// without an intervening StopWatching.
func (b *Broker) StartWatching(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.cancel != nil {
		return errStateAlreadyWatching
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.tickDone = make(chan struct{})

	interval := b.cfg.HeartbeatIntervalDuration()
	if interval <= 0 {
		interval = 5 * time.Second
	}

	go func() {
		defer close(b.tickDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				b.tick(runCtx)
			}
		}
	}()
	return nil
}

// StopWatching cancels the tick loop and waits for the in-flight tick, if
// any, to finish. Idempotent.
func (b *Broker) StopWatching() {
	b.runMu.Lock()
	cancel := b.cancel
	done := b.tickDone
	b.cancel = nil
	b.tickDone = nil
	b.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// tick runs the four pipeline stages in strict order. Each stage is run
// through its own one-shot errgroup so a panic or error inside it is
// captured and logged without aborting the remaining stages or crashing
// the coordinator process.
func (b *Broker) tick(ctx context.Context) {
	b.runStage(ctx, "drain_outboxes", b.drainOutboxes)
	if ctxDone(ctx) {
		return
	}
	b.runStage(ctx, "heartbeat_watchdog", b.heartbeatWatchdog)
	if ctxDone(ctx) {
		return
	}
	b.runStage(ctx, "task_timeout_sweep", b.taskTimeoutSweep)
	if ctxDone(ctx) {
		return
	}
	if b.cfg.AutoAssign {
		b.runStage(ctx, "auto_assign", func(context.Context) error { return b.autoAssign() })
	}
}

func (b *Broker) runStage(ctx context.Context, name string, fn func(context.Context) error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn(gctx)
	})
	if err := g.Wait(); err != nil {
		b.log.Error("broker: tick stage failed", "stage", name, "error", err)
		b.bus.Publish(event.NewCoordinatorErrorEvent(name, err.Error()))
	}
}

// drainOutboxes processes every agent's outbox, oldest message first,
// deleting each message once it has been dispatched (or, for an
// undecodable message, once it has been discarded and logged).
func (b *Broker) drainOutboxes(ctx context.Context) error {
	agentIDs, err := b.q.AgentIDs()
	if err != nil {
		return err
	}
	for _, agentID := range agentIDs {
		if ctxDone(ctx) {
			return nil
		}
		messages, err := b.q.ReadOutbox(agentID, true)
		if err != nil {
			b.log.Warn("broker: read outbox failed", "agent_id", agentID, "error", err)
			continue
		}
		for _, msg := range messages {
			if b.seen.SeenOrRemember(msg.ID) {
				b.log.Debug("broker: skipping redelivered message", "agent_id", agentID, "id", msg.ID)
				continue
			}
			if err := b.dispatch(agentID, msg); err != nil {
				b.log.Warn("broker: dispatch failed", "agent_id", agentID, "type", msg.Type, "error", err)
			}
		}
	}
	return nil
}

// heartbeatWatchdog offlines agents silent past HeartbeatTimeout and
// removes agents silent past agentRemovalSilence entirely.
func (b *Broker) heartbeatWatchdog(context.Context) error {
	timeout := b.cfg.HeartbeatTimeoutDuration()
	type silentAgent struct {
		id      string
		silence time.Duration
	}
	var toRelease []silentAgent

	err := b.store.Update(b.layout.ProjectRoot, b.cfg, func(state *model.ServerState) error {
		now := time.Now()
		for id, agent := range state.Agents {
			silence := now.Sub(agent.LastHeartbeat)

			if silence > agentRemovalSilence {
				if agent.CurrentTask != "" {
					unassignTaskLocked(state, agent.CurrentTask)
				}
				delete(state.Agents, id)
				toRelease = append(toRelease, silentAgent{id, silence})
				continue
			}

			if silence > timeout && agent.Status != model.AgentOffline {
				if agent.CurrentTask != "" {
					unassignTaskLocked(state, agent.CurrentTask)
					agent.CurrentTask = ""
				}
				agent.Status = model.AgentOffline
				state.Agents[id] = agent
				toRelease = append(toRelease, silentAgent{id, silence})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, a := range toRelease {
		_ = b.locks.ReleaseAll(a.id)
		timeoutErr := errorskit.NewAgentTimeoutError(a.id, a.silence.String())
		b.log.Warn("broker: agent heartbeat timeout", "agent_id", a.id, "error", timeoutErr)
		b.bus.Publish(event.NewAgentDisconnectedEvent(a.id, "heartbeat_timeout"))
		b.bus.Publish(event.NewCoordinatorErrorEvent("heartbeat_watchdog", timeoutErr.Error()))
	}
	return nil
}

// taskTimeoutSweep fails any in-flight task whose clock has exceeded
// TaskTimeout, through the normal failTask retry path.
func (b *Broker) taskTimeoutSweep(context.Context) error {
	type timedOut struct {
		taskID, agentID       string
		terminal              bool
		attempts, maxAttempts int
	}
	var failures []timedOut

	err := b.store.Update(b.layout.ProjectRoot, b.cfg, func(state *model.ServerState) error {
		timeout := b.cfg.TaskTimeoutDuration()
		now := time.Now()

		for id, task := range state.Tasks {
			if task.Status != model.TaskAssigned && task.Status != model.TaskInProgress {
				continue
			}
			reference := task.AssignedAt
			if task.StartedAt != nil {
				reference = task.StartedAt
			}
			if reference == nil || now.Sub(*reference) <= timeout {
				continue
			}

			agentID := task.AssignedAgent
			terminal := failTaskLocked(state, &task, "task exceeded taskTimeout")
			state.Tasks[id] = task

			if agent, ok := state.Agents[agentID]; ok {
				agent.Status = model.AgentIdle
				agent.CurrentTask = ""
				agent.FailedTasks++
				state.Agents[agentID] = agent
			}
			failures = append(failures, timedOut{
				taskID: id, agentID: agentID, terminal: terminal,
				attempts: task.Attempts, maxAttempts: task.MaxAttempts,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, f := range failures {
		_ = b.locks.ReleaseTaskLocks(f.taskID)
		if f.terminal {
			exhausted := errorskit.NewTaskRetryExhaustedError(f.taskID, f.attempts, f.maxAttempts)
			b.log.Warn("broker: task retries exhausted", "task_id", f.taskID, "error", exhausted)
			b.bus.Publish(event.NewCoordinatorErrorEvent("task_timeout_sweep", exhausted.Error()))
		}
		b.bus.Publish(event.NewTaskFailedEvent(f.taskID, f.agentID, "task exceeded taskTimeout", f.terminal))
	}
	return nil
}
