// Package broker implements the Task Broker (C6): the single coordinator
// process that owns the ServerState source of truth, drives the tick
// pipeline that drains agent outboxes, watches heartbeats, sweeps timed-out
// tasks, and assigns pending work, and exposes the coordinator-side public
// API used by external collaborators.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentmesh/coordinator/internal/config"
	"github.com/agentmesh/coordinator/internal/dedup"
	"github.com/agentmesh/coordinator/internal/errorskit"
	"github.com/agentmesh/coordinator/internal/event"
	"github.com/agentmesh/coordinator/internal/lockmanager"
	"github.com/agentmesh/coordinator/internal/logging"
	"github.com/agentmesh/coordinator/internal/model"
	"github.com/agentmesh/coordinator/internal/paths"
	"github.com/agentmesh/coordinator/internal/queue"
	"github.com/agentmesh/coordinator/internal/statestore"
)

// agentRemovalSilence is how long an offline agent may sit in the registry
// before the watchdog removes it outright, rather than merely marking it
// offline.
const agentRemovalSilence = 5 * time.Minute

// seenWindowSize bounds the coordinator's per-process envelope dedup
// window: large enough to absorb a burst across all agents' outboxes in
// one drain, small enough that a long-running coordinator's memory for it
// never meaningfully grows.
const seenWindowSize = 1024

// errStateAlreadyWatching is returned by StartWatching if the tick loop is
// already running.
var errStateAlreadyWatching = errors.New("broker: already watching")

// Broker owns the coordinator's lifecycle: the state store, lock manager,
// message queue, and the ticking pipeline that drives them.
type Broker struct {
	layout *paths.Layout
	cfg    config.Config
	store  *statestore.Store
	locks  *lockmanager.Manager
	q      *queue.Queue
	bus    *event.Bus
	log    *logging.Logger
	seen   *dedup.Window

	runMu    sync.Mutex
	cancel   context.CancelFunc
	tickDone chan struct{}
}

// New builds a Broker rooted at layout. It does not touch disk beyond what
// lockmanager.New and statestore.New need to reload their own state.
func New(layout *paths.Layout, cfg config.Config, bus *event.Bus, log *logging.Logger) (*Broker, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	if bus == nil {
		bus = event.NewBus(log)
	}

	locks, err := lockmanager.New(layout, bus, log)
	if err != nil {
		return nil, fmt.Errorf("broker: init lock manager: %w", err)
	}

	return &Broker{
		layout: layout,
		cfg:    cfg,
		store:  statestore.New(layout, log),
		locks:  locks,
		q:      queue.New(layout, log),
		bus:    bus,
		log:    log,
		seen:   dedup.NewWindow(seenWindowSize),
	}, nil
}

// Initialize creates the on-disk layout and, if no state file yet exists,
// persists a fresh ServerState for the project.
func (b *Broker) Initialize() error {
	if err := b.layout.EnsureDirs(); err != nil {
		return fmt.Errorf("broker: initialize: %w", err)
	}
	existing, err := b.store.Read()
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return b.store.Write(model.NewServerState(b.layout.ProjectRoot, b.cfg))
}

// OnEvent subscribes handler to eventType on the broker's event bus. An
// empty eventType subscribes to every event. Returns a subscription id
// usable with a later Unsubscribe call on the underlying bus.
func (b *Broker) OnEvent(eventType string, handler event.Handler) string {
	if eventType == "" {
		return b.bus.SubscribeAll(handler)
	}
	return b.bus.Subscribe(eventType, handler)
}

// GetState returns a snapshot of the current persisted state. A coordinator
// that has never written state returns an empty ServerState.
func (b *Broker) GetState() (*model.ServerState, error) {
	state, err := b.store.Read()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = model.NewServerState(b.layout.ProjectRoot, b.cfg)
	}
	return state, nil
}

// GetTasks returns every known task, sorted by id for determinism.
func (b *Broker) GetTasks() ([]model.Task, error) {
	state, err := b.GetState()
	if err != nil {
		return nil, err
	}
	tasks := make([]model.Task, 0, len(state.Tasks))
	for _, t := range state.Tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// GetPendingTasks returns tasks currently in the pending queue, in the
// order they would be walked by the assignment algorithm.
func (b *Broker) GetPendingTasks() ([]model.Task, error) {
	state, err := b.GetState()
	if err != nil {
		return nil, err
	}
	var pending []model.Task
	for _, id := range sortedQueue(state) {
		if t, ok := state.Tasks[id]; ok {
			pending = append(pending, t)
		}
	}
	return pending, nil
}

// GetLocks returns every active lock.
func (b *Broker) GetLocks() []model.FileLock {
	return b.locks.Active()
}

// RegisterAgent adds info to the registry, rejecting a new agent id once
// the persisted state's Config.MaxAgents is reached. Re-registering an id
// already in the registry is always accepted.
func (b *Broker) RegisterAgent(info model.AgentInfo) error {
	err := b.store.Update(b.layout.ProjectRoot, b.cfg, func(state *model.ServerState) error {
		if _, exists := state.Agents[info.ID]; !exists && len(state.Agents) >= state.Config.MaxAgents {
			return errorskit.NewAgentError("registry is full", errorskit.ErrMaxAgentsReached).WithAgentID(info.ID)
		}
		now := time.Now()
		if info.StartedAt.IsZero() {
			info.StartedAt = now
		}
		if info.LastHeartbeat.IsZero() {
			info.LastHeartbeat = now
		}
		if info.Status == "" {
			info.Status = model.AgentIdle
		}
		state.Agents[info.ID] = info
		return nil
	})
	if err != nil {
		return err
	}
	b.bus.Publish(event.NewAgentRegisteredEvent(info.ID, info.Name))
	return nil
}

// UnregisterAgent removes agentID from the registry, releasing its locks
// and returning any current task to the front of the pending queue.
func (b *Broker) UnregisterAgent(agentID string) error {
	var hadTask string
	err := b.store.Update(b.layout.ProjectRoot, b.cfg, func(state *model.ServerState) error {
		agent, ok := state.Agents[agentID]
		if !ok {
			return errorskit.NewNotFoundError("agent", agentID)
		}
		hadTask = agent.CurrentTask
		if hadTask != "" {
			unassignTaskLocked(state, hadTask)
		}
		delete(state.Agents, agentID)
		return nil
	})
	if err != nil {
		return err
	}
	_ = b.locks.ReleaseAll(agentID)
	b.bus.Publish(event.NewAgentDisconnectedEvent(agentID, "unregistered"))
	return nil
}

// UpdateHeartbeat refreshes agentID's LastHeartbeat, status, and current
// task, as reported by an AGENT_HEARTBEAT message drained from the agent's
// outbox.
func (b *Broker) UpdateHeartbeat(agentID string, status model.AgentStatus, currentTask string) error {
	var changed bool
	var from model.AgentStatus
	err := b.store.Update(b.layout.ProjectRoot, b.cfg, func(state *model.ServerState) error {
		agent, ok := state.Agents[agentID]
		if !ok {
			return errorskit.NewNotFoundError("agent", agentID)
		}
		from = agent.Status
		agent.LastHeartbeat = time.Now()
		if status != "" {
			changed = status != agent.Status
			agent.Status = status
		}
		if currentTask != "" {
			agent.CurrentTask = currentTask
		}
		state.Agents[agentID] = agent
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		b.bus.Publish(event.NewAgentStatusChangedEvent(agentID, string(from), string(status)))
	}
	return nil
}

// sortedQueue returns state.Queue ordered by task priority, breaking ties
// by original queue position (a stable sort over the existing order),
// which preserves front-of-queue placement for retried tasks within the
// same priority band.
func sortedQueue(state *model.ServerState) []string {
	ids := append([]string(nil), state.Queue...)
	sort.SliceStable(ids, func(i, j int) bool {
		ti, oki := state.Tasks[ids[i]]
		tj, okj := state.Tasks[ids[j]]
		if !oki || !okj {
			return false
		}
		return ti.Priority.Rank() < tj.Priority.Rank()
	})
	return ids
}

// idleAgentsInRegistrationOrder returns the ids of idle agents sorted by
// StartedAt ascending, tie-broken by id, approximating "registration
// order" since AgentInfo carries no explicit sequence number.
func idleAgentsInRegistrationOrder(state *model.ServerState) []string {
	var ids []string
	for id, agent := range state.Agents {
		if agent.IsIdle() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		ai, aj := state.Agents[ids[i]], state.Agents[ids[j]]
		if ai.StartedAt.Equal(aj.StartedAt) {
			return ids[i] < ids[j]
		}
		return ai.StartedAt.Before(aj.StartedAt)
	})
	return ids
}

// unassignTaskLocked returns taskID to the front of the pending queue,
// clearing its assignment. Callers must be inside a store.Update closure.
func unassignTaskLocked(state *model.ServerState, taskID string) {
	task, ok := state.Tasks[taskID]
	if !ok {
		return
	}
	task.Status = model.TaskPending
	task.AssignedAgent = ""
	task.AssignedAt = nil
	task.StartedAt = nil
	state.Tasks[taskID] = task

	for _, id := range state.Queue {
		if id == taskID {
			return
		}
	}
	state.Queue = append([]string{taskID}, state.Queue...)
}

// removeFromQueueLocked deletes taskID from state.Queue, preserving order.
func removeFromQueueLocked(state *model.ServerState, taskID string) {
	for i, id := range state.Queue {
		if id == taskID {
			state.Queue = append(state.Queue[:i], state.Queue[i+1:]...)
			return
		}
	}
}

// requeueFrontLocked places taskID at the front of state.Queue if it is
// not already present.
func requeueFrontLocked(state *model.ServerState, taskID string) {
	for _, id := range state.Queue {
		if id == taskID {
			return
		}
	}
	state.Queue = append([]string{taskID}, state.Queue...)
}

// ctxDone is a small helper so tick stages can bail out early on shutdown
// without threading a context through every state mutation.
func ctxDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
