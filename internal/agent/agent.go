// Package agent implements the Agent Runtime (C7): the per-worker side of
// the coordinator protocol. An Agent owns its own id, a heartbeat timer, an
// inbox poller, and the handful of outbound operations (task lifecycle
// reports, lock requests) that keep it synchronized with the coordinator
// through C3 (the message queue) and, for heartbeats, directly through C4
// (the state store).
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentmesh/coordinator/internal/config"
	"github.com/agentmesh/coordinator/internal/dedup"
	"github.com/agentmesh/coordinator/internal/envelope"
	"github.com/agentmesh/coordinator/internal/errorskit"
	"github.com/agentmesh/coordinator/internal/logging"
	"github.com/agentmesh/coordinator/internal/model"
	"github.com/agentmesh/coordinator/internal/paths"
	"github.com/agentmesh/coordinator/internal/queue"
	"github.com/agentmesh/coordinator/internal/statestore"
)

// lockReplyTimeout bounds how long RequestLocks waits for a correlated
// LOCK_RESPONSE before giving up.
const lockReplyTimeout = 5 * time.Second

// seenWindowSize bounds the agent's own envelope dedup window, guarding
// against a message redelivered after a crash between a queue read and its
// unlink.
const seenWindowSize = 256

// TaskCallback is invoked with an assigned task and reports its outcome.
// A non-nil error is reported to the coordinator as TASK_FAILED; otherwise
// the returned TaskResult is reported as TASK_COMPLETE.
type TaskCallback func(ctx context.Context, task model.Task) (model.TaskResult, error)

// MessageHandler observes every envelope delivered to the agent's inbox,
// including ones the runtime also acts on itself.
type MessageHandler func(envelope.Envelope)

// Agent is one worker process's view of the coordinator protocol.
type Agent struct {
	id     string
	layout *paths.Layout
	cfg    config.Config
	store  *statestore.Store
	q      *queue.Queue
	log    *logging.Logger

	autoAccept bool
	onMessage  MessageHandler
	seen       *dedup.Window

	mu          sync.Mutex
	status      model.AgentStatus
	currentTask string
	callback    TaskCallback
	pending     map[string]chan envelope.Envelope

	stopWatch   func()
	heartbeatMu sync.Mutex
	hbCancel    context.CancelFunc
	hbDone      chan struct{}
}

// Option configures optional Agent behavior at construction time.
type Option func(*Agent)

// WithAutoAccept enables automatic acceptance of TASK_ASSIGN messages when
// a callback has been registered via Start. Defaults to true.
func WithAutoAccept(enabled bool) Option {
	return func(a *Agent) { a.autoAccept = enabled }
}

// WithMessageHandler registers a handler invoked for every inbox message,
// in addition to the runtime's own built-in handling.
func WithMessageHandler(handler MessageHandler) Option {
	return func(a *Agent) { a.onMessage = handler }
}

// New builds an Agent with the given id, rooted at layout.
func New(layout *paths.Layout, cfg config.Config, id string, log *logging.Logger, opts ...Option) *Agent {
	if log == nil {
		log = logging.NopLogger()
	}
	a := &Agent{
		id:         id,
		layout:     layout,
		cfg:        cfg,
		store:      statestore.New(layout, log),
		q:          queue.New(layout, log),
		log:        log.WithAgent(id),
		autoAccept: true,
		status:     model.AgentIdle,
		pending:    make(map[string]chan envelope.Envelope),
		seen:       dedup.NewWindow(seenWindowSize),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID returns the agent's own id.
func (a *Agent) ID() string { return a.id }

// Register creates this agent's inbox/outbox directories, writes its
// AgentInfo into the shared state, and announces itself to the
// coordinator with an AGENT_REGISTER message.
func (a *Agent) Register(capabilities []string) error {
	if err := a.layout.EnsureAgentDirs(a.id); err != nil {
		return fmt.Errorf("agent: ensure dirs: %w", err)
	}

	info := model.AgentInfo{
		ID:            a.id,
		Status:        model.AgentIdle,
		StartedAt:     time.Now(),
		LastHeartbeat: time.Now(),
		Capabilities:  capabilities,
	}
	err := a.store.Update(a.layout.ProjectRoot, a.cfg, func(state *model.ServerState) error {
		state.Agents[a.id] = info
		return nil
	})
	if err != nil {
		return fmt.Errorf("agent: register in state: %w", err)
	}

	msg := envelope.New(a.id, envelope.AgentRegister, envelope.AgentRegisterPayload{Agent: info})
	return a.q.SendToCoordinator(a.id, msg)
}

// Start begins the heartbeat ticker and inbox poller. callback, if
// non-nil, is invoked for every auto-accepted TASK_ASSIGN. Start returns
// immediately; the heartbeat loop runs until ctx is cancelled or Stop is
// called, and the inbox watch runs until Stop is called.
func (a *Agent) Start(ctx context.Context, callback TaskCallback) error {
	if err := a.layout.EnsureAgentDirs(a.id); err != nil {
		return fmt.Errorf("agent: ensure dirs: %w", err)
	}

	a.mu.Lock()
	a.callback = callback
	a.mu.Unlock()

	a.startHeartbeat(ctx)
	a.stopWatch = a.q.Watch(a.layout.AgentInbox(a.id), a.handleMessage)
	return nil
}

// Stop announces AGENT_DISCONNECT and halts both the heartbeat ticker and
// the inbox watch. Safe to call more than once.
func (a *Agent) Stop() {
	a.stopHeartbeat()
	if a.stopWatch != nil {
		a.stopWatch()
		a.stopWatch = nil
	}
	msg := envelope.New(a.id, envelope.AgentDisconnect, envelope.AgentDisconnectPayload{AgentID: a.id})
	if err := a.q.SendToCoordinator(a.id, msg); err != nil {
		a.log.Warn("agent: failed to announce disconnect", "error", err)
	}
}

// GetState returns the coordinator's current snapshot of shared state.
func (a *Agent) GetState() (*model.ServerState, error) {
	state, err := a.store.Read()
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errorskit.NewNotFoundError("state", a.layout.ProjectRoot)
	}
	return state, nil
}

func (a *Agent) startHeartbeat(ctx context.Context) {
	a.heartbeatMu.Lock()
	defer a.heartbeatMu.Unlock()
	if a.hbCancel != nil {
		return
	}

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.hbCancel = cancel
	a.hbDone = done

	interval := a.cfg.HeartbeatIntervalDuration()
	if interval <= 0 {
		interval = 5 * time.Second
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				a.beat()
			}
		}
	}()
}

func (a *Agent) stopHeartbeat() {
	a.heartbeatMu.Lock()
	cancel := a.hbCancel
	done := a.hbDone
	a.hbCancel = nil
	a.hbDone = nil
	a.heartbeatMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// beat refreshes lastHeartbeat directly in the shared state (agents write
// straight to C4 for this, in addition to the advisory AGENT_HEARTBEAT
// message) and also posts the message itself so the coordinator's next
// drain sees an explicit, queued record of the check-in.
func (a *Agent) beat() {
	a.mu.Lock()
	status, task := a.status, a.currentTask
	a.mu.Unlock()

	err := a.store.Update(a.layout.ProjectRoot, a.cfg, func(state *model.ServerState) error {
		info, ok := state.Agents[a.id]
		if !ok {
			return errorskit.NewNotFoundError("agent", a.id)
		}
		info.LastHeartbeat = time.Now()
		info.Status = status
		info.CurrentTask = task
		state.Agents[a.id] = info
		return nil
	})
	if err != nil {
		a.log.Warn("agent: heartbeat state update failed", "error", err)
	}

	msg := envelope.New(a.id, envelope.AgentHeartbeat, envelope.AgentHeartbeatPayload{
		Status:      status,
		CurrentTask: task,
	})
	if err := a.q.SendToCoordinator(a.id, msg); err != nil {
		a.log.Warn("agent: failed to post heartbeat", "error", err)
	}
}

// setStatus updates the agent's locally tracked status and current task,
// mirrored into state on the next heartbeat.
func (a *Agent) setStatus(status model.AgentStatus, taskID string) {
	a.mu.Lock()
	a.status = status
	a.currentTask = taskID
	a.mu.Unlock()
}
