package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/coordinator/internal/agent"
	"github.com/agentmesh/coordinator/internal/broker"
	"github.com/agentmesh/coordinator/internal/config"
	"github.com/agentmesh/coordinator/internal/event"
	"github.com/agentmesh/coordinator/internal/model"
	"github.com/agentmesh/coordinator/internal/paths"
)

// newFastConfig returns a config tuned for a test timescale: short
// heartbeat interval (so the tick loop runs often) but generous timeouts,
// so watchdogs don't fire unless a test asks them to.
func newFastConfig() config.Config {
	cfg := *config.Default()
	cfg.HeartbeatInterval = 20
	cfg.HeartbeatTimeout = 2000
	cfg.TaskTimeout = 3600000
	return cfg
}

func eventually(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition was never satisfied")
}

func TestIntegration_RegisterAssignComplete(t *testing.T) {
	root := t.TempDir()
	layout := paths.New(root)
	cfg := newFastConfig()

	b, err := broker.New(layout, cfg, event.NewBus(nil), nil)
	require.NoError(t, err)
	require.NoError(t, b.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.StartWatching(ctx))
	defer b.StopWatching()

	a := agent.New(layout, cfg, "agent-1", nil)
	require.NoError(t, a.Register(nil))
	require.NoError(t, a.Start(ctx, func(ctx context.Context, task model.Task) (model.TaskResult, error) {
		return model.TaskResult{Success: true, Summary: "done"}, nil
	}))
	defer a.Stop()

	task, err := b.CreateTask(model.Task{Title: "write the docs"})
	require.NoError(t, err)

	eventually(t, 3*time.Second, func() bool {
		state, err := b.GetState()
		require.NoError(t, err)
		return state.Tasks[task.ID].Status == model.TaskCompleted
	})

	state, err := b.GetState()
	require.NoError(t, err)
	assert.Equal(t, 1, state.Agents["agent-1"].CompletedTasks)
	assert.Equal(t, model.AgentIdle, state.Agents["agent-1"].Status)
}

func TestIntegration_LockContentionSerializesTwoAgents(t *testing.T) {
	root := t.TempDir()
	layout := paths.New(root)
	cfg := newFastConfig()

	b, err := broker.New(layout, cfg, event.NewBus(nil), nil)
	require.NoError(t, err)
	require.NoError(t, b.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.StartWatching(ctx))
	defer b.StopWatching()

	release := make(chan struct{})
	started := make(chan string, 2)

	runOne := func(ctx context.Context, task model.Task) (model.TaskResult, error) {
		started <- task.ID
		<-release
		return model.TaskResult{Success: true}, nil
	}

	a1 := agent.New(layout, cfg, "agent-1", nil)
	require.NoError(t, a1.Register(nil))
	require.NoError(t, a1.Start(ctx, runOne))
	defer a1.Stop()

	a2 := agent.New(layout, cfg, "agent-2", nil)
	require.NoError(t, a2.Register(nil))
	require.NoError(t, a2.Start(ctx, runOne))
	defer a2.Stop()

	taskA, err := b.CreateTask(model.Task{Title: "edit shared file", TargetFiles: []string{"shared.go"}})
	require.NoError(t, err)
	taskB, err := b.CreateTask(model.Task{Title: "edit the same file again", TargetFiles: []string{"shared.go"}})
	require.NoError(t, err)

	var first string
	select {
	case first = <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("neither task started")
	}

	// The second task's target file is locked by whichever agent claimed
	// the first; it must not also start until the first finishes.
	select {
	case <-started:
		t.Fatal("second task started while the shared file was still locked")
	case <-time.After(150 * time.Millisecond):
	}

	close(release)

	eventually(t, 3*time.Second, func() bool {
		state, err := b.GetState()
		require.NoError(t, err)
		return state.Tasks[taskA.ID].Status == model.TaskCompleted && state.Tasks[taskB.ID].Status == model.TaskCompleted
	})

	assert.Contains(t, []string{taskA.ID, taskB.ID}, first)
}

func TestIntegration_HeartbeatTimeoutOffinesAgentAndRequeuesTask(t *testing.T) {
	root := t.TempDir()
	layout := paths.New(root)
	cfg := newFastConfig()
	cfg.HeartbeatTimeout = 60
	cfg.AutoAssign = false

	b, err := broker.New(layout, cfg, event.NewBus(nil), nil)
	require.NoError(t, err)
	require.NoError(t, b.Initialize())

	require.NoError(t, b.RegisterAgent(model.AgentInfo{ID: "agent-1"}))
	task, err := b.CreateTask(model.Task{Title: "t1"})
	require.NoError(t, err)
	require.NoError(t, b.AssignTask(task.ID, "agent-1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.StartWatching(ctx))
	defer b.StopWatching()

	eventually(t, 3*time.Second, func() bool {
		state, err := b.GetState()
		require.NoError(t, err)
		agent, ok := state.Agents["agent-1"]
		return ok && agent.Status == model.AgentOffline
	})

	state, err := b.GetState()
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, state.Tasks[task.ID].Status)
	assert.Contains(t, state.Queue, task.ID)
	assert.Empty(t, b.GetLocks())
}

func TestIntegration_TaskTimeoutFailsStuckTask(t *testing.T) {
	root := t.TempDir()
	layout := paths.New(root)
	cfg := newFastConfig()
	cfg.TaskTimeout = 60
	cfg.AutoAssign = false

	b, err := broker.New(layout, cfg, event.NewBus(nil), nil)
	require.NoError(t, err)
	require.NoError(t, b.Initialize())

	require.NoError(t, b.RegisterAgent(model.AgentInfo{ID: "agent-1"}))
	task, err := b.CreateTask(model.Task{Title: "t1", MaxAttempts: 1})
	require.NoError(t, err)
	require.NoError(t, b.AssignTask(task.ID, "agent-1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.StartWatching(ctx))
	defer b.StopWatching()

	eventually(t, 3*time.Second, func() bool {
		state, err := b.GetState()
		require.NoError(t, err)
		return state.Tasks[task.ID].Status == model.TaskFailed
	})

	state, err := b.GetState()
	require.NoError(t, err)
	assert.Equal(t, "task exceeded taskTimeout", state.Tasks[task.ID].Error)
	assert.Equal(t, model.AgentIdle, state.Agents["agent-1"].Status)
}
