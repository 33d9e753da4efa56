package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_RoundTripPreservesUnknownField(t *testing.T) {
	original := []byte(`{"id":"t1","title":"write docs","priority":"normal","status":"pending","attempts":0,"maxAttempts":3,"futureField":"from a newer coordinator"}`)

	var task Task
	require.NoError(t, json.Unmarshal(original, &task))
	assert.Equal(t, "t1", task.ID)
	require.Contains(t, task.Extra, "futureField")

	rewritten, err := json.Marshal(task)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rewritten, &m))
	assert.JSONEq(t, `"from a newer coordinator"`, string(m["futureField"]))
}

func TestAgentInfo_RoundTripPreservesUnknownField(t *testing.T) {
	original := []byte(`{"id":"agent-1","name":"worker","status":"idle","startedAt":"2026-01-01T00:00:00Z","lastHeartbeat":"2026-01-01T00:00:00Z","gpuCount":4}`)

	var agent AgentInfo
	require.NoError(t, json.Unmarshal(original, &agent))
	require.Contains(t, agent.Extra, "gpuCount")

	rewritten, err := json.Marshal(agent)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rewritten, &m))
	assert.JSONEq(t, "4", string(m["gpuCount"]))
}

func TestServerState_RoundTripPreservesUnknownFieldAndNested(t *testing.T) {
	original := []byte(`{
		"version": 1,
		"startedAt": "2026-01-01T00:00:00Z",
		"projectPath": "/proj",
		"agents": {"agent-1": {"id":"agent-1","name":"w","status":"idle","startedAt":"2026-01-01T00:00:00Z","lastHeartbeat":"2026-01-01T00:00:00Z","region":"us-east"}},
		"tasks": {"t1": {"id":"t1","title":"t","priority":"normal","status":"pending","attempts":0,"maxAttempts":3,"sourceRepo":"agentmesh/coordinator"}},
		"queue": ["t1"],
		"history": [],
		"config": {},
		"schemaHint": "v2-preview"
	}`)

	var state ServerState
	require.NoError(t, json.Unmarshal(original, &state))
	require.Contains(t, state.Extra, "schemaHint")
	require.Contains(t, state.Agents["agent-1"].Extra, "region")
	require.Contains(t, state.Tasks["t1"].Extra, "sourceRepo")

	rewritten, err := json.Marshal(state)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rewritten, &m))
	assert.JSONEq(t, `"v2-preview"`, string(m["schemaHint"]))

	var agents map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(m["agents"], &agents))
	assert.JSONEq(t, `"us-east"`, string(agents["agent-1"]["region"]))
}

func TestFileLock_RoundTripPreservesUnknownField(t *testing.T) {
	original := []byte(`{"path":"a.go","agentId":"agent-1","lockedAt":"2026-01-01T00:00:00Z","expiresAt":"2026-01-01T01:00:00Z","lockType":"write","leaseId":"abc123"}`)

	var lock FileLock
	require.NoError(t, json.Unmarshal(original, &lock))
	require.Contains(t, lock.Extra, "leaseId")

	rewritten, err := json.Marshal(lock)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rewritten, &m))
	assert.JSONEq(t, `"abc123"`, string(m["leaseId"]))
}
