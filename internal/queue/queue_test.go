package queue

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/coordinator/internal/envelope"
	"github.com/agentmesh/coordinator/internal/paths"
)

func TestSendToAgent_WritesPrettyPrintedEnvelope(t *testing.T) {
	layout := paths.New(t.TempDir())
	q := New(layout, nil)

	msg := envelope.New("coordinator", envelope.TaskAssign, map[string]string{"taskId": "t1"})
	require.NoError(t, q.SendToAgent("agent-1", msg))

	data, err := os.ReadFile(filepath.Join(layout.AgentInbox("agent-1"), msg.FileName()))
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("\n  ")), "envelope file should be pretty-printed, not a single compact line")
}

func TestReadInbox_RoundTripsWrittenEnvelope(t *testing.T) {
	layout := paths.New(t.TempDir())
	q := New(layout, nil)

	msg := envelope.New("coordinator", envelope.AgentHeartbeat, nil)
	require.NoError(t, q.SendToAgent("agent-1", msg))

	got, err := q.ReadInbox("agent-1", false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].ID)
	assert.Equal(t, envelope.AgentHeartbeat, got[0].Type)
}
