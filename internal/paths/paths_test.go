package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindProjectRoot_WalksUpToMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestFindProjectRoot_FallsBackToStart(t *testing.T) {
	dir := t.TempDir()
	found, err := FindProjectRoot(dir)
	require.NoError(t, err)
	// No marker exists anywhere above a fresh temp dir other than possibly
	// the OS temp root itself; either way the result must be a valid,
	// resolvable directory.
	assert.DirExists(t, found)
}

func TestResolveProjectRoot_EnvOverrideBypassesWalk(t *testing.T) {
	override := t.TempDir()
	t.Setenv("AGENT_PROJECT_PATH", override)

	// startDir has its own marker; the override must still win.
	startDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(startDir, ".git"), 0o755))

	found, err := ResolveProjectRoot(startDir)
	require.NoError(t, err)
	assert.Equal(t, override, found)
}

func TestResolveProjectRoot_FallsBackToFindProjectRoot(t *testing.T) {
	t.Setenv("AGENT_PROJECT_PATH", "")

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := ResolveProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestLayout_EnsureDirs(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	require.NoError(t, l.EnsureDirs())

	assert.DirExists(t, l.CoordinatorDir())
	assert.DirExists(t, l.TasksDir())
	assert.DirExists(t, l.LocksDir())
	assert.DirExists(t, l.AgentsDir())
	assert.DirExists(t, l.MessagesDir())
	assert.FileExists(t, filepath.Join(l.CoordinatorDir(), ".gitignore"))
}

func TestLayout_EnsureAgentDirs(t *testing.T) {
	l := New(t.TempDir())
	require.NoError(t, l.EnsureAgentDirs("agent-1"))

	assert.DirExists(t, l.AgentInbox("agent-1"))
	assert.DirExists(t, l.AgentOutbox("agent-1"))
}

func TestLayout_StatePaths(t *testing.T) {
	l := New("/proj")
	assert.Equal(t, "/proj/.agent-coordinator/state.json", l.StateFile())
	assert.Equal(t, "/proj/.agent-coordinator/state.json.lock", l.StateLockFile())
	assert.Equal(t, "/proj/.agent-coordinator/state.json.tmp", l.StateTempFile())
}
