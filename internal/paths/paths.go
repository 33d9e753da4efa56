// Package paths resolves the on-disk layout of a coordinator directory
// rooted at a project: where the state file lives, where each agent's
// inbox and outbox are, and where the global message board and lock
// mirror are kept.
//
//	<project>/.agent-coordinator/
//	    state.json
//	    state.json.lock
//	    config.json
//	    tasks/
//	    locks/active.json
//	    agents/<agentId>/inbox/
//	    agents/<agentId>/outbox/
//	    messages/
package paths

import (
	"os"
	"path/filepath"
)

// coordinatorDirName is the directory created inside a project root to hold
// all coordinator state.
const coordinatorDirName = ".agent-coordinator"

// projectPathEnvVar, per §6.4, pins the project root outright, bypassing
// the marker walk entirely. It lives here rather than in config.Config's
// env bindings because it resolves a Layout, not a tunable of Config.
const projectPathEnvVar = "AGENT_PROJECT_PATH"

// rootMarkers are files/directories whose presence identifies a project
// root when walking upward from a starting directory.
var rootMarkers = []string{".git", "go.mod", "package.json", coordinatorDirName}

// Layout resolves every path the coordinator and its agents read or write.
type Layout struct {
	ProjectRoot string
}

// New builds a Layout rooted at projectRoot. It does not create any
// directories; call EnsureDirs for that.
func New(projectRoot string) *Layout {
	return &Layout{ProjectRoot: projectRoot}
}

// FindProjectRoot walks upward from startDir until it finds an ancestor
// containing one of the well-known root markers, or returns startDir
// unchanged if none is found by the time it reaches the filesystem root.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		for _, marker := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir, nil
		}
		dir = parent
	}
}

// ResolveProjectRoot is the entry point callers (CLIs, test harnesses)
// should use instead of FindProjectRoot directly: if AGENT_PROJECT_PATH
// is set, it takes the root outright and the marker walk never runs;
// otherwise it falls back to FindProjectRoot(startDir).
func ResolveProjectRoot(startDir string) (string, error) {
	if override := os.Getenv(projectPathEnvVar); override != "" {
		return filepath.Abs(override)
	}
	return FindProjectRoot(startDir)
}

// CoordinatorDir is the root of all coordinator state under the project.
func (l *Layout) CoordinatorDir() string {
	return filepath.Join(l.ProjectRoot, coordinatorDirName)
}

// StateFile is the canonical ServerState snapshot.
func (l *Layout) StateFile() string {
	return filepath.Join(l.CoordinatorDir(), "state.json")
}

// StateLockFile is the advisory lockfile guarding writes to StateFile.
func (l *Layout) StateLockFile() string {
	return l.StateFile() + ".lock"
}

// StateTempFile is the transient file used for the write-then-rename that
// makes state updates atomic.
func (l *Layout) StateTempFile() string {
	return l.StateFile() + ".tmp"
}

// ConfigFile is the optional user-supplied config override file.
func (l *Layout) ConfigFile() string {
	return filepath.Join(l.CoordinatorDir(), "config.json")
}

// LocksDir holds the lock manager's persisted mirror.
func (l *Layout) LocksDir() string {
	return filepath.Join(l.CoordinatorDir(), "locks")
}

// LocksFile is the persisted mirror of currently held locks.
func (l *Layout) LocksFile() string {
	return filepath.Join(l.LocksDir(), "active.json")
}

// TasksDir is reserved for future per-task artifact storage; the core does
// not populate it.
func (l *Layout) TasksDir() string {
	return filepath.Join(l.CoordinatorDir(), "tasks")
}

// AgentsDir is the parent of every agent's inbox/outbox pair.
func (l *Layout) AgentsDir() string {
	return filepath.Join(l.CoordinatorDir(), "agents")
}

// AgentDir is the root for a single agent's message directories.
func (l *Layout) AgentDir(agentID string) string {
	return filepath.Join(l.AgentsDir(), agentID)
}

// AgentInbox holds messages the coordinator has sent to agentID.
func (l *Layout) AgentInbox(agentID string) string {
	return filepath.Join(l.AgentDir(agentID), "inbox")
}

// AgentOutbox holds messages agentID has sent to the coordinator.
func (l *Layout) AgentOutbox(agentID string) string {
	return filepath.Join(l.AgentDir(agentID), "outbox")
}

// MessagesDir is the global message board, readable by every agent.
func (l *Layout) MessagesDir() string {
	return filepath.Join(l.CoordinatorDir(), "messages")
}

// EnsureDirs creates every directory in the layout that is expected to
// exist up front (everything except per-agent directories, which are
// created lazily on first use) and writes a .gitignore excluding the
// coordinator's runtime state from version control.
func (l *Layout) EnsureDirs() error {
	dirs := []string{
		l.CoordinatorDir(),
		l.TasksDir(),
		l.LocksDir(),
		l.AgentsDir(),
		l.MessagesDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return l.writeGitignore()
}

func (l *Layout) writeGitignore() error {
	path := filepath.Join(l.CoordinatorDir(), ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	contents := "state.json\nstate.json.lock\nstate.json.tmp\nlocks/\nagents/\nmessages/\n"
	return os.WriteFile(path, []byte(contents), 0o644)
}

// EnsureAgentDirs creates the inbox/outbox pair for a specific agent.
func (l *Layout) EnsureAgentDirs(agentID string) error {
	if err := os.MkdirAll(l.AgentInbox(agentID), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(l.AgentOutbox(agentID), 0o755)
}
