// Package queue implements the durable, file-based message queue that
// carries envelopes between the coordinator and its agents: one file per
// message, named so that a lexicographic directory listing yields
// chronological order.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agentmesh/coordinator/internal/envelope"
	"github.com/agentmesh/coordinator/internal/logging"
	"github.com/agentmesh/coordinator/internal/paths"
)

// Queue reads and writes envelopes through the on-disk layout described by
// a paths.Layout.
type Queue struct {
	layout *paths.Layout
	log    *logging.Logger
}

// New builds a Queue rooted at layout.
func New(layout *paths.Layout, log *logging.Logger) *Queue {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Queue{layout: layout, log: log}
}

// SendToAgent writes msg into agentID's inbox directory, creating it if
// necessary.
func (q *Queue) SendToAgent(agentID string, msg envelope.Envelope) error {
	dir := q.layout.AgentInbox(agentID)
	return writeEnvelope(dir, msg)
}

// SendToCoordinator writes msg into agentID's own outbox directory, creating
// it if necessary. This is the agent-side counterpart to SendToAgent: every
// envelope an agent sends to the coordinator lands here, to be picked up on
// the coordinator's next drain.
func (q *Queue) SendToCoordinator(agentID string, msg envelope.Envelope) error {
	dir := q.layout.AgentOutbox(agentID)
	return writeEnvelope(dir, msg)
}

// Broadcast fans msg out to every agent's inbox currently present on disk,
// optionally skipping one agent (typically the sender).
func (q *Queue) Broadcast(msg envelope.Envelope, excludeAgent string) error {
	entries, err := os.ReadDir(q.layout.AgentsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("queue: list agents: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == excludeAgent {
			continue
		}
		if err := q.SendToAgent(entry.Name(), msg); err != nil {
			return err
		}
	}
	return nil
}

// AgentIDs lists every agent directory currently present under the
// layout's agents root, regardless of whether that agent is still
// registered in ServerState.
func (q *Queue) AgentIDs() ([]string, error) {
	entries, err := os.ReadDir(q.layout.AgentsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: list agents: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// PostGlobal writes msg to the shared board, readable by any agent.
func (q *Queue) PostGlobal(msg envelope.Envelope) error {
	return writeEnvelope(q.layout.MessagesDir(), msg)
}

// ReadInbox returns every message currently in agentID's inbox, oldest
// first. If deleteAfterRead is true, each file is unlinked once its
// contents have been parsed and returned; readers that crash between the
// read and the unlink will see the message redelivered on the next call,
// so handlers must be idempotent by envelope id.
func (q *Queue) ReadInbox(agentID string, deleteAfterRead bool) ([]envelope.Envelope, error) {
	return q.readDir(q.layout.AgentInbox(agentID), deleteAfterRead)
}

// ReadOutbox is the coordinator-side counterpart to ReadInbox.
func (q *Queue) ReadOutbox(agentID string, deleteAfterRead bool) ([]envelope.Envelope, error) {
	return q.readDir(q.layout.AgentOutbox(agentID), deleteAfterRead)
}

// ReadGlobalMessages returns board messages with Timestamp strictly after
// since. Passing the zero time returns everything.
func (q *Queue) ReadGlobalMessages(since time.Time) ([]envelope.Envelope, error) {
	all, err := q.readDir(q.layout.MessagesDir(), false)
	if err != nil {
		return nil, err
	}
	filtered := all[:0]
	for _, e := range all {
		if e.Timestamp.After(since) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// CleanOldMessages deletes board messages older than maxAge.
func (q *Queue) CleanOldMessages(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	entries, err := os.ReadDir(q.layout.MessagesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(q.layout.MessagesDir(), entry.Name()))
		}
	}
	return nil
}

// writeEnvelope persists msg as one JSON file in dir, creating dir if
// needed. The write goes to a temp file first and is renamed into place so
// a concurrent reader never observes a partially written message.
func writeEnvelope(dir string, msg envelope.Envelope) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("queue: create directory: %w", err)
	}

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal envelope: %w", err)
	}

	target := filepath.Join(dir, msg.FileName())
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("queue: write envelope: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("queue: rename envelope into place: %w", err)
	}
	return nil
}

// readDir reads every ".json" file in dir in filename order, skipping
// files that fail to parse rather than failing the whole read — a reader
// may observe a message mid-write by another process.
func (q *Queue) readDir(dir string, deleteAfterRead bool) ([]envelope.Envelope, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: list %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	envelopes := make([]envelope.Envelope, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				q.log.Warn("queue: read message failed", "path", path, "error", err)
			}
			continue
		}

		var e envelope.Envelope
		if err := json.Unmarshal(data, &e); err != nil {
			q.log.Warn("queue: skipping malformed message", "path", path, "error", err)
			continue
		}
		envelopes = append(envelopes, e)

		if deleteAfterRead {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				q.log.Warn("queue: failed to remove delivered message", "path", path, "error", err)
			}
		}
	}
	return envelopes, nil
}
