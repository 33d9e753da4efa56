// Package statestore implements the coordinator's single-writer state
// persistence (C4): an advisory, PID-stamped lockfile guards writes to the
// canonical ServerState snapshot, which is itself written via
// write-temp-then-rename so readers never observe a partial file. Reads
// never take the lock.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/agentmesh/coordinator/internal/config"
	"github.com/agentmesh/coordinator/internal/errorskit"
	"github.com/agentmesh/coordinator/internal/logging"
	"github.com/agentmesh/coordinator/internal/model"
	"github.com/agentmesh/coordinator/internal/paths"
)

// staleAfter is how long an advisory lockfile may sit untouched before a
// contender assumes its owner died and reclaims it.
const staleAfter = 30 * time.Second

// retryInterval is how often a blocked acquirer polls for the lock to
// free up.
const retryInterval = 50 * time.Millisecond

// acquireTimeout is the total time an acquirer will spend retrying before
// giving up.
const acquireTimeout = 5 * time.Second

// Store reads and writes the ServerState snapshot under layout.
type Store struct {
	layout *paths.Layout
	log    *logging.Logger
}

// New builds a Store rooted at layout.
func New(layout *paths.Layout, log *logging.Logger) *Store {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Store{layout: layout, log: log}
}

// Read loads the current ServerState snapshot without taking the advisory
// lock. A missing or unparsable file is not an error: it returns (nil,
// nil) so the caller can fall back to an in-memory snapshot.
func (s *Store) Read() (*model.ServerState, error) {
	data, err := os.ReadFile(s.layout.StateFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("statestore: read: %w", err)
	}

	var state model.ServerState
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn("statestore: discarding unparsable state file", "error", err)
		return nil, nil
	}
	return &state, nil
}

// Write acquires the advisory lock, persists state via
// write-temp-then-rename, and releases the lock.
func (s *Store) Write(state *model.ServerState) error {
	unlock, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	return s.writeLocked(state)
}

// Update is the read-modify-write primitive: it holds the advisory lock
// for the duration of updater, so agents and the coordinator never race
// on each other's partial writes. If the state file does not yet exist,
// updater receives a freshly constructed ServerState for projectPath.
func (s *Store) Update(projectPath string, cfg config.Config, updater func(*model.ServerState) error) error {
	unlock, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	current, err := s.Read()
	if err != nil {
		return err
	}
	if current == nil {
		current = model.NewServerState(projectPath, cfg)
	}

	if err := updater(current); err != nil {
		return err
	}

	return s.writeLocked(current)
}

func (s *Store) writeLocked(state *model.ServerState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: marshal: %w", err)
	}

	target := s.layout.StateFile()
	tmp := s.layout.StateTempFile()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("statestore: write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("statestore: rename into place: %w", err)
	}
	return nil
}

// acquireLock creates the advisory lockfile, retrying while it is held by
// a live owner and reclaiming it if the owner appears to have died. It
// returns a function that releases the lock.
func (s *Store) acquireLock() (func(), error) {
	lockPath := s.layout.StateLockFile()
	deadline := time.Now().Add(acquireTimeout)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("statestore: create lock file: %w", err)
		}

		if s.reclaimIfStale(lockPath) {
			continue
		}

		if time.Now().After(deadline) {
			return nil, errorskit.NewContendedStateError()
		}
		time.Sleep(retryInterval)
	}
}

// reclaimIfStale removes lockPath if its modification time is older than
// staleAfter, on the assumption its owning process died without cleaning
// up. Returns true if it removed the file.
func (s *Store) reclaimIfStale(lockPath string) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) <= staleAfter {
		return false
	}
	s.log.Warn("statestore: reclaiming stale lock", "path", lockPath, "age", time.Since(info.ModTime()))
	return os.Remove(lockPath) == nil
}
