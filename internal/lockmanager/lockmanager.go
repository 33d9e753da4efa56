// Package lockmanager implements the coordinator's advisory file lock
// manager (C5): an in-memory map of FileLocks keyed by canonical path,
// mirrored to disk after every mutation so it survives a coordinator
// restart.
//
// Compatibility is deliberately strict: any two locks on the same path
// conflict unless both are read locks, or both are held by the same agent.
// Partial acquisition is allowed — a request over several paths can grant
// some and deny others, and the granted subset is persisted even when the
// overall result reports failure. This mirrors the file-claim registry this
// package is grounded on, generalized from an all-or-nothing single owner
// per path to a read/write/exclusive matrix with lease expiry.
package lockmanager

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/agentmesh/coordinator/internal/errorskit"
	"github.com/agentmesh/coordinator/internal/event"
	"github.com/agentmesh/coordinator/internal/logging"
	"github.com/agentmesh/coordinator/internal/model"
	"github.com/agentmesh/coordinator/internal/paths"
)

// DefaultLeaseDuration is applied when a LockRequest does not specify
// TimeoutMs. It is a fixed value; config.Config.LockTimeout is not read by
// this package.
const DefaultLeaseDuration = 5 * time.Minute

// Manager holds the authoritative lock table and persists a mirror of it
// to disk after every mutating operation.
type Manager struct {
	mu     sync.Mutex
	locks  map[string]model.FileLock // canonical path -> lock
	layout *paths.Layout
	bus    *event.Bus
	log    *logging.Logger
}

// New builds a Manager rooted at layout. If layout.LocksFile() already
// exists, non-expired locks are loaded from it.
func New(layout *paths.Layout, bus *event.Bus, log *logging.Logger) (*Manager, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	m := &Manager{
		locks:  make(map[string]model.FileLock),
		layout: layout,
		bus:    bus,
		log:    log,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.layout.LocksFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("lockmanager: read mirror: %w", err)
	}

	var locks []model.FileLock
	if err := json.Unmarshal(data, &locks); err != nil {
		m.log.Warn("lockmanager: discarding unparsable lock mirror", "error", err)
		return nil
	}

	now := time.Now()
	for _, l := range locks {
		if !l.Expired(now) {
			m.locks[l.Path] = l
		}
	}
	return nil
}

// Acquire attempts to grant req over every requested path. A path already
// locked by a different agent is reported as a conflict unless both the
// existing and the requested lock are read locks; a path locked by the
// same agent is re-granted with a fresh lease. Every non-conflicting path
// is granted, even if the overall result is not a success.
func (m *Manager) Acquire(req model.LockRequest) (model.LockResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepExpiredLocked(time.Now())

	lockType := req.LockType
	if lockType == "" {
		lockType = model.LockRead
	}
	ttl := DefaultLeaseDuration
	if req.TimeoutMs > 0 {
		ttl = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	now := time.Now()
	result := model.LockResult{Success: true}
	var acquiredEvents []model.FileLock
	var conflictEvents []model.Conflict

	for _, rawPath := range req.Paths {
		path := model.CanonicalPath(m.layout.ProjectRoot, rawPath)

		if existing, ok := m.locks[path]; ok && !compatible(existing, req.AgentID, lockType) {
			conflict := model.Conflict{Path: path, HeldBy: fmt.Sprintf("%s:%s", existing.AgentID, existing.LockType)}
			result.Failed = append(result.Failed, path)
			result.Conflicts = append(result.Conflicts, conflict)
			conflictEvents = append(conflictEvents, conflict)
			result.Success = false
			continue
		}

		lock := model.FileLock{
			Path:      path,
			AgentID:   req.AgentID,
			TaskID:    req.TaskID,
			LockedAt:  now,
			ExpiresAt: now.Add(ttl),
			LockType:  lockType,
		}
		m.locks[path] = lock
		result.Acquired = append(result.Acquired, path)
		acquiredEvents = append(acquiredEvents, lock)
	}

	if err := m.persistLocked(); err != nil {
		return result, err
	}

	if m.bus != nil {
		for _, l := range acquiredEvents {
			m.bus.Publish(event.NewLockAcquiredEvent(l.Path, l.AgentID, string(l.LockType)))
		}
		for _, c := range conflictEvents {
			m.bus.Publish(event.NewLockConflictEvent(c.Path, req.AgentID, c.HeldBy))
		}
	}

	return result, nil
}

// compatible reports whether a lock of lockType requested by agentID may
// coexist with existing. Same-agent requests on their own existing lock
// never conflict.
func compatible(existing model.FileLock, agentID string, lockType model.LockType) bool {
	if existing.AgentID == agentID {
		return true
	}
	return existing.LockType == model.LockRead && lockType == model.LockRead
}

// Release drops every lock in paths owned by agentID. Paths not owned by
// agentID are silently skipped.
func (m *Manager) Release(agentID string, rawPaths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released []model.FileLock
	for _, rawPath := range rawPaths {
		path := model.CanonicalPath(m.layout.ProjectRoot, rawPath)
		lock, ok := m.locks[path]
		if !ok || lock.AgentID != agentID {
			continue
		}
		delete(m.locks, path)
		released = append(released, lock)
	}

	if err := m.persistLocked(); err != nil {
		return err
	}
	m.publishReleases(released, "released")
	return nil
}

// ReleaseAll drops every lock held by agentID, regardless of path.
func (m *Manager) ReleaseAll(agentID string) error {
	return m.releaseWhere("released", func(l model.FileLock) bool { return l.AgentID == agentID })
}

// ReleaseTaskLocks drops every lock associated with taskID.
func (m *Manager) ReleaseTaskLocks(taskID string) error {
	return m.releaseWhere("task_completed", func(l model.FileLock) bool { return l.TaskID == taskID })
}

func (m *Manager) releaseWhere(reason string, match func(model.FileLock) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released []model.FileLock
	for path, lock := range m.locks {
		if match(lock) {
			delete(m.locks, path)
			released = append(released, lock)
		}
	}

	if err := m.persistLocked(); err != nil {
		return err
	}
	m.publishReleases(released, reason)
	return nil
}

// ForceRelease unconditionally drops the lock on path, regardless of
// owner. Intended for administrative use (e.g. an operator CLI command).
func (m *Manager) ForceRelease(rawPath string) error {
	m.mu.Lock()
	path := model.CanonicalPath(m.layout.ProjectRoot, rawPath)
	lock, ok := m.locks[path]
	if !ok {
		m.mu.Unlock()
		return errorskit.NewNotFoundError("lock", path)
	}
	delete(m.locks, path)
	err := m.persistLocked()
	m.mu.Unlock()

	if err != nil {
		return err
	}
	m.publishReleases([]model.FileLock{lock}, "forced")
	return nil
}

// Extend moves path's expiry forward by additionalMs, additive to its
// current expiry. Only the owning agent may extend a lock.
func (m *Manager) Extend(agentID, rawPath string, additionalMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := model.CanonicalPath(m.layout.ProjectRoot, rawPath)
	lock, ok := m.locks[path]
	if !ok {
		return errorskit.NewNotFoundError("lock", path)
	}
	if lock.AgentID != agentID {
		return errorskit.NewLockError("cannot extend a lock owned by another agent", errorskit.ErrLockNotOwner).WithPath(path)
	}

	lock.ExpiresAt = lock.ExpiresAt.Add(time.Duration(additionalMs) * time.Millisecond)
	m.locks[path] = lock
	return m.persistLocked()
}

// Active returns a snapshot of every non-expired lock, sorted by path.
func (m *Manager) Active() []model.FileLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepExpiredLocked(time.Now())

	locks := make([]model.FileLock, 0, len(m.locks))
	for _, l := range m.locks {
		locks = append(locks, l)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].Path < locks[j].Path })
	return locks
}

// HeldBy returns every non-expired lock owned by agentID, sorted by path.
func (m *Manager) HeldBy(agentID string) []model.FileLock {
	all := m.Active()
	held := all[:0]
	for _, l := range all {
		if l.AgentID == agentID {
			held = append(held, l)
		}
	}
	return held
}

func (m *Manager) publishReleases(released []model.FileLock, reason string) {
	if m.bus == nil {
		return
	}
	for _, l := range released {
		m.bus.Publish(event.NewLockReleasedEvent(l.Path, l.AgentID, reason))
	}
}

// sweepExpiredLocked evicts every lock whose lease has elapsed. Callers
// must hold mu.
func (m *Manager) sweepExpiredLocked(now time.Time) {
	for path, lock := range m.locks {
		if lock.Expired(now) {
			delete(m.locks, path)
		}
	}
}

// persistLocked writes the current lock table to the layout's mirror
// file via write-temp-then-rename. Callers must hold mu.
func (m *Manager) persistLocked() error {
	locks := make([]model.FileLock, 0, len(m.locks))
	for _, l := range m.locks {
		locks = append(locks, l)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].Path < locks[j].Path })

	data, err := json.MarshalIndent(locks, "", "  ")
	if err != nil {
		return fmt.Errorf("lockmanager: marshal mirror: %w", err)
	}

	if err := os.MkdirAll(m.layout.LocksDir(), 0o755); err != nil {
		return fmt.Errorf("lockmanager: create locks dir: %w", err)
	}

	target := m.layout.LocksFile()
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("lockmanager: write mirror: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("lockmanager: rename mirror into place: %w", err)
	}
	return nil
}
