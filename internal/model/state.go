package model

import (
	"encoding/json"
	"time"

	"github.com/agentmesh/coordinator/internal/config"
)

// StateVersion is bumped whenever the on-disk ServerState shape changes in
// a way old readers could misinterpret.
const StateVersion = 1

// ServerState is the single canonical snapshot persisted by the State
// Store. Exactly one copy exists per coordinator directory.
type ServerState struct {
	Version     int                  `json:"version"`
	StartedAt   time.Time            `json:"startedAt"`
	ProjectPath string               `json:"projectPath"`
	Agents      map[string]AgentInfo `json:"agents"`
	Tasks       map[string]Task      `json:"tasks"`
	Queue       []string             `json:"queue"`
	History     []string             `json:"history"` // ids of tasks that reached a terminal state, in the order they did
	Config      config.Config        `json:"config"`

	// Extra holds any top-level field this version of the coordinator
	// doesn't know about, so it survives the next write-temp-then-rename
	// instead of being silently dropped.
	Extra map[string]json.RawMessage `json:"-"`
}

// serverStateKnownFields lists ServerState's JSON tags, used to separate
// recognized fields from Extra on unmarshal.
var serverStateKnownFields = map[string]struct{}{
	"version": {}, "startedAt": {}, "projectPath": {}, "agents": {},
	"tasks": {}, "queue": {}, "history": {}, "config": {},
}

// MarshalJSON encodes s's known fields and folds Extra back in.
func (s ServerState) MarshalJSON() ([]byte, error) {
	type alias ServerState
	encoded, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	return mergeExtra(encoded, s.Extra)
}

// UnmarshalJSON decodes s's known fields and stashes anything else in
// Extra.
func (s *ServerState) UnmarshalJSON(data []byte) error {
	type alias ServerState
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = ServerState(a)

	extra, err := splitExtra(data, serverStateKnownFields)
	if err != nil {
		return err
	}
	s.Extra = extra
	return nil
}

// NewServerState returns an empty, initialized ServerState for projectPath.
func NewServerState(projectPath string, cfg config.Config) *ServerState {
	return &ServerState{
		Version:     StateVersion,
		StartedAt:   time.Now(),
		ProjectPath: projectPath,
		Agents:      make(map[string]AgentInfo),
		Tasks:       make(map[string]Task),
		Queue:       nil,
		History:     nil,
		Config:      cfg,
	}
}

// Clone returns a deep-enough copy of s so that callers can mutate the
// result without racing the original. Slices and maps are duplicated;
// their element values are shallow copies (sufficient because Task and
// AgentInfo fields are themselves immutable once constructed, except
// through the whole-value replacement this package always uses).
func (s *ServerState) Clone() *ServerState {
	clone := &ServerState{
		Version:     s.Version,
		StartedAt:   s.StartedAt,
		ProjectPath: s.ProjectPath,
		Agents:      make(map[string]AgentInfo, len(s.Agents)),
		Tasks:       make(map[string]Task, len(s.Tasks)),
		Queue:       append([]string(nil), s.Queue...),
		History:     append([]string(nil), s.History...),
		Config:      s.Config,
	}
	for k, v := range s.Agents {
		clone.Agents[k] = v
	}
	for k, v := range s.Tasks {
		clone.Tasks[k] = v
	}
	if s.Extra != nil {
		clone.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			clone.Extra[k] = v
		}
	}
	return clone
}
