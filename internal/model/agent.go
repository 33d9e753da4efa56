// Package model defines the data types shared by every coordinator
// component: agents, tasks, locks, messages, and the canonical server
// state that ties them together.
package model

import (
	"encoding/json"
	"time"
)

// AgentStatus is the current activity state of a registered agent.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentBlocked AgentStatus = "blocked"
	AgentError   AgentStatus = "error"
	AgentOffline AgentStatus = "offline"
)

// String implements fmt.Stringer.
func (s AgentStatus) String() string {
	return string(s)
}

// AgentInfo is the coordinator's record of one registered worker process.
type AgentInfo struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Status           AgentStatus    `json:"status"`
	CurrentTask      string         `json:"currentTask,omitempty"`
	WorkingBranch    string         `json:"workingBranch,omitempty"`
	WorkingDirectory string         `json:"workingDirectory,omitempty"`
	StartedAt        time.Time      `json:"startedAt"`
	LastHeartbeat    time.Time      `json:"lastHeartbeat"`
	CompletedTasks   int            `json:"completedTasks"`
	FailedTasks      int            `json:"failedTasks"`
	Capabilities     []string       `json:"capabilities,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`

	// Extra holds any top-level field this version of the coordinator
	// doesn't know about, so it survives the next write-temp-then-rename
	// instead of being silently dropped.
	Extra map[string]json.RawMessage `json:"-"`
}

// agentInfoKnownFields lists AgentInfo's JSON tags, used to separate
// recognized fields from Extra on unmarshal.
var agentInfoKnownFields = map[string]struct{}{
	"id": {}, "name": {}, "status": {}, "currentTask": {},
	"workingBranch": {}, "workingDirectory": {},
	"startedAt": {}, "lastHeartbeat": {},
	"completedTasks": {}, "failedTasks": {},
	"capabilities": {}, "metadata": {},
}

// MarshalJSON encodes a's known fields and folds Extra back in.
func (a AgentInfo) MarshalJSON() ([]byte, error) {
	type alias AgentInfo
	encoded, err := json.Marshal(alias(a))
	if err != nil {
		return nil, err
	}
	return mergeExtra(encoded, a.Extra)
}

// UnmarshalJSON decodes a's known fields and stashes anything else in
// Extra.
func (a *AgentInfo) UnmarshalJSON(data []byte) error {
	type alias AgentInfo
	var al alias
	if err := json.Unmarshal(data, &al); err != nil {
		return err
	}
	*a = AgentInfo(al)

	extra, err := splitExtra(data, agentInfoKnownFields)
	if err != nil {
		return err
	}
	a.Extra = extra
	return nil
}

// IsIdle reports whether the agent can currently accept a new task.
func (a *AgentInfo) IsIdle() bool {
	return a.Status == AgentIdle
}
