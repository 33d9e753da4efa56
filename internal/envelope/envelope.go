// Package envelope defines the typed message envelope exchanged between
// the coordinator and its agents, and the id scheme used to name the
// files that carry them.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of payload an Envelope carries.
type Type string

const (
	AgentRegister   Type = "AGENT_REGISTER"
	AgentHeartbeat  Type = "AGENT_HEARTBEAT"
	AgentDisconnect Type = "AGENT_DISCONNECT"
	TaskRequest     Type = "TASK_REQUEST"
	TaskAssign      Type = "TASK_ASSIGN"
	TaskUpdate      Type = "TASK_UPDATE"
	TaskComplete    Type = "TASK_COMPLETE"
	TaskFailed      Type = "TASK_FAILED"
	LockRequest     Type = "LOCK_REQUEST"
	LockResponse    Type = "LOCK_RESPONSE"
	LockRelease     Type = "LOCK_RELEASE"
	SyncState       Type = "SYNC_STATE"
	Broadcast       Type = "BROADCAST"
)

// Envelope is the unit of exchange written to one message file.
type Envelope struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	Target        string    `json:"target,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Payload       any       `json:"payload,omitempty"`
}

// New builds an Envelope with a freshly generated id and the current
// timestamp. Callers set CorrelationID themselves when replying to a
// request.
func New(source string, typ Type, payload any) Envelope {
	return Envelope{
		ID:        NewID(),
		Type:      typ,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

// ReplyTo builds a response Envelope whose CorrelationID ties it back to
// the request it answers.
func ReplyTo(request Envelope, source string, typ Type, payload any) Envelope {
	e := New(source, typ, payload)
	e.Target = request.Source
	e.CorrelationID = request.ID
	return e
}

// NewID returns an identifier unique enough for filesystem naming and
// chronological sort: a millisecond timestamp prefix (so a directory
// listing of one producer's messages sorts chronologically) plus a random
// UUID suffix for collision avoidance across processes.
func NewID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString())
}

// FileName returns the on-disk name for this envelope: "<id>.json". Since
// the id already begins with a millisecond timestamp, a lexicographic
// directory listing yields chronological order.
func (e Envelope) FileName() string {
	return e.ID + ".json"
}

// DecodePayload unmarshals e.Payload into T. Payload arrives from JSON as
// a generic map[string]any (or, for envelopes built in-process, possibly
// already a T); round-tripping through json handles both uniformly.
func DecodePayload[T any](e Envelope) (T, error) {
	var out T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return out, fmt.Errorf("envelope: re-marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("envelope: decode payload into %T: %w", out, err)
	}
	return out, nil
}
