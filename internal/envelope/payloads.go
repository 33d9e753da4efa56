package envelope

import "github.com/agentmesh/coordinator/internal/model"

// AgentRegisterPayload is carried by an AGENT_REGISTER message.
type AgentRegisterPayload struct {
	Agent model.AgentInfo `json:"agent"`
}

// AgentHeartbeatPayload is carried by an AGENT_HEARTBEAT message.
type AgentHeartbeatPayload struct {
	Status      model.AgentStatus `json:"status"`
	CurrentTask string            `json:"currentTask,omitempty"`
	Progress    int               `json:"progress,omitempty"`
	Message     string            `json:"message,omitempty"`
}

// AgentDisconnectPayload is carried by an AGENT_DISCONNECT message.
type AgentDisconnectPayload struct {
	AgentID string `json:"agentId"`
}

// TaskRequestPayload is carried by a TASK_REQUEST message.
type TaskRequestPayload struct {
	AgentID string `json:"agentId"`
}

// TaskAssignPayload is carried by a TASK_ASSIGN message.
type TaskAssignPayload struct {
	Task model.Task `json:"task"`
}

// TaskUpdatePayload is carried by a TASK_UPDATE message.
type TaskUpdatePayload struct {
	TaskID   string           `json:"taskId"`
	Status   model.TaskStatus `json:"status,omitempty"`
	Progress int              `json:"progress,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// TaskCompletePayload is carried by a TASK_COMPLETE message.
type TaskCompletePayload struct {
	TaskID string           `json:"taskId"`
	Result model.TaskResult `json:"result"`
}

// TaskFailedPayload is carried by a TASK_FAILED message.
type TaskFailedPayload struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
}

// LockReleasePayload is carried by a LOCK_RELEASE message.
type LockReleasePayload struct {
	Paths []string `json:"paths"`
}
