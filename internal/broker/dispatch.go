package broker

import (
	"github.com/agentmesh/coordinator/internal/envelope"
	"github.com/agentmesh/coordinator/internal/event"
	"github.com/agentmesh/coordinator/internal/model"
)

// dispatch applies the effect of one agent-originated envelope. Errors
// are returned to the caller (the drain stage), which logs and moves on
// to the next message rather than aborting the whole drain.
func (b *Broker) dispatch(agentID string, msg envelope.Envelope) error {
	switch msg.Type {
	case envelope.AgentRegister:
		payload, err := envelope.DecodePayload[envelope.AgentRegisterPayload](msg)
		if err != nil {
			return err
		}
		if payload.Agent.ID == "" {
			payload.Agent.ID = agentID
		}
		return b.RegisterAgent(payload.Agent)

	case envelope.AgentHeartbeat:
		payload, err := envelope.DecodePayload[envelope.AgentHeartbeatPayload](msg)
		if err != nil {
			return err
		}
		return b.UpdateHeartbeat(agentID, payload.Status, payload.CurrentTask)

	case envelope.AgentDisconnect:
		return b.UnregisterAgent(agentID)

	case envelope.TaskRequest:
		return b.RequestTask(agentID)

	case envelope.TaskUpdate:
		payload, err := envelope.DecodePayload[envelope.TaskUpdatePayload](msg)
		if err != nil {
			return err
		}
		if payload.Status == model.TaskInProgress {
			if err := b.StartTask(payload.TaskID); err != nil {
				return err
			}
		}
		b.bus.Publish(event.NewTaskProgressEvent(payload.TaskID, agentID, payload.Progress, payload.Message))
		return nil

	case envelope.TaskComplete:
		payload, err := envelope.DecodePayload[envelope.TaskCompletePayload](msg)
		if err != nil {
			return err
		}
		return b.CompleteTask(payload.TaskID, agentID, payload.Result)

	case envelope.TaskFailed:
		payload, err := envelope.DecodePayload[envelope.TaskFailedPayload](msg)
		if err != nil {
			return err
		}
		return b.FailTask(payload.TaskID, agentID, payload.Error)

	case envelope.LockRequest:
		req, err := envelope.DecodePayload[model.LockRequest](msg)
		if err != nil {
			return err
		}
		req.AgentID = agentID
		result, err := b.locks.Acquire(req)
		if err != nil {
			return err
		}
		reply := envelope.ReplyTo(msg, "coordinator", envelope.LockResponse, result)
		return b.q.SendToAgent(agentID, reply)

	case envelope.LockRelease:
		payload, err := envelope.DecodePayload[envelope.LockReleasePayload](msg)
		if err != nil {
			return err
		}
		return b.locks.Release(agentID, payload.Paths)

	case envelope.SyncState, envelope.Broadcast:
		b.log.Debug("broker: ignoring arbitrary-payload message", "type", msg.Type, "agent_id", agentID)
		return nil

	default:
		b.log.Warn("broker: unknown message type", "type", msg.Type, "agent_id", agentID)
		return nil
	}
}
