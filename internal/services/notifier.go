package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/realtime"
	"github.com/spriteforge/spriteforge-backend/internal/realtime/bus"
	"github.com/spriteforge/spriteforge-backend/internal/sse"
)

// Notifier fans workspace deltas out to connected clients. Callers invoke it
// only after their transaction has committed; the workspace actor serializes
// calls so deltas leave in causal order.
type Notifier interface {
	Broadcast(workspaceID uuid.UUID, msgType string, data any)
	BroadcastExcluding(workspaceID uuid.UUID, msgType string, data any, excludeConn string)
	SendTo(connID string, workspaceID uuid.UUID, msgType string, data any)
}

type notifier struct {
	log *logger.Logger
	hub *sse.Hub
	bus bus.Bus
}

// NewNotifier publishes through the bus when one is configured so every
// instance's hub sees the delta; otherwise it feeds the local hub directly.
func NewNotifier(baseLog *logger.Logger, hub *sse.Hub, b bus.Bus) Notifier {
	return &notifier{
		log: baseLog.With("service", "Notifier"),
		hub: hub,
		bus: b,
	}
}

func (n *notifier) Broadcast(workspaceID uuid.UUID, msgType string, data any) {
	n.deliver(realtime.Message{
		Type:        msgType,
		WorkspaceID: workspaceID.String(),
		Data:        data,
	})
}

func (n *notifier) BroadcastExcluding(workspaceID uuid.UUID, msgType string, data any, excludeConn string) {
	n.deliver(realtime.Message{
		Type:        msgType,
		WorkspaceID: workspaceID.String(),
		Data:        data,
		ExcludeConn: excludeConn,
	})
}

func (n *notifier) SendTo(connID string, workspaceID uuid.UUID, msgType string, data any) {
	if n.hub == nil {
		return
	}
	n.hub.SendTo(connID, realtime.Message{
		Type:        msgType,
		WorkspaceID: workspaceID.String(),
		Data:        data,
	})
}

func (n *notifier) deliver(msg realtime.Message) {
	if n.bus != nil {
		err := n.bus.Publish(context.Background(), msg)
		if err == nil {
			return
		}
		n.log.Warn("bus publish failed; falling back to local hub", "type", msg.Type, "workspace_id", msg.WorkspaceID, "error", err)
	}
	if n.hub != nil {
		n.hub.Broadcast(msg)
	}
}
