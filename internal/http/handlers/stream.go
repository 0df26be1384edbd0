package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	"github.com/spriteforge/spriteforge-backend/internal/http/response"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/apierr"
	"github.com/spriteforge/spriteforge-backend/internal/platform/ctxutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/presence"
	"github.com/spriteforge/spriteforge-backend/internal/realtime"
	"github.com/spriteforge/spriteforge-backend/internal/services"
	"github.com/spriteforge/spriteforge-backend/internal/sse"
)

// StreamHandler serves GET /api/workspaces/:id/stream: the per-workspace
// delta feed. Opening the stream marks the member present; closing it clears
// the entry and tells the room.
type StreamHandler struct {
	log        *logger.Logger
	hub        *sse.Hub
	workspaces services.WorkspaceService
	tracker    *presence.Tracker
	notify     services.Notifier
}

func NewStreamHandler(
	baseLog *logger.Logger,
	hub *sse.Hub,
	workspaces services.WorkspaceService,
	tracker *presence.Tracker,
	notify services.Notifier,
) *StreamHandler {
	return &StreamHandler{
		log:        baseLog.With("handler", "StreamHandler"),
		hub:        hub,
		workspaces: workspaces,
		tracker:    tracker,
		notify:     notify,
	}
}

func (h *StreamHandler) Stream(c *gin.Context) {
	workspaceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondErr(c, apierr.New(400, "invalid_request", err))
		return
	}
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondErr(c, pkgerr.ErrPermission)
		return
	}
	role, err := h.workspaces.MemberRole(c.Request.Context(), workspaceID, rd.UserID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if !types.RoleAtLeast(role, types.RoleViewer) {
		response.RespondErr(c, pkgerr.ErrPermission)
		return
	}

	client := h.hub.NewClient(rd.UserID)
	h.hub.AddChannel(client, workspaceID.String())

	h.tracker.Touch(workspaceID, client.ConnID, rd.UserID, "")
	h.notify.Broadcast(workspaceID, realtime.TypePresenceUpdated, h.tracker.List(workspaceID))

	h.log.Info("stream open", "workspace_id", workspaceID, "user_id", rd.UserID, "conn_id", client.ConnID)

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.tracker.Remove(workspaceID, client.ConnID)
	h.hub.CloseClient(client)
	h.notify.Broadcast(workspaceID, realtime.TypePresenceUpdated, h.tracker.List(workspaceID))
	h.log.Info("stream closed", "workspace_id", workspaceID, "conn_id", client.ConnID)
}
