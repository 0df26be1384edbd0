package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/spriteforge/spriteforge-backend/internal/http/response"
	"github.com/spriteforge/spriteforge-backend/internal/platform/apierr"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/workspace"
)

// ActionHandler is the single mutation entry point. Every request becomes one
// mailbox event on the workspace's actor; the reply carries the applied
// entity back to the caller.
type ActionHandler struct {
	log     *logger.Logger
	manager *workspace.Manager
}

func NewActionHandler(baseLog *logger.Logger, manager *workspace.Manager) *ActionHandler {
	return &ActionHandler{
		log:     baseLog.With("handler", "ActionHandler"),
		manager: manager,
	}
}

func (h *ActionHandler) Dispatch(c *gin.Context) {
	workspaceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondErr(c, apierr.New(400, "invalid_request", err))
		return
	}

	var req workspace.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondErr(c, apierr.New(400, "invalid_request", err))
		return
	}

	payload, err := h.manager.Dispatch(c.Request.Context(), workspaceID, &req)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if payload == nil {
		response.RespondOK(c, gin.H{"ok": true})
		return
	}
	response.RespondOK(c, payload)
}
