package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	"github.com/spriteforge/spriteforge-backend/internal/http/response"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/apierr"
	"github.com/spriteforge/spriteforge-backend/internal/platform/ctxutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/services"
)

// WorkspaceHandler serves workspace provisioning and the read-only surface:
// snapshot hydration, lineage queries, rotation and plan state, chat history.
// Reads bypass the actor; only actions mutate.
type WorkspaceHandler struct {
	log        *logger.Logger
	workspaces services.WorkspaceService
	snapshots  services.SnapshotService
	lineage    services.LineageService
	rotation   services.RotationService
	plans      services.PlanService
	chat       services.ChatService
}

func NewWorkspaceHandler(
	baseLog *logger.Logger,
	workspaces services.WorkspaceService,
	snapshots services.SnapshotService,
	lineage services.LineageService,
	rotation services.RotationService,
	plans services.PlanService,
	chat services.ChatService,
) *WorkspaceHandler {
	return &WorkspaceHandler{
		log:        baseLog.With("handler", "WorkspaceHandler"),
		workspaces: workspaces,
		snapshots:  snapshots,
		lineage:    lineage,
		rotation:   rotation,
		plans:      plans,
		chat:       chat,
	}
}

func (h *WorkspaceHandler) Create(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondErr(c, apierr.New(400, "invalid_request", err))
		return
	}
	ws, err := h.workspaces.Create(c.Request.Context(), body.Name)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, ws)
}

func (h *WorkspaceHandler) Snapshot(c *gin.Context) {
	workspaceID, ok := h.member(c)
	if !ok {
		return
	}
	snap, err := h.snapshots.Snapshot(c.Request.Context(), workspaceID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, snap)
}

func (h *WorkspaceHandler) LineageGraph(c *gin.Context) {
	if _, ok := h.member(c); !ok {
		return
	}
	variantID, err := uuid.Parse(c.Param("variantId"))
	if err != nil {
		response.RespondErr(c, apierr.New(400, "invalid_request", err))
		return
	}

	if c.Query("scope") == "direct" {
		parents, children, err := h.lineage.Direct(c.Request.Context(), variantID)
		if err != nil {
			response.RespondErr(c, err)
			return
		}
		response.RespondOK(c, gin.H{"parents": parents, "children": children})
		return
	}

	graph, err := h.lineage.FullGraph(c.Request.Context(), variantID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, graph)
}

func (h *WorkspaceHandler) RotationSet(c *gin.Context) {
	workspaceID, ok := h.member(c)
	if !ok {
		return
	}
	setID, err := uuid.Parse(c.Param("setId"))
	if err != nil {
		response.RespondErr(c, apierr.New(400, "invalid_request", err))
		return
	}
	set, views, err := h.rotation.Get(c.Request.Context(), workspaceID, setID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"set": set, "views": views})
}

func (h *WorkspaceHandler) Plan(c *gin.Context) {
	workspaceID, ok := h.member(c)
	if !ok {
		return
	}
	planID, err := uuid.Parse(c.Param("planId"))
	if err != nil {
		response.RespondErr(c, apierr.New(400, "invalid_request", err))
		return
	}
	plan, steps, err := h.plans.Get(c.Request.Context(), workspaceID, planID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"plan": plan, "steps": steps})
}

func (h *WorkspaceHandler) ChatHistory(c *gin.Context) {
	workspaceID, ok := h.member(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	msgs, err := h.chat.History(c.Request.Context(), workspaceID, limit)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"messages": msgs})
}

// member resolves the path workspace id and requires the caller to hold at
// least viewer membership.
func (h *WorkspaceHandler) member(c *gin.Context) (uuid.UUID, bool) {
	workspaceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondErr(c, apierr.New(400, "invalid_request", err))
		return uuid.Nil, false
	}
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondErr(c, pkgerr.ErrPermission)
		return uuid.Nil, false
	}
	role, err := h.workspaces.MemberRole(c.Request.Context(), workspaceID, rd.UserID)
	if err != nil {
		response.RespondErr(c, err)
		return uuid.Nil, false
	}
	if !types.RoleAtLeast(role, types.RoleViewer) {
		response.RespondErr(c, pkgerr.ErrPermission)
		return uuid.Nil, false
	}
	return workspaceID, true
}
