package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/ctxutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/realtime"
)

// WorkspaceService provisions workspaces and answers membership questions.
// Role lookups back every permission gate in the actor.
type WorkspaceService interface {
	Create(ctx context.Context, name string) (*types.Workspace, error)
	Get(ctx context.Context, workspaceID uuid.UUID) (*types.Workspace, error)
	Rename(ctx context.Context, workspaceID uuid.UUID, name string) (*types.Workspace, error)
	UpdateSettings(ctx context.Context, workspaceID uuid.UUID, settings datatypes.JSON) (*types.Workspace, error)

	SetMemberRole(ctx context.Context, workspaceID, userID uuid.UUID, role string) error
	MemberRole(ctx context.Context, workspaceID, userID uuid.UUID) (string, error)
	ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]*types.WorkspaceMember, error)
}

type workspaceService struct {
	db            *gorm.DB
	log           *logger.Logger
	workspaceRepo repos.WorkspaceRepo
	notify        Notifier
}

func NewWorkspaceService(
	db *gorm.DB,
	baseLog *logger.Logger,
	workspaceRepo repos.WorkspaceRepo,
	notify Notifier,
) WorkspaceService {
	return &workspaceService{
		db:            db,
		log:           baseLog.With("service", "WorkspaceService"),
		workspaceRepo: workspaceRepo,
		notify:        notify,
	}
}

func (s *workspaceService) Create(ctx context.Context, name string) (*types.Workspace, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated: %w", pkgerr.ErrPermission)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("workspace name is required: %w", pkgerr.ErrValidation)
	}

	var ws *types.Workspace
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		rows, err := s.workspaceRepo.Create(dbc, []*types.Workspace{{
			ID:          uuid.New(),
			Name:        name,
			OwnerUserID: rd.UserID,
		}})
		if err != nil {
			return err
		}
		ws = rows[0]
		return s.workspaceRepo.UpsertMember(dbc, &types.WorkspaceMember{
			WorkspaceID: ws.ID,
			UserID:      rd.UserID,
			Role:        types.RoleOwner,
		})
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func (s *workspaceService) Get(ctx context.Context, workspaceID uuid.UUID) (*types.Workspace, error) {
	ws, err := s.workspaceRepo.GetByID(dbctx.Context{Ctx: ctx}, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, fmt.Errorf("workspace %s: %w", workspaceID, pkgerr.ErrNotFound)
	}
	return ws, nil
}

func (s *workspaceService) Rename(ctx context.Context, workspaceID uuid.UUID, name string) (*types.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("workspace name is required: %w", pkgerr.ErrValidation)
	}
	ws, err := s.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := s.workspaceRepo.UpdateFields(dbctx.Context{Ctx: ctx}, workspaceID, map[string]interface{}{
		"name": name,
	}); err != nil {
		return nil, err
	}
	ws.Name = name
	s.notify.Broadcast(workspaceID, realtime.TypeWorkspaceUpdated, ws)
	return ws, nil
}

func (s *workspaceService) UpdateSettings(ctx context.Context, workspaceID uuid.UUID, settings datatypes.JSON) (*types.Workspace, error) {
	ws, err := s.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := s.workspaceRepo.UpdateFields(dbctx.Context{Ctx: ctx}, workspaceID, map[string]interface{}{
		"settings": settings,
	}); err != nil {
		return nil, err
	}
	ws.Settings = settings
	s.notify.Broadcast(workspaceID, realtime.TypeWorkspaceUpdated, ws)
	return ws, nil
}

func (s *workspaceService) SetMemberRole(ctx context.Context, workspaceID, userID uuid.UUID, role string) error {
	switch role {
	case types.RoleViewer, types.RoleEditor, types.RoleOwner:
	default:
		return fmt.Errorf("unknown role %q: %w", role, pkgerr.ErrValidation)
	}
	if _, err := s.Get(ctx, workspaceID); err != nil {
		return err
	}
	if err := s.workspaceRepo.UpsertMember(dbctx.Context{Ctx: ctx}, &types.WorkspaceMember{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        role,
	}); err != nil {
		return err
	}
	s.notify.Broadcast(workspaceID, realtime.TypeWorkspaceUpdated, map[string]any{
		"workspace_id": workspaceID,
		"member":       map[string]any{"user_id": userID, "role": role},
	})
	return nil
}

func (s *workspaceService) MemberRole(ctx context.Context, workspaceID, userID uuid.UUID) (string, error) {
	m, err := s.workspaceRepo.GetMember(dbctx.Context{Ctx: ctx}, workspaceID, userID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("user %s is not a member of workspace %s: %w", userID, workspaceID, pkgerr.ErrPermission)
	}
	return m.Role, nil
}

func (s *workspaceService) ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]*types.WorkspaceMember, error) {
	return s.workspaceRepo.ListMembers(dbctx.Context{Ctx: ctx}, workspaceID)
}
