package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/ctxutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/presence"
	"github.com/spriteforge/spriteforge-backend/internal/realtime"
	"github.com/spriteforge/spriteforge-backend/internal/services"
)

// Services bundles everything an actor calls into.
type Services struct {
	Workspaces services.WorkspaceService
	Assets     services.AssetService
	Variants   services.VariantService
	Generation services.GenerationService
	Rotation   services.RotationService
	Lineage    services.LineageService
	Plans      services.PlanService
	Chat       services.ChatService
	Notify     services.Notifier
	Presence   *presence.Tracker
}

// Actor is the single writer for one workspace. All mutations, user actions
// and executor callbacks alike, pass through its mailbox and are applied one
// at a time, so broadcasts leave in the order the state changed.
type Actor struct {
	workspaceID uuid.UUID
	log         *logger.Logger
	deps        Services

	mailbox   chan event
	idleAfter time.Duration
	// onIdle asks the owner whether this actor may exit; it returns false
	// when new work raced in.
	onIdle func(*Actor) bool
}

func newActor(workspaceID uuid.UUID, baseLog *logger.Logger, deps Services, mailboxSize int, idleAfter time.Duration, onIdle func(*Actor) bool) *Actor {
	if mailboxSize < 1 {
		mailboxSize = 256
	}
	return &Actor{
		workspaceID: workspaceID,
		log:         baseLog.With("actor", "workspace", "workspace_id", workspaceID.String()),
		deps:        deps,
		mailbox:     make(chan event, mailboxSize),
		idleAfter:   idleAfter,
		onIdle:      onIdle,
	}
}

// submit is called with the owner's read lock held; stopped state is managed
// by the owner. It reports busy when the mailbox is full.
func (a *Actor) submit(ev event) (accepted, busy bool) {
	select {
	case a.mailbox <- ev:
		return true, false
	default:
		return false, true
	}
}

func (a *Actor) run() {
	idle := time.NewTimer(a.idleAfter)
	defer idle.Stop()
	for {
		select {
		case ev := <-a.mailbox:
			ev.reply <- a.handle(ev)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(a.idleAfter)
		case <-idle.C:
			if a.onIdle == nil || a.onIdle(a) {
				return
			}
			idle.Reset(a.idleAfter)
		}
	}
}

func (a *Actor) handle(ev event) result {
	if ev.callback != nil {
		return result{err: a.handleCallback(ev.ctx, ev.callback)}
	}
	if ev.action != nil {
		payload, err := a.handleAction(ev.ctx, ev.action)
		return result{payload: payload, err: err}
	}
	return result{err: fmt.Errorf("empty event")}
}

func (a *Actor) handleCallback(ctx context.Context, cb *callbackEvent) error {
	switch cb.kind {
	case callbackStatus:
		return a.deps.Variants.MarkProcessing(ctx, a.workspaceID, cb.taskID, cb.status)
	case callbackComplete:
		return a.deps.Variants.Complete(ctx, a.workspaceID, cb.taskID, cb.imageRef, cb.thumbRef)
	case callbackFail:
		return a.deps.Variants.Fail(ctx, a.workspaceID, cb.taskID, cb.errorMessage)
	}
	return fmt.Errorf("unknown callback kind %d", cb.kind)
}

// requiredRole maps each action to the minimum membership role.
func requiredRole(t ActionType) string {
	switch t {
	case ActionWorkspaceRename, ActionMemberSetRole:
		return types.RoleOwner
	case ActionChatSend, ActionPresenceTouch:
		return types.RoleViewer
	default:
		return types.RoleEditor
	}
}

func (a *Actor) handleAction(ctx context.Context, req *ActionRequest) (any, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated: %w", pkgerr.ErrPermission)
	}
	role, err := a.deps.Workspaces.MemberRole(ctx, a.workspaceID, rd.UserID)
	if err != nil {
		return nil, err
	}
	if !types.RoleAtLeast(role, requiredRole(req.Type)) {
		return nil, fmt.Errorf("%s requires %s role: %w", req.Type, requiredRole(req.Type), pkgerr.ErrPermission)
	}

	switch req.Type {
	case ActionWorkspaceRename:
		var in struct {
			Name string `json:"name"`
		}
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return a.deps.Workspaces.Rename(ctx, a.workspaceID, in.Name)

	case ActionMemberSetRole:
		var in struct {
			UserID uuid.UUID `json:"user_id"`
			Role   string    `json:"role"`
		}
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return nil, a.deps.Workspaces.SetMemberRole(ctx, a.workspaceID, in.UserID, in.Role)

	case ActionAssetCreate:
		var in services.CreateAssetInput
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return a.deps.Assets.Create(ctx, a.workspaceID, in)

	case ActionAssetUpdate:
		var in struct {
			AssetID uuid.UUID      `json:"asset_id"`
			Name    *string        `json:"name,omitempty"`
			Tags    datatypes.JSON `json:"tags,omitempty"`
		}
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return a.deps.Assets.Update(ctx, a.workspaceID, in.AssetID, services.UpdateAssetInput{
			Name: in.Name,
			Tags: in.Tags,
		})

	case ActionAssetMove:
		var in struct {
			AssetID     uuid.UUID  `json:"asset_id"`
			NewParentID *uuid.UUID `json:"new_parent_id,omitempty"`
		}
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return a.deps.Assets.Move(ctx, a.workspaceID, in.AssetID, in.NewParentID)

	case ActionAssetDelete:
		var in struct {
			AssetID uuid.UUID `json:"asset_id"`
		}
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return nil, a.deps.Assets.Delete(ctx, a.workspaceID, in.AssetID)

	case ActionGenerationStart:
		var in services.StartGenerationInput
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return a.deps.Generation.Start(ctx, a.workspaceID, in)

	case ActionGenerationRetry:
		var in struct {
			VariantID uuid.UUID `json:"variant_id"`
		}
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return a.deps.Generation.Retry(ctx, a.workspaceID, in.VariantID)

	case ActionVariantFork:
		var in struct {
			SourceVariantID uuid.UUID `json:"source_variant_id"`
		}
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return a.deps.Generation.Fork(ctx, a.workspaceID, in.SourceVariantID)

	case ActionVariantActivate:
		var in struct {
			AssetID   uuid.UUID `json:"asset_id"`
			VariantID uuid.UUID `json:"variant_id"`
		}
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return a.deps.Assets.Update(ctx, a.workspaceID, in.AssetID, services.UpdateAssetInput{
			ActiveVariantID: &in.VariantID,
		})

	case ActionLineageSever:
		var in struct {
			EdgeID uuid.UUID `json:"edge_id"`
		}
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return a.deps.Lineage.Sever(ctx, a.workspaceID, in.EdgeID)

	case ActionRotationStart:
		var in services.StartRotationInput
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return a.deps.Rotation.Start(ctx, a.workspaceID, in)

	case ActionRotationCancel:
		var in struct {
			RotationSetID uuid.UUID `json:"rotation_set_id"`
		}
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return a.deps.Rotation.Cancel(ctx, a.workspaceID, in.RotationSetID)

	case ActionPlanSubmit:
		var in services.SubmitPlanInput
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		plan, steps, err := a.deps.Plans.Submit(ctx, a.workspaceID, in)
		if err != nil {
			return nil, err
		}
		return map[string]any{"plan": plan, "steps": steps}, nil

	case ActionPlanResume:
		var in struct {
			PlanID uuid.UUID `json:"plan_id"`
		}
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return a.deps.Plans.Resume(ctx, a.workspaceID, in.PlanID)

	case ActionChatSend:
		var in services.SendChatInput
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return a.deps.Chat.Send(ctx, a.workspaceID, in)

	case ActionPresenceTouch:
		var in struct {
			ViewingTarget string `json:"viewing_target,omitempty"`
		}
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		if a.deps.Presence != nil && req.ConnID != "" {
			a.deps.Presence.Touch(a.workspaceID, req.ConnID, rd.UserID, in.ViewingTarget)
			a.deps.Notify.BroadcastExcluding(a.workspaceID, realtime.TypePresenceUpdated, a.deps.Presence.List(a.workspaceID), req.ConnID)
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown action type %q: %w", req.Type, pkgerr.ErrValidation)
	}
}

func decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing action data: %w", pkgerr.ErrValidation)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode action data: %w: %v", pkgerr.ErrValidation, err)
	}
	return nil
}
