package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/spriteforge/spriteforge-backend/internal/clients/openai"
	"github.com/spriteforge/spriteforge-backend/internal/data/repos"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/ctxutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/realtime"
)

const chatHistoryWindow = 30

const chatSystemContext = "You are the workspace assistant in a collaborative sprite studio. " +
	"Help artists describe sprites, plan variant edits, and reason about rotation views. " +
	"Be concrete and brief."

type SendChatInput struct {
	Content string `json:"content"`

	// AttachedVariantID asks the assistant to look at a variant's image
	// before answering.
	AttachedVariantID *uuid.UUID `json:"attached_variant_id,omitempty"`
}

// ChatService runs the per-user assistant conversation inside a workspace.
// Sessions appear lazily on first use; both sides of an exchange are stored
// and broadcast so other members can follow along.
type ChatService interface {
	Send(ctx context.Context, workspaceID uuid.UUID, in SendChatInput) ([]*types.ChatMessage, error)
	History(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*types.ChatMessage, error)
}

type chatService struct {
	db          *gorm.DB
	log         *logger.Logger
	chatRepo    repos.ChatRepo
	variantRepo repos.VariantRepo
	media       MediaService
	provider    openai.Chat
	vision      openai.Vision
	quota       QuotaService
	notify      Notifier
}

func NewChatService(
	db *gorm.DB,
	baseLog *logger.Logger,
	chatRepo repos.ChatRepo,
	variantRepo repos.VariantRepo,
	media MediaService,
	provider openai.Chat,
	vision openai.Vision,
	quota QuotaService,
	notify Notifier,
) ChatService {
	return &chatService{
		db:          db,
		log:         baseLog.With("service", "ChatService"),
		chatRepo:    chatRepo,
		variantRepo: variantRepo,
		media:       media,
		provider:    provider,
		vision:      vision,
		quota:       quota,
		notify:      notify,
	}
}

func (s *chatService) Send(ctx context.Context, workspaceID uuid.UUID, in SendChatInput) ([]*types.ChatMessage, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated: %w", pkgerr.ErrPermission)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("message content is required: %w", pkgerr.ErrValidation)
	}
	if err := s.quota.Precheck(ctx, rd.UserID, QuotaServiceChat); err != nil {
		return nil, err
	}

	session, err := s.ensureSession(ctx, workspaceID, rd.UserID)
	if err != nil {
		return nil, err
	}

	dbc := dbctx.Context{Ctx: ctx}
	history, err := s.chatRepo.ListMessagesBySession(dbc, session.ID, chatHistoryWindow)
	if err != nil {
		return nil, err
	}

	userMsgs, err := s.chatRepo.CreateMessages(dbc, []*types.ChatMessage{{
		SessionID:  session.ID,
		SenderType: types.ChatSenderUser,
		Content:    content,
	}})
	if err != nil {
		return nil, err
	}
	userMsg := userMsgs[0]
	s.notify.Broadcast(workspaceID, realtime.TypeChatMessage, userMsg)

	sysContext := chatSystemContext
	if in.AttachedVariantID != nil {
		if desc := s.describeVariant(ctx, workspaceID, *in.AttachedVariantID); desc != "" {
			sysContext += "\n\nThe user attached a sprite image. Description: " + desc
		}
	}

	turns := make([]openai.ChatTurn, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.SenderType == types.ChatSenderAssistant {
			role = "assistant"
		}
		turns = append(turns, openai.ChatTurn{Role: role, Content: m.Content})
	}
	turns = append(turns, openai.ChatTurn{Role: "user", Content: content})

	result, err := s.provider.Complete(ctx, openai.ChatRequest{
		History: turns,
		Context: sysContext,
	})
	if err != nil {
		s.log.Error("assistant completion failed", "session_id", session.ID, "error", err)
		return []*types.ChatMessage{userMsg}, fmt.Errorf("assistant unavailable: %w", pkgerr.ErrExternalTask)
	}

	meta, _ := json.Marshal(map[string]any{"usage": result.Usage})
	assistantMsgs, err := s.chatRepo.CreateMessages(dbc, []*types.ChatMessage{{
		SessionID:  session.ID,
		SenderType: types.ChatSenderAssistant,
		Content:    result.Text,
		Metadata:   datatypes.JSON(meta),
	}})
	if err != nil {
		return []*types.ChatMessage{userMsg}, err
	}
	assistantMsg := assistantMsgs[0]
	s.notify.Broadcast(workspaceID, realtime.TypeChatMessage, assistantMsg)

	return []*types.ChatMessage{userMsg, assistantMsg}, nil
}

func (s *chatService) History(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated: %w", pkgerr.ErrPermission)
	}
	if limit <= 0 || limit > 200 {
		limit = chatHistoryWindow
	}
	dbc := dbctx.Context{Ctx: ctx}
	session, err := s.chatRepo.GetSession(dbc, workspaceID, rd.UserID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return []*types.ChatMessage{}, nil
	}
	return s.chatRepo.ListMessagesBySession(dbc, session.ID, limit)
}

func (s *chatService) ensureSession(ctx context.Context, workspaceID, userID uuid.UUID) (*types.ChatSession, error) {
	dbc := dbctx.Context{Ctx: ctx}
	session, err := s.chatRepo.GetSession(dbc, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}
	return s.chatRepo.CreateSession(dbc, &types.ChatSession{
		WorkspaceID: workspaceID,
		UserID:      userID,
	})
}

// describeVariant runs the vision model over the attached image. Best-effort;
// chat proceeds without the description on any failure.
func (s *chatService) describeVariant(ctx context.Context, workspaceID, variantID uuid.UUID) string {
	if s.vision == nil || s.media == nil {
		return ""
	}
	v, err := s.variantRepo.GetByID(dbctx.Context{Ctx: ctx}, variantID)
	if err != nil || v == nil || v.WorkspaceID != workspaceID || v.ImageRef == "" {
		return ""
	}
	data, err := s.media.FetchImage(ctx, v.ImageRef)
	if err != nil {
		s.log.Warn("attached image fetch failed", "variant_id", variantID, "error", err)
		return ""
	}
	desc, err := s.vision.Describe(ctx, openai.DescribeRequest{
		ImageBytes: data,
		ImageMime:  "image/png",
		Context:    "Describe this game sprite: subject, pose, facing direction, palette, notable details.",
	})
	if err != nil {
		s.log.Warn("vision describe failed", "variant_id", variantID, "error", err)
		return ""
	}
	return desc
}
