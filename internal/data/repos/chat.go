package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

type ChatRepo interface {
	CreateSession(dbc dbctx.Context, row *types.ChatSession) (*types.ChatSession, error)
	GetSession(dbc dbctx.Context, workspaceID, userID uuid.UUID) (*types.ChatSession, error)
	CreateMessages(dbc dbctx.Context, rows []*types.ChatMessage) ([]*types.ChatMessage, error)
	ListMessagesBySession(dbc dbctx.Context, sessionID uuid.UUID, limit int) ([]*types.ChatMessage, error)
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, baseLog *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: baseLog.With("repo", "ChatRepo")}
}

func (r *chatRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *chatRepo) CreateSession(dbc dbctx.Context, row *types.ChatSession) (*types.ChatSession, error) {
	if row == nil {
		return nil, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *chatRepo) GetSession(dbc dbctx.Context, workspaceID, userID uuid.UUID) (*types.ChatSession, error) {
	if workspaceID == uuid.Nil || userID == uuid.Nil {
		return nil, nil
	}
	var row types.ChatSession
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *chatRepo) CreateMessages(dbc dbctx.Context, rows []*types.ChatMessage) ([]*types.ChatMessage, error) {
	if len(rows) == 0 {
		return []*types.ChatMessage{}, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *chatRepo) ListMessagesBySession(dbc dbctx.Context, sessionID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	var out []*types.ChatMessage
	if sessionID == uuid.Nil {
		return out, nil
	}
	q := r.tx(dbc).WithContext(dbc.Ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
