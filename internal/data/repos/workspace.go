package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

type WorkspaceRepo interface {
	Create(dbc dbctx.Context, rows []*types.Workspace) ([]*types.Workspace, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Workspace, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error

	UpsertMember(dbc dbctx.Context, row *types.WorkspaceMember) error
	GetMember(dbc dbctx.Context, workspaceID, userID uuid.UUID) (*types.WorkspaceMember, error)
	ListMembers(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.WorkspaceMember, error)
}

type workspaceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkspaceRepo(db *gorm.DB, baseLog *logger.Logger) WorkspaceRepo {
	return &workspaceRepo{db: db, log: baseLog.With("repo", "WorkspaceRepo")}
}

func (r *workspaceRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *workspaceRepo) Create(dbc dbctx.Context, rows []*types.Workspace) ([]*types.Workspace, error) {
	if len(rows) == 0 {
		return []*types.Workspace{}, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *workspaceRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Workspace, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.Workspace
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *workspaceRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Workspace{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *workspaceRepo) UpsertMember(dbc dbctx.Context, row *types.WorkspaceMember) error {
	if row == nil {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workspace_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
		}).
		Create(row).Error
}

func (r *workspaceRepo) GetMember(dbc dbctx.Context, workspaceID, userID uuid.UUID) (*types.WorkspaceMember, error) {
	if workspaceID == uuid.Nil || userID == uuid.Nil {
		return nil, nil
	}
	var row types.WorkspaceMember
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

func (r *workspaceRepo) ListMembers(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.WorkspaceMember, error) {
	var out []*types.WorkspaceMember
	if workspaceID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("workspace_id = ?", workspaceID).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
