package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

type RotationRepo interface {
	CreateSet(dbc dbctx.Context, row *types.RotationSet) (*types.RotationSet, error)
	GetSetByID(dbc dbctx.Context, id uuid.UUID) (*types.RotationSet, error)
	LockSetByID(dbc dbctx.Context, id uuid.UUID) (*types.RotationSet, error)
	ListSetsByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.RotationSet, error)
	UpdateSetFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error

	CreateViews(dbc dbctx.Context, rows []*types.RotationView) ([]*types.RotationView, error)
	ListViewsBySet(dbc dbctx.Context, rotationSetID uuid.UUID) ([]*types.RotationView, error)
	GetViewByVariant(dbc dbctx.Context, variantID uuid.UUID) (*types.RotationView, error)
}

type rotationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRotationRepo(db *gorm.DB, baseLog *logger.Logger) RotationRepo {
	return &rotationRepo{db: db, log: baseLog.With("repo", "RotationRepo")}
}

func (r *rotationRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *rotationRepo) CreateSet(dbc dbctx.Context, row *types.RotationSet) (*types.RotationSet, error) {
	if row == nil {
		return nil, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *rotationRepo) GetSetByID(dbc dbctx.Context, id uuid.UUID) (*types.RotationSet, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.RotationSet
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *rotationRepo) LockSetByID(dbc dbctx.Context, id uuid.UUID) (*types.RotationSet, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.RotationSet
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
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

func (r *rotationRepo) ListSetsByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.RotationSet, error) {
	var out []*types.RotationSet
	if workspaceID == uuid.Nil {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *rotationRepo) UpdateSetFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.RotationSet{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *rotationRepo) CreateViews(dbc dbctx.Context, rows []*types.RotationView) ([]*types.RotationView, error) {
	if len(rows) == 0 {
		return []*types.RotationView{}, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *rotationRepo) ListViewsBySet(dbc dbctx.Context, rotationSetID uuid.UUID) ([]*types.RotationView, error) {
	var out []*types.RotationView
	if rotationSetID == uuid.Nil {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("rotation_set_id = ?", rotationSetID).
		Order("step_index ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *rotationRepo) GetViewByVariant(dbc dbctx.Context, variantID uuid.UUID) (*types.RotationView, error) {
	if variantID == uuid.Nil {
		return nil, nil
	}
	var row types.RotationView
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("variant_id = ?", variantID).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}
