package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

type VariantRepo interface {
	Create(dbc dbctx.Context, rows []*types.Variant) ([]*types.Variant, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Variant, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Variant, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Variant, error)
	ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.Variant, error)
	ListByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.Variant, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type variantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVariantRepo(db *gorm.DB, baseLog *logger.Logger) VariantRepo {
	return &variantRepo{db: db, log: baseLog.With("repo", "VariantRepo")}
}

func (r *variantRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *variantRepo) Create(dbc dbctx.Context, rows []*types.Variant) ([]*types.Variant, error) {
	if len(rows) == 0 {
		return []*types.Variant{}, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *variantRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Variant, error) {
	var out []*types.Variant
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *variantRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Variant, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	rows, err := r.GetByIDs(dbc, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// LockByID takes a row lock so completion callbacks retried by the executor
// serialize against each other at the store as well as at the actor.
func (r *variantRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Variant, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.Variant
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

func (r *variantRepo) ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.Variant, error) {
	var out []*types.Variant
	if assetID == uuid.Nil {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("asset_id = ?", assetID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *variantRepo) ListByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.Variant, error) {
	var out []*types.Variant
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

func (r *variantRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Variant{}).
		Where("id = ?", id).
		Updates(updates).Error
}
