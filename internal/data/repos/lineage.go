package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

type LineageRepo interface {
	Create(dbc dbctx.Context, rows []*types.LineageEdge) ([]*types.LineageEdge, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.LineageEdge, error)
	ListByParentIDs(dbc dbctx.Context, parentVariantIDs []uuid.UUID) ([]*types.LineageEdge, error)
	ListByChildIDs(dbc dbctx.Context, childVariantIDs []uuid.UUID) ([]*types.LineageEdge, error)
	// ListTouching returns every edge whose parent or child is one of the
	// given variant ids, severed edges included.
	ListTouching(dbc dbctx.Context, variantIDs []uuid.UUID) ([]*types.LineageEdge, error)
	ListByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.LineageEdge, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type lineageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLineageRepo(db *gorm.DB, baseLog *logger.Logger) LineageRepo {
	return &lineageRepo{db: db, log: baseLog.With("repo", "LineageRepo")}
}

func (r *lineageRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *lineageRepo) Create(dbc dbctx.Context, rows []*types.LineageEdge) ([]*types.LineageEdge, error) {
	if len(rows) == 0 {
		return []*types.LineageEdge{}, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *lineageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.LineageEdge, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.LineageEdge
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *lineageRepo) ListByParentIDs(dbc dbctx.Context, parentVariantIDs []uuid.UUID) ([]*types.LineageEdge, error) {
	var out []*types.LineageEdge
	if len(parentVariantIDs) == 0 {
		return out, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("parent_variant_id IN ?", parentVariantIDs).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lineageRepo) ListByChildIDs(dbc dbctx.Context, childVariantIDs []uuid.UUID) ([]*types.LineageEdge, error) {
	var out []*types.LineageEdge
	if len(childVariantIDs) == 0 {
		return out, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("child_variant_id IN ?", childVariantIDs).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lineageRepo) ListTouching(dbc dbctx.Context, variantIDs []uuid.UUID) ([]*types.LineageEdge, error) {
	var out []*types.LineageEdge
	if len(variantIDs) == 0 {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("parent_variant_id IN ? OR child_variant_id IN ?", variantIDs, variantIDs).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lineageRepo) ListByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.LineageEdge, error) {
	var out []*types.LineageEdge
	if workspaceID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("workspace_id = ?", workspaceID).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lineageRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.LineageEdge{}).
		Where("id = ?", id).
		Updates(updates).Error
}
