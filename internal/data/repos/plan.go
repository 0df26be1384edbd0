package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

type PlanRepo interface {
	CreatePlan(dbc dbctx.Context, row *types.Plan) (*types.Plan, error)
	GetPlanByID(dbc dbctx.Context, id uuid.UUID) (*types.Plan, error)
	LockPlanByID(dbc dbctx.Context, id uuid.UUID) (*types.Plan, error)
	ListPlansByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.Plan, error)
	UpdatePlanFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error

	CreateSteps(dbc dbctx.Context, rows []*types.PlanStep) ([]*types.PlanStep, error)
	GetStepByID(dbc dbctx.Context, id uuid.UUID) (*types.PlanStep, error)
	ListStepsByPlan(dbc dbctx.Context, planID uuid.UUID) ([]*types.PlanStep, error)
	UpdateStepFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type planRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlanRepo(db *gorm.DB, baseLog *logger.Logger) PlanRepo {
	return &planRepo{db: db, log: baseLog.With("repo", "PlanRepo")}
}

func (r *planRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *planRepo) CreatePlan(dbc dbctx.Context, row *types.Plan) (*types.Plan, error) {
	if row == nil {
		return nil, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *planRepo) GetPlanByID(dbc dbctx.Context, id uuid.UUID) (*types.Plan, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.Plan
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *planRepo) LockPlanByID(dbc dbctx.Context, id uuid.UUID) (*types.Plan, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.Plan
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

func (r *planRepo) ListPlansByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.Plan, error) {
	var out []*types.Plan
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

func (r *planRepo) UpdatePlanFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Plan{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *planRepo) CreateSteps(dbc dbctx.Context, rows []*types.PlanStep) ([]*types.PlanStep, error) {
	if len(rows) == 0 {
		return []*types.PlanStep{}, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *planRepo) GetStepByID(dbc dbctx.Context, id uuid.UUID) (*types.PlanStep, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.PlanStep
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *planRepo) ListStepsByPlan(dbc dbctx.Context, planID uuid.UUID) ([]*types.PlanStep, error) {
	var out []*types.PlanStep
	if planID == uuid.Nil {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("plan_id = ?", planID).
		Order("step_index ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *planRepo) UpdateStepFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.PlanStep{}).
		Where("id = ?", id).
		Updates(updates).Error
}
