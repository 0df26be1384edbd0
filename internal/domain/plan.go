package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	PlanStatusActive    = "active"
	PlanStatusPaused    = "paused"
	PlanStatusCompleted = "completed"
	PlanStatusFailed    = "failed"
)

const (
	PlanStepStatusPending   = "pending"
	PlanStepStatusRunning   = "running"
	PlanStepStatusCompleted = "completed"
	PlanStepStatusFailed    = "failed"
)

// Plan is one dependency-ordered agent work item per workspace request.
type Plan struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index" json:"workspace_id"`

	// active|paused|completed|failed
	Status string `gorm:"column:status;not null;index" json:"status"`

	ActiveStepCount  int `gorm:"column:active_step_count;not null;default:0" json:"active_step_count"`
	CurrentStepIndex int `gorm:"column:current_step_index;not null;default:0" json:"current_step_index"`

	Error string `gorm:"column:error" json:"error,omitempty"`

	CreatedBy uuid.UUID `gorm:"type:uuid;column:created_by" json:"created_by"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Plan) TableName() string { return "plan" }

func (p *Plan) Terminal() bool {
	return p != nil && (p.Status == PlanStatusCompleted || p.Status == PlanStatusFailed)
}

// PlanStep is one unit of a plan. DependsOn holds step indexes that must be
// earlier than StepIndex.
type PlanStep struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PlanID uuid.UUID `gorm:"type:uuid;not null;index:idx_plan_step_plan_index,unique,priority:1" json:"plan_id"`

	StepIndex int `gorm:"column:step_index;not null;index:idx_plan_step_plan_index,unique,priority:2" json:"step_index"`

	// generate|derive|refine|fork
	Action string         `gorm:"column:action;not null" json:"action"`
	Params datatypes.JSON `gorm:"column:params;type:jsonb" json:"params"`

	DependsOn datatypes.JSON `gorm:"column:depends_on;type:jsonb" json:"depends_on,omitempty"`

	// pending|running|completed|failed
	Status string         `gorm:"column:status;not null;index" json:"status"`
	Result datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	Error  string         `gorm:"column:error" json:"error,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (PlanStep) TableName() string { return "plan_step" }
