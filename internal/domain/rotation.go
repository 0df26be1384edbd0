package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	RotationStatusGenerating = "generating"
	RotationStatusCompleted  = "completed"
	RotationStatusFailed     = "failed"
	RotationStatusCancelled  = "cancelled"
)

const (
	RotationModeSequential = "sequential"
	RotationModeSheet      = "sheet"
)

const (
	RotationConfig4 = "4-directional"
	RotationConfig8 = "8-directional"
)

// DirectionsForConfig returns the canonical direction order for a rotation
// config. Step i of a set generates the view at index i of this slice.
func DirectionsForConfig(config string) []string {
	switch config {
	case RotationConfig8:
		return []string{"S", "SE", "E", "NE", "N", "NW", "W", "SW"}
	default:
		return []string{"S", "E", "N", "W"}
	}
}

// RotationSet drives a multi-view generation flow for one source variant.
type RotationSet struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index" json:"workspace_id"`
	AssetID     uuid.UUID `gorm:"type:uuid;not null;index" json:"asset_id"`

	SourceVariantID uuid.UUID `gorm:"type:uuid;not null" json:"source_variant_id"`

	// 4-directional|8-directional
	Config string `gorm:"column:config;not null" json:"config"`
	// sequential|sheet
	Mode string `gorm:"column:mode;not null" json:"mode"`

	TotalSteps  int `gorm:"column:total_steps;not null" json:"total_steps"`
	CurrentStep int `gorm:"column:current_step;not null;default:0" json:"current_step"`

	// generating|completed|failed|cancelled
	Status string `gorm:"column:status;not null;index" json:"status"`
	Error  string `gorm:"column:error" json:"error,omitempty"`

	CreatedBy uuid.UUID `gorm:"type:uuid;column:created_by" json:"created_by"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (RotationSet) TableName() string { return "rotation_set" }

func (s *RotationSet) Terminal() bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case RotationStatusCompleted, RotationStatusFailed, RotationStatusCancelled:
		return true
	}
	return false
}

// RotationView binds one generated directional view to its set. Immutable.
type RotationView struct {
	ID            uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RotationSetID uuid.UUID `gorm:"type:uuid;not null;index:idx_rotation_view_set_step,unique,priority:1" json:"rotation_set_id"`
	StepIndex     int       `gorm:"column:step_index;not null;index:idx_rotation_view_set_step,unique,priority:2" json:"step_index"`

	VariantID uuid.UUID `gorm:"type:uuid;not null;index" json:"variant_id"`
	Direction string    `gorm:"column:direction;not null" json:"direction"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (RotationView) TableName() string { return "rotation_view" }
