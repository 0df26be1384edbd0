package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	VariantStatusPending    = "pending"
	VariantStatusProcessing = "processing"
	VariantStatusCompleted  = "completed"
	VariantStatusFailed     = "failed"
)

// Variant is one concrete generated-or-uploaded image belonging to an Asset.
// Variants are never deleted, only superseded; all mutation goes through the
// owning workspace actor.
type Variant struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index" json:"workspace_id"`
	AssetID     uuid.UUID `gorm:"type:uuid;not null;index" json:"asset_id"`

	// pending|processing|completed|failed
	Status string `gorm:"column:status;not null;index" json:"status"`

	ImageRef string `gorm:"column:image_ref" json:"image_ref,omitempty"`
	ThumbRef string `gorm:"column:thumb_ref" json:"thumb_ref,omitempty"`

	// Recipe is the immutable replayable record of the inputs that produced
	// this variant. Serialized domain.Recipe.
	Recipe datatypes.JSON `gorm:"column:recipe;type:jsonb" json:"recipe"`

	// SagaTaskID correlates the external generation task; it equals the
	// variant id when a dispatch has been issued (at most one task per variant).
	SagaTaskID string `gorm:"column:saga_task_id;index" json:"saga_task_id,omitempty"`

	Error string `gorm:"column:error" json:"error,omitempty"`

	CreatedBy uuid.UUID `gorm:"type:uuid;column:created_by" json:"created_by"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Variant) TableName() string { return "variant" }

func (v *Variant) Terminal() bool {
	return v != nil && (v.Status == VariantStatusCompleted || v.Status == VariantStatusFailed)
}
