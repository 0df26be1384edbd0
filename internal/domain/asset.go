package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AssetTypeCharacter   = "character"
	AssetTypeObject      = "object"
	AssetTypeEnvironment = "environment"
	AssetTypeTile        = "tile"
)

// Asset is one node of the per-workspace asset tree. ParentAssetID is nil for
// root-level assets; the parent chain is kept acyclic by the asset service.
type Asset struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index" json:"workspace_id"`

	Name string `gorm:"column:name;not null" json:"name"`
	Type string `gorm:"column:type;not null;index" json:"type"`

	ParentAssetID   *uuid.UUID `gorm:"type:uuid;column:parent_asset_id;index" json:"parent_asset_id,omitempty"`
	ActiveVariantID *uuid.UUID `gorm:"type:uuid;column:active_variant_id" json:"active_variant_id,omitempty"`

	// ThumbRef starts as a rendered placeholder and follows the active
	// variant's thumb once one completes.
	ThumbRef string `gorm:"column:thumb_ref" json:"thumb_ref,omitempty"`

	Tags      datatypes.JSON `gorm:"column:tags;type:jsonb" json:"tags,omitempty"`
	CreatedBy uuid.UUID      `gorm:"type:uuid;column:created_by" json:"created_by"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Asset) TableName() string { return "asset" }
