package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	RelationDerived = "derived"
	RelationRefined = "refined"
	RelationForked  = "forked"
)

// LineageEdge records that ChildVariantID was produced from ParentVariantID.
// Edges always point from older to newer variant, so the edge set is a DAG by
// construction. Severing is a soft delete; edges are never hard-deleted.
type LineageEdge struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index" json:"workspace_id"`

	ParentVariantID uuid.UUID `gorm:"type:uuid;not null;index" json:"parent_variant_id"`
	ChildVariantID  uuid.UUID `gorm:"type:uuid;not null;index" json:"child_variant_id"`

	// derived|refined|forked
	RelationType string `gorm:"column:relation_type;not null" json:"relation_type"`

	Severed bool `gorm:"column:severed;not null;default:false" json:"severed"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (LineageEdge) TableName() string { return "lineage_edge" }

// RelationForOperation maps a generation operation to the lineage relation
// recorded on the resulting edges.
func RelationForOperation(op string) string {
	switch op {
	case OperationRefine:
		return RelationRefined
	case OperationFork:
		return RelationForked
	default:
		return RelationDerived
	}
}
