package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	OperationGenerate = "generate"
	OperationDerive   = "derive"
	OperationRefine   = "refine"
	OperationFork     = "fork"
)

const RecipeVersion = 1

// Recipe records the inputs that produced a variant, sufficient to replay the
// exact generation request on retry. It is written once at placeholder
// creation and never mutated.
type Recipe struct {
	Version   int    `json:"version"`
	Prompt    string `json:"prompt"`
	Operation string `json:"operation"`

	SourceImageRefs  []string    `json:"source_image_refs,omitempty"`
	ParentVariantIDs []uuid.UUID `json:"parent_variant_ids,omitempty"`

	AspectRatio string `json:"aspect_ratio,omitempty"`

	// Optional back-links consumed by completion listeners.
	PlanStepID    *uuid.UUID `json:"plan_step_id,omitempty"`
	RotationSetID *uuid.UUID `json:"rotation_set_id,omitempty"`

	// Sheet describes grid layout for single-shot rotation sheets.
	Sheet *SheetLayout `json:"sheet,omitempty"`
}

// SheetLayout describes the grid of a single-shot rotation sheet.
type SheetLayout struct {
	Rows     int `json:"rows"`
	Cols     int `json:"cols"`
	CellSize int `json:"cell_size"`
}

func (r Recipe) Marshal() (datatypes.JSON, error) {
	if r.Version == 0 {
		r.Version = RecipeVersion
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal recipe: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func ParseRecipe(raw datatypes.JSON) (Recipe, error) {
	var r Recipe
	if len(raw) == 0 {
		return r, fmt.Errorf("empty recipe")
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("parse recipe: %w", err)
	}
	if r.Version == 0 {
		r.Version = RecipeVersion
	}
	return r, nil
}
