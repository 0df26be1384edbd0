package tasks

import (
	"context"

	"github.com/google/uuid"
)

// Payload is everything the external executor needs to run one generation
// task. It is built from a variant's recipe so a retry reproduces the
// original request exactly.
type Payload struct {
	VariantID   uuid.UUID `json:"variant_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`

	Prompt    string `json:"prompt"`
	Operation string `json:"operation"`

	SourceImageRefs []string `json:"source_image_refs,omitempty"`

	// Size is "WxH"; empty means provider default.
	Size string `json:"size,omitempty"`
}

// Executor dispatches generation work to the external asynchronous task
// runner. The task id doubles as the correlation id and equals the variant
// id: at most one external task per variant.
type Executor interface {
	Dispatch(ctx context.Context, taskID uuid.UUID, payload Payload) error
}

// Callbacks is the surface the executor reports through. Delivery is
// at-least-once; implementations must be idempotent.
type Callbacks interface {
	OnStatus(ctx context.Context, workspaceID, taskID uuid.UUID, status string) error
	OnComplete(ctx context.Context, workspaceID, taskID uuid.UUID, imageRef, thumbRef string) error
	OnFail(ctx context.Context, workspaceID, taskID uuid.UUID, errorMessage string) error
}
