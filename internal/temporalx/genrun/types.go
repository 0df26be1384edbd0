package genrun

import "github.com/spriteforge/spriteforge-backend/internal/tasks"

const (
	// WorkflowName identifies the generation workflow on the task queue.
	WorkflowName = "GenerationRun"

	ActivityGenerate = "GenerateImage"
	ActivityDeliver  = "DeliverResult"
)

// Input is the serialized workflow argument; it carries the full task
// payload so the workflow is self-contained and replayable.
type Input struct {
	Payload tasks.Payload `json:"payload"`
}

// GenerateResult is what the generate activity hands to delivery.
type GenerateResult struct {
	ImageRef string `json:"image_ref"`
	ThumbRef string `json:"thumb_ref"`
}

// Delivery tells the deliver activity which callback to fire.
type Delivery struct {
	Payload tasks.Payload `json:"payload"`

	// status|complete|fail
	Outcome string `json:"outcome"`

	// Status carries the reported state for status deliveries.
	Status string `json:"status,omitempty"`

	ImageRef     string `json:"image_ref,omitempty"`
	ThumbRef     string `json:"thumb_ref,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}
