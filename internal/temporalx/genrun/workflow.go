package genrun

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	types "github.com/spriteforge/spriteforge-backend/internal/domain"
)

// Workflow runs one generation task end to end: synthesize the image with
// step-level retries, then deliver the outcome back into the owning
// workspace. Delivery is retried independently of generation, so a transient
// callback failure never re-runs the provider call.
func Workflow(ctx workflow.Context, in Input) error {
	// Report acceptance before the long generate call so clients watch the
	// variant leave the queue. Best effort: a missed ping only delays the
	// visible transition, it never blocks the run.
	statusCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})
	_ = workflow.ExecuteActivity(statusCtx, ActivityDeliver, Delivery{
		Payload: in.Payload,
		Outcome: "status",
		Status:  types.VariantStatusProcessing,
	}).Get(statusCtx, nil)

	genCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    60 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})

	var genErr error
	var result GenerateResult
	genErr = workflow.ExecuteActivity(genCtx, ActivityGenerate, in.Payload).Get(genCtx, &result)

	delivery := Delivery{Payload: in.Payload}
	if genErr != nil {
		delivery.Outcome = "fail"
		delivery.ErrorMessage = genErr.Error()
	} else {
		delivery.Outcome = "complete"
		delivery.ImageRef = result.ImageRef
		delivery.ThumbRef = result.ThumbRef
	}

	// The callback sink is idempotent, so unlimited at-least-once delivery
	// attempts within the timeout are safe.
	deliverCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout:    30 * time.Second,
		ScheduleToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
		},
	})
	if err := workflow.ExecuteActivity(deliverCtx, ActivityDeliver, delivery).Get(deliverCtx, nil); err != nil {
		return err
	}
	return genErr
}
