package temporalx

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/tasks"
	"github.com/spriteforge/spriteforge-backend/internal/temporalx/genrun"
)

// Executor dispatches generation runs as Temporal workflows. The workflow id
// is derived from the task id, so a retry of the same variant starts a fresh
// run only after the previous one has finished.
type Executor struct {
	log    *logger.Logger
	client client.Client
	cfg    Config
}

func NewExecutor(log *logger.Logger, c client.Client, cfg Config) *Executor {
	return &Executor{log: log, client: c, cfg: cfg}
}

var _ tasks.Executor = (*Executor)(nil)

func (e *Executor) Dispatch(ctx context.Context, taskID uuid.UUID, payload tasks.Payload) error {
	if e.client == nil {
		return fmt.Errorf("temporal client not configured")
	}
	opts := client.StartWorkflowOptions{
		ID:                    "genrun-" + taskID.String(),
		TaskQueue:             e.cfg.TaskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, genrun.WorkflowName, genrun.Input{Payload: payload})
	if err != nil {
		return fmt.Errorf("start generation workflow: %w", err)
	}
	e.log.Info("dispatched generation run",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"variant_id", payload.VariantID,
		"operation", payload.Operation)
	return nil
}
