package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos/testutil"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
)

func stepParams(t *testing.T, p PlanStepParams) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return raw
}

func TestPlanDependencyOrderedExecution(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)

	ctx := testutil.Ctx(owner)
	plan, steps, err := e.plans.Submit(ctx, ws.ID, SubmitPlanInput{Steps: []PlanStepInput{
		{
			Action: types.OperationGenerate,
			Params: stepParams(t, PlanStepParams{AssetID: asset.ID, Prompt: "base slime"}),
		},
		{
			Action:    types.OperationDerive,
			Params:    stepParams(t, PlanStepParams{AssetID: asset.ID, Prompt: "armored slime", FromSteps: []int{0}}),
			DependsOn: []int{0},
		},
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(steps) != 2 || plan.Status != types.PlanStatusActive {
		t.Fatalf("unexpected plan after submit: %+v steps=%d", plan, len(steps))
	}

	// Only step 0 is eligible until its variant completes.
	if got := len(e.executor.dispatched()); got != 1 {
		t.Fatalf("expected one dispatch after submit, got %d", got)
	}

	completeLastDispatched(t, e, 1)

	// Step 0's completion parks the plan; step 1 waits for a resume.
	parked, _, err := e.plans.Get(ctx, ws.ID, plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if parked.Status != types.PlanStatusPaused {
		t.Fatalf("plan should pause awaiting the next trigger: %+v", parked)
	}
	if parked.ActiveStepCount != 1 || parked.CurrentStepIndex != 1 {
		t.Fatalf("cursor should advance to the remaining step: %+v", parked)
	}
	if got := len(e.executor.dispatched()); got != 1 {
		t.Fatalf("step 1 must not start before resume, got %d dispatches", got)
	}

	resumed, err := e.plans.Resume(ctx, ws.ID, plan.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != types.PlanStatusActive {
		t.Fatalf("resume should reactivate: %+v", resumed)
	}
	if got := len(e.executor.dispatched()); got != 2 {
		t.Fatalf("expected second dispatch after resume, got %d", got)
	}
	second := e.executor.dispatched()[1]
	firstVariant := e.executor.dispatched()[0].VariantID
	firstRef := fmt.Sprintf("image/variants/%s.png", firstVariant)
	if len(second.SourceImageRefs) != 1 || second.SourceImageRefs[0] != firstRef {
		t.Fatalf("step 1 should reference step 0's result: %v", second.SourceImageRefs)
	}

	completeLastDispatched(t, e, 2)

	final, finalSteps, err := e.plans.Get(ctx, ws.ID, plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if final.Status != types.PlanStatusCompleted || final.ActiveStepCount != 0 {
		t.Fatalf("plan should complete when every step has: %+v", final)
	}
	for _, step := range finalSteps {
		if step.Status != types.PlanStepStatusCompleted {
			t.Fatalf("step %d not completed: %+v", step.StepIndex, step)
		}
	}
}

func TestPlanForkStepsResolveInline(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)
	src := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)

	ctx := testutil.Ctx(owner)
	plan, _, err := e.plans.Submit(ctx, ws.ID, SubmitPlanInput{Steps: []PlanStepInput{
		{
			Action: types.OperationFork,
			Params: stepParams(t, PlanStepParams{AssetID: asset.ID, SourceVariantID: &src.ID}),
		},
		{
			Action:    types.OperationFork,
			Params:    stepParams(t, PlanStepParams{AssetID: asset.ID, FromSteps: []int{0}}),
			DependsOn: []int{0},
		},
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Both forks resolve in the submit pass; nothing reaches the executor.
	if got := len(e.executor.dispatched()); got != 0 {
		t.Fatalf("fork-only plan must not dispatch, got %d", got)
	}

	final, steps, err := e.plans.Get(ctx, ws.ID, plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if final.Status != types.PlanStatusCompleted {
		t.Fatalf("fork-only plan should complete synchronously: %+v", final)
	}
	var chainRes planStepResult
	if err := json.Unmarshal(steps[1].Result, &chainRes); err != nil || chainRes.VariantID == uuid.Nil {
		t.Fatalf("step 1 result missing: %s", steps[1].Result)
	}
	forked, err := e.variants.Get(ctx, chainRes.VariantID)
	if err != nil {
		t.Fatalf("get forked variant: %v", err)
	}
	if forked.ImageRef != src.ImageRef {
		t.Fatalf("chained fork should trace back to the source image: %+v", forked)
	}
}

func TestPlanStepFailureFailsWholePlan(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)

	ctx := testutil.Ctx(owner)
	plan, _, err := e.plans.Submit(ctx, ws.ID, SubmitPlanInput{Steps: []PlanStepInput{
		{
			Action: types.OperationGenerate,
			Params: stepParams(t, PlanStepParams{AssetID: asset.ID, Prompt: "goblin"}),
		},
		{
			Action:    types.OperationDerive,
			Params:    stepParams(t, PlanStepParams{AssetID: asset.ID, Prompt: "hobgoblin", FromSteps: []int{0}}),
			DependsOn: []int{0},
		},
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	dispatched := e.executor.dispatched()
	if err := e.variants.Fail(context.Background(), ws.ID, dispatched[0].VariantID, "model refused"); err != nil {
		t.Fatalf("fail variant: %v", err)
	}

	failed, steps, err := e.plans.Get(ctx, ws.ID, plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if failed.Status != types.PlanStatusFailed {
		t.Fatalf("step failure should fail the whole plan: %+v", failed)
	}
	if failed.Error == "" {
		t.Fatalf("plan error should name the failed step: %+v", failed)
	}
	if steps[0].Status != types.PlanStepStatusFailed {
		t.Fatalf("step should be failed: %+v", steps[0])
	}
	if steps[1].Status != types.PlanStepStatusPending {
		t.Fatalf("the dependent step never runs: %+v", steps[1])
	}
	if got := len(e.executor.dispatched()); got != 1 {
		t.Fatalf("no further dispatches after plan failure, got %d", got)
	}

	// Failed plans are terminal; there is no recovery path.
	if _, err := e.plans.Resume(ctx, ws.ID, plan.ID); !errors.Is(err, pkgerr.ErrValidation) {
		t.Fatalf("resuming a failed plan should be rejected, got %v", err)
	}
}

func TestPlanSubmitRejectsForwardDependencies(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)

	ctx := testutil.Ctx(owner)
	_, _, err := e.plans.Submit(ctx, ws.ID, SubmitPlanInput{Steps: []PlanStepInput{
		{
			Action:    types.OperationGenerate,
			Params:    stepParams(t, PlanStepParams{AssetID: asset.ID, Prompt: "a"}),
			DependsOn: []int{1},
		},
		{
			Action: types.OperationGenerate,
			Params: stepParams(t, PlanStepParams{AssetID: asset.ID, Prompt: "b"}),
		},
	}})
	if !errors.Is(err, pkgerr.ErrValidation) {
		t.Fatalf("forward dependency should fail validation, got %v", err)
	}

	_, _, err = e.plans.Submit(ctx, ws.ID, SubmitPlanInput{})
	if !errors.Is(err, pkgerr.ErrValidation) {
		t.Fatalf("empty plan should fail validation, got %v", err)
	}
}

func TestDepsSatisfied(t *testing.T) {
	deps, _ := json.Marshal([]int{0})
	all := []*types.PlanStep{
		{StepIndex: 0, Status: types.PlanStepStatusRunning},
		{StepIndex: 1, Status: types.PlanStepStatusPending, DependsOn: deps},
	}
	if depsSatisfied(all[1], all) {
		t.Fatalf("dep on a running step is not satisfied")
	}
	all[0].Status = types.PlanStepStatusCompleted
	if !depsSatisfied(all[1], all) {
		t.Fatalf("dep on a completed step is satisfied")
	}
	if !depsSatisfied(all[0], all) {
		t.Fatalf("step with no deps is always satisfied")
	}
}
