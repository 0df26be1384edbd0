package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/ctxutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/realtime"
)

type PlanStepInput struct {
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params"`
	DependsOn []int           `json:"depends_on,omitempty"`
}

type SubmitPlanInput struct {
	Steps []PlanStepInput `json:"steps"`
}

// PlanStepParams is the decoded shape of a step's params blob.
type PlanStepParams struct {
	AssetID uuid.UUID `json:"asset_id"`
	Prompt  string    `json:"prompt,omitempty"`

	ParentVariantIDs []uuid.UUID `json:"parent_variant_ids,omitempty"`
	// FromSteps references earlier steps by index; their result variants
	// become parents of this step's run.
	FromSteps []int `json:"from_steps,omitempty"`

	// SourceVariantID feeds fork steps that do not chain off another step.
	SourceVariantID *uuid.UUID `json:"source_variant_id,omitempty"`

	AspectRatio string `json:"aspect_ratio,omitempty"`
}

type planStepResult struct {
	VariantID uuid.UUID `json:"variant_id"`
}

// PlanService executes dependency-ordered step lists. Steps become eligible
// when every step they depend on has completed; eligible generation steps run
// concurrently through the executor while fork steps resolve inline. When a
// completion leaves eligible steps waiting, the plan parks as paused until
// Resume triggers the next batch. A failed step fails the whole plan.
type PlanService interface {
	Submit(ctx context.Context, workspaceID uuid.UUID, in SubmitPlanInput) (*types.Plan, []*types.PlanStep, error)
	Get(ctx context.Context, workspaceID, planID uuid.UUID) (*types.Plan, []*types.PlanStep, error)
	Resume(ctx context.Context, workspaceID, planID uuid.UUID) (*types.Plan, error)

	HandleVariantCompleted(ctx context.Context, variant *types.Variant, recipe types.Recipe)
	HandleVariantFailed(ctx context.Context, variant *types.Variant, recipe types.Recipe, errorMessage string)
}

type planService struct {
	db         *gorm.DB
	log        *logger.Logger
	planRepo   repos.PlanRepo
	generation GenerationService
	notify     Notifier
}

func NewPlanService(
	db *gorm.DB,
	baseLog *logger.Logger,
	planRepo repos.PlanRepo,
	generation GenerationService,
	notify Notifier,
) PlanService {
	return &planService{
		db:         db,
		log:        baseLog.With("service", "PlanService"),
		planRepo:   planRepo,
		generation: generation,
		notify:     notify,
	}
}

func (s *planService) Submit(ctx context.Context, workspaceID uuid.UUID, in SubmitPlanInput) (*types.Plan, []*types.PlanStep, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, nil, fmt.Errorf("not authenticated: %w", pkgerr.ErrPermission)
	}
	if len(in.Steps) == 0 {
		return nil, nil, fmt.Errorf("plan needs at least one step: %w", pkgerr.ErrValidation)
	}
	for i, step := range in.Steps {
		switch step.Action {
		case types.OperationGenerate, types.OperationDerive, types.OperationRefine, types.OperationFork:
		default:
			return nil, nil, fmt.Errorf("step %d: unknown action %q: %w", i, step.Action, pkgerr.ErrValidation)
		}
		for _, dep := range step.DependsOn {
			if dep < 0 || dep >= i {
				return nil, nil, fmt.Errorf("step %d: dependency %d must reference an earlier step: %w", i, dep, pkgerr.ErrValidation)
			}
		}
	}

	var (
		plan  *types.Plan
		steps []*types.PlanStep
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		var err error
		plan, err = s.planRepo.CreatePlan(dbc, &types.Plan{
			ID:              uuid.New(),
			WorkspaceID:     workspaceID,
			Status:          types.PlanStatusActive,
			ActiveStepCount: len(in.Steps),
			CreatedBy:       rd.UserID,
		})
		if err != nil {
			return err
		}
		for i, stepIn := range in.Steps {
			deps, err := json.Marshal(stepIn.DependsOn)
			if err != nil {
				return err
			}
			steps = append(steps, &types.PlanStep{
				PlanID:    plan.ID,
				StepIndex: i,
				Action:    stepIn.Action,
				Params:    datatypes.JSON(stepIn.Params),
				DependsOn: datatypes.JSON(deps),
				Status:    types.PlanStepStatusPending,
			})
		}
		steps, err = s.planRepo.CreateSteps(dbc, steps)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.notify.Broadcast(workspaceID, realtime.TypePlanCreated, plan)

	s.schedule(ctx, plan.ID)
	return plan, steps, nil
}

func (s *planService) Get(ctx context.Context, workspaceID, planID uuid.UUID) (*types.Plan, []*types.PlanStep, error) {
	dbc := dbctx.Context{Ctx: ctx}
	plan, err := s.planRepo.GetPlanByID(dbc, planID)
	if err != nil {
		return nil, nil, err
	}
	if plan == nil || plan.WorkspaceID != workspaceID {
		return nil, nil, fmt.Errorf("plan %s: %w", planID, pkgerr.ErrNotFound)
	}
	steps, err := s.planRepo.ListStepsByPlan(dbc, planID)
	if err != nil {
		return nil, nil, err
	}
	return plan, steps, nil
}

// Resume is the external trigger for a paused plan's next step batch. Paused
// only ever means "eligible steps are waiting"; failed plans stay failed.
func (s *planService) Resume(ctx context.Context, workspaceID, planID uuid.UUID) (*types.Plan, error) {
	var plan *types.Plan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		locked, err := s.planRepo.LockPlanByID(dbc, planID)
		if err != nil {
			return err
		}
		if locked == nil || locked.WorkspaceID != workspaceID {
			return fmt.Errorf("plan %s: %w", planID, pkgerr.ErrNotFound)
		}
		if locked.Status != types.PlanStatusPaused {
			return fmt.Errorf("plan %s is %s, only paused plans resume: %w", planID, locked.Status, pkgerr.ErrValidation)
		}
		if err := s.planRepo.UpdatePlanFields(dbc, locked.ID, map[string]interface{}{
			"status": types.PlanStatusActive,
		}); err != nil {
			return err
		}
		locked.Status = types.PlanStatusActive
		plan = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify.Broadcast(workspaceID, realtime.TypePlanUpdated, plan)

	s.schedule(ctx, plan.ID)
	return plan, nil
}

func (s *planService) HandleVariantCompleted(ctx context.Context, variant *types.Variant, recipe types.Recipe) {
	if recipe.PlanStepID == nil {
		return
	}
	dbc := dbctx.Context{Ctx: ctx}
	step, err := s.planRepo.GetStepByID(dbc, *recipe.PlanStepID)
	if err != nil || step == nil {
		if err != nil {
			s.log.Error("plan step load failed", "step_id", *recipe.PlanStepID, "error", err)
		}
		return
	}
	if step.Status != types.PlanStepStatusRunning {
		return
	}

	result, _ := json.Marshal(planStepResult{VariantID: variant.ID})
	if err := s.planRepo.UpdateStepFields(dbc, step.ID, map[string]interface{}{
		"status": types.PlanStepStatusCompleted,
		"result": datatypes.JSON(result),
	}); err != nil {
		s.log.Error("plan step completion write failed", "step_id", step.ID, "error", err)
		return
	}
	step.Status = types.PlanStepStatusCompleted
	step.Result = datatypes.JSON(result)
	s.notify.Broadcast(variant.WorkspaceID, realtime.TypePlanStepUpdated, step)

	// Steps waiting on this one are not started here. The plan parks as
	// paused and the next batch launches on an explicit resume.
	s.reconcile(ctx, step.PlanID)
}

func (s *planService) HandleVariantFailed(ctx context.Context, variant *types.Variant, recipe types.Recipe, errorMessage string) {
	if recipe.PlanStepID == nil {
		return
	}
	dbc := dbctx.Context{Ctx: ctx}
	step, err := s.planRepo.GetStepByID(dbc, *recipe.PlanStepID)
	if err != nil || step == nil || step.Status != types.PlanStepStatusRunning {
		return
	}

	if err := s.planRepo.UpdateStepFields(dbc, step.ID, map[string]interface{}{
		"status": types.PlanStepStatusFailed,
		"error":  errorMessage,
	}); err != nil {
		s.log.Error("plan step failure write failed", "step_id", step.ID, "error", err)
		return
	}
	step.Status = types.PlanStepStatusFailed
	step.Error = errorMessage
	s.notify.Broadcast(variant.WorkspaceID, realtime.TypePlanStepUpdated, step)

	s.fail(ctx, step.PlanID, fmt.Sprintf("step %d failed: %s", step.StepIndex, errorMessage))
}

// schedule runs every step whose dependencies are satisfied, looping because
// inline fork steps can unlock further steps in the same pass. It finishes by
// reconciling the plan's status and cursor.
func (s *planService) schedule(ctx context.Context, planID uuid.UUID) {
	for {
		plan, steps, err := s.loadActive(ctx, planID)
		if err != nil {
			s.log.Error("plan schedule load failed", "plan_id", planID, "error", err)
			return
		}
		if plan == nil {
			return
		}

		progressed := false
		for _, step := range steps {
			if step.Status != types.PlanStepStatusPending || !depsSatisfied(step, steps) {
				continue
			}
			didRun, err := s.executeStep(ctx, plan, step, steps)
			if err != nil {
				s.failStep(ctx, plan, step, err)
				return
			}
			if didRun {
				progressed = true
			}
		}

		s.reconcile(ctx, planID)
		if !progressed {
			return
		}
	}
}

func (s *planService) loadActive(ctx context.Context, planID uuid.UUID) (*types.Plan, []*types.PlanStep, error) {
	dbc := dbctx.Context{Ctx: ctx}
	plan, err := s.planRepo.GetPlanByID(dbc, planID)
	if err != nil {
		return nil, nil, err
	}
	if plan == nil || plan.Status != types.PlanStatusActive {
		return nil, nil, nil
	}
	steps, err := s.planRepo.ListStepsByPlan(dbc, planID)
	if err != nil {
		return nil, nil, err
	}
	return plan, steps, nil
}

// executeStep starts one eligible step. Fork steps complete inline and report
// true so the scheduler loops; generation steps go async and stay running
// until the variant listener returns.
func (s *planService) executeStep(ctx context.Context, plan *types.Plan, step *types.PlanStep, all []*types.PlanStep) (bool, error) {
	// Scheduling triggered by executor callbacks carries no user; steps
	// started from that path act as the plan's creator.
	if rd := ctxutil.GetRequestData(ctx); rd == nil || rd.UserID == uuid.Nil {
		ctx = ctxutil.WithRequestData(ctx, &ctxutil.RequestData{UserID: plan.CreatedBy})
	}

	var params PlanStepParams
	if len(step.Params) > 0 {
		if err := json.Unmarshal(step.Params, &params); err != nil {
			return false, fmt.Errorf("step %d params: %w", step.StepIndex, err)
		}
	}

	parents := append([]uuid.UUID{}, params.ParentVariantIDs...)
	for _, idx := range params.FromSteps {
		vid, err := resultVariant(all, idx)
		if err != nil {
			return false, err
		}
		parents = append(parents, vid)
	}

	dbc := dbctx.Context{Ctx: ctx}

	if step.Action == types.OperationFork {
		source := params.SourceVariantID
		if source == nil && len(parents) > 0 {
			source = &parents[0]
		}
		if source == nil {
			return false, fmt.Errorf("fork step %d has no source variant: %w", step.StepIndex, pkgerr.ErrValidation)
		}
		forked, err := s.generation.Fork(ctx, plan.WorkspaceID, *source)
		if err != nil {
			return false, err
		}
		result, _ := json.Marshal(planStepResult{VariantID: forked.ID})
		if err := s.planRepo.UpdateStepFields(dbc, step.ID, map[string]interface{}{
			"status": types.PlanStepStatusCompleted,
			"result": datatypes.JSON(result),
		}); err != nil {
			return false, err
		}
		step.Status = types.PlanStepStatusCompleted
		step.Result = datatypes.JSON(result)
		s.notify.Broadcast(plan.WorkspaceID, realtime.TypePlanStepUpdated, step)
		return true, nil
	}

	if err := s.planRepo.UpdateStepFields(dbc, step.ID, map[string]interface{}{
		"status": types.PlanStepStatusRunning,
	}); err != nil {
		return false, err
	}
	step.Status = types.PlanStepStatusRunning
	s.notify.Broadcast(plan.WorkspaceID, realtime.TypePlanStepUpdated, step)

	_, err := s.generation.Start(ctx, plan.WorkspaceID, StartGenerationInput{
		AssetID:          params.AssetID,
		Prompt:           params.Prompt,
		Operation:        step.Action,
		ParentVariantIDs: parents,
		AspectRatio:      params.AspectRatio,
		PlanStepID:       &step.ID,
	})
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *planService) failStep(ctx context.Context, plan *types.Plan, step *types.PlanStep, cause error) {
	dbc := dbctx.Context{Ctx: ctx}
	if err := s.planRepo.UpdateStepFields(dbc, step.ID, map[string]interface{}{
		"status": types.PlanStepStatusFailed,
		"error":  cause.Error(),
	}); err != nil {
		s.log.Error("plan step failure write failed", "step_id", step.ID, "error", err)
	}
	step.Status = types.PlanStepStatusFailed
	step.Error = cause.Error()
	s.notify.Broadcast(plan.WorkspaceID, realtime.TypePlanStepUpdated, step)

	s.fail(ctx, plan.ID, fmt.Sprintf("step %d failed: %s", step.StepIndex, cause.Error()))
}

// fail is terminal for the whole plan. Pending steps never run and there is
// no partial recovery.
func (s *planService) fail(ctx context.Context, planID uuid.UUID, reason string) {
	var plan *types.Plan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		locked, err := s.planRepo.LockPlanByID(dbc, planID)
		if err != nil {
			return err
		}
		if locked == nil || locked.Terminal() {
			return nil
		}
		if err := s.planRepo.UpdatePlanFields(dbc, locked.ID, map[string]interface{}{
			"status": types.PlanStatusFailed,
			"error":  reason,
		}); err != nil {
			return err
		}
		locked.Status = types.PlanStatusFailed
		locked.Error = reason
		plan = locked
		return nil
	})
	if err != nil {
		s.log.Error("plan failure write failed", "plan_id", planID, "error", err)
		return
	}
	if plan != nil {
		s.notify.Broadcast(plan.WorkspaceID, realtime.TypePlanUpdated, plan)
	}
}

// reconcile recomputes the cursor and remaining-step count, then settles the
// plan's status: completed when nothing remains, active while a step runs,
// paused when eligible work awaits the next resume.
func (s *planService) reconcile(ctx context.Context, planID uuid.UUID) {
	var plan *types.Plan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		locked, err := s.planRepo.LockPlanByID(dbc, planID)
		if err != nil || locked == nil || locked.Terminal() {
			return err
		}
		steps, err := s.planRepo.ListStepsByPlan(dbc, planID)
		if err != nil {
			return err
		}

		cursor := len(steps)
		remaining := 0
		running := false
		for _, step := range steps {
			if step.Status == types.PlanStepStatusCompleted {
				continue
			}
			remaining++
			if step.Status == types.PlanStepStatusRunning {
				running = true
			}
			if step.StepIndex < cursor {
				cursor = step.StepIndex
			}
		}

		status := types.PlanStatusPaused
		switch {
		case remaining == 0:
			status = types.PlanStatusCompleted
		case running:
			status = types.PlanStatusActive
		}

		if status == locked.Status && cursor == locked.CurrentStepIndex && remaining == locked.ActiveStepCount {
			return nil
		}
		if err := s.planRepo.UpdatePlanFields(dbc, locked.ID, map[string]interface{}{
			"status":             status,
			"current_step_index": cursor,
			"active_step_count":  remaining,
		}); err != nil {
			return err
		}
		locked.Status = status
		locked.CurrentStepIndex = cursor
		locked.ActiveStepCount = remaining
		plan = locked
		return nil
	})
	if err != nil {
		s.log.Error("plan reconcile failed", "plan_id", planID, "error", err)
		return
	}
	if plan != nil {
		s.notify.Broadcast(plan.WorkspaceID, realtime.TypePlanUpdated, plan)
	}
}

func depsSatisfied(step *types.PlanStep, all []*types.PlanStep) bool {
	deps := decodeDeps(step.DependsOn)
	for _, idx := range deps {
		found := false
		for _, other := range all {
			if other.StepIndex == idx {
				found = other.Status == types.PlanStepStatusCompleted
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func decodeDeps(raw datatypes.JSON) []int {
	if len(raw) == 0 {
		return nil
	}
	var deps []int
	if err := json.Unmarshal(raw, &deps); err != nil {
		return nil
	}
	return deps
}

func resultVariant(all []*types.PlanStep, stepIndex int) (uuid.UUID, error) {
	for _, step := range all {
		if step.StepIndex != stepIndex {
			continue
		}
		var res planStepResult
		if err := json.Unmarshal(step.Result, &res); err != nil || res.VariantID == uuid.Nil {
			return uuid.Nil, fmt.Errorf("step %d has no result variant: %w", stepIndex, pkgerr.ErrValidation)
		}
		return res.VariantID, nil
	}
	return uuid.Nil, fmt.Errorf("step %d not found: %w", stepIndex, pkgerr.ErrNotFound)
}
