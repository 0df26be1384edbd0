package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/spriteforge/spriteforge-backend/internal/clients/openai"
	"github.com/spriteforge/spriteforge-backend/internal/data/repos"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/ctxutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/realtime"
	"github.com/spriteforge/spriteforge-backend/internal/tasks"
)

type StartGenerationInput struct {
	AssetID   uuid.UUID `json:"asset_id"`
	Prompt    string    `json:"prompt"`
	Operation string    `json:"operation"`

	ParentVariantIDs []uuid.UUID `json:"parent_variant_ids,omitempty"`

	// RefAssetIDs name assets whose currently-active variant joins the
	// parent set, resolved at start time inside the same transaction.
	RefAssetIDs []uuid.UUID `json:"ref_asset_ids,omitempty"`

	AspectRatio string `json:"aspect_ratio,omitempty"`

	PlanStepID    *uuid.UUID         `json:"plan_step_id,omitempty"`
	RotationSetID *uuid.UUID         `json:"rotation_set_id,omitempty"`
	Sheet         *types.SheetLayout `json:"sheet,omitempty"`

	// ExtraSourceRefs augments the refs resolved from parent variants, for
	// flows that inject anchors beyond direct parents.
	ExtraSourceRefs []string `json:"extra_source_refs,omitempty"`
}

// GenerationService starts generation runs: it writes the placeholder variant
// and lineage edges in one transaction, then hands the work to the external
// executor. An accepted dispatch moves the variant to processing. The variant
// id doubles as the task id, so a crashed dispatch can be retried without
// orphaning state.
type GenerationService interface {
	Start(ctx context.Context, workspaceID uuid.UUID, in StartGenerationInput) (*types.Variant, error)
	Retry(ctx context.Context, workspaceID, variantID uuid.UUID) (*types.Variant, error)
	Fork(ctx context.Context, workspaceID, sourceVariantID uuid.UUID) (*types.Variant, error)
}

type generationService struct {
	db          *gorm.DB
	log         *logger.Logger
	assetRepo   repos.AssetRepo
	variantRepo repos.VariantRepo
	lineageRepo repos.LineageRepo
	quota       QuotaService
	executor    tasks.Executor
	notify      Notifier
}

func NewGenerationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	assetRepo repos.AssetRepo,
	variantRepo repos.VariantRepo,
	lineageRepo repos.LineageRepo,
	quota QuotaService,
	executor tasks.Executor,
	notify Notifier,
) GenerationService {
	return &generationService{
		db:          db,
		log:         baseLog.With("service", "GenerationService"),
		assetRepo:   assetRepo,
		variantRepo: variantRepo,
		lineageRepo: lineageRepo,
		quota:       quota,
		executor:    executor,
		notify:      notify,
	}
}

func (s *generationService) Start(ctx context.Context, workspaceID uuid.UUID, in StartGenerationInput) (*types.Variant, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated: %w", pkgerr.ErrPermission)
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required: %w", pkgerr.ErrValidation)
	}
	refInputs := len(in.ParentVariantIDs) + len(in.RefAssetIDs)
	switch in.Operation {
	case types.OperationGenerate:
		if refInputs != 0 {
			return nil, fmt.Errorf("generate takes no reference inputs: %w", pkgerr.ErrValidation)
		}
	case types.OperationDerive, types.OperationRefine:
		if refInputs == 0 {
			return nil, fmt.Errorf("%s requires at least one reference input: %w", in.Operation, pkgerr.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("unknown operation %q: %w", in.Operation, pkgerr.ErrValidation)
	}

	if err := s.quota.Precheck(ctx, rd.UserID, QuotaServiceGeneration); err != nil {
		return nil, err
	}

	var (
		created *types.Variant
		edges   []*types.LineageEdge
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		asset, err := s.assetRepo.GetByID(dbc, in.AssetID)
		if err != nil {
			return err
		}
		if asset == nil || asset.WorkspaceID != workspaceID {
			return fmt.Errorf("asset %s: %w", in.AssetID, pkgerr.ErrNotFound)
		}

		parentIDs, err := s.resolveAssetRefs(dbc, workspaceID, in.ParentVariantIDs, in.RefAssetIDs)
		if err != nil {
			return err
		}

		sourceRefs, err := s.resolveSourceRefs(dbc, workspaceID, parentIDs, in.ExtraSourceRefs)
		if err != nil {
			return err
		}

		variantID := uuid.New()
		recipe := types.Recipe{
			Version:          types.RecipeVersion,
			Prompt:           prompt,
			Operation:        in.Operation,
			SourceImageRefs:  sourceRefs,
			ParentVariantIDs: parentIDs,
			AspectRatio:      in.AspectRatio,
			PlanStepID:       in.PlanStepID,
			RotationSetID:    in.RotationSetID,
			Sheet:            in.Sheet,
		}
		raw, err := recipe.Marshal()
		if err != nil {
			return err
		}

		rows, err := s.variantRepo.Create(dbc, []*types.Variant{{
			ID:          variantID,
			WorkspaceID: workspaceID,
			AssetID:     asset.ID,
			Status:      types.VariantStatusPending,
			Recipe:      raw,
			SagaTaskID:  variantID.String(),
			CreatedBy:   rd.UserID,
		}})
		if err != nil {
			return err
		}
		created = rows[0]

		relation := types.RelationForOperation(in.Operation)
		for _, parentID := range parentIDs {
			edges = append(edges, &types.LineageEdge{
				WorkspaceID:     workspaceID,
				ParentVariantID: parentID,
				ChildVariantID:  variantID,
				RelationType:    relation,
			})
		}
		edges, err = s.lineageRepo.Create(dbc, edges)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify.Broadcast(workspaceID, realtime.TypeVariantCreated, created)
	for _, e := range edges {
		s.notify.Broadcast(workspaceID, realtime.TypeLineageCreated, e)
	}

	if err := s.dispatch(ctx, created, prompt, in.Operation); err != nil {
		return created, err
	}
	return created, nil
}

// Retry re-dispatches a failed variant from its stored recipe. The recipe is
// the source of truth, so the replayed request matches the original exactly.
func (s *generationService) Retry(ctx context.Context, workspaceID, variantID uuid.UUID) (*types.Variant, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated: %w", pkgerr.ErrPermission)
	}
	if err := s.quota.Precheck(ctx, rd.UserID, QuotaServiceGeneration); err != nil {
		return nil, err
	}

	var retried *types.Variant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		v, err := s.variantRepo.LockByID(dbc, variantID)
		if err != nil {
			return err
		}
		if v == nil || v.WorkspaceID != workspaceID {
			return fmt.Errorf("variant %s: %w", variantID, pkgerr.ErrNotFound)
		}
		if v.Status != types.VariantStatusFailed {
			return fmt.Errorf("variant %s is %s, only failed variants retry: %w", v.ID, v.Status, pkgerr.ErrValidation)
		}
		if err := s.variantRepo.UpdateFields(dbc, v.ID, map[string]interface{}{
			"status": types.VariantStatusPending,
			"error":  "",
		}); err != nil {
			return err
		}
		v.Status = types.VariantStatusPending
		v.Error = ""
		retried = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify.Broadcast(workspaceID, realtime.TypeVariantUpdated, retried)

	recipe, err := types.ParseRecipe(retried.Recipe)
	if err != nil {
		return retried, err
	}
	if err := s.dispatch(ctx, retried, recipe.Prompt, recipe.Operation); err != nil {
		return retried, err
	}
	return retried, nil
}

// Fork copies a completed variant into a new completed variant that shares
// the source's image. No executor round trip; the fork exists so divergent
// edit lines get their own lineage node.
func (s *generationService) Fork(ctx context.Context, workspaceID, sourceVariantID uuid.UUID) (*types.Variant, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated: %w", pkgerr.ErrPermission)
	}

	var (
		forked *types.Variant
		edge   *types.LineageEdge
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		src, err := s.variantRepo.GetByID(dbc, sourceVariantID)
		if err != nil {
			return err
		}
		if src == nil || src.WorkspaceID != workspaceID {
			return fmt.Errorf("variant %s: %w", sourceVariantID, pkgerr.ErrNotFound)
		}
		if src.Status != types.VariantStatusCompleted {
			return fmt.Errorf("variant %s is not completed: %w", src.ID, pkgerr.ErrValidation)
		}

		srcRecipe, err := types.ParseRecipe(src.Recipe)
		if err != nil {
			return err
		}

		variantID := uuid.New()
		recipe := types.Recipe{
			Version:          types.RecipeVersion,
			Prompt:           srcRecipe.Prompt,
			Operation:        types.OperationFork,
			SourceImageRefs:  []string{src.ImageRef},
			ParentVariantIDs: []uuid.UUID{src.ID},
			AspectRatio:      srcRecipe.AspectRatio,
		}
		raw, err := recipe.Marshal()
		if err != nil {
			return err
		}

		rows, err := s.variantRepo.Create(dbc, []*types.Variant{{
			ID:          variantID,
			WorkspaceID: workspaceID,
			AssetID:     src.AssetID,
			Status:      types.VariantStatusCompleted,
			ImageRef:    src.ImageRef,
			ThumbRef:    src.ThumbRef,
			Recipe:      raw,
			CreatedBy:   rd.UserID,
		}})
		if err != nil {
			return err
		}
		forked = rows[0]

		createdEdges, err := s.lineageRepo.Create(dbc, []*types.LineageEdge{{
			WorkspaceID:     workspaceID,
			ParentVariantID: src.ID,
			ChildVariantID:  variantID,
			RelationType:    types.RelationForked,
		}})
		if err != nil {
			return err
		}
		edge = createdEdges[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify.Broadcast(workspaceID, realtime.TypeVariantCreated, forked)
	s.notify.Broadcast(workspaceID, realtime.TypeLineageCreated, edge)
	return forked, nil
}

// resolveAssetRefs expands asset references into their active variant ids
// and appends them to the explicit parent list, deduplicated. An asset with
// no active variant cannot anchor a generation.
func (s *generationService) resolveAssetRefs(dbc dbctx.Context, workspaceID uuid.UUID, parentIDs, refAssetIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(refAssetIDs) == 0 {
		return parentIDs, nil
	}

	resolved := append([]uuid.UUID(nil), parentIDs...)
	seen := map[uuid.UUID]bool{}
	for _, id := range resolved {
		seen[id] = true
	}
	for _, assetID := range refAssetIDs {
		ref, err := s.assetRepo.GetByID(dbc, assetID)
		if err != nil {
			return nil, err
		}
		if ref == nil || ref.WorkspaceID != workspaceID {
			return nil, fmt.Errorf("asset %s: %w", assetID, pkgerr.ErrNotFound)
		}
		if ref.ActiveVariantID == nil {
			return nil, fmt.Errorf("asset %s has no active variant: %w", assetID, pkgerr.ErrValidation)
		}
		if !seen[*ref.ActiveVariantID] {
			seen[*ref.ActiveVariantID] = true
			resolved = append(resolved, *ref.ActiveVariantID)
		}
	}
	return resolved, nil
}

// resolveSourceRefs turns parent variant ids into image refs and appends any
// extras, deduplicated, capped at the provider's reference limit with the
// earliest entries kept.
func (s *generationService) resolveSourceRefs(dbc dbctx.Context, workspaceID uuid.UUID, parentIDs []uuid.UUID, extras []string) ([]string, error) {
	var refs []string
	seen := map[string]bool{}

	if len(parentIDs) > 0 {
		parents, err := s.variantRepo.GetByIDs(dbc, parentIDs)
		if err != nil {
			return nil, err
		}
		byID := make(map[uuid.UUID]*types.Variant, len(parents))
		for _, p := range parents {
			byID[p.ID] = p
		}
		for _, id := range parentIDs {
			p := byID[id]
			if p == nil || p.WorkspaceID != workspaceID {
				return nil, fmt.Errorf("parent variant %s: %w", id, pkgerr.ErrNotFound)
			}
			if p.Status != types.VariantStatusCompleted {
				return nil, fmt.Errorf("parent variant %s is not completed: %w", id, pkgerr.ErrValidation)
			}
			if p.ImageRef != "" && !seen[p.ImageRef] {
				seen[p.ImageRef] = true
				refs = append(refs, p.ImageRef)
			}
		}
	}

	for _, ref := range extras {
		ref = strings.TrimSpace(ref)
		if ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}

	if len(refs) > openai.MaxReferenceImages {
		refs = refs[:openai.MaxReferenceImages]
	}
	return refs, nil
}

func (s *generationService) dispatch(ctx context.Context, v *types.Variant, prompt, operation string) error {
	recipe, err := types.ParseRecipe(v.Recipe)
	if err != nil {
		return err
	}
	payload := tasks.Payload{
		VariantID:       v.ID,
		WorkspaceID:     v.WorkspaceID,
		Prompt:          prompt,
		Operation:       operation,
		SourceImageRefs: recipe.SourceImageRefs,
		Size:            sizeForAspect(recipe.AspectRatio),
	}
	if err := s.executor.Dispatch(ctx, v.ID, payload); err != nil {
		s.log.Error("dispatch failed; failing variant", "variant_id", v.ID, "error", err)
		s.failAfterDispatch(ctx, v, err)
		return fmt.Errorf("dispatch generation: %w", pkgerr.ErrExternalTask)
	}
	s.markProcessing(ctx, v)
	return nil
}

// markProcessing records that the executor accepted the task. A fast
// completion callback can land before this write; the guarded update never
// moves a finished variant backwards.
func (s *generationService) markProcessing(ctx context.Context, v *types.Variant) {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		cur, err := s.variantRepo.LockByID(dbc, v.ID)
		if err != nil {
			return err
		}
		if cur == nil || cur.Status != types.VariantStatusPending {
			return nil
		}
		if err := s.variantRepo.UpdateFields(dbc, v.ID, map[string]interface{}{
			"status": types.VariantStatusProcessing,
		}); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		s.log.Error("failed to record processing transition", "variant_id", v.ID, "error", err)
		return
	}
	if changed {
		v.Status = types.VariantStatusProcessing
		s.notify.Broadcast(v.WorkspaceID, realtime.TypeVariantUpdated, v)
	}
}

// failAfterDispatch marks the variant failed when the executor never accepted
// the task. This path bypasses listeners on purpose; nothing downstream
// started.
func (s *generationService) failAfterDispatch(ctx context.Context, v *types.Variant, cause error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		return s.variantRepo.UpdateFields(dbc, v.ID, map[string]interface{}{
			"status": types.VariantStatusFailed,
			"error":  "dispatch failed: " + cause.Error(),
		})
	})
	if err != nil {
		s.log.Error("failed to record dispatch failure", "variant_id", v.ID, "error", err)
		return
	}
	v.Status = types.VariantStatusFailed
	v.Error = "dispatch failed: " + cause.Error()
	s.notify.Broadcast(v.WorkspaceID, realtime.TypeVariantUpdated, v)
}

func sizeForAspect(aspect string) string {
	switch aspect {
	case "", "1:1":
		return "1024x1024"
	case "3:2", "16:9", "landscape":
		return "1536x1024"
	case "2:3", "9:16", "portrait":
		return "1024x1536"
	default:
		return "1024x1024"
	}
}
