package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/ctxutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/realtime"
)

const sheetCellSize = 512

type StartRotationInput struct {
	AssetID         uuid.UUID `json:"asset_id"`
	SourceVariantID uuid.UUID `json:"source_variant_id"`
	Config          string    `json:"config"`
	Mode            string    `json:"mode"`
}

// RotationService drives multi-view generation for a source variant. In
// sequential mode each directional view is its own generation run chained off
// the previous completion; in sheet mode one run produces a grid that is
// sliced into per-view variants on completion. Progress advances through
// variant listeners, never through direct calls from the executor.
type RotationService interface {
	Start(ctx context.Context, workspaceID uuid.UUID, in StartRotationInput) (*types.RotationSet, error)
	Cancel(ctx context.Context, workspaceID, setID uuid.UUID) (*types.RotationSet, error)
	Get(ctx context.Context, workspaceID, setID uuid.UUID) (*types.RotationSet, []*types.RotationView, error)

	HandleVariantCompleted(ctx context.Context, variant *types.Variant, recipe types.Recipe)
	HandleVariantFailed(ctx context.Context, variant *types.Variant, recipe types.Recipe, errorMessage string)
}

type rotationService struct {
	db           *gorm.DB
	log          *logger.Logger
	rotationRepo repos.RotationRepo
	variantRepo  repos.VariantRepo
	lineageRepo  repos.LineageRepo
	media        MediaService
	generation   GenerationService
	notify       Notifier
}

func NewRotationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	rotationRepo repos.RotationRepo,
	variantRepo repos.VariantRepo,
	lineageRepo repos.LineageRepo,
	media MediaService,
	generation GenerationService,
	notify Notifier,
) RotationService {
	return &rotationService{
		db:           db,
		log:          baseLog.With("service", "RotationService"),
		rotationRepo: rotationRepo,
		variantRepo:  variantRepo,
		lineageRepo:  lineageRepo,
		media:        media,
		generation:   generation,
		notify:       notify,
	}
}

func (s *rotationService) Start(ctx context.Context, workspaceID uuid.UUID, in StartRotationInput) (*types.RotationSet, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated: %w", pkgerr.ErrPermission)
	}
	switch in.Config {
	case types.RotationConfig4, types.RotationConfig8:
	default:
		return nil, fmt.Errorf("unknown rotation config %q: %w", in.Config, pkgerr.ErrValidation)
	}
	switch in.Mode {
	case types.RotationModeSequential, types.RotationModeSheet:
	default:
		return nil, fmt.Errorf("unknown rotation mode %q: %w", in.Mode, pkgerr.ErrValidation)
	}

	directions := types.DirectionsForConfig(in.Config)

	var (
		set    *types.RotationSet
		source *types.Variant
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		src, err := s.variantRepo.GetByID(dbc, in.SourceVariantID)
		if err != nil {
			return err
		}
		if src == nil || src.WorkspaceID != workspaceID || src.AssetID != in.AssetID {
			return fmt.Errorf("source variant %s: %w", in.SourceVariantID, pkgerr.ErrNotFound)
		}
		if src.Status != types.VariantStatusCompleted {
			return fmt.Errorf("source variant %s is not completed: %w", src.ID, pkgerr.ErrValidation)
		}
		source = src

		totalSteps := len(directions)
		if in.Mode == types.RotationModeSheet {
			totalSteps = 1
		}
		set, err = s.rotationRepo.CreateSet(dbc, &types.RotationSet{
			ID:              uuid.New(),
			WorkspaceID:     workspaceID,
			AssetID:         in.AssetID,
			SourceVariantID: src.ID,
			Config:          in.Config,
			Mode:            in.Mode,
			TotalSteps:      totalSteps,
			CurrentStep:     0,
			Status:          types.RotationStatusGenerating,
			CreatedBy:       rd.UserID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify.Broadcast(workspaceID, realtime.TypeRotationCreated, set)

	if in.Mode == types.RotationModeSheet {
		err = s.dispatchSheet(ctx, set, source, directions)
	} else {
		err = s.dispatchStep(ctx, set, source, directions, 0, nil)
	}
	if err != nil {
		s.failSet(ctx, set, err.Error())
		return set, err
	}
	return set, nil
}

// Cancel stops a generating set. In-flight runs are left to finish; their
// completions arrive against a terminal set and extend nothing.
func (s *rotationService) Cancel(ctx context.Context, workspaceID, setID uuid.UUID) (*types.RotationSet, error) {
	var (
		cancelled *types.RotationSet
		changed   bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		set, err := s.rotationRepo.LockSetByID(dbc, setID)
		if err != nil {
			return err
		}
		if set == nil || set.WorkspaceID != workspaceID {
			return fmt.Errorf("rotation set %s: %w", setID, pkgerr.ErrNotFound)
		}
		if set.Terminal() {
			cancelled = set
			return nil
		}
		if err := s.rotationRepo.UpdateSetFields(dbc, set.ID, map[string]interface{}{
			"status": types.RotationStatusCancelled,
		}); err != nil {
			return err
		}
		set.Status = types.RotationStatusCancelled
		cancelled = set
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notify.Broadcast(workspaceID, realtime.TypeRotationUpdated, cancelled)
	}
	return cancelled, nil
}

func (s *rotationService) Get(ctx context.Context, workspaceID, setID uuid.UUID) (*types.RotationSet, []*types.RotationView, error) {
	dbc := dbctx.Context{Ctx: ctx}
	set, err := s.rotationRepo.GetSetByID(dbc, setID)
	if err != nil {
		return nil, nil, err
	}
	if set == nil || set.WorkspaceID != workspaceID {
		return nil, nil, fmt.Errorf("rotation set %s: %w", setID, pkgerr.ErrNotFound)
	}
	views, err := s.rotationRepo.ListViewsBySet(dbc, setID)
	if err != nil {
		return nil, nil, err
	}
	return set, views, nil
}

// HandleVariantCompleted advances the owning set when a rotation-tagged
// variant completes. Completions against terminal sets are dropped.
func (s *rotationService) HandleVariantCompleted(ctx context.Context, variant *types.Variant, recipe types.Recipe) {
	if recipe.RotationSetID == nil {
		return
	}
	setID := *recipe.RotationSetID

	set, err := s.rotationRepo.GetSetByID(dbctx.Context{Ctx: ctx}, setID)
	if err != nil || set == nil {
		if err != nil {
			s.log.Error("rotation set load failed", "set_id", setID, "error", err)
		}
		return
	}
	if set.Terminal() {
		s.log.Info("dropping completion for terminal rotation set", "set_id", setID, "status", set.Status, "variant_id", variant.ID)
		return
	}

	if set.Mode == types.RotationModeSheet {
		if err := s.materializeSheet(ctx, set, variant, recipe); err != nil {
			s.log.Error("sheet materialization failed", "set_id", setID, "error", err)
			s.failSet(ctx, set, "sheet slicing failed: "+err.Error())
		}
		return
	}

	s.advanceSequential(ctx, set, variant)
}

func (s *rotationService) HandleVariantFailed(ctx context.Context, variant *types.Variant, recipe types.Recipe, errorMessage string) {
	if recipe.RotationSetID == nil {
		return
	}
	set, err := s.rotationRepo.GetSetByID(dbctx.Context{Ctx: ctx}, *recipe.RotationSetID)
	if err != nil || set == nil || set.Terminal() {
		return
	}
	s.failSet(ctx, set, errorMessage)
}

// dispatchStep starts the generation run for one directional view and binds
// it to the set with a view row. Reference order matters: the source variant
// leads, the first completed view anchors style, later views follow; the
// provider cap trims from the tail so the anchors survive.
func (s *rotationService) dispatchStep(ctx context.Context, set *types.RotationSet, source *types.Variant, directions []string, stepIndex int, priorViews []*types.RotationView) error {
	// Steps after the first are dispatched from executor callbacks, which
	// carry no user. Later runs act as the set's creator.
	if rd := ctxutil.GetRequestData(ctx); rd == nil || rd.UserID == uuid.Nil {
		ctx = ctxutil.WithRequestData(ctx, &ctxutil.RequestData{UserID: set.CreatedBy})
	}

	parents := []uuid.UUID{source.ID}
	for _, v := range priorViews {
		parents = append(parents, v.VariantID)
	}

	direction := directions[stepIndex]
	srcRecipe, err := types.ParseRecipe(source.Recipe)
	if err != nil {
		return err
	}

	variant, err := s.generation.Start(ctx, set.WorkspaceID, StartGenerationInput{
		AssetID:          set.AssetID,
		Prompt:           directionalPrompt(srcRecipe.Prompt, direction),
		Operation:        types.OperationDerive,
		ParentVariantIDs: parents,
		AspectRatio:      srcRecipe.AspectRatio,
		RotationSetID:    &set.ID,
	})
	if err != nil {
		return err
	}

	_, err = s.rotationRepo.CreateViews(dbctx.Context{Ctx: ctx}, []*types.RotationView{{
		RotationSetID: set.ID,
		StepIndex:     stepIndex,
		VariantID:     variant.ID,
		Direction:     direction,
	}})
	return err
}

func (s *rotationService) advanceSequential(ctx context.Context, set *types.RotationSet, completed *types.Variant) {
	var (
		updated  *types.RotationSet
		source   *types.Variant
		views    []*types.RotationView
		finished bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		locked, err := s.rotationRepo.LockSetByID(dbc, set.ID)
		if err != nil {
			return err
		}
		if locked == nil || locked.Terminal() {
			return nil
		}

		next := locked.CurrentStep + 1
		updates := map[string]interface{}{"current_step": next}
		if next >= locked.TotalSteps {
			updates["status"] = types.RotationStatusCompleted
			finished = true
		}
		if err := s.rotationRepo.UpdateSetFields(dbc, locked.ID, updates); err != nil {
			return err
		}
		locked.CurrentStep = next
		if finished {
			locked.Status = types.RotationStatusCompleted
		}
		updated = locked

		if !finished {
			source, err = s.variantRepo.GetByID(dbc, locked.SourceVariantID)
			if err != nil {
				return err
			}
			views, err = s.rotationRepo.ListViewsBySet(dbc, locked.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error("rotation advance failed", "set_id", set.ID, "error", err)
		return
	}
	if updated == nil {
		return
	}

	s.notify.Broadcast(updated.WorkspaceID, realtime.TypeRotationUpdated, updated)

	if finished || source == nil {
		return
	}
	if err := s.dispatchStep(ctx, updated, source, types.DirectionsForConfig(updated.Config), updated.CurrentStep, views); err != nil {
		s.log.Error("rotation step dispatch failed", "set_id", updated.ID, "step", updated.CurrentStep, "error", err)
		s.failSet(ctx, updated, err.Error())
	}
}

// materializeSheet slices the delivered grid into per-direction variants,
// each completed immediately with its own stored image, and closes the set.
func (s *rotationService) materializeSheet(ctx context.Context, set *types.RotationSet, sheetVariant *types.Variant, recipe types.Recipe) error {
	directions := types.DirectionsForConfig(set.Config)
	layout := recipe.Sheet
	if layout == nil {
		return fmt.Errorf("sheet variant %s has no layout", sheetVariant.ID)
	}

	sheet, err := s.media.FetchImage(ctx, sheetVariant.ImageRef)
	if err != nil {
		return err
	}
	cells, err := s.media.SliceSheet(ctx, sheet, *layout)
	if err != nil {
		return err
	}
	if len(cells) < len(directions) {
		return fmt.Errorf("sheet produced %d cells for %d directions", len(cells), len(directions))
	}

	type stored struct {
		id       uuid.UUID
		imageRef string
		thumbRef string
	}
	storedCells := make([]stored, len(directions))
	for i := range directions {
		id := uuid.New()
		imageRef, thumbRef, err := s.media.StoreVariantImage(ctx, id, cells[i])
		if err != nil {
			return err
		}
		storedCells[i] = stored{id: id, imageRef: imageRef, thumbRef: thumbRef}
	}

	var (
		variants []*types.Variant
		edges    []*types.LineageEdge
		views    []*types.RotationView
		updated  *types.RotationSet
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		locked, err := s.rotationRepo.LockSetByID(dbc, set.ID)
		if err != nil {
			return err
		}
		if locked == nil || locked.Terminal() {
			return nil
		}

		for i, direction := range directions {
			cell := storedCells[i]
			cellRecipe := types.Recipe{
				Version:          types.RecipeVersion,
				Prompt:           directionalPrompt(recipe.Prompt, direction),
				Operation:        types.OperationDerive,
				SourceImageRefs:  []string{sheetVariant.ImageRef},
				ParentVariantIDs: []uuid.UUID{sheetVariant.ID},
			}
			raw, err := cellRecipe.Marshal()
			if err != nil {
				return err
			}
			variants = append(variants, &types.Variant{
				ID:          cell.id,
				WorkspaceID: locked.WorkspaceID,
				AssetID:     locked.AssetID,
				Status:      types.VariantStatusCompleted,
				ImageRef:    cell.imageRef,
				ThumbRef:    cell.thumbRef,
				Recipe:      raw,
				CreatedBy:   locked.CreatedBy,
			})
			edges = append(edges, &types.LineageEdge{
				WorkspaceID:     locked.WorkspaceID,
				ParentVariantID: sheetVariant.ID,
				ChildVariantID:  cell.id,
				RelationType:    types.RelationDerived,
			})
			views = append(views, &types.RotationView{
				RotationSetID: locked.ID,
				StepIndex:     i,
				VariantID:     cell.id,
				Direction:     direction,
			})
		}

		if variants, err = s.variantRepo.Create(dbc, variants); err != nil {
			return err
		}
		if edges, err = s.lineageRepo.Create(dbc, edges); err != nil {
			return err
		}
		if views, err = s.rotationRepo.CreateViews(dbc, views); err != nil {
			return err
		}
		if err := s.rotationRepo.UpdateSetFields(dbc, locked.ID, map[string]interface{}{
			"current_step": locked.TotalSteps,
			"status":       types.RotationStatusCompleted,
		}); err != nil {
			return err
		}
		locked.CurrentStep = locked.TotalSteps
		locked.Status = types.RotationStatusCompleted
		updated = locked
		return nil
	})
	if err != nil {
		return err
	}
	if updated == nil {
		return nil
	}

	for i := range variants {
		s.notify.Broadcast(updated.WorkspaceID, realtime.TypeVariantCreated, variants[i])
		s.notify.Broadcast(updated.WorkspaceID, realtime.TypeLineageCreated, edges[i])
	}
	s.notify.Broadcast(updated.WorkspaceID, realtime.TypeRotationUpdated, updated)
	return nil
}

func (s *rotationService) failSet(ctx context.Context, set *types.RotationSet, errorMessage string) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		locked, err := s.rotationRepo.LockSetByID(dbc, set.ID)
		if err != nil {
			return err
		}
		if locked == nil || locked.Terminal() {
			return nil
		}
		return s.rotationRepo.UpdateSetFields(dbc, locked.ID, map[string]interface{}{
			"status": types.RotationStatusFailed,
			"error":  errorMessage,
		})
	})
	if err != nil {
		s.log.Error("rotation set fail write lost", "set_id", set.ID, "error", err)
		return
	}
	set.Status = types.RotationStatusFailed
	set.Error = errorMessage
	s.notify.Broadcast(set.WorkspaceID, realtime.TypeRotationUpdated, set)
}

// dispatchSheet issues the single grid run for sheet mode.
func (s *rotationService) dispatchSheet(ctx context.Context, set *types.RotationSet, source *types.Variant, directions []string) error {
	srcRecipe, err := types.ParseRecipe(source.Recipe)
	if err != nil {
		return err
	}
	rows, cols := sheetGrid(len(directions))
	_, err = s.generation.Start(ctx, set.WorkspaceID, StartGenerationInput{
		AssetID:          set.AssetID,
		Prompt:           sheetPrompt(srcRecipe.Prompt, directions, rows, cols),
		Operation:        types.OperationDerive,
		ParentVariantIDs: []uuid.UUID{source.ID},
		RotationSetID:    &set.ID,
		Sheet: &types.SheetLayout{
			Rows:     rows,
			Cols:     cols,
			CellSize: sheetCellSize,
		},
	})
	return err
}

func sheetGrid(n int) (rows, cols int) {
	if n <= 4 {
		return 2, 2
	}
	return 2, 4
}

var directionNames = map[string]string{
	"S":  "front (facing south)",
	"SE": "front-right three-quarter (facing south-east)",
	"E":  "right profile (facing east)",
	"NE": "back-right three-quarter (facing north-east)",
	"N":  "back (facing north)",
	"NW": "back-left three-quarter (facing north-west)",
	"W":  "left profile (facing west)",
	"SW": "front-left three-quarter (facing south-west)",
}

func directionalPrompt(basePrompt, direction string) string {
	name := directionNames[direction]
	if name == "" {
		name = direction
	}
	return fmt.Sprintf("%s. Same character and style as the reference images, %s view, consistent proportions and palette.", strings.TrimRight(basePrompt, ". "), name)
}

func sheetPrompt(basePrompt string, directions []string, rows, cols int) string {
	names := make([]string, len(directions))
	for i, d := range directions {
		n := directionNames[d]
		if n == "" {
			n = d
		}
		names[i] = n
	}
	return fmt.Sprintf(
		"%s. A %dx%d sprite rotation sheet of the same character as the reference image, one view per cell in row-major order: %s. Uniform cell size, consistent style and palette, plain background.",
		strings.TrimRight(basePrompt, ". "), rows, cols, strings.Join(names, "; "))
}
