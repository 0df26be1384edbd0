package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos/testutil"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
)

// completeLastDispatched plays the executor: it completes the most recently
// dispatched variant, which feeds the completion back through the listeners.
func completeLastDispatched(t *testing.T, e *env, n int) {
	t.Helper()
	dispatched := e.executor.dispatched()
	if len(dispatched) != n {
		t.Fatalf("expected %d dispatches so far, got %d", n, len(dispatched))
	}
	p := dispatched[len(dispatched)-1]
	ref := fmt.Sprintf("image/variants/%s.png", p.VariantID)
	if err := e.variants.Complete(context.Background(), p.WorkspaceID, p.VariantID, ref, ""); err != nil {
		t.Fatalf("complete dispatched variant: %v", err)
	}
}

func TestRotationSequentialFourDirections(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)
	source := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)

	ctx := testutil.Ctx(owner)
	set, err := e.rotation.Start(ctx, ws.ID, StartRotationInput{
		AssetID:         asset.ID,
		SourceVariantID: source.ID,
		Config:          types.RotationConfig4,
		Mode:            types.RotationModeSequential,
	})
	if err != nil {
		t.Fatalf("start rotation: %v", err)
	}
	if set.TotalSteps != 4 || set.Status != types.RotationStatusGenerating {
		t.Fatalf("unexpected set after start: %+v", set)
	}

	// Each completion chains the next directional run.
	for step := 1; step <= 4; step++ {
		completeLastDispatched(t, e, step)
	}

	final, views, err := e.rotation.Get(ctx, ws.ID, set.ID)
	if err != nil {
		t.Fatalf("get set: %v", err)
	}
	if final.Status != types.RotationStatusCompleted || final.CurrentStep != 4 {
		t.Fatalf("set should be completed after four views: %+v", final)
	}
	if len(views) != 4 {
		t.Fatalf("expected 4 views, got %d", len(views))
	}
	wantDirs := []string{"S", "E", "N", "W"}
	for i, v := range views {
		if v.StepIndex != i || v.Direction != wantDirs[i] {
			t.Fatalf("view %d: want direction %q at index %d, got %+v", i, wantDirs[i], i, v)
		}
	}

	// The first run references only the source; later runs add completed views.
	dispatched := e.executor.dispatched()
	if len(dispatched[0].SourceImageRefs) != 1 {
		t.Fatalf("step 0 should reference only the source: %v", dispatched[0].SourceImageRefs)
	}
	if len(dispatched[1].SourceImageRefs) != 2 {
		t.Fatalf("step 1 should reference source and first view: %v", dispatched[1].SourceImageRefs)
	}
	if dispatched[1].SourceImageRefs[0] != source.ImageRef {
		t.Fatalf("source must stay the leading reference: %v", dispatched[1].SourceImageRefs)
	}
}

func TestRotationStepFailureFailsSet(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)
	source := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)

	ctx := testutil.Ctx(owner)
	set, err := e.rotation.Start(ctx, ws.ID, StartRotationInput{
		AssetID:         asset.ID,
		SourceVariantID: source.ID,
		Config:          types.RotationConfig4,
		Mode:            types.RotationModeSequential,
	})
	if err != nil {
		t.Fatalf("start rotation: %v", err)
	}

	dispatched := e.executor.dispatched()
	if err := e.variants.Fail(context.Background(), ws.ID, dispatched[0].VariantID, "model refused"); err != nil {
		t.Fatalf("fail variant: %v", err)
	}

	final, _, err := e.rotation.Get(ctx, ws.ID, set.ID)
	if err != nil {
		t.Fatalf("get set: %v", err)
	}
	if final.Status != types.RotationStatusFailed || final.Error != "model refused" {
		t.Fatalf("set should fail with the step's error: %+v", final)
	}
}

func TestRotationCancelIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)
	source := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)

	ctx := testutil.Ctx(owner)
	set, err := e.rotation.Start(ctx, ws.ID, StartRotationInput{
		AssetID:         asset.ID,
		SourceVariantID: source.ID,
		Config:          types.RotationConfig8,
		Mode:            types.RotationModeSequential,
	})
	if err != nil {
		t.Fatalf("start rotation: %v", err)
	}

	first, err := e.rotation.Cancel(ctx, ws.ID, set.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if first.Status != types.RotationStatusCancelled {
		t.Fatalf("expected cancelled, got %q", first.Status)
	}
	updatesBefore := e.notifier.countOf("rotation:updated")

	second, err := e.rotation.Cancel(ctx, ws.ID, set.ID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if second.Status != types.RotationStatusCancelled {
		t.Fatalf("second cancel changed status: %q", second.Status)
	}
	if got := e.notifier.countOf("rotation:updated"); got != updatesBefore {
		t.Fatalf("duplicate cancel must not rebroadcast: %d -> %d", updatesBefore, got)
	}

	// The in-flight run finishing later extends nothing.
	completeLastDispatched(t, e, 1)
	final, views, err := e.rotation.Get(ctx, ws.ID, set.ID)
	if err != nil {
		t.Fatalf("get set: %v", err)
	}
	if final.Status != types.RotationStatusCancelled || final.CurrentStep != 0 {
		t.Fatalf("late completion advanced a cancelled set: %+v", final)
	}
	if len(e.executor.dispatched()) != 1 {
		t.Fatalf("cancelled set must not dispatch further steps")
	}
	if len(views) != 1 {
		t.Fatalf("expected only the original step view, got %d", len(views))
	}
}

func TestRotationStartRejectsIncompleteSource(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)
	source := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusProcessing)

	ctx := testutil.Ctx(owner)
	_, err := e.rotation.Start(ctx, ws.ID, StartRotationInput{
		AssetID:         asset.ID,
		SourceVariantID: source.ID,
		Config:          types.RotationConfig4,
		Mode:            types.RotationModeSequential,
	})
	if !errors.Is(err, pkgerr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSheetGrid(t *testing.T) {
	if r, c := sheetGrid(4); r != 2 || c != 2 {
		t.Fatalf("4 views should slice as 2x2, got %dx%d", r, c)
	}
	if r, c := sheetGrid(8); r != 2 || c != 4 {
		t.Fatalf("8 views should slice as 2x4, got %dx%d", r, c)
	}
}
