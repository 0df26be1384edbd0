package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos/testutil"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
)

func TestGenerationStartDispatchesAndRecordsLineage(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)
	parent := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)

	ctx := testutil.Ctx(owner)
	created, err := e.generation.Start(ctx, ws.ID, StartGenerationInput{
		AssetID:          asset.ID,
		Prompt:           "make it angrier",
		Operation:        types.OperationDerive,
		ParentVariantIDs: []uuid.UUID{parent.ID},
		AspectRatio:      "3:2",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if created.Status != types.VariantStatusProcessing {
		t.Fatalf("dispatched variant should be processing, got %q", created.Status)
	}
	if created.SagaTaskID != created.ID.String() {
		t.Fatalf("saga task id should equal variant id: %q", created.SagaTaskID)
	}
	stored, err := e.variantRepo.GetByID(testutil.DBC(ctx), created.ID)
	if err != nil || stored == nil {
		t.Fatalf("reload variant: %v", err)
	}
	if stored.Status != types.VariantStatusProcessing {
		t.Fatalf("stored status should be processing, got %q", stored.Status)
	}

	dispatched := e.executor.dispatched()
	if len(dispatched) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(dispatched))
	}
	p := dispatched[0]
	if p.VariantID != created.ID || p.Size != "1536x1024" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if len(p.SourceImageRefs) != 1 || p.SourceImageRefs[0] != parent.ImageRef {
		t.Fatalf("parent image should be the source ref: %v", p.SourceImageRefs)
	}

	edges, err := e.lineageRepo.ListByChildIDs(testutil.DBC(ctx), []uuid.UUID{created.ID})
	if err != nil {
		t.Fatalf("list edges: %v", err)
	}
	if len(edges) != 1 || edges[0].ParentVariantID != parent.ID || edges[0].RelationType != types.RelationDerived {
		t.Fatalf("unexpected lineage edges: %+v", edges)
	}
}

func TestGenerationStartValidatesOperationParents(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)
	parent := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)

	ctx := testutil.Ctx(owner)

	_, err := e.generation.Start(ctx, ws.ID, StartGenerationInput{
		AssetID:          asset.ID,
		Prompt:           "knight",
		Operation:        types.OperationGenerate,
		ParentVariantIDs: []uuid.UUID{parent.ID},
	})
	if !errors.Is(err, pkgerr.ErrValidation) {
		t.Fatalf("generate with parents should fail validation, got %v", err)
	}

	_, err = e.generation.Start(ctx, ws.ID, StartGenerationInput{
		AssetID:   asset.ID,
		Prompt:    "knight",
		Operation: types.OperationRefine,
	})
	if !errors.Is(err, pkgerr.ErrValidation) {
		t.Fatalf("refine without parents should fail validation, got %v", err)
	}
}

func TestGenerationDispatchFailureFailsVariant(t *testing.T) {
	e := newEnv(t)
	e.executor.fail = true
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)

	ctx := testutil.Ctx(owner)
	created, err := e.generation.Start(ctx, ws.ID, StartGenerationInput{
		AssetID:   asset.ID,
		Prompt:    "knight",
		Operation: types.OperationGenerate,
	})
	if !errors.Is(err, pkgerr.ErrExternalTask) {
		t.Fatalf("expected external task error, got %v", err)
	}
	if created == nil {
		t.Fatalf("variant row should exist even when dispatch fails")
	}

	got, err := e.variants.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.VariantStatusFailed {
		t.Fatalf("variant should be failed after refused dispatch: %+v", got)
	}
}

func TestGenerationRetryReplaysRecipe(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)

	ctx := testutil.Ctx(owner)
	e.executor.fail = true
	created, _ := e.generation.Start(ctx, ws.ID, StartGenerationInput{
		AssetID:     asset.ID,
		Prompt:      "blue slime",
		Operation:   types.OperationGenerate,
		AspectRatio: "1:1",
	})
	if created == nil {
		t.Fatalf("expected variant row")
	}

	e.executor.fail = false
	retried, err := e.generation.Retry(ctx, ws.ID, created.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != types.VariantStatusProcessing || retried.Error != "" {
		t.Fatalf("accepted retry should be processing with the error cleared: %+v", retried)
	}

	dispatched := e.executor.dispatched()
	if len(dispatched) != 1 {
		t.Fatalf("expected one successful dispatch, got %d", len(dispatched))
	}
	if dispatched[0].Prompt != "blue slime" || dispatched[0].Size != "1024x1024" {
		t.Fatalf("retry did not replay the stored recipe: %+v", dispatched[0])
	}

	// Only failed variants retry.
	if _, err := e.generation.Retry(ctx, ws.ID, created.ID); !errors.Is(err, pkgerr.ErrValidation) {
		t.Fatalf("retry of an in-flight variant should fail validation, got %v", err)
	}
}

func TestGenerationForkCompletesImmediately(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)
	src := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)

	ctx := testutil.Ctx(owner)
	forked, err := e.generation.Fork(ctx, ws.ID, src.ID)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if forked.Status != types.VariantStatusCompleted {
		t.Fatalf("fork should complete synchronously: %+v", forked)
	}
	if forked.ImageRef != src.ImageRef || forked.ThumbRef != src.ThumbRef {
		t.Fatalf("fork should share the source image: %+v", forked)
	}
	if len(e.executor.dispatched()) != 0 {
		t.Fatalf("fork must not touch the executor")
	}

	edges, err := e.lineageRepo.ListByChildIDs(testutil.DBC(ctx), []uuid.UUID{forked.ID})
	if err != nil {
		t.Fatalf("list edges: %v", err)
	}
	if len(edges) != 1 || edges[0].RelationType != types.RelationForked {
		t.Fatalf("expected a single forked edge: %+v", edges)
	}

	// Forking an incomplete variant is rejected.
	pending := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusPending)
	if _, err := e.generation.Fork(ctx, ws.ID, pending.ID); !errors.Is(err, pkgerr.ErrValidation) {
		t.Fatalf("fork of pending variant should fail validation, got %v", err)
	}
}

func TestGenerationStartResolvesAssetRefs(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	target := testutil.SeedAsset(t, e.db, ws.ID, nil)
	anchor := testutil.SeedAsset(t, e.db, ws.ID, nil)
	active := testutil.SeedVariant(t, e.db, ws.ID, anchor.ID, types.VariantStatusCompleted)
	if err := e.db.Model(&types.Asset{}).Where("id = ?", anchor.ID).Update("active_variant_id", active.ID).Error; err != nil {
		t.Fatalf("set active variant: %v", err)
	}

	ctx := testutil.Ctx(owner)
	created, err := e.generation.Start(ctx, ws.ID, StartGenerationInput{
		AssetID:     target.ID,
		Prompt:      "match the anchor palette",
		Operation:   types.OperationDerive,
		RefAssetIDs: []uuid.UUID{anchor.ID},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	edges, err := e.lineageRepo.ListByChildIDs(testutil.DBC(ctx), []uuid.UUID{created.ID})
	if err != nil {
		t.Fatalf("list edges: %v", err)
	}
	if len(edges) != 1 || edges[0].ParentVariantID != active.ID {
		t.Fatalf("anchor's active variant should be the resolved parent: %+v", edges)
	}

	dispatched := e.executor.dispatched()
	if len(dispatched) != 1 || len(dispatched[0].SourceImageRefs) != 1 || dispatched[0].SourceImageRefs[0] != active.ImageRef {
		t.Fatalf("anchor image should be the source ref: %+v", dispatched)
	}

	// An asset with no active variant cannot anchor a run.
	if _, err := e.generation.Start(ctx, ws.ID, StartGenerationInput{
		AssetID:     target.ID,
		Prompt:      "match the target palette",
		Operation:   types.OperationDerive,
		RefAssetIDs: []uuid.UUID{target.ID},
	}); !errors.Is(err, pkgerr.ErrValidation) {
		t.Fatalf("asset without an active variant should fail validation, got %v", err)
	}
}

// denyQuota refuses every precheck, as a full window would.
type denyQuota struct{}

func (denyQuota) Precheck(context.Context, uuid.UUID, string) error {
	return fmt.Errorf("generation quota of 0 per window reached: %w", pkgerr.ErrQuotaExceeded)
}

func TestGenerationStartQuotaDenialLeavesNothingBehind(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)

	gen := NewGenerationService(e.db, e.log, e.assetRepo, e.variantRepo, e.lineageRepo, denyQuota{}, e.executor, e.notifier)

	ctx := testutil.Ctx(owner)
	if _, err := gen.Start(ctx, ws.ID, StartGenerationInput{
		AssetID:   asset.ID,
		Prompt:    "blue slime",
		Operation: types.OperationGenerate,
	}); !errors.Is(err, pkgerr.ErrQuotaExceeded) {
		t.Fatalf("expected quota denial, got %v", err)
	}

	variants, err := e.variantRepo.ListByAsset(testutil.DBC(ctx), asset.ID)
	if err != nil {
		t.Fatalf("list variants: %v", err)
	}
	if len(variants) != 0 {
		t.Fatalf("denied start must not leave a placeholder variant: %+v", variants)
	}
	if got := e.executor.dispatched(); len(got) != 0 {
		t.Fatalf("denied start must not dispatch: %+v", got)
	}
	if got := e.notifier.typesSeen(); len(got) != 0 {
		t.Fatalf("denied start must not broadcast: %v", got)
	}
}

func TestSizeForAspect(t *testing.T) {
	cases := map[string]string{
		"":          "1024x1024",
		"1:1":       "1024x1024",
		"16:9":      "1536x1024",
		"landscape": "1536x1024",
		"9:16":      "1024x1536",
		"portrait":  "1024x1536",
		"weird":     "1024x1024",
	}
	for aspect, want := range cases {
		if got := sizeForAspect(aspect); got != want {
			t.Fatalf("aspect %q: want %q, got %q", aspect, want, got)
		}
	}
}
