package repos

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos/testutil"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
)

func TestVariantRepoCreateAndUpdate(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := NewVariantRepo(db, log)

	ws, _ := testutil.SeedWorkspace(t, db)
	asset := testutil.SeedAsset(t, db, ws.ID, nil)

	dbc := dbctx.Context{Ctx: context.Background()}

	recipe, err := types.Recipe{Prompt: "a knight", Operation: types.OperationGenerate}.Marshal()
	if err != nil {
		t.Fatalf("marshal recipe: %v", err)
	}
	id := uuid.New()
	rows, err := repo.Create(dbc, []*types.Variant{{
		ID:          id,
		WorkspaceID: ws.ID,
		AssetID:     asset.ID,
		Status:      types.VariantStatusPending,
		Recipe:      recipe,
		SagaTaskID:  id.String(),
	}})
	if err != nil {
		t.Fatalf("create variant: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 created row, got %d", len(rows))
	}

	got, err := repo.GetByID(dbc, id)
	if err != nil {
		t.Fatalf("get variant: %v", err)
	}
	if got == nil || got.Status != types.VariantStatusPending {
		t.Fatalf("unexpected variant after create: %+v", got)
	}

	if err := repo.UpdateFields(dbc, id, map[string]interface{}{
		"status":    types.VariantStatusCompleted,
		"image_ref": "image/variants/x.png",
	}); err != nil {
		t.Fatalf("update fields: %v", err)
	}
	got, err = repo.GetByID(dbc, id)
	if err != nil {
		t.Fatalf("get variant after update: %v", err)
	}
	if got.Status != types.VariantStatusCompleted || got.ImageRef != "image/variants/x.png" {
		t.Fatalf("update did not apply: %+v", got)
	}

	byAsset, err := repo.ListByAsset(dbc, asset.ID)
	if err != nil {
		t.Fatalf("list by asset: %v", err)
	}
	found := false
	for _, v := range byAsset {
		if v.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("created variant missing from ListByAsset")
	}
}

func TestVariantRepoLockByIDInsideTx(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := NewVariantRepo(db, log)

	ws, _ := testutil.SeedWorkspace(t, db)
	asset := testutil.SeedAsset(t, db, ws.ID, nil)
	v := testutil.SeedVariant(t, db, ws.ID, asset.ID, types.VariantStatusProcessing)

	ctx := context.Background()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		locked, err := repo.LockByID(dbc, v.ID)
		if err != nil {
			return err
		}
		if locked == nil || locked.ID != v.ID {
			t.Fatalf("lock returned wrong row: %+v", locked)
		}
		return repo.UpdateFields(dbc, v.ID, map[string]interface{}{"status": types.VariantStatusFailed, "error": "boom"})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, v.ID)
	if err != nil {
		t.Fatalf("get after tx: %v", err)
	}
	if got.Status != types.VariantStatusFailed || got.Error != "boom" {
		t.Fatalf("tx update did not apply: %+v", got)
	}
}
