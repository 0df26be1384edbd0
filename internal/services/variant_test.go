package services

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos/testutil"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
)

func TestVariantCompleteIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ws, _ := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)
	v := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusProcessing)

	var completions int32
	e.variants.RegisterCompletionListener(func(_ context.Context, _ *types.Variant, _ types.Recipe) {
		atomic.AddInt32(&completions, 1)
	})

	ctx := context.Background()
	if err := e.variants.Complete(ctx, ws.ID, v.ID, "image/variants/a.png", "thumb/variants/a.png"); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	// Redelivery of the same outcome must be absorbed without side effects.
	if err := e.variants.Complete(ctx, ws.ID, v.ID, "image/variants/a.png", "thumb/variants/a.png"); err != nil {
		t.Fatalf("second complete: %v", err)
	}

	if got := atomic.LoadInt32(&completions); got != 1 {
		t.Fatalf("expected listeners to fire once, fired %d times", got)
	}
	if got := e.notifier.countOf("variant:updated"); got != 1 {
		t.Fatalf("expected one variant:updated broadcast, got %d", got)
	}

	final, err := e.variants.Get(ctx, v.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != types.VariantStatusCompleted || final.ImageRef != "image/variants/a.png" {
		t.Fatalf("unexpected final variant: %+v", final)
	}
}

func TestVariantCompleteAfterFailIsDropped(t *testing.T) {
	e := newEnv(t)
	ws, _ := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)
	v := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusProcessing)

	ctx := context.Background()
	if err := e.variants.Fail(ctx, ws.ID, v.ID, "provider exploded"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	// A late completion against a terminal variant is a duplicate delivery,
	// not a state change.
	if err := e.variants.Complete(ctx, ws.ID, v.ID, "image/variants/late.png", ""); err != nil {
		t.Fatalf("late complete: %v", err)
	}

	final, err := e.variants.Get(ctx, v.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != types.VariantStatusFailed {
		t.Fatalf("late completion overwrote terminal state: %+v", final)
	}
	if final.Error != "provider exploded" {
		t.Fatalf("failure reason lost: %+v", final)
	}
}

func TestVariantMarkProcessing(t *testing.T) {
	e := newEnv(t)
	ws, _ := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)
	v := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusPending)

	ctx := context.Background()
	if err := e.variants.MarkProcessing(ctx, ws.ID, v.ID, types.VariantStatusProcessing); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	got, err := e.variants.Get(ctx, v.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.VariantStatusProcessing {
		t.Fatalf("expected processing, got %q", got.Status)
	}

	// Status echoes other than processing are informational only.
	if err := e.variants.MarkProcessing(ctx, ws.ID, v.ID, "queued"); err != nil {
		t.Fatalf("mark queued: %v", err)
	}
	got, _ = e.variants.Get(ctx, v.ID)
	if got.Status != types.VariantStatusProcessing {
		t.Fatalf("non-processing status should not change the row: %q", got.Status)
	}
}
