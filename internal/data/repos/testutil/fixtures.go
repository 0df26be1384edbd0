package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	"github.com/spriteforge/spriteforge-backend/internal/platform/ctxutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
)

// Ctx returns a context authenticated as the given user.
func Ctx(userID uuid.UUID) context.Context {
	return ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{UserID: userID})
}

// SeedWorkspace creates a workspace owned by a fresh user and returns both.
func SeedWorkspace(tb testing.TB, db *gorm.DB) (*types.Workspace, uuid.UUID) {
	tb.Helper()
	owner := uuid.New()
	ws := &types.Workspace{
		ID:          uuid.New(),
		Name:        "test workspace",
		OwnerUserID: owner,
	}
	if err := db.Create(ws).Error; err != nil {
		tb.Fatalf("seed workspace: %v", err)
	}
	member := &types.WorkspaceMember{
		ID:          uuid.New(),
		WorkspaceID: ws.ID,
		UserID:      owner,
		Role:        types.RoleOwner,
	}
	if err := db.Create(member).Error; err != nil {
		tb.Fatalf("seed workspace member: %v", err)
	}
	return ws, owner
}

// SeedMember adds a user to the workspace at the given role.
func SeedMember(tb testing.TB, db *gorm.DB, workspaceID uuid.UUID, role string) uuid.UUID {
	tb.Helper()
	userID := uuid.New()
	member := &types.WorkspaceMember{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        role,
	}
	if err := db.Create(member).Error; err != nil {
		tb.Fatalf("seed member: %v", err)
	}
	return userID
}

func SeedAsset(tb testing.TB, db *gorm.DB, workspaceID uuid.UUID, parentID *uuid.UUID) *types.Asset {
	tb.Helper()
	asset := &types.Asset{
		ID:            uuid.New(),
		WorkspaceID:   workspaceID,
		Name:          "test asset",
		Type:          types.AssetTypeCharacter,
		ParentAssetID: parentID,
	}
	if err := db.Create(asset).Error; err != nil {
		tb.Fatalf("seed asset: %v", err)
	}
	return asset
}

// SeedVariant creates a variant in the given status with a minimal recipe.
func SeedVariant(tb testing.TB, db *gorm.DB, workspaceID, assetID uuid.UUID, status string) *types.Variant {
	tb.Helper()
	id := uuid.New()
	recipe, err := types.Recipe{Prompt: "seed", Operation: types.OperationGenerate}.Marshal()
	if err != nil {
		tb.Fatalf("marshal recipe: %v", err)
	}
	v := &types.Variant{
		ID:          id,
		WorkspaceID: workspaceID,
		AssetID:     assetID,
		Status:      status,
		Recipe:      recipe,
		SagaTaskID:  id.String(),
	}
	if status == types.VariantStatusCompleted {
		v.ImageRef = "image/variants/" + id.String() + ".png"
		v.ThumbRef = "thumb/variants/" + id.String() + ".png"
	}
	if err := db.Create(v).Error; err != nil {
		tb.Fatalf("seed variant: %v", err)
	}
	return v
}

func SeedEdge(tb testing.TB, db *gorm.DB, workspaceID, parentID, childID uuid.UUID, relation string) *types.LineageEdge {
	tb.Helper()
	edge := &types.LineageEdge{
		ID:              uuid.New(),
		WorkspaceID:     workspaceID,
		ParentVariantID: parentID,
		ChildVariantID:  childID,
		RelationType:    relation,
	}
	if err := db.Create(edge).Error; err != nil {
		tb.Fatalf("seed lineage edge: %v", err)
	}
	return edge
}

// DBC wraps a bare context for repo calls outside a transaction.
func DBC(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx}
}
