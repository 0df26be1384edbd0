package app

import (
	"context"
	"fmt"

	"github.com/spriteforge/spriteforge-backend/internal/clients/openai"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	"github.com/spriteforge/spriteforge-backend/internal/services"
	"github.com/spriteforge/spriteforge-backend/internal/temporalx"
	"github.com/spriteforge/spriteforge-backend/internal/workspace"
)

type Services struct {
	Notifier   services.Notifier
	Media      services.MediaService
	Quota      services.QuotaService
	Workspaces services.WorkspaceService
	Variants   services.VariantService
	Lineage    services.LineageService
	Assets     services.AssetService
	Generation services.GenerationService
	Rotation   services.RotationService
	Plans      services.PlanService
	Chat       services.ChatService
	Snapshots  services.SnapshotService
}

func (a *App) wireServices() error {
	db := a.DB.DB()

	notifier := services.NewNotifier(a.Log, a.Hub, a.Bus)
	media := services.NewMediaService(a.Log, a.Bucket)
	quota := services.NewQuotaService(a.Log, a.Redis)

	workspaces := services.NewWorkspaceService(db, a.Log, a.Repos.Workspace, notifier)
	variants := services.NewVariantService(db, a.Log, a.Repos.Variant, notifier)
	lineage := services.NewLineageService(db, a.Log, a.Repos.Lineage, notifier)
	assets := services.NewAssetService(db, a.Log, a.Repos.Asset, a.Repos.Variant, media, a.Bucket, notifier)

	executor := temporalx.NewExecutor(a.Log, a.Temporal, temporalx.LoadConfig())
	generation := services.NewGenerationService(db, a.Log, a.Repos.Asset, a.Repos.Variant, a.Repos.Lineage, quota, executor, notifier)
	rotation := services.NewRotationService(db, a.Log, a.Repos.Rotation, a.Repos.Variant, a.Repos.Lineage, media, generation, notifier)
	plans := services.NewPlanService(db, a.Log, a.Repos.Plan, generation, notifier)

	chatProvider, err := openai.NewChat(a.Log, a.OpenAI)
	if err != nil {
		return fmt.Errorf("chat provider: %w", err)
	}
	vision, err := openai.NewVision(a.Log, a.OpenAI)
	if err != nil {
		return fmt.Errorf("vision provider: %w", err)
	}
	chat := services.NewChatService(db, a.Log, a.Repos.Chat, a.Repos.Variant, media, chatProvider, vision, quota, notifier)

	snapshots := services.NewSnapshotService(a.Log, a.Repos.Workspace, a.Repos.Asset, a.Repos.Variant, a.Repos.Lineage, a.Repos.Rotation, a.Repos.Plan, a.Tracker)

	// Completion order matters: the asset thumb follows the new variant
	// before rotation sets and plans react to it.
	variants.RegisterCompletionListener(func(ctx context.Context, v *types.Variant, _ types.Recipe) {
		if err := assets.SetActiveFromVariant(ctx, v); err != nil {
			a.Log.Warn("Asset activation after completion failed", "variant_id", v.ID, "error", err)
		}
	})
	variants.RegisterCompletionListener(rotation.HandleVariantCompleted)
	variants.RegisterCompletionListener(plans.HandleVariantCompleted)
	variants.RegisterFailureListener(rotation.HandleVariantFailed)
	variants.RegisterFailureListener(plans.HandleVariantFailed)

	a.Services = &Services{
		Notifier:   notifier,
		Media:      media,
		Quota:      quota,
		Workspaces: workspaces,
		Variants:   variants,
		Lineage:    lineage,
		Assets:     assets,
		Generation: generation,
		Rotation:   rotation,
		Plans:      plans,
		Chat:       chat,
		Snapshots:  snapshots,
	}

	a.Manager = workspace.NewManager(a.Log, workspace.Services{
		Workspaces: workspaces,
		Assets:     assets,
		Variants:   variants,
		Generation: generation,
		Rotation:   rotation,
		Lineage:    lineage,
		Plans:      plans,
		Chat:       chat,
		Notify:     notifier,
		Presence:   a.Tracker,
	})
	return nil
}
