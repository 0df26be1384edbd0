package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/ctxutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/gcp"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/realtime"
)

type CreateAssetInput struct {
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	ParentAssetID *uuid.UUID     `json:"parent_asset_id,omitempty"`
	Tags          datatypes.JSON `json:"tags,omitempty"`
}

type UpdateAssetInput struct {
	Name            *string        `json:"name,omitempty"`
	Tags            datatypes.JSON `json:"tags,omitempty"`
	ActiveVariantID *uuid.UUID     `json:"active_variant_id,omitempty"`
}

// AssetService manages the per-workspace asset tree. Parent chains stay
// acyclic: moves are validated against the ancestor chain and deletes
// re-parent orphaned children to the root.
type AssetService interface {
	Create(ctx context.Context, workspaceID uuid.UUID, in CreateAssetInput) (*types.Asset, error)
	Get(ctx context.Context, workspaceID, assetID uuid.UUID) (*types.Asset, error)
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*types.Asset, error)
	Update(ctx context.Context, workspaceID, assetID uuid.UUID, in UpdateAssetInput) (*types.Asset, error)
	Move(ctx context.Context, workspaceID, assetID uuid.UUID, newParentID *uuid.UUID) (*types.Asset, error)
	Delete(ctx context.Context, workspaceID, assetID uuid.UUID) error

	// SetActiveFromVariant promotes a completed variant's thumb onto its
	// asset. Used by the completion listener path.
	SetActiveFromVariant(ctx context.Context, variant *types.Variant) error
}

type assetService struct {
	db          *gorm.DB
	log         *logger.Logger
	assetRepo   repos.AssetRepo
	variantRepo repos.VariantRepo
	media       MediaService
	bucket      gcp.BucketService
	notify      Notifier
}

func NewAssetService(
	db *gorm.DB,
	baseLog *logger.Logger,
	assetRepo repos.AssetRepo,
	variantRepo repos.VariantRepo,
	media MediaService,
	bucket gcp.BucketService,
	notify Notifier,
) AssetService {
	return &assetService{
		db:          db,
		log:         baseLog.With("service", "AssetService"),
		assetRepo:   assetRepo,
		variantRepo: variantRepo,
		media:       media,
		bucket:      bucket,
		notify:      notify,
	}
}

func validAssetType(t string) bool {
	switch t {
	case types.AssetTypeCharacter, types.AssetTypeObject, types.AssetTypeEnvironment, types.AssetTypeTile:
		return true
	}
	return false
}

func (s *assetService) Create(ctx context.Context, workspaceID uuid.UUID, in CreateAssetInput) (*types.Asset, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated: %w", pkgerr.ErrPermission)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("asset name is required: %w", pkgerr.ErrValidation)
	}
	if !validAssetType(in.Type) {
		return nil, fmt.Errorf("unknown asset type %q: %w", in.Type, pkgerr.ErrValidation)
	}

	var created *types.Asset
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		if in.ParentAssetID != nil {
			parent, err := s.assetRepo.GetByID(dbc, *in.ParentAssetID)
			if err != nil {
				return err
			}
			if parent == nil || parent.WorkspaceID != workspaceID {
				return fmt.Errorf("parent asset %s: %w", *in.ParentAssetID, pkgerr.ErrNotFound)
			}
		}

		rows, err := s.assetRepo.Create(dbc, []*types.Asset{{
			WorkspaceID:   workspaceID,
			Name:          name,
			Type:          in.Type,
			ParentAssetID: in.ParentAssetID,
			Tags:          in.Tags,
			CreatedBy:     rd.UserID,
		}})
		if err != nil {
			return err
		}
		created = rows[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.attachPlaceholder(ctx, created)

	s.notify.Broadcast(workspaceID, realtime.TypeAssetCreated, created)
	return created, nil
}

// attachPlaceholder renders and uploads a stand-in thumb. Failures are
// logged and swallowed; the asset stands without a thumb.
func (s *assetService) attachPlaceholder(ctx context.Context, asset *types.Asset) {
	if s.media == nil || s.bucket == nil {
		return
	}
	data, err := s.media.RenderPlaceholder(asset.Name, 256)
	if err != nil {
		s.log.Warn("placeholder render failed", "asset_id", asset.ID, "error", err)
		return
	}
	key := fmt.Sprintf("assets/%s.png", asset.ID.String())
	if err := s.bucket.UploadObject(ctx, gcp.BucketCategoryThumb, key, "image/png", bytes.NewReader(data)); err != nil {
		s.log.Warn("placeholder upload failed", "asset_id", asset.ID, "error", err)
		return
	}
	ref := string(gcp.BucketCategoryThumb) + "/" + key
	if err := s.assetRepo.UpdateFields(dbctx.Context{Ctx: ctx}, asset.ID, map[string]interface{}{
		"thumb_ref": ref,
	}); err != nil {
		s.log.Warn("placeholder ref write failed", "asset_id", asset.ID, "error", err)
		return
	}
	asset.ThumbRef = ref
}

func (s *assetService) Get(ctx context.Context, workspaceID, assetID uuid.UUID) (*types.Asset, error) {
	a, err := s.assetRepo.GetByID(dbctx.Context{Ctx: ctx}, assetID)
	if err != nil {
		return nil, err
	}
	if a == nil || a.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("asset %s: %w", assetID, pkgerr.ErrNotFound)
	}
	return a, nil
}

func (s *assetService) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*types.Asset, error) {
	return s.assetRepo.ListByWorkspace(dbctx.Context{Ctx: ctx}, workspaceID)
}

func (s *assetService) Update(ctx context.Context, workspaceID, assetID uuid.UUID, in UpdateAssetInput) (*types.Asset, error) {
	var updated *types.Asset
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		asset, err := s.assetRepo.GetByID(dbc, assetID)
		if err != nil {
			return err
		}
		if asset == nil || asset.WorkspaceID != workspaceID {
			return fmt.Errorf("asset %s: %w", assetID, pkgerr.ErrNotFound)
		}

		updates := map[string]interface{}{}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return fmt.Errorf("asset name is required: %w", pkgerr.ErrValidation)
			}
			updates["name"] = name
			asset.Name = name
		}
		if in.Tags != nil {
			updates["tags"] = in.Tags
			asset.Tags = in.Tags
		}
		if in.ActiveVariantID != nil {
			v, err := s.variantRepo.GetByID(dbc, *in.ActiveVariantID)
			if err != nil {
				return err
			}
			if v == nil || v.AssetID != assetID {
				return fmt.Errorf("variant %s: %w", *in.ActiveVariantID, pkgerr.ErrNotFound)
			}
			if v.Status != types.VariantStatusCompleted {
				return fmt.Errorf("variant %s is not completed: %w", v.ID, pkgerr.ErrValidation)
			}
			updates["active_variant_id"] = *in.ActiveVariantID
			asset.ActiveVariantID = in.ActiveVariantID
			if v.ThumbRef != "" {
				updates["thumb_ref"] = v.ThumbRef
				asset.ThumbRef = v.ThumbRef
			}
		}
		if len(updates) == 0 {
			updated = asset
			return nil
		}
		if err := s.assetRepo.UpdateFields(dbc, asset.ID, updates); err != nil {
			return err
		}
		updated = asset
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify.Broadcast(workspaceID, realtime.TypeAssetUpdated, updated)
	return updated, nil
}

// Move re-parents an asset. The new parent's ancestor chain is walked inside
// the transaction; a chain that reaches the moved asset would close a cycle
// and is rejected.
func (s *assetService) Move(ctx context.Context, workspaceID, assetID uuid.UUID, newParentID *uuid.UUID) (*types.Asset, error) {
	var moved *types.Asset
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		asset, err := s.assetRepo.GetByID(dbc, assetID)
		if err != nil {
			return err
		}
		if asset == nil || asset.WorkspaceID != workspaceID {
			return fmt.Errorf("asset %s: %w", assetID, pkgerr.ErrNotFound)
		}

		if newParentID != nil {
			if *newParentID == assetID {
				return fmt.Errorf("asset cannot be its own parent: %w", pkgerr.ErrValidation)
			}
			cursor := *newParentID
			for {
				parent, err := s.assetRepo.GetByID(dbc, cursor)
				if err != nil {
					return err
				}
				if parent == nil || parent.WorkspaceID != workspaceID {
					return fmt.Errorf("parent asset %s: %w", cursor, pkgerr.ErrNotFound)
				}
				if parent.ID == assetID {
					return fmt.Errorf("move would create a cycle: %w", pkgerr.ErrValidation)
				}
				if parent.ParentAssetID == nil {
					break
				}
				cursor = *parent.ParentAssetID
			}
		}

		if err := s.assetRepo.UpdateFields(dbc, asset.ID, map[string]interface{}{
			"parent_asset_id": newParentID,
		}); err != nil {
			return err
		}
		asset.ParentAssetID = newParentID
		moved = asset
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify.Broadcast(workspaceID, realtime.TypeAssetUpdated, moved)
	return moved, nil
}

// Delete removes the asset row and lifts its children to the root. Variants
// are retained; they stay reachable through lineage.
func (s *assetService) Delete(ctx context.Context, workspaceID, assetID uuid.UUID) error {
	var reparented []*types.Asset
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		asset, err := s.assetRepo.GetByID(dbc, assetID)
		if err != nil {
			return err
		}
		if asset == nil || asset.WorkspaceID != workspaceID {
			return fmt.Errorf("asset %s: %w", assetID, pkgerr.ErrNotFound)
		}

		children, err := s.assetRepo.ListChildren(dbc, assetID)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := s.assetRepo.UpdateFields(dbc, child.ID, map[string]interface{}{
				"parent_asset_id": nil,
			}); err != nil {
				return err
			}
			child.ParentAssetID = nil
			reparented = append(reparented, child)
		}

		return s.assetRepo.Delete(dbc, assetID)
	})
	if err != nil {
		return err
	}

	for _, child := range reparented {
		s.notify.Broadcast(workspaceID, realtime.TypeAssetUpdated, child)
	}
	s.notify.Broadcast(workspaceID, realtime.TypeAssetDeleted, map[string]any{"id": assetID})
	return nil
}

func (s *assetService) SetActiveFromVariant(ctx context.Context, variant *types.Variant) error {
	if variant == nil || variant.Status != types.VariantStatusCompleted {
		return nil
	}
	var updated *types.Asset
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		asset, err := s.assetRepo.GetByID(dbc, variant.AssetID)
		if err != nil || asset == nil {
			return err
		}
		updates := map[string]interface{}{}
		if asset.ActiveVariantID == nil {
			updates["active_variant_id"] = variant.ID
			asset.ActiveVariantID = &variant.ID
		}
		if variant.ThumbRef != "" && (asset.ActiveVariantID == nil || *asset.ActiveVariantID == variant.ID) {
			updates["thumb_ref"] = variant.ThumbRef
			asset.ThumbRef = variant.ThumbRef
		}
		if len(updates) == 0 {
			return nil
		}
		if err := s.assetRepo.UpdateFields(dbc, asset.ID, updates); err != nil {
			return err
		}
		updated = asset
		return nil
	})
	if err != nil {
		return err
	}
	if updated != nil {
		s.notify.Broadcast(updated.WorkspaceID, realtime.TypeAssetUpdated, updated)
	}
	return nil
}
