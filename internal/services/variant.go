package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/realtime"
)

// VariantCompletionListener runs after a variant's completion transaction has
// committed. Pipeline coordinators register these at wiring time instead of
// being called into directly.
type VariantCompletionListener func(ctx context.Context, variant *types.Variant, recipe types.Recipe)

// VariantFailureListener is the failure-side counterpart.
type VariantFailureListener func(ctx context.Context, variant *types.Variant, recipe types.Recipe, errorMessage string)

// VariantService owns the variant status machine. Transitions arrive from the
// external executor at least once; every entry point is idempotent, and a
// duplicate terminal transition produces no broadcast and wakes no listener.
type VariantService interface {
	Get(ctx context.Context, variantID uuid.UUID) (*types.Variant, error)
	ListByAsset(ctx context.Context, assetID uuid.UUID) ([]*types.Variant, error)

	MarkProcessing(ctx context.Context, workspaceID, variantID uuid.UUID, status string) error
	Complete(ctx context.Context, workspaceID, variantID uuid.UUID, imageRef, thumbRef string) error
	Fail(ctx context.Context, workspaceID, variantID uuid.UUID, errorMessage string) error

	RegisterCompletionListener(l VariantCompletionListener)
	RegisterFailureListener(l VariantFailureListener)
}

type variantService struct {
	db          *gorm.DB
	log         *logger.Logger
	variantRepo repos.VariantRepo
	notify      Notifier

	mu         sync.RWMutex
	onComplete []VariantCompletionListener
	onFailure  []VariantFailureListener
}

func NewVariantService(
	db *gorm.DB,
	baseLog *logger.Logger,
	variantRepo repos.VariantRepo,
	notify Notifier,
) VariantService {
	return &variantService{
		db:          db,
		log:         baseLog.With("service", "VariantService"),
		variantRepo: variantRepo,
		notify:      notify,
	}
}

func (s *variantService) RegisterCompletionListener(l VariantCompletionListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = append(s.onComplete, l)
}

func (s *variantService) RegisterFailureListener(l VariantFailureListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = append(s.onFailure, l)
}

func (s *variantService) Get(ctx context.Context, variantID uuid.UUID) (*types.Variant, error) {
	v, err := s.variantRepo.GetByID(dbctx.Context{Ctx: ctx}, variantID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("variant %s: %w", variantID, pkgerr.ErrNotFound)
	}
	return v, nil
}

func (s *variantService) ListByAsset(ctx context.Context, assetID uuid.UUID) ([]*types.Variant, error) {
	return s.variantRepo.ListByAsset(dbctx.Context{Ctx: ctx}, assetID)
}

// MarkProcessing records an executor status ping. Only the pending to
// processing edge is observable; anything later is already ahead of it.
func (s *variantService) MarkProcessing(ctx context.Context, workspaceID, variantID uuid.UUID, status string) error {
	if status != types.VariantStatusProcessing {
		return nil
	}
	var changed *types.Variant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		v, err := s.variantRepo.LockByID(dbc, variantID)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("variant %s: %w", variantID, pkgerr.ErrNotFound)
		}
		if v.Status != types.VariantStatusPending {
			return nil
		}
		if err := s.variantRepo.UpdateFields(dbc, v.ID, map[string]interface{}{
			"status": types.VariantStatusProcessing,
		}); err != nil {
			return err
		}
		v.Status = types.VariantStatusProcessing
		changed = v
		return nil
	})
	if err != nil {
		return err
	}
	if changed != nil {
		s.notify.Broadcast(workspaceID, realtime.TypeVariantUpdated, changed)
	}
	return nil
}

// Complete applies the terminal success transition. A repeat delivery for an
// already-completed variant is absorbed silently: no row change, no
// broadcast, and no listener runs, so downstream pipelines never double-fire.
func (s *variantService) Complete(ctx context.Context, workspaceID, variantID uuid.UUID, imageRef, thumbRef string) error {
	var changed *types.Variant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		v, err := s.variantRepo.LockByID(dbc, variantID)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("variant %s: %w", variantID, pkgerr.ErrNotFound)
		}
		if v.Terminal() {
			if v.Status == types.VariantStatusCompleted && v.ImageRef != imageRef {
				s.log.Warn("ignoring duplicate completion with different image",
					"variant_id", v.ID, "have", v.ImageRef, "got", imageRef)
			}
			return nil
		}
		if err := s.variantRepo.UpdateFields(dbc, v.ID, map[string]interface{}{
			"status":    types.VariantStatusCompleted,
			"image_ref": imageRef,
			"thumb_ref": thumbRef,
			"error":     "",
		}); err != nil {
			return err
		}
		v.Status = types.VariantStatusCompleted
		v.ImageRef = imageRef
		v.ThumbRef = thumbRef
		v.Error = ""
		changed = v
		return nil
	})
	if err != nil {
		return err
	}
	if changed == nil {
		return nil
	}

	s.notify.Broadcast(workspaceID, realtime.TypeVariantUpdated, changed)

	recipe, perr := types.ParseRecipe(changed.Recipe)
	if perr != nil {
		s.log.Warn("completed variant has unreadable recipe; listeners skipped", "variant_id", changed.ID, "error", perr)
		return nil
	}
	for _, l := range s.completionListeners() {
		l(ctx, changed, recipe)
	}
	return nil
}

// Fail applies the terminal failure transition with the same dedup rules as
// Complete.
func (s *variantService) Fail(ctx context.Context, workspaceID, variantID uuid.UUID, errorMessage string) error {
	var changed *types.Variant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		v, err := s.variantRepo.LockByID(dbc, variantID)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("variant %s: %w", variantID, pkgerr.ErrNotFound)
		}
		if v.Terminal() {
			return nil
		}
		if err := s.variantRepo.UpdateFields(dbc, v.ID, map[string]interface{}{
			"status": types.VariantStatusFailed,
			"error":  errorMessage,
		}); err != nil {
			return err
		}
		v.Status = types.VariantStatusFailed
		v.Error = errorMessage
		changed = v
		return nil
	})
	if err != nil {
		return err
	}
	if changed == nil {
		return nil
	}

	s.notify.Broadcast(workspaceID, realtime.TypeVariantUpdated, changed)

	recipe, perr := types.ParseRecipe(changed.Recipe)
	if perr != nil {
		s.log.Warn("failed variant has unreadable recipe; listeners skipped", "variant_id", changed.ID, "error", perr)
		return nil
	}
	for _, l := range s.failureListeners() {
		l(ctx, changed, recipe, errorMessage)
	}
	return nil
}

func (s *variantService) completionListeners() []VariantCompletionListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]VariantCompletionListener, len(s.onComplete))
	copy(out, s.onComplete)
	return out
}

func (s *variantService) failureListeners() []VariantFailureListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]VariantFailureListener, len(s.onFailure))
	copy(out, s.onFailure)
	return out
}
