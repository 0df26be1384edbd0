package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/presence"
)

// WorkspaceSnapshot is the full state a client hydrates from before applying
// the delta stream.
type WorkspaceSnapshot struct {
	Workspace *types.Workspace         `json:"workspace"`
	Members   []*types.WorkspaceMember `json:"members"`

	Assets   []*types.Asset       `json:"assets"`
	Variants []*types.Variant     `json:"variants"`
	Lineage  []*types.LineageEdge `json:"lineage"`

	RotationSets  []*types.RotationSet             `json:"rotation_sets"`
	RotationViews map[string][]*types.RotationView `json:"rotation_views"`

	Plans     []*types.Plan                `json:"plans"`
	PlanSteps map[string][]*types.PlanStep `json:"plan_steps"`

	Presence []presence.Entry `json:"presence"`
}

// SnapshotService assembles the hydration read. It runs outside the actor;
// clients reconcile any tear against the stream they attach afterwards.
type SnapshotService interface {
	Snapshot(ctx context.Context, workspaceID uuid.UUID) (*WorkspaceSnapshot, error)
}

type snapshotService struct {
	log           *logger.Logger
	workspaceRepo repos.WorkspaceRepo
	assetRepo     repos.AssetRepo
	variantRepo   repos.VariantRepo
	lineageRepo   repos.LineageRepo
	rotationRepo  repos.RotationRepo
	planRepo      repos.PlanRepo
	tracker       *presence.Tracker
}

func NewSnapshotService(
	baseLog *logger.Logger,
	workspaceRepo repos.WorkspaceRepo,
	assetRepo repos.AssetRepo,
	variantRepo repos.VariantRepo,
	lineageRepo repos.LineageRepo,
	rotationRepo repos.RotationRepo,
	planRepo repos.PlanRepo,
	tracker *presence.Tracker,
) SnapshotService {
	return &snapshotService{
		log:           baseLog.With("service", "SnapshotService"),
		workspaceRepo: workspaceRepo,
		assetRepo:     assetRepo,
		variantRepo:   variantRepo,
		lineageRepo:   lineageRepo,
		rotationRepo:  rotationRepo,
		planRepo:      planRepo,
		tracker:       tracker,
	}
}

func (s *snapshotService) Snapshot(ctx context.Context, workspaceID uuid.UUID) (*WorkspaceSnapshot, error) {
	dbc := dbctx.Context{Ctx: ctx}

	ws, err := s.workspaceRepo.GetByID(dbc, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, fmt.Errorf("workspace %s: %w", workspaceID, pkgerr.ErrNotFound)
	}

	snap := &WorkspaceSnapshot{
		Workspace:     ws,
		RotationViews: map[string][]*types.RotationView{},
		PlanSteps:     map[string][]*types.PlanStep{},
	}

	// The sections are independent reads, so they load concurrently. Each
	// goroutine owns its slice of the snapshot; sub-lists stay with their
	// parent section so the maps see a single writer.
	g, gctx := errgroup.WithContext(ctx)
	gdbc := dbctx.Context{Ctx: gctx}

	g.Go(func() error {
		var err error
		snap.Members, err = s.workspaceRepo.ListMembers(gdbc, workspaceID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Assets, err = s.assetRepo.ListByWorkspace(gdbc, workspaceID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Variants, err = s.variantRepo.ListByWorkspace(gdbc, workspaceID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Lineage, err = s.lineageRepo.ListByWorkspace(gdbc, workspaceID)
		return err
	})
	g.Go(func() error {
		sets, err := s.rotationRepo.ListSetsByWorkspace(gdbc, workspaceID)
		if err != nil {
			return err
		}
		snap.RotationSets = sets
		for _, set := range sets {
			views, err := s.rotationRepo.ListViewsBySet(gdbc, set.ID)
			if err != nil {
				return err
			}
			snap.RotationViews[set.ID.String()] = views
		}
		return nil
	})
	g.Go(func() error {
		plans, err := s.planRepo.ListPlansByWorkspace(gdbc, workspaceID)
		if err != nil {
			return err
		}
		snap.Plans = plans
		for _, plan := range plans {
			steps, err := s.planRepo.ListStepsByPlan(gdbc, plan.ID)
			if err != nil {
				return err
			}
			snap.PlanSteps[plan.ID.String()] = steps
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if s.tracker != nil {
		snap.Presence = s.tracker.List(workspaceID)
	}
	return snap, nil
}
