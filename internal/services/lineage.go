package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
	"github.com/spriteforge/spriteforge-backend/internal/platform/dbctx"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/realtime"
)

// LineageGraph is the traversal result for one starting variant.
type LineageGraph struct {
	RootVariantID uuid.UUID            `json:"root_variant_id"`
	Edges         []*types.LineageEdge `json:"edges"`
	VariantIDs    []uuid.UUID          `json:"variant_ids"`
}

// LineageService answers ancestry questions over the edge DAG. Severed edges
// are hidden from direct parent/child listings but still traversed by
// FullGraph, so the history of a variant stays reachable after a sever.
type LineageService interface {
	Direct(ctx context.Context, variantID uuid.UUID) (parents, children []*types.LineageEdge, err error)
	FullGraph(ctx context.Context, variantID uuid.UUID) (*LineageGraph, error)
	Sever(ctx context.Context, workspaceID, edgeID uuid.UUID) (*types.LineageEdge, error)
}

type lineageService struct {
	db          *gorm.DB
	log         *logger.Logger
	lineageRepo repos.LineageRepo
	notify      Notifier
}

func NewLineageService(
	db *gorm.DB,
	baseLog *logger.Logger,
	lineageRepo repos.LineageRepo,
	notify Notifier,
) LineageService {
	return &lineageService{
		db:          db,
		log:         baseLog.With("service", "LineageService"),
		lineageRepo: lineageRepo,
		notify:      notify,
	}
}

func (s *lineageService) Direct(ctx context.Context, variantID uuid.UUID) ([]*types.LineageEdge, []*types.LineageEdge, error) {
	dbc := dbctx.Context{Ctx: ctx}

	parentEdges, err := s.lineageRepo.ListByChildIDs(dbc, []uuid.UUID{variantID})
	if err != nil {
		return nil, nil, err
	}
	childEdges, err := s.lineageRepo.ListByParentIDs(dbc, []uuid.UUID{variantID})
	if err != nil {
		return nil, nil, err
	}
	return dropSevered(parentEdges), dropSevered(childEdges), nil
}

// FullGraph walks ancestors and descendants breadth-first in one pass,
// crossing severed and active edges alike; severed ones come back with the
// flag set so clients can render them differently. Each edge appears exactly
// once even when the DAG reconverges.
func (s *lineageService) FullGraph(ctx context.Context, variantID uuid.UUID) (*LineageGraph, error) {
	dbc := dbctx.Context{Ctx: ctx}

	seenVariants := map[uuid.UUID]bool{variantID: true}
	seenEdges := map[uuid.UUID]bool{}
	graph := &LineageGraph{
		RootVariantID: variantID,
		Edges:         []*types.LineageEdge{},
		VariantIDs:    []uuid.UUID{variantID},
	}

	frontier := []uuid.UUID{variantID}
	for len(frontier) > 0 {
		edges, err := s.lineageRepo.ListTouching(dbc, frontier)
		if err != nil {
			return nil, err
		}

		var next []uuid.UUID
		for _, e := range edges {
			if seenEdges[e.ID] {
				continue
			}
			seenEdges[e.ID] = true
			graph.Edges = append(graph.Edges, e)

			for _, vid := range []uuid.UUID{e.ParentVariantID, e.ChildVariantID} {
				if !seenVariants[vid] {
					seenVariants[vid] = true
					graph.VariantIDs = append(graph.VariantIDs, vid)
					next = append(next, vid)
				}
			}
		}
		frontier = next
	}
	return graph, nil
}

// Sever soft-deletes an edge. The underlying variants are untouched and the
// edge still shows up in full-graph history; only direct listings drop it.
// Severing an already-severed edge is a no-op.
func (s *lineageService) Sever(ctx context.Context, workspaceID, edgeID uuid.UUID) (*types.LineageEdge, error) {
	var severed *types.LineageEdge
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		edge, err := s.lineageRepo.GetByID(dbc, edgeID)
		if err != nil {
			return err
		}
		if edge == nil || edge.WorkspaceID != workspaceID {
			return fmt.Errorf("lineage edge %s: %w", edgeID, pkgerr.ErrNotFound)
		}
		if edge.Severed {
			return nil
		}
		if err := s.lineageRepo.UpdateFields(dbc, edge.ID, map[string]interface{}{
			"severed": true,
		}); err != nil {
			return err
		}
		edge.Severed = true
		severed = edge
		return nil
	})
	if err != nil {
		return nil, err
	}
	if severed != nil {
		s.notify.Broadcast(workspaceID, realtime.TypeLineageSevered, severed)
	}
	return severed, nil
}

func dropSevered(edges []*types.LineageEdge) []*types.LineageEdge {
	out := make([]*types.LineageEdge, 0, len(edges))
	for _, e := range edges {
		if !e.Severed {
			out = append(out, e)
		}
	}
	return out
}
