package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos/testutil"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	pkgerr "github.com/spriteforge/spriteforge-backend/internal/pkg/errors"
)

func TestLineageFullGraphDedupesReconvergence(t *testing.T) {
	e := newEnv(t)
	ws, _ := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)

	// Diamond: root -> a, root -> b, a -> merged, b -> merged.
	root := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)
	a := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)
	b := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)
	merged := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)
	testutil.SeedEdge(t, e.db, ws.ID, root.ID, a.ID, types.RelationDerived)
	testutil.SeedEdge(t, e.db, ws.ID, root.ID, b.ID, types.RelationDerived)
	testutil.SeedEdge(t, e.db, ws.ID, a.ID, merged.ID, types.RelationDerived)
	testutil.SeedEdge(t, e.db, ws.ID, b.ID, merged.ID, types.RelationDerived)

	ctx := context.Background()
	graph, err := e.lineage.FullGraph(ctx, a.ID)
	if err != nil {
		t.Fatalf("full graph: %v", err)
	}
	if graph.RootVariantID != a.ID {
		t.Fatalf("wrong root: %s", graph.RootVariantID)
	}
	if len(graph.Edges) != 4 {
		t.Fatalf("expected all 4 edges exactly once, got %d", len(graph.Edges))
	}
	if len(graph.VariantIDs) != 4 {
		t.Fatalf("expected 4 distinct variants, got %d", len(graph.VariantIDs))
	}
	seen := map[uuid.UUID]int{}
	for _, id := range graph.VariantIDs {
		seen[id]++
		if seen[id] > 1 {
			t.Fatalf("variant %s listed more than once", id)
		}
	}
}

func TestLineageSeverHidesDirectButKeepsHistory(t *testing.T) {
	e := newEnv(t)
	ws, _ := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)

	parent := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)
	child := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)
	grandchild := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)
	edge := testutil.SeedEdge(t, e.db, ws.ID, parent.ID, child.ID, types.RelationDerived)
	testutil.SeedEdge(t, e.db, ws.ID, child.ID, grandchild.ID, types.RelationDerived)

	ctx := context.Background()
	severed, err := e.lineage.Sever(ctx, ws.ID, edge.ID)
	if err != nil {
		t.Fatalf("sever: %v", err)
	}
	if severed == nil || !severed.Severed {
		t.Fatalf("edge should be marked severed: %+v", severed)
	}

	// Severed edges disappear from direct queries only.
	parents, _, err := e.lineage.Direct(ctx, child.ID)
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	if len(parents) != 0 {
		t.Fatalf("severed edge still visible: %+v", parents)
	}

	// Full-graph history crosses the severed edge: starting from the
	// grandchild, the parent is still reachable and the edge comes back
	// flagged.
	graph, err := e.lineage.FullGraph(ctx, grandchild.ID)
	if err != nil {
		t.Fatalf("full graph: %v", err)
	}
	if len(graph.Edges) != 2 || len(graph.VariantIDs) != 3 {
		t.Fatalf("history should span the severed edge: %d edges, %d variants", len(graph.Edges), len(graph.VariantIDs))
	}
	severedSeen := 0
	for _, ge := range graph.Edges {
		if ge.ID == edge.ID {
			if !ge.Severed {
				t.Fatalf("traversed edge should be flagged severed: %+v", ge)
			}
			severedSeen++
		}
	}
	if severedSeen != 1 {
		t.Fatalf("severed edge missing from full graph: %+v", graph.Edges)
	}

	// Re-severing is a silent no-op.
	broadcastsBefore := e.notifier.countOf("lineage:severed")
	if _, err := e.lineage.Sever(ctx, ws.ID, edge.ID); err != nil {
		t.Fatalf("second sever: %v", err)
	}
	if got := e.notifier.countOf("lineage:severed"); got != broadcastsBefore {
		t.Fatalf("duplicate sever must not rebroadcast")
	}
}

func TestLineageSeverChecksWorkspace(t *testing.T) {
	e := newEnv(t)
	ws, _ := testutil.SeedWorkspace(t, e.db)
	other, _ := testutil.SeedWorkspace(t, e.db)
	asset := testutil.SeedAsset(t, e.db, ws.ID, nil)
	parent := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)
	child := testutil.SeedVariant(t, e.db, ws.ID, asset.ID, types.VariantStatusCompleted)
	edge := testutil.SeedEdge(t, e.db, ws.ID, parent.ID, child.ID, types.RelationDerived)

	if _, err := e.lineage.Sever(context.Background(), other.ID, edge.ID); !errors.Is(err, pkgerr.ErrNotFound) {
		t.Fatalf("cross-workspace sever should be not found, got %v", err)
	}
}
