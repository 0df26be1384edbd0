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

func TestWorkspaceCreateSeedsOwnerMembership(t *testing.T) {
	e := newEnv(t)
	user := uuid.New()

	ws, err := e.workspaces.Create(testutil.Ctx(user), "  Tileset Lab  ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ws.Name != "Tileset Lab" || ws.OwnerUserID != user {
		t.Fatalf("workspace fields wrong: %+v", ws)
	}

	role, err := e.workspaces.MemberRole(testutil.Ctx(user), ws.ID, user)
	if err != nil {
		t.Fatalf("member role: %v", err)
	}
	if role != types.RoleOwner {
		t.Fatalf("creator should be owner, got %s", role)
	}

	if _, err := e.workspaces.Create(context.Background(), "x"); !errors.Is(err, pkgerr.ErrPermission) {
		t.Fatalf("unauthenticated create should be rejected, got %v", err)
	}
	if _, err := e.workspaces.Create(testutil.Ctx(user), "   "); !errors.Is(err, pkgerr.ErrValidation) {
		t.Fatalf("blank name should fail validation, got %v", err)
	}
}

func TestWorkspaceMemberRoleManagement(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	ctx := testutil.Ctx(owner)

	guest := uuid.New()
	if _, err := e.workspaces.MemberRole(ctx, ws.ID, guest); !errors.Is(err, pkgerr.ErrPermission) {
		t.Fatalf("non-member lookup should be a permission error, got %v", err)
	}

	if err := e.workspaces.SetMemberRole(ctx, ws.ID, guest, "superuser"); !errors.Is(err, pkgerr.ErrValidation) {
		t.Fatalf("unknown role should fail validation, got %v", err)
	}

	if err := e.workspaces.SetMemberRole(ctx, ws.ID, guest, types.RoleEditor); err != nil {
		t.Fatalf("grant editor: %v", err)
	}
	role, err := e.workspaces.MemberRole(ctx, ws.ID, guest)
	if err != nil || role != types.RoleEditor {
		t.Fatalf("expected editor, got %q err %v", role, err)
	}

	// Upsert, not insert: regrading replaces the row.
	if err := e.workspaces.SetMemberRole(ctx, ws.ID, guest, types.RoleViewer); err != nil {
		t.Fatalf("demote: %v", err)
	}
	role, _ = e.workspaces.MemberRole(ctx, ws.ID, guest)
	if role != types.RoleViewer {
		t.Fatalf("expected viewer after demotion, got %q", role)
	}

	members, err := e.workspaces.ListMembers(ctx, ws.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected owner plus guest, got %d members", len(members))
	}
}

func TestWorkspaceRenameBroadcasts(t *testing.T) {
	e := newEnv(t)
	ws, owner := testutil.SeedWorkspace(t, e.db)
	ctx := testutil.Ctx(owner)

	updated, err := e.workspaces.Rename(ctx, ws.ID, "Dungeon Pack")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if updated.Name != "Dungeon Pack" {
		t.Fatalf("name not applied: %+v", updated)
	}
	if got := e.notifier.countOf("workspace:updated"); got != 1 {
		t.Fatalf("rename should broadcast once, got %d", got)
	}

	if _, err := e.workspaces.Rename(ctx, uuid.New(), "x"); !errors.Is(err, pkgerr.ErrNotFound) {
		t.Fatalf("renaming a missing workspace should be not found, got %v", err)
	}
}
