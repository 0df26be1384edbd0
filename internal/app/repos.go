package app

import (
	"github.com/spriteforge/spriteforge-backend/internal/data/repos"
)

type Repos struct {
	Workspace repos.WorkspaceRepo
	Asset     repos.AssetRepo
	Variant   repos.VariantRepo
	Lineage   repos.LineageRepo
	Rotation  repos.RotationRepo
	Plan      repos.PlanRepo
	Chat      repos.ChatRepo
}

func (a *App) wireRepos() {
	db := a.DB.DB()
	a.Repos = &Repos{
		Workspace: repos.NewWorkspaceRepo(db, a.Log),
		Asset:     repos.NewAssetRepo(db, a.Log),
		Variant:   repos.NewVariantRepo(db, a.Log),
		Lineage:   repos.NewLineageRepo(db, a.Log),
		Rotation:  repos.NewRotationRepo(db, a.Log),
		Plan:      repos.NewPlanRepo(db, a.Log),
		Chat:      repos.NewChatRepo(db, a.Log),
	}
}
