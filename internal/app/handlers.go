package app

import (
	httpH "github.com/spriteforge/spriteforge-backend/internal/http/handlers"
)

type Handlers struct {
	Health    *httpH.HealthHandler
	Workspace *httpH.WorkspaceHandler
	Action    *httpH.ActionHandler
	Stream    *httpH.StreamHandler
}

func (a *App) wireHandlers() {
	a.Handlers = &Handlers{
		Health: httpH.NewHealthHandler(),
		Workspace: httpH.NewWorkspaceHandler(
			a.Log,
			a.Services.Workspaces,
			a.Services.Snapshots,
			a.Services.Lineage,
			a.Services.Rotation,
			a.Services.Plans,
			a.Services.Chat,
		),
		Action: httpH.NewActionHandler(a.Log, a.Manager),
		Stream: httpH.NewStreamHandler(
			a.Log,
			a.Hub,
			a.Services.Workspaces,
			a.Tracker,
			a.Services.Notifier,
		),
	}
}
