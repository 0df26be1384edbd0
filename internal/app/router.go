package app

import (
	httpx "github.com/spriteforge/spriteforge-backend/internal/http"
)

func (a *App) wireRouter() {
	a.Server = httpx.NewServer(httpx.RouterConfig{
		Log:            a.Log,
		AuthMiddleware: a.Middleware.Auth,

		HealthHandler:    a.Handlers.Health,
		WorkspaceHandler: a.Handlers.Workspace,
		ActionHandler:    a.Handlers.Action,
		StreamHandler:    a.Handlers.Stream,
	})
}
