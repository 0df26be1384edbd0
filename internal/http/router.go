package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/spriteforge/spriteforge-backend/internal/http/handlers"
	httpMW "github.com/spriteforge/spriteforge-backend/internal/http/middleware"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler    *httpH.HealthHandler
	WorkspaceHandler *httpH.WorkspaceHandler
	ActionHandler    *httpH.ActionHandler
	StreamHandler    *httpH.StreamHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("spriteforge-backend"))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	api := r.Group("/api")

	if cfg.HealthHandler != nil {
		api.GET("/health", cfg.HealthHandler.Health)
	}

	protected := api.Group("/")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}

	if cfg.WorkspaceHandler != nil {
		protected.POST("/workspaces", cfg.WorkspaceHandler.Create)
		protected.GET("/workspaces/:id/snapshot", cfg.WorkspaceHandler.Snapshot)
		protected.GET("/workspaces/:id/variants/:variantId/lineage", cfg.WorkspaceHandler.LineageGraph)
		protected.GET("/workspaces/:id/rotations/:setId", cfg.WorkspaceHandler.RotationSet)
		protected.GET("/workspaces/:id/plans/:planId", cfg.WorkspaceHandler.Plan)
		protected.GET("/workspaces/:id/chat", cfg.WorkspaceHandler.ChatHistory)
	}
	if cfg.ActionHandler != nil {
		protected.POST("/workspaces/:id/actions", cfg.ActionHandler.Dispatch)
	}
	if cfg.StreamHandler != nil {
		protected.GET("/workspaces/:id/stream", cfg.StreamHandler.Stream)
	}

	return r
}
