package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/spriteforge/spriteforge-backend/internal/clients/openai"
	redisclient "github.com/spriteforge/spriteforge-backend/internal/clients/redis"
	"github.com/spriteforge/spriteforge-backend/internal/db"
	httpx "github.com/spriteforge/spriteforge-backend/internal/http"
	"github.com/spriteforge/spriteforge-backend/internal/observability"
	"github.com/spriteforge/spriteforge-backend/internal/platform/gcp"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/presence"
	"github.com/spriteforge/spriteforge-backend/internal/realtime/bus"
	"github.com/spriteforge/spriteforge-backend/internal/sse"
	"github.com/spriteforge/spriteforge-backend/internal/temporalx"
	"github.com/spriteforge/spriteforge-backend/internal/temporalx/temporalworker"
	"github.com/spriteforge/spriteforge-backend/internal/workspace"
)

type App struct {
	Log *logger.Logger
	Cfg Config

	DB       *db.PostgresService
	Redis    *goredis.Client
	Bucket   gcp.BucketService
	OpenAI   openai.Client
	Temporal temporalsdkclient.Client

	Hub     *sse.Hub
	Bus     bus.Bus
	Tracker *presence.Tracker

	Repos      *Repos
	Services   *Services
	Manager    *workspace.Manager
	Handlers   *Handlers
	Middleware *Middleware
	Server     *httpx.Server

	worker       *temporalworker.Runner
	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	cfg := LoadConfig()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	a := &App{Log: log, Cfg: cfg}

	a.otelShutdown = observability.Init(context.Background(), log, observability.Config{
		ServiceName: "spriteforge-backend",
		Environment: cfg.Environment,
	})

	if a.DB, err = db.NewPostgresService(log); err != nil {
		return nil, err
	}
	if err := a.DB.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Redis backs the cross-instance broadcast bus and the quota gate.
	// Both degrade to single-instance behavior without it.
	if a.Redis, err = redisclient.NewClient(log); err != nil {
		log.Warn("Redis unavailable; broadcast bus and quotas run degraded", "error", err)
		a.Redis = nil
	} else {
		if a.Bus, err = bus.NewRedisBus(log, a.Redis); err != nil {
			return nil, err
		}
	}

	if a.Bucket, err = gcp.NewBucketService(log); err != nil {
		return nil, err
	}
	if a.OpenAI, err = openai.NewClient(log); err != nil {
		return nil, err
	}
	if a.Temporal, err = temporalx.NewClient(log); err != nil {
		return nil, err
	}

	a.Hub = sse.NewHub(log)
	a.Tracker = presence.NewTracker()

	a.wireRepos()
	if err := a.wireServices(); err != nil {
		return nil, err
	}

	if a.Temporal != nil {
		provider, err := openai.NewImageProvider(log, a.OpenAI)
		if err != nil {
			return nil, err
		}
		if a.worker, err = temporalworker.NewRunner(log, a.Temporal, provider, a.Services.Media, a.Manager); err != nil {
			return nil, err
		}
	}

	a.wireHandlers()
	if err := a.wireMiddleware(); err != nil {
		return nil, err
	}
	a.wireRouter()

	return a, nil
}

// Start launches the background workers. The HTTP server itself is started
// separately via Run.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Bus != nil {
		if err := a.Bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
			return fmt.Errorf("broadcast forwarder: %w", err)
		}
	}

	if a.worker != nil {
		if err := a.worker.Start(ctx); err != nil {
			return fmt.Errorf("temporal worker: %w", err)
		}
	}

	go a.sweepPresence(ctx)
	return nil
}

func (a *App) sweepPresence(ctx context.Context) {
	ticker := time.NewTicker(a.Cfg.PresenceSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := a.Tracker.Sweep(); evicted > 0 {
				a.Log.Debug("Evicted stale presence entries", "count", evicted)
			}
		}
	}
}

func (a *App) Run(address string) error {
	return a.Server.Run(address)
}

func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.Server.Shutdown(shutdownCtx)
		done()
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Temporal != nil {
		a.Temporal.Close()
	}
	if a.otelShutdown != nil {
		flushCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(flushCtx)
		done()
	}
	a.Log.Sync()
}
