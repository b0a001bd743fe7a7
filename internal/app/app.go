package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-ingest/internal/data/db"
	apphttp "github.com/yungbote/neurobridge-ingest/internal/http"
	"github.com/yungbote/neurobridge-ingest/internal/observability"
	"github.com/yungbote/neurobridge-ingest/internal/platform/envutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *apphttp.Server
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	dotenvErr := LoadDotEnv()
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if dotenvErr != nil {
		log.Debug("No .env file loaded", "error", dotenvErr)
	}
	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	a := &App{Log: log, Cfg: cfg}
	shutdown, err := observability.InitTracing(ctx, log, cfg.Tracing)
	if err != nil {
		log.Warn("Tracing disabled; exporter init failed", "error", err)
	}
	a.otelShutdown = shutdown

	pg, err := db.NewPostgresService(log, cfg.DB)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init metadata store: %w", err)
	}
	a.pg = pg
	if err := pg.AutoMigrateAll(); err != nil {
		a.Close()
		return nil, fmt.Errorf("metadata store automigrate: %w", err)
	}
	a.DB = pg.DB()
	a.Repos = wireRepos(a.DB, log)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Clients = clients

	serviceset, err := wireServices(log, cfg, a.Repos, clients)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Services = serviceset

	handlerset := wireHandlers(log, cfg, serviceset, clients, a.ping)
	middleware := wireMiddleware(log, cfg)
	a.Server = wireServer(log, cfg, handlerset, middleware)
	return a, nil
}

func (a *App) ping(ctx context.Context) error {
	if a.DB == nil {
		return errors.New("metadata store not initialized")
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Run serves HTTP on PORT until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	addr := ":" + a.Cfg.Port
	a.Log.Info("Server listening", "address", addr)
	return a.Server.Run(ctx, addr)
}

// Close drains pending index notifications before releasing the store
// clients, so no in-flight notification outlives its dependencies.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Services.Trigger != nil {
		if err := a.Services.Trigger.Drain(a.Cfg.IndexTriggerDrain); err != nil {
			a.Log.Warn("Index trigger drain incomplete", "error", err)
		}
		a.Services.Trigger = nil
	}
	if a.Clients.Gateway != nil {
		if err := a.Clients.Gateway.Close(); err != nil {
			a.Log.Warn("Object store close failed", "error", err)
		}
		a.Clients.Gateway = nil
	}
	if a.pg != nil {
		if err := a.pg.Close(); err != nil {
			a.Log.Warn("Metadata store close failed", "error", err)
		}
		a.pg = nil
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("Tracer shutdown failed", "error", err)
		}
		cancel()
		a.otelShutdown = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
