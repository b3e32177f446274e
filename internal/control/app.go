package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/cloudlink/internal/core/clock"
	"github.com/vietddude/cloudlink/internal/core/config"
	"github.com/vietddude/cloudlink/internal/infra/events"
	"github.com/vietddude/cloudlink/internal/infra/kv"
	"github.com/vietddude/cloudlink/internal/infra/notify"
	"github.com/vietddude/cloudlink/internal/infra/provider"
	"github.com/vietddude/cloudlink/internal/infra/provider/drive"
	"github.com/vietddude/cloudlink/internal/infra/provider/s3"
	redisclient "github.com/vietddude/cloudlink/internal/infra/redis"
	"github.com/vietddude/cloudlink/internal/infra/storage"
	"github.com/vietddude/cloudlink/internal/infra/storage/memory"
	"github.com/vietddude/cloudlink/internal/infra/storage/postgres"
	"github.com/vietddude/cloudlink/internal/resilience/classify"
	"github.com/vietddude/cloudlink/internal/resilience/health"
	"github.com/vietddude/cloudlink/internal/resilience/ratelimit"
	"github.com/vietddude/cloudlink/internal/resilience/refresh"
	"github.com/vietddude/cloudlink/internal/resilience/retry"
	"github.com/vietddude/cloudlink/internal/resilience/tracker"
)

// App owns the engine, its backing stores and its listeners.
type App struct {
	cfg         *config.AppConfig
	engine      *Engine
	store       storage.Store
	httpServer  *Server
	grpcServer  *GRPCServer
	refresher   *Refresher
	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
}

// NewApp creates an App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := slog.Default()
	clk := clock.Real()
	checks := make(map[string]Check)

	// 1. Key-value store
	var kvStore kv.Store
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		kvStore = redisClient
		checks["redis"] = redisClient.Ping
		log.Info("Using Redis key-value store")
	} else {
		kvStore = kv.NewMemoryStore(clk)
		log.Info("Using in-memory key-value store")
	}

	// 2. Credential and health storage
	var store storage.Store
	var db *postgres.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := postgres.Migrate(ctx, db.DB.DB); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		store = postgres.NewStore(db)
		checks["database"] = db.Health
		log.Info("Using PostgreSQL storage")
	} else {
		store = memory.NewMemoryStorage()
		log.Info("Using Memory storage")
	}

	// 3. Provider clients and per-provider policies
	registry := provider.NewRegistry()
	policies := retry.DefaultPolicies()
	for _, pc := range cfg.Providers {
		client, err := newProviderClient(pc)
		if err != nil {
			return nil, err
		}
		registry.Register(provider.NewBreaker(client, pc.Breaker, log))
		if pc.QuotaRetryDelay > 0 {
			pol := policies.For(pc.Name)
			pol.QuotaDelay = pc.QuotaRetryDelay
			policies.Set(pc.Name, pol)
		}
		log.Info("Provider configured", "provider", pc.Name, "type", pc.Type)
	}

	// 4. Resilience components
	dispatcher := notify.Dispatcher(notify.NewLog(log))
	if cfg.Notify.WebhookURL != "" {
		dispatcher = notify.Multi{dispatcher, notify.NewWebhook(cfg.Notify, nil)}
	}
	sink := events.NewLogSink(log)
	limiter := ratelimit.New(kvStore, cfg.RateLimits.Rules(), clk, log)
	errTracker := tracker.New(kvStore, dispatcher, sink, clk, cfg.Alerts, log)
	classifier := classify.Default()

	orchestrator := refresh.New(refresh.Deps{
		Store:     store,
		KV:        kvStore,
		Limiter:   limiter,
		Providers: registry,
		Policies:  policies,
		Tracker:   errTracker,
		Events:    sink,
		Clock:     clk,
		Logger:    log,
	}, cfg.Refresh.Config)

	machine := health.New(health.Deps{
		Store:      store,
		KV:         kvStore,
		Tokens:     orchestrator,
		Providers:  registry,
		Limiter:    limiter,
		Classifier: classifier,
		Tracker:    errTracker,
		Events:     sink,
		Clock:      clk,
		Logger:     log,
	}, cfg.Health)

	engine := NewEngine(EngineDeps{
		Store:      store,
		Providers:  registry,
		Classifier: classifier,
		Policies:   policies,
		Refresh:    orchestrator,
		Health:     machine,
		Tracker:    errTracker,
		Clock:      clk,
		Logger:     log,
	})

	// 5. Listeners and workers
	app := &App{
		cfg:         cfg,
		engine:      engine,
		store:       store,
		httpServer:  NewServer(engine, cfg.Server.Port, checks),
		refresher:   NewRefresher(store, engine, cfg.Refresh.ScanInterval, orchestrator.Config().ExpiryBuffer, clk),
		db:          db,
		redisClient: redisClient,
		log:         log,
	}
	if cfg.Server.GRPCPort > 0 {
		app.grpcServer = NewGRPCServer(engine, cfg.Server.GRPCPort)
	}
	return app, nil
}

func newProviderClient(pc config.ProviderConfig) (provider.Client, error) {
	switch pc.Type {
	case config.TypeDrive:
		return drive.New(pc.OAuth, nil), nil
	case config.TypeS3:
		return s3.New(pc.S3, nil), nil
	}
	return nil, fmt.Errorf("provider %s: unknown type %q", pc.Name, pc.Type)
}

// Engine returns the exposed engine.
func (a *App) Engine() *Engine {
	return a.engine
}

// Store returns the credential and health storage.
func (a *App) Store() storage.Store {
	return a.store
}

// Start starts the listeners and the proactive refresher.
func (a *App) Start(ctx context.Context) error {
	// Start HTTP Server
	go func() {
		if err := a.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("HTTP server failed", "error", err)
		}
	}()
	a.log.Info("HTTP server listening", "port", a.cfg.Server.Port)

	// Start gRPC Health Server
	if a.grpcServer != nil {
		go func() {
			if err := a.grpcServer.Start(); err != nil {
				a.log.Error("gRPC server failed", "error", err)
			}
		}()
		a.log.Info("gRPC health server listening", "port", a.cfg.Server.GRPCPort)
	}

	// Start Refresher
	go a.refresher.Start(ctx)

	return nil
}

// Stop stops the listeners and closes the backing stores.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping cloudlink...")

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if a.grpcServer != nil {
		if err := a.grpcServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("grpc server: %w", err))
		}
	}

	// Close Redis
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
	return errors.Join(errs...)
}
