// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/customeros/customeros-sub005/internal/api"
	"github.com/customeros/customeros-sub005/internal/automation"
	"github.com/customeros/customeros-sub005/internal/clock/system"
	"github.com/customeros/customeros-sub005/internal/config"
	"github.com/customeros/customeros-sub005/internal/executor"
	"github.com/customeros/customeros-sub005/internal/id/uuid"
	"github.com/customeros/customeros-sub005/internal/logging"
	"github.com/customeros/customeros-sub005/internal/metrics"
	"github.com/customeros/customeros-sub005/internal/proxy"
	memoryPublisher "github.com/customeros/customeros-sub005/internal/publisher/memory"
	noopPublisher "github.com/customeros/customeros-sub005/internal/publisher/noop"
	pubsubPublisher "github.com/customeros/customeros-sub005/internal/publisher/pubsub"
	"github.com/customeros/customeros-sub005/internal/scheduler"
	"github.com/customeros/customeros-sub005/internal/storage/gcs"
	"github.com/customeros/customeros-sub005/internal/storage/local"
	"github.com/customeros/customeros-sub005/internal/storage/memory"
	"github.com/customeros/customeros-sub005/internal/storage/postgres"
)

// App holds all the shared, long-lived services for the application. It is
// initialized once at startup and passed to the components that need it.
type App struct {
	Logger    *zap.Logger
	Config    config.Config
	Runs      automation.RunStore
	Results   automation.ResultStore
	Sessions  automation.SessionStore
	Proxies   automation.ProxyStore
	Logs      automation.LogStore
	Publisher automation.Publisher
	Scheduler *scheduler.Scheduler
	Server    *api.Server

	pool      *pgxpool.Pool
	gcsClient *gstorage.Client
}

// New creates and initializes an App from the configuration. It fails fast if
// any critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{Logger: logger, Config: cfg}

	if err := a.initStores(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initLogStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx, cfg); err != nil {
		return nil, err
	}

	clock := system.New()
	assigner := proxy.NewAssigner(a.Proxies, clock, logger.Named("proxy"))

	exec := a.buildExecutor(cfg, logger)

	policy := automation.NewRetryPolicyWith(
		cfg.Retry.MaxRetries,
		cfg.Retry.BaseDelay(),
		cfg.Retry.MaxDelay(),
	)

	a.Scheduler = scheduler.New(
		a.Runs,
		a.Results,
		a.Sessions,
		assigner,
		exec,
		a.Logs,
		a.Publisher,
		policy,
		clock,
		uuid.NewGenerator(),
		scheduler.Config{
			Workers:          cfg.Scheduler.Workers,
			ExecutionTimeout: cfg.ExecutionTimeout(),
			ClaimInterval:    cfg.ClaimInterval(),
			ClaimBackoff:     cfg.ClaimBackoff(),
			GraceWindow:      cfg.GraceWindow(),
		},
		logger.Named("scheduler"),
	)
	a.Server = api.NewServer(a.Scheduler, a.Runs, a.Results, logger.Named("api"), cfg)

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Provider),
		zap.String("logs", cfg.Logs.Provider),
		zap.String("pubsub", cfg.PubSub.Provider),
		zap.Bool("headless", cfg.Headless.Enabled),
	)
	return a, nil
}

func (a *App) initStores(ctx context.Context, cfg config.Config) error {
	switch cfg.Store.Provider {
	case "memory":
		a.Runs = memory.NewRunStore()
		a.Results = memory.NewResultStore()
		a.Sessions = memory.NewSessionStore()
		a.Proxies = memory.NewProxyStore()
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("init postgres: %w", err)
		}
		a.pool = pool
		a.Runs = postgres.NewRunStore(pool)
		a.Results = postgres.NewResultStore(pool)
		a.Sessions = postgres.NewSessionStore(pool)
		a.Proxies = postgres.NewProxyStore(pool)
	default:
		return fmt.Errorf("unknown store provider: %s", cfg.Store.Provider)
	}
	return nil
}

func (a *App) initLogStore(ctx context.Context, cfg config.Config) error {
	switch cfg.Logs.Provider {
	case "memory":
		a.Logs = memory.NewLogStore()
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Logs.BaseDir})
		if err != nil {
			return fmt.Errorf("init local log store: %w", err)
		}
		a.Logs = store
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Logs.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs log store: %w", err)
		}
		a.Logs = store
	default:
		return fmt.Errorf("unknown logs provider: %s", cfg.Logs.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context, cfg config.Config) error {
	switch cfg.PubSub.Provider {
	case "noop":
		a.Publisher = noopPublisher.New()
	case "memory":
		a.Publisher = memoryPublisher.New()
	case "pubsub":
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		a.Publisher = pubsubPublisher.New(client, cfg.PubSub.TopicName)
	default:
		return fmt.Errorf("unknown pubsub provider: %s", cfg.PubSub.Provider)
	}
	return nil
}

func (a *App) buildExecutor(cfg config.Config, logger *zap.Logger) automation.Executor {
	if !cfg.Headless.Enabled {
		return executor.NewNoop()
	}
	chrome := executor.NewChromedp(executor.Config{
		NavigationTimeout: cfg.NavTimeout(),
		Headless:          !cfg.Headless.ChromeVisible,
	}, logger.Named("executor"))
	executor.RegisterDefaults(chrome)
	return chrome
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn("error closing publisher", zap.Error(err))
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("error closing gcs client", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.Logger.Sync()
}
