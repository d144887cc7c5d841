// Package app initializes and holds the long-lived pipeline services, acting
// as the composition root. Every collaborator is chosen once here from
// configuration and injected explicitly; nothing reaches for globals.
package app

import (
	"context"
	"fmt"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/zonedesk/ingest/internal/archive"
	"github.com/zonedesk/ingest/internal/bus"
	buspubsub "github.com/zonedesk/ingest/internal/bus/pubsub"
	"github.com/zonedesk/ingest/internal/cache"
	"github.com/zonedesk/ingest/internal/clock/system"
	"github.com/zonedesk/ingest/internal/config"
	"github.com/zonedesk/ingest/internal/extractor"
	"github.com/zonedesk/ingest/internal/fetcher"
	"github.com/zonedesk/ingest/internal/id/uuid"
	"github.com/zonedesk/ingest/internal/metrics"
	"github.com/zonedesk/ingest/internal/orchestrator"
	"github.com/zonedesk/ingest/internal/pipeline"
	repomemory "github.com/zonedesk/ingest/internal/repository/memory"
	repopostgres "github.com/zonedesk/ingest/internal/repository/postgres"
	"github.com/zonedesk/ingest/internal/scheduler"
)

// App holds the shared services for one pipeline process.
type App struct {
	Logger       *zap.Logger
	Cache        *cache.Store
	Bus          *bus.Bus
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler

	invalidator *cache.Invalidator
	bridge      *buspubsub.Bridge
	pgRepo      *repopostgres.Repository
	pubsubConn  *gcpubsub.Client
	gcsConn     *gcstorage.Client
}

// New builds the full service graph from cfg. It fails fast when a required
// backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	a := &App{Logger: logger}
	clk := system.New()

	a.Cache = cache.New(cache.Config{
		SweepInterval: cfg.SweepInterval(),
		Clock:         clk,
		Logger:        logger.Named("cache"),
	})

	a.Bus = bus.New(bus.Config{
		SubscriberBuffer: cfg.Bus.SubscriberBuffer,
		Logger:           logger.Named("bus"),
	})

	a.invalidator = cache.NewInvalidator(a.Cache, logger.Named("invalidator"))
	a.invalidator.Register(a.Bus)

	repo, err := a.buildRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	arc, err := a.buildArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mode := fetcher.ModeFull
	if cfg.Fetcher.HTTPOnly {
		mode = fetcher.ModeHTTPOnly
	}
	client := fetcher.New(fetcher.Config{
		Mode:              mode,
		UserAgent:         cfg.Fetcher.UserAgent,
		Timeout:           cfg.FetchTimeout(),
		MaxRetries:        cfg.Fetcher.MaxRetries,
		BackoffBase:       time.Duration(cfg.Fetcher.BackoffInitialMs) * time.Millisecond,
		BackoffMax:        time.Duration(cfg.Fetcher.BackoffMaxMs) * time.Millisecond,
		RequestDelay:      cfg.RequestDelay(),
		MaxParallelRender: cfg.Fetcher.MaxParallelRender,
	}, logger.Named("fetcher"))
	logger.Info("fetch client ready", zap.String("mode", string(client.Mode())))

	a.Orchestrator = orchestrator.New(
		client,
		extractor.NewRegistry(),
		nil,
		repo,
		a.Bus,
		arc,
		clk,
		uuid.NewGenerator(),
		orchestrator.Config{
			ConcurrencyLimit: cfg.Orchestrator.ConcurrencyLimit,
			MaxAutoRetries:   cfg.Orchestrator.MaxAutoRetries,
			FetchTimeout:     cfg.FetchTimeout(),
			ArchivePrefix:    cfg.Orchestrator.ArchivePrefix,
		},
		logger.Named("orchestrator"),
	)

	a.Scheduler = scheduler.New(a.Orchestrator, 0, logger.Named("scheduler"))

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		if err := a.buildBridge(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *App) buildRepository(ctx context.Context, cfg config.Config) (pipeline.Repository, error) {
	switch cfg.Repository.Provider {
	case "postgres":
		repo, err := repopostgres.New(ctx, repopostgres.Config{
			DSN:   cfg.Repository.DSN,
			Table: cfg.Repository.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres repository: %w", err)
		}
		a.pgRepo = repo
		return repo, nil
	default:
		return repomemory.New(), nil
	}
}

func (a *App) buildArchive(ctx context.Context, cfg config.Config) (pipeline.Archive, error) {
	switch cfg.Archive.Provider {
	case "none":
		return nil, nil
	case "local":
		arc, err := archive.NewLocal(cfg.Archive.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("initialize local archive: %w", err)
		}
		return arc, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize gcs client: %w", err)
		}
		a.gcsConn = client
		arc, err := archive.NewGCS(client, cfg.Archive.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("initialize gcs archive: %w", err)
		}
		return arc, nil
	default:
		return archive.NewMemory(), nil
	}
}

func (a *App) buildBridge(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("initialize pubsub client: %w", err)
	}
	a.pubsubConn = client
	bridge, err := buspubsub.NewBridge(client.Topic(cfg.PubSub.TopicName), logger.Named("pubsub-bridge"))
	if err != nil {
		return fmt.Errorf("initialize pubsub bridge: %w", err)
	}
	a.bridge = bridge
	bridge.Register(a.Bus)
	logger.Info("pubsub bridge enabled", zap.String("topic", cfg.PubSub.TopicName))
	return nil
}

// Close tears the service graph down in reverse dependency order.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Orchestrator != nil {
		a.Orchestrator.Close()
	}
	if a.bridge != nil {
		a.bridge.Deregister(a.Bus)
	}
	if a.invalidator != nil {
		a.invalidator.Deregister(a.Bus)
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.pgRepo != nil {
		a.pgRepo.Close()
	}
	if a.pubsubConn != nil {
		_ = a.pubsubConn.Close()
	}
	if a.gcsConn != nil {
		_ = a.gcsConn.Close()
	}
}
