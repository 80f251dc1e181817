// Package app wires one Coordinator (plus its Discovery and Fetch Worker
// collaborators) per configured source, and holds the shared long-lived
// services — logger, progress hub, rate limiter registry, storage — that
// every source's actors depend on. It is the dependency-injection root the
// CLI and HTTP server both build from.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/lexatlas/acquisition-pipeline/internal/config"
	"github.com/lexatlas/acquisition-pipeline/internal/coordinator"
	"github.com/lexatlas/acquisition-pipeline/internal/discovery"
	"github.com/lexatlas/acquisition-pipeline/internal/fetchworker"
	"github.com/lexatlas/acquisition-pipeline/internal/headless/detector"
	"github.com/lexatlas/acquisition-pipeline/internal/httpclient"
	"github.com/lexatlas/acquisition-pipeline/internal/logging"
	"github.com/lexatlas/acquisition-pipeline/internal/persistence"
	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
	"github.com/lexatlas/acquisition-pipeline/internal/progress"
	"github.com/lexatlas/acquisition-pipeline/internal/progress/sinks"
	memorypublisher "github.com/lexatlas/acquisition-pipeline/internal/publisher/memory"
	pubsubtransport "github.com/lexatlas/acquisition-pipeline/internal/publisher/pubsub"
	queuepubsub "github.com/lexatlas/acquisition-pipeline/internal/queue/pubsub"
	"github.com/lexatlas/acquisition-pipeline/internal/ratelimit"
	"github.com/lexatlas/acquisition-pipeline/internal/source/bjv"
	"github.com/lexatlas/acquisition-pipeline/internal/source/cas"
	"github.com/lexatlas/acquisition-pipeline/internal/source/dof"
	"github.com/lexatlas/acquisition-pipeline/internal/source/scjn"
	"github.com/lexatlas/acquisition-pipeline/internal/store"
	"github.com/lexatlas/acquisition-pipeline/internal/store/fs"
	"github.com/lexatlas/acquisition-pipeline/internal/store/gcsblob"
	"github.com/lexatlas/acquisition-pipeline/internal/store/postgres"
	"github.com/lexatlas/acquisition-pipeline/internal/telemetry"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// App holds all the shared, long-lived services for the process: the
// logger, the progress hub, and one Coordinator per configured source. It
// is initialized once at startup and handed to whichever front end (HTTP
// server, CLI) drives it.
type App struct {
	logger       *zap.Logger
	ring         *logging.Ring
	hub          *progress.Hub
	coordinators map[string]*coordinator.Actor
	cfg          config.Config
	tracerProvider *sdktrace.TracerProvider
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Hub returns the shared progress hub backing the Events control-surface
// operation.
func (a *App) Hub() *progress.Hub { return a.hub }

// Coordinators returns the source-ID-keyed Coordinator set.
func (a *App) Coordinators() map[string]*coordinator.Actor { return a.coordinators }

// Coordinator returns the Coordinator for one source, or false if the
// source ID is not configured.
func (a *App) Coordinator(sourceID string) (*coordinator.Actor, bool) {
	c, ok := a.coordinators[sourceID]
	return c, ok
}

// Config returns the configuration this App was built from.
func (a *App) Config() config.Config { return a.cfg }

// New builds and starts every configured source's Coordinator, Discovery
// actor, and Fetch Worker pool. The caller must eventually call Close to
// drain in-flight work and flush the logger.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	ring := logging.NewRing(cfg.Logging.LogRingSize)
	logger, err := logging.New(cfg.Logging.Development, ring)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	tracerProvider, err := telemetry.InitTracerProvider(ctx, "acquisition-pipeline")
	if err != nil {
		return nil, fmt.Errorf("init tracer provider: %w", err)
	}

	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewMetricsSink(), sinks.NewLogSink(logger))

	docs, checkpoints, blobs, err := buildStores(ctx, cfg.Storage, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("build stores: %w", err)
	}

	notifier, err := buildNotifier(ctx, cfg.Queue, logger)
	if err != nil {
		return nil, fmt.Errorf("build completion notifier: %w", err)
	}

	limiters := ratelimit.NewRegistry()
	baseClient := httpclient.New()
	var httpClient pipeline.HTTPClient = baseClient
	if cfg.Headless.Enabled {
		headless, herr := httpclient.NewHeadlessClient(httpclient.HeadlessConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if herr != nil {
			return nil, fmt.Errorf("build headless client: %w", herr)
		}
		httpClient = &httpclient.PromotingClient{
			Base:      baseClient,
			Headless:  headless,
			Heuristic: detector.NewHeuristic(cfg.Headless.PromotionThresh),
			Logger:    logger.Named("promoting_client"),
		}
	}

	coordinators := make(map[string]*coordinator.Actor, len(cfg.Sources))
	for sourceID, srcCfg := range cfg.Sources {
		adapter, parser, err := buildSource(sourceID, srcCfg, httpClient)
		if err != nil {
			return nil, fmt.Errorf("build source %s: %w", sourceID, err)
		}

		persist := persistence.New(ctx, "persistence-"+sourceID, docs, blobs, checkpoints, hub, persistence.Config{}, logger)

		coord := coordinator.New(
			"coordinator-"+sourceID,
			sourceID,
			persist,
			checkpoints,
			hub,
			notifier,
			coordinator.Config{CheckpointEvery: cfg.Persistence.DefaultCheckpointEvery},
			logger,
		)

		disc := discovery.New(
			ctx,
			"discovery-"+sourceID,
			sourceID,
			adapter,
			limiters.Limiter(sourceID, ratelimit.Config{RequestsPerSecond: cfg.RateLimit.DefaultRPS, Burst: 1}),
			coord,
			hub,
			logger,
		)
		coord.AttachDiscovery(disc)

		fetchers := make([]*fetchworker.Actor, 0, cfg.RateLimit.Concurrency)
		for i := 0; i < cfg.RateLimit.Concurrency; i++ {
			fetchers = append(fetchers, fetchworker.New(
				ctx,
				fmt.Sprintf("fetchworker-%s-%d", sourceID, i),
				sourceID,
				httpClient,
				parser,
				limiters.Limiter(sourceID, ratelimit.Config{RequestsPerSecond: cfg.RateLimit.DefaultRPS, Burst: 1}),
				persist,
				coord,
				hub,
				fetchworker.Config{Timeouts: pipeline.HTTPTimeouts{Total: cfg.HTTPTimeout()}},
				logger,
			))
		}
		coord.AttachFetchers(fetchers)

		coord.Start(ctx)
		coordinators[sourceID] = coord
	}

	return &App{
		logger:         logger,
		ring:           ring,
		hub:            hub,
		coordinators:   coordinators,
		cfg:            cfg,
		tracerProvider: tracerProvider,
	}, nil
}

// buildSource selects the SourceAdapter/Parser pair for a source ID. New
// sources are added here, not in the Coordinator or HTTP layers.
func buildSource(sourceID string, cfg config.SourceConfig, client pipeline.HTTPClient) (discovery.SourceAdapter, pipeline.Parser, error) {
	switch sourceID {
	case "dof":
		return dof.New(client, cfg.BaseURL), dof.NewParser(), nil
	case "scjn":
		return scjn.New(client, cfg.BaseURL), scjn.NewParser(), nil
	case "bjv":
		return bjv.New(client, cfg.BaseURL), bjv.NewParser(), nil
	case "cas":
		return cas.New(client, cfg.BaseURL), cas.NewParser(), nil
	default:
		return nil, nil, fmt.Errorf("unknown source id %q", sourceID)
	}
}

func buildStores(ctx context.Context, storageCfg config.StorageConfig, dbCfg config.DBConfig) (store.DocumentStore, store.CheckpointStore, store.BlobStore, error) {
	switch storageCfg.Backend {
	case "fs", "":
		s, err := fs.New(storageCfg.Directory)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init fs store: %w", err)
		}
		return s, s, s, nil
	case "gcsblob":
		// gcsblob only implements BlobStore; document and checkpoint records
		// still land on the local filesystem index next to the raw blobs.
		s, err := fs.New(storageCfg.Directory)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init fs store: %w", err)
		}
		blobs, err := buildBlobStore(ctx, storageCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, blobs, nil
	case "postgres":
		s, err := postgres.New(ctx, dbCfg.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init postgres store: %w", err)
		}
		blobs, err := buildBlobStore(ctx, storageCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, blobs, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", storageCfg.Backend)
	}
}

func buildBlobStore(ctx context.Context, storageCfg config.StorageConfig) (store.BlobStore, error) {
	if storageCfg.GCSBucket == "" {
		return nil, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("init gcs client: %w", err)
	}
	s, err := gcsblob.New(client, gcsblob.Config{Bucket: storageCfg.GCSBucket})
	if err != nil {
		return nil, fmt.Errorf("init gcsblob store: %w", err)
	}
	return s, nil
}

func buildNotifier(ctx context.Context, cfg config.QueueConfig, logger *zap.Logger) (coordinator.CompletionNotifier, error) {
	switch cfg.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		topic := client.Topic(cfg.TopicName)
		return queuepubsub.New(pubsubtransport.New(topic), cfg.TopicName, logger), nil
	default:
		return queuepubsub.New(memorypublisher.New(), "local", logger), nil
	}
}

// Close drains in-flight work for every source and flushes the logger.
func (a *App) Close() {
	for sourceID, coord := range a.coordinators {
		coord.Stop()
		a.logger.Info("coordinator stopped", zap.String("source_id", sourceID))
	}
	if err := a.hub.Close(context.Background()); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
	if err := a.tracerProvider.Shutdown(context.Background()); err != nil {
		a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
}
