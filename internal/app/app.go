// Package app initializes and holds the long-lived services of the ingestion
// pipeline, acting as a dependency injection container. It is the central
// point for service initialization and is designed to fail fast if any
// critical service cannot be built.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/whale-sentinel/internal/api"
	"github.com/JakeFAU/whale-sentinel/internal/config"
	"github.com/JakeFAU/whale-sentinel/internal/extractor"
	"github.com/JakeFAU/whale-sentinel/internal/fingerprint"
	"github.com/JakeFAU/whale-sentinel/internal/listener"
	"github.com/JakeFAU/whale-sentinel/internal/metrics"
	"github.com/JakeFAU/whale-sentinel/internal/parser"
	pubsubpub "github.com/JakeFAU/whale-sentinel/internal/publisher/pubsub"
	"github.com/JakeFAU/whale-sentinel/internal/queue/memory"
	"github.com/JakeFAU/whale-sentinel/internal/shutdown"
	"github.com/JakeFAU/whale-sentinel/internal/storage/gcs"
	"github.com/JakeFAU/whale-sentinel/internal/storage/postgres"
	"github.com/JakeFAU/whale-sentinel/internal/telegram"
	"github.com/JakeFAU/whale-sentinel/internal/whale"
	"github.com/JakeFAU/whale-sentinel/internal/worker"

	clocksystem "github.com/JakeFAU/whale-sentinel/internal/clock/system"
	iduuid "github.com/JakeFAU/whale-sentinel/internal/id/uuid"
)

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	transport *telegram.Client
	queue     *memory.Queue
	listener  *listener.Listener
	pool      *worker.Pool
	store     *postgres.AlertStore
	server    *api.Server
	shutdown  *shutdown.Orchestrator
}

// New builds every service from the configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	store, err := postgres.NewAlertStore(ctx, postgres.AlertStoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
		MinConns: int32(cfg.DB.MinOpenConns),
	}, clocksystem.New(), iduuid.NewUUIDGenerator())
	if err != nil {
		return nil, fmt.Errorf("initialize alert store: %w", err)
	}
	if cfg.DB.InitSchema {
		if err := store.InitSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
	}

	openai, err := extractor.NewOpenAI(extractor.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAITimeout(),
	}, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initialize extractor: %w", err)
	}

	retry := whale.NewRetryPolicy()
	retry.MaxAttempts = cfg.Pipeline.ParseRetries
	retry.BaseDelay = cfg.RetryBackoff()

	prs, err := parser.New(openai, retry, cfg.Pipeline.TokenBudget, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initialize parser: %w", err)
	}

	resolver := fingerprint.NewResolver(store, logger)

	var (
		publisher whale.Publisher
		archive   whale.BlobStore
		disposers []shutdown.Closer
	)

	if cfg.PubSub.Enabled {
		client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("initialize pubsub: %w", err)
		}
		pub := pubsubpub.New(client)
		publisher = pub
		disposers = append(disposers, shutdown.Closer{Name: "pubsub", Close: pub.Close})
		logger.Info("alert notifications enabled", zap.String("topic", cfg.PubSub.TopicName))
	} else {
		logger.Info("alert notifications disabled")
	}

	if cfg.Storage.GCSBucket != "" {
		blob, err := gcs.NewBlobStore(ctx, cfg.Storage.GCSBucket)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("initialize raw-event archive: %w", err)
		}
		archive = blob
		disposers = append(disposers, shutdown.Closer{Name: "gcs", Close: blob.Close})
		logger.Info("raw-event archive enabled", zap.String("bucket", cfg.Storage.GCSBucket))
	} else {
		logger.Info("raw-event archive disabled")
	}

	q := memory.NewQueue(cfg.Pipeline.QueueDepth)

	workers := make([]*worker.Worker, 0, cfg.Pipeline.Workers)
	for i := 0; i < cfg.Pipeline.Workers; i++ {
		workers = append(workers, worker.New(
			q, prs, resolver, store, publisher, archive,
			worker.Config{Topic: cfg.PubSub.TopicName, ArchivePath: cfg.Storage.Prefix},
			logger,
		))
	}
	pool := worker.NewPool(workers)

	transport, err := telegram.NewClient(ctx, telegram.Endpoint(cfg.Telegram.GatewayURL), nil, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("connect channel gateway: %w", err)
	}

	lst := listener.New(transport, q, cfg.Telegram.Channel, logger)

	disposers = append(disposers, shutdown.Closer{Name: "store", Close: func() error { store.Close(); return nil }})

	orchestrator := shutdown.New(
		shutdown.Config{
			DrainTimeout:    cfg.DrainTimeout(),
			CancelTimeout:   cfg.CancelTimeout(),
			WatchdogTimeout: cfg.WatchdogTimeout(),
		},
		pool,
		q,
		[]shutdown.Closer{{Name: "transport", Close: transport.Close}},
		disposers,
		logger,
	)

	return &App{
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		queue:     q,
		listener:  lst,
		pool:      pool,
		store:     store,
		server:    api.NewServer(store, cfg, logger),
		shutdown:  orchestrator,
	}, nil
}

// Run starts the pipeline and the HTTP server and blocks until ctx is
// canceled or a fatal error occurs, then performs the staged shutdown.
func (a *App) Run(ctx context.Context) error {
	a.pool.Start(context.Background())

	listenerErr := make(chan error, 1)
	go func() {
		listenerErr <- a.listener.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.Int("port", a.cfg.Server.Port))
		httpErr <- httpServer.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("signal received")
	case err := <-listenerErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("listener stopped", zap.Error(err))
			runErr = err
		}
	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server stopped", zap.Error(err))
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.WatchdogTimeout())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http server shutdown", zap.Error(err))
	}

	a.shutdown.Trigger("run loop exit")
	<-a.shutdown.Done()
	return runErr
}

// Shutdown triggers the staged teardown without waiting for Run to observe
// a signal. Safe to call multiple times.
func (a *App) Shutdown(reason string) {
	a.shutdown.Trigger(reason)
}
