// Package app is the composition root: it wires configuration, storage,
// queue, fetcher, vector index, pipeline, and workers into one runnable
// application.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/crawler"
	"github.com/ternarybob/colligo/internal/extract"
	"github.com/ternarybob/colligo/internal/fetcher"
	"github.com/ternarybob/colligo/internal/ingestion"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/pipeline"
	"github.com/ternarybob/colligo/internal/queue"
	badgerstore "github.com/ternarybob/colligo/internal/storage/badger"
	"github.com/ternarybob/colligo/internal/storage/object"
	"github.com/ternarybob/colligo/internal/vector"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager interfaces.StorageManager
	ObjectStore    interfaces.ObjectStore
	Queue          interfaces.Queue
	VectorIndex    interfaces.VectorIndex
	SessionStores  *vector.SessionManager
	Fetcher        interfaces.Fetcher
	Registry       *extract.Registry
	Pipeline       *pipeline.Pipeline
	Ingestion      interfaces.Ingestion

	workers []*crawler.Worker
	reaper  *crawler.Reaper
}

// New wires all components together. Nothing runs until Start.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		Config:    config,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	// The queue shares the metadata database, so one connection serves both.
	db, err := badgerstore.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	app.StorageManager = badgerstore.NewManagerWithDB(db, logger)

	if config.ObjectStore.UseMemory {
		app.ObjectStore = object.NewMemoryStore()
		logger.Warn().Msg("Using in-memory object store; documents will not survive restarts")
	} else {
		store, err := object.NewS3Store(ctx, &config.ObjectStore, logger)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to initialize object store: %w", err)
		}
		app.ObjectStore = store
	}

	app.Queue, err = queue.NewBadgerQueue(
		db.Store().Badger(),
		config.Queue.QueueName,
		common.Duration(config.Queue.VisibilityTimeout, 5*time.Minute),
		common.Duration(config.Queue.PollInterval, time.Second),
		config.Queue.MaxReceive,
		logger,
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	app.VectorIndex, err = vector.NewChromemIndex(&config.VectorStore, vector.NewLocalEmbedder(), logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	app.SessionStores = vector.NewSessionManager(app.VectorIndex, config.VectorStore.SessionCache, logger)

	var stealth fetcher.StealthFetcher
	if config.Fetcher.StealthEnabled {
		stealth = fetcher.NewChromeStealth(
			config.Fetcher.UserAgent,
			common.Duration(config.Fetcher.RequestTimeout, 30*time.Second),
			logger,
		)
	}
	app.Fetcher, err = fetcher.New(&config.Fetcher, stealth, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize fetcher: %w", err)
	}

	var ocr interfaces.OCRClient = extract.NoopOCRClient{}
	if config.Pipeline.OCREnabled && config.Pipeline.OCREndpoint != "" {
		ocr = extract.NewHTTPOCRClient(config.Pipeline.OCREndpoint, logger)
	}
	app.Registry = extract.NewRegistry(ocr, app.ObjectStore, logger)

	app.Pipeline = pipeline.New(
		app.ObjectStore,
		app.StorageManager.Documents(),
		app.VectorIndex,
		app.SessionStores,
		app.Registry,
		config.VectorStore.DefaultName,
		logger,
	)

	app.Ingestion = ingestion.NewService(
		app.StorageManager,
		app.ObjectStore,
		app.Queue,
		app.VectorIndex,
		app.SessionStores,
		app.Pipeline,
		config,
		logger,
	)

	concurrency := config.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		app.workers = append(app.workers, crawler.NewWorker(
			app.Queue,
			app.StorageManager.Tasks(),
			app.ObjectStore,
			app.Fetcher,
			app.Pipeline,
			config,
			logger,
		))
	}

	app.reaper = crawler.NewReaper(
		app.StorageManager.Tasks(),
		common.Duration(config.Worker.StaleThreshold, 10*time.Minute),
		config.Worker.ReapSchedule,
		logger,
	)

	logger.Info().
		Int("workers", concurrency).
		Str("queue", config.Queue.QueueName).
		Str("default_store", config.VectorStore.DefaultName).
		Msg("Application wired")

	return app, nil
}

// Start launches the crawl workers and the stale-task reaper.
func (a *App) Start() error {
	for i, w := range a.workers {
		worker := w
		common.SafeGo(a.Logger, fmt.Sprintf("crawl-worker-%d", i), func() {
			worker.Run(a.ctx)
		})
	}
	if err := a.reaper.Start(); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}
	a.Logger.Info().Int("workers", len(a.workers)).Msg("Application started")
	return nil
}

// Close stops background work and releases every store. Safe to call on a
// partially wired App.
func (a *App) Close() {
	a.cancelCtx()

	if a.reaper != nil {
		a.reaper.Stop()
	}
	if a.VectorIndex != nil {
		if err := a.VectorIndex.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Vector index close failed")
		}
	}
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue close failed")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
		}
	}

	a.Logger.Info().Msg("Application closed")
}
