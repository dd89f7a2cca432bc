package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/imagevault/imagevault/internal/ai"
	"github.com/imagevault/imagevault/internal/cache"
	"github.com/imagevault/imagevault/internal/config"
	"github.com/imagevault/imagevault/internal/platform/postgres"
	"github.com/imagevault/imagevault/internal/queue"
	"github.com/imagevault/imagevault/internal/registry"
	"github.com/imagevault/imagevault/internal/replication"
	"github.com/imagevault/imagevault/internal/service"
	"github.com/imagevault/imagevault/internal/store"
	"github.com/imagevault/imagevault/internal/vector"
)

// application bundles the initialized components for the server's lifetime.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	taskStore     store.TaskStore
	endpointStore store.EndpointStore
	imageStore    store.ImageStore
	locationStore store.LocationStore

	registry      *registry.Registry
	healthChecker *registry.HealthChecker
	engine        *replication.Engine
	queue         *queue.Queue
	vectors       *vector.Store
	categories    *cache.Categories
}

// newApplication wires every component from configuration. It fails fast:
// a missing dependency at startup beats a broken handler at runtime.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := setupDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := postgres.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	taskStore := postgres.NewPostgresTaskStore(db, logger)
	endpointStore := postgres.NewPostgresEndpointStore(db, logger)
	imageStore := postgres.NewPostgresImageStore(db, logger)
	locationStore := postgres.NewPostgresLocationStore(db, logger)
	checkpointStore := postgres.NewPostgresCheckpointStore(db, logger)

	reg := registry.NewRegistry(endpointStore, nil, logger)

	healthInterval := time.Duration(cfg.Storage.HealthCheckInterval) * time.Second
	if healthInterval <= 0 {
		healthInterval = time.Minute
	}
	healthChecker := registry.NewHealthChecker(reg, healthInterval, logger)

	engine := replication.NewEngine(reg, locationStore, logger)

	gemini, err := ai.NewGeminiClient(ctx, ai.GeminiConfig{
		APIKey:         cfg.AI.GeminiAPIKey,
		VisionModel:    cfg.AI.VisionModel,
		EmbeddingModel: cfg.AI.EmbeddingModel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}

	vectors, err := vector.NewStore(vector.StoreConfig{
		PersistPath: cfg.Vector.PersistPath,
		Collection:  cfg.Vector.Collection,
	}, gemini)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	categories, err := cache.NewCategories(0, func(ctx context.Context, imageID int64) (string, error) {
		image, err := imageStore.GetImage(ctx, imageID)
		if err != nil {
			return "", err
		}
		return image.CategoryCode, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create category cache: %w", err)
	}

	q, err := queue.NewQueue(taskStore, queue.Config{
		MaxWorkers:   cfg.Queue.MaxWorkers,
		PollInterval: time.Duration(cfg.Queue.PollInterval) * time.Millisecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task queue: %w", err)
	}

	batches := queue.NewRunner(checkpointStore, queue.RunnerConfig{}, logger)

	handlers := service.NewTaskHandlers(imageStore, engine, gemini, vectors, batches, categories, logger)
	handlers.Register(q)

	return &application{
		config:        cfg,
		logger:        logger,
		db:            db,
		taskStore:     taskStore,
		endpointStore: endpointStore,
		imageStore:    imageStore,
		locationStore: locationStore,
		registry:      reg,
		healthChecker: healthChecker,
		engine:        engine,
		queue:         q,
		vectors:       vectors,
		categories:    categories,
	}, nil
}

// Run starts the background components and serves HTTP until shutdown.
func (app *application) Run(ctx context.Context) error {
	app.healthChecker.Start()
	app.queue.Start()

	return app.startHTTPServer(ctx, app.setupRouter())
}

// cleanup stops background work and releases resources, in reverse start
// order.
func (app *application) cleanup() {
	app.queue.Stop()
	app.healthChecker.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database", "error", err)
	}
}
