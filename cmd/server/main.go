// Package main implements the entry point for the imagevault server: an
// image ingestion service with AI tagging, vector search and multi-endpoint
// storage replication driven by a durable background task queue.
package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/imagevault/imagevault/internal/config"
	"github.com/imagevault/imagevault/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"max_workers", cfg.Queue.MaxWorkers)

	ctx := context.Background()

	app, err := newApplication(ctx, cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}
