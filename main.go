package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"documind/backend/internal/adapter/gemini"
	"documind/backend/internal/app"
	"documind/backend/internal/config"
	"documind/backend/internal/logger"
)

func main() {
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.DB.Close()

	embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
	if err != nil {
		slog.Error("failed to create gemini embedder", "error", err)
		os.Exit(1)
	}
	defer embedder.Close()

	application, err := app.New(cfg, deps.DB, deps.Index, deps.Producer, embedder)
	if err != nil {
		slog.Error("failed to build app", "error", err)
		os.Exit(1)
	}

	consumer, err := application.StartConsumer(cfg)
	if err != nil {
		slog.Error("failed to start ingestion consumer", "error", err)
		os.Exit(1)
	}
	defer func() {
		consumer.Stop()
		<-consumer.StopChan
		deps.Producer.Stop()
	}()

	if err := application.Run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
