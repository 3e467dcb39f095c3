package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"docintel/internal/activities"
	"docintel/internal/config"
	"docintel/internal/storage"
	"docintel/internal/workflows"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Fatal("dial temporal", zap.Error(err))
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		logger.Fatal("ping postgres", zap.Error(err))
	}

	a, err := activities.New(cfg, db, logger)
	if err != nil {
		logger.Fatal("build activities", zap.Error(err))
	}
	activities.Register(w, a)

	logger.Info("docintel worker running",
		zap.String("temporal", cfg.TemporalAddress),
		zap.String("task_queue", cfg.TemporalTaskQueue),
		zap.String("embed_providers", cfg.EmbedProviders))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("worker exited", zap.Error(err))
	}
}
