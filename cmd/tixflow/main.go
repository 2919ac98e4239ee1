package main

import (
	"context"
	"log"

	"github.com/kirinyoku/tixflow/internal/app"
	"github.com/kirinyoku/tixflow/internal/config"
	"github.com/kirinyoku/tixflow/internal/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.App.LogLevel, cfg.App.Environment)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx := context.Background()

	application, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("failed to create application", zap.Error(err))
	}

	if err := application.Run(ctx); err != nil {
		lg.Error("application finished with error", zap.Error(err))
	}
}
