package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/gitsmash/mapid/internal/app/pipelineapp"
	"github.com/gitsmash/mapid/internal/config"
	"github.com/gitsmash/mapid/internal/infra/logger"
)

func main() {
	cfgPath := os.Getenv("APP_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := pipelineapp.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("create pipeline app", zap.Error(err))
	}
	defer app.Close()

	if err := app.Storage.EnsureBucket(ctx); err != nil {
		log.Fatal("ensure media bucket", zap.Error(err))
	}

	log.Info("submission pipeline ready", zap.String("env", cfg.Env))

	<-ctx.Done()
	log.Info("shutting down")
}
