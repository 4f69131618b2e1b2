package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gitsmash/mapid/internal/app/pipelineapp"
	"github.com/gitsmash/mapid/internal/config"
	"github.com/gitsmash/mapid/internal/infra/logger"
	"github.com/gitsmash/mapid/internal/jobs/cleanup"
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

	var counters cleanup.CounterSource
	if app.CounterRepo != nil {
		counters = app.CounterRepo
	}

	job := cleanup.New(app.PostRepo, app.PostImageRepo, counters, cfg.Worker.OrphanAge, log.Named("cleanup"))

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Worker.CleanupSchedule, func() {
		if err := job.Run(ctx); err != nil {
			log.Error("cleanup run failed", zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("register cleanup schedule", zap.Error(err))
	}

	scheduler.Start()
	log.Info("worker started", zap.String("schedule", cfg.Worker.CleanupSchedule))

	<-ctx.Done()
	<-scheduler.Stop().Done()
	log.Info("worker stopped")
}
