package main

import (
	"context"
	"log/slog"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/app"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/config"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/db"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/pipeline"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/queue"
)

type analysisReader interface {
	QueryByPackage(ctx context.Context, pkg, versionRange string) ([]db.AnalysisRow, error)
	QueryByCVE(ctx context.Context, cveID string) ([]db.AnalysisRow, error)
}

type pipelineRunner interface {
	Run(ctx context.Context, req model.AnalysisRequest, progress pipeline.ProgressFunc) (*model.PipelineReport, error)
}

// backends opens only what a command needs. Every opener returns a close
// function that is safe to call once.
type backends interface {
	Queue(ctx context.Context) (queue.Queue, func(), error)
	Store(ctx context.Context) (analysisReader, func(), error)
	Pipeline(ctx context.Context) (pipelineRunner, func(), error)
}

type liveBackends struct{}

func newLiveBackends() backends { return liveBackends{} }

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	return cfg, app.NewLogger(cfg.LogLevel), nil
}

func (liveBackends) Queue(ctx context.Context) (queue.Queue, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	rdb, err := queue.Open(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return queue.NewRedis(rdb, cfg.QueueKey, cfg.DLQKey()), func() { _ = rdb.Close() }, nil
}

func (liveBackends) Store(ctx context.Context) (analysisReader, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (liveBackends) Pipeline(ctx context.Context) (pipelineRunner, func(), error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Open(ctx, cfg, log, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := a.Store.EnsureSchema(ctx); err != nil {
		log.Warn("ensure schema failed", "error", err)
	}
	return a.Pipeline, a.Close, nil
}
