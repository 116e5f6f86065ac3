// Package app builds the long-lived components shared by the binaries from a
// config.Config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/ai"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/analysis"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/cache"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/collector"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/config"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/db"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/degrade"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/metrics"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/nvd"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/pipeline"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/queue"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/s3"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/verify"
)

// NewLogger returns a JSON logger at the named level (debug, info, warn,
// error). Unknown levels mean info.
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

type App struct {
	Config   config.Config
	Log      *slog.Logger
	Metrics  *metrics.Metrics
	Store    *db.Store
	Redis    *redis.Client
	Queue    *queue.Redis
	Cache    *cache.Gateway
	S3       *s3.Client
	Archive  *s3.Archive
	Pipeline *pipeline.Orchestrator
}

// Open connects to Postgres, Redis and (when configured) object storage and
// assembles the pipeline. reg may be nil to skip metrics.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if reg != nil {
		a.Metrics = metrics.New(reg)
	}

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.Store = store

	rdb, err := queue.Open(ctx, cfg.RedisURL)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.Redis = rdb
	a.Queue = queue.NewRedis(rdb, cfg.QueueKey, cfg.DLQKey())
	a.Cache = cache.New(cache.NewRedisBackend(rdb),
		cache.WithNamespace(cfg.CacheNamespace),
		cache.WithTTL(cfg.CacheTTL),
		cache.WithBreaker(cache.NewBreaker(cfg.CacheBreakerThreshold, cfg.CacheBreakerCooldown)),
		cache.WithLogger(log),
		cache.WithMetrics(a.Metrics),
	)

	if cfg.ArchiveEnabled() {
		c, err := s3.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		a.S3 = c
		a.Archive = s3.NewArchive(c, cfg.ReportsBucket)
	}

	p, err := BuildPipeline(cfg, PipelineDeps{
		Repo:    store,
		Cache:   a.Cache,
		Archive: a.Archive,
		Log:     log,
		Metrics: a.Metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pipeline = p
	return a, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}

type PipelineDeps struct {
	Repo    pipeline.Repository
	Cache   *cache.Gateway
	Archive *s3.Archive
	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// BuildPipeline wires the feed clients, AI backends and verification engine
// into an orchestrator. Missing AI keys leave the corresponding stage to its
// fallback; a missing NVD key skips the ground-truth check.
func BuildPipeline(cfg config.Config, d PipelineDeps) (*pipeline.Orchestrator, error) {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	nvdClient := nvd.New(cfg.NVDURL, cfg.NVDAPIKey, cfg.NVDMinInterval)

	primary, err := inferencer(cfg.PrimaryAI, log, "primary")
	if err != nil {
		return nil, err
	}
	secondary, err := inferencer(cfg.SecondaryAI, log, "secondary")
	if err != nil {
		return nil, err
	}
	threatAI, err := inferencer(cfg.ThreatAI, log, "threat")
	if err != nil {
		return nil, err
	}

	opts := []analysis.Option{analysis.WithLogger(log), analysis.WithMetrics(d.Metrics)}
	if secondary != nil {
		opts = append(opts, analysis.WithSecondary(secondary))
	}
	if nvdClient.HasAPIKey() {
		opts = append(opts, analysis.WithGroundTruth(verify.NewGroundTruthChecker(nvdClient, verify.WithCheckerLogger(log))))
	} else {
		log.Info("NVD_API_KEY not set, ground-truth check disabled")
	}

	deps := pipeline.Deps{
		Mapping:  collector.NewOSV(cfg.OSVURL, nil),
		CVSS:     collector.NewCVSS(nvdClient),
		EPSS:     collector.NewEPSS(cfg.EPSSURL, nil),
		Threat:   collector.NewThreat(threatAI),
		Analyzer: analysis.New(primary, opts...),
		Repo:     d.Repo,
		Cache:    d.Cache,
		Policy: &degrade.Policy{
			Timeouts: map[string]time.Duration{
				pipeline.StageMapping:  cfg.MappingTimeout,
				pipeline.StageCVSS:     cfg.CVSSTimeout,
				pipeline.StageEPSS:     cfg.EPSSTimeout,
				pipeline.StageThreat:   cfg.ThreatTimeout,
				pipeline.StageAnalysis: cfg.AnalysisTimeout,
			},
			Log:     log,
			Metrics: d.Metrics,
		},
		Log: log,
	}
	if d.Archive != nil {
		deps.Archive = d.Archive
	}
	return pipeline.New(deps), nil
}

// inferencer returns nil without error when the backend is not configured.
func inferencer(c config.AIConfig, log *slog.Logger, role string) (ai.Inferencer, error) {
	if !c.Enabled() {
		log.Info("AI backend not configured", "role", role, "provider", c.Provider)
		return nil, nil
	}
	inf, err := ai.New(ai.Config{Provider: c.Provider, Model: c.Model, APIKey: c.APIKey, BaseURL: c.BaseURL})
	if err != nil {
		return nil, fmt.Errorf("%s AI backend: %w", role, err)
	}
	return inf, nil
}
