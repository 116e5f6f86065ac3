package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/app"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/config"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/worker"
)

// staleRunAge is how long a run may go without a progress event before a
// starting worker declares its owner lost.
const staleRunAge = 15 * time.Minute

func main() {
	// Load environment variables from .env files if present. This helps local dev.
	// Try current directory and one level up (in case run from cmd/worker).
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := app.NewLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.Open(ctx, cfg, log, reg)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Store.Ping(ctx); err != nil {
		log.Error("db ping failed", "error", err)
		os.Exit(1)
	}
	if err := a.Store.EnsureSchema(ctx); err != nil {
		if isInsufficientPrivilege(err) {
			log.Warn("ensure schema skipped due insufficient privilege", "error", err)
		} else {
			log.Error("ensure schema failed", "error", err)
			os.Exit(1)
		}
	}
	if a.S3 != nil {
		if err := a.S3.EnsureBucket(ctx, cfg.ReportsBucket); err != nil {
			log.Warn("reports bucket unavailable, archive writes will fail", "error", err)
		}
	}

	if addr := cfg.HTTPAddr; addr != "" {
		go serveHTTP(ctx, addr, a, reg)
	}

	r := worker.NewRunner(a.Queue, a.Pipeline, a.Store, worker.Options{
		Concurrency:       cfg.WorkerConcurrency,
		PollTimeout:       cfg.QueuePollTimeout,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		ReportsBucket:     cfg.ReportsBucket,
		Log:               log,
		Metrics:           a.Metrics,
	})
	log.Info("worker starting", "worker", r.WorkerID(), "concurrency", cfg.WorkerConcurrency, "queue", cfg.QueueKey)

	r.RecoverStaleRuns(ctx, staleRunAge)

	if err := r.RunForever(ctx); err != nil {
		log.Error("worker stopped", "error", err)
		a.Close()
		os.Exit(1)
	}
	log.Info("worker stopped")
}

// serveHTTP exposes /healthz (DB and queue ping, 2s budget) and /metrics.
func serveHTTP(ctx context.Context, addr string, a *app.App, reg *prometheus.Registry) {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		hctx, hcancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer hcancel()
		w.Header().Set("Content-Type", "application/json")
		if err := a.Store.Ping(hctx); err != nil {
			a.Log.Warn("healthz: db ping failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","reason":"db unreachable"}`))
			return
		}
		if err := a.Queue.Ping(hctx); err != nil {
			a.Log.Warn("healthz: queue ping failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","reason":"queue unreachable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shctx)
	}()
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.Log.Error("health server", "error", err)
	}
}

func isInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}
