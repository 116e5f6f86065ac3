package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joho/godotenv"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/app"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/config"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/db"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/s3"
)

func main() {
	var (
		batchSize = flag.Int("batch-size", 25, "number of runs to replay per batch")
		maxRuns   = flag.Int("max-runs", 0, "maximum runs to replay (0 = unlimited)")
	)
	flag.Parse()

	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		fatal("config", err)
	}
	log := app.NewLogger(cfg.LogLevel)
	slog.SetDefault(log)
	if !cfg.ArchiveEnabled() {
		fatal("config", errors.New("S3_ENDPOINT and REPORTS_BUCKET are required"))
	}
	ctx := context.Background()

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("db open", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		if isInsufficientPrivilege(err) {
			log.Warn("ensure schema skipped due insufficient privilege", "error", err)
		} else {
			fatal("ensure schema", err)
		}
	}

	s3c, err := s3.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL)
	if err != nil {
		fatal("s3 client", err)
	}

	var total, okCount, failCount int
	attempted := map[string]bool{}
	for {
		if *maxRuns > 0 && total >= *maxRuns {
			break
		}
		limit := *batchSize
		if limit <= 0 {
			limit = 25
		}
		// Failed runs stay candidates, so over-fetch to see past them.
		fetch := limit + len(attempted)

		listCtx, listCancel := context.WithTimeout(ctx, 20*time.Second)
		candidates, err := store.ListBackfillCandidates(listCtx, fetch)
		listCancel()
		if err != nil {
			fatal("list candidates", err)
		}

		progressed := false
		for _, candidate := range candidates {
			if attempted[candidate.ID] {
				continue
			}
			if *maxRuns > 0 && total >= *maxRuns {
				break
			}
			attempted[candidate.ID] = true
			progressed = true
			total++
			if err := replayOne(ctx, store, s3c, candidate); err != nil {
				failCount++
				log.Warn("backfill run failed", "run", candidate.ID, "error", err)
				continue
			}
			okCount++
		}
		if !progressed {
			break
		}
	}

	log.Info("backfill complete", "processed", total, "ok", okCount, "failed", failCount)
	fmt.Printf("backfill complete: processed=%d ok=%d failed=%d\n", total, okCount, failCount)
}

func replayOne(ctx context.Context, store *db.Store, s3c *s3.Client, candidate db.BackfillRun) error {
	dlCtx, dlCancel := context.WithTimeout(ctx, 2*time.Minute)
	report, err := s3c.GetReport(dlCtx, candidate.ReportBucket, candidate.ReportKey)
	dlCancel()
	if err != nil {
		return err
	}
	if got := report.Key.String(); got != candidate.SubjectKey {
		return fmt.Errorf("report %s belongs to %s, run is for %s", candidate.ReportKey, got, candidate.SubjectKey)
	}

	ingestCtx, ingestCancel := context.WithTimeout(ctx, 2*time.Minute)
	err = store.ReplaceReport(ingestCtx, report)
	ingestCancel()
	if err != nil {
		return err
	}
	slog.Info("backfill run replayed", "run", candidate.ID, "subject", candidate.SubjectKey, "cves", len(report.CVEs))
	return nil
}

func fatal(what string, err error) {
	slog.Error(what, "error", err)
	os.Exit(1)
}

func isInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}
