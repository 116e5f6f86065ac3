package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

type Store struct{ Pool *pgxpool.Pool }

func Open(ctx context.Context, url string) (*Store, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: p}, nil
}

func (s *Store) Close() { s.Pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// execer is satisfied by both the pool and a transaction, so stage upserts
// can run standalone or inside ReplaceReport.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Run is one popped task as tracked in pipeline_runs.
type Run struct {
	ID       string
	TaskID   string
	Request  model.AnalysisRequest
	WorkerID string
}

type BackfillRun struct {
	ID           string
	SubjectKey   string
	ReportBucket string
	ReportKey    string
}

func (s *Store) notifyRunChanged(ctx context.Context, id string) {
	_, _ = s.Pool.Exec(ctx, `SELECT pg_notify('run_events', $1)`, id)
}

func (s *Store) InsertRun(ctx context.Context, r Run) error {
	req := r.Request
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO pipeline_runs (
		  id, task_id, subject, subject_key, version_range, ecosystem, force, skip_threat,
		  status, state, worker_id, progress_pct, progress_msg, started_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'running', 'PENDING', $9, 0, 'starting', now())
		ON CONFLICT (id) DO NOTHING
	`, r.ID, nullableString(r.TaskID), req.Subject, req.Key().String(), req.VersionRange, req.Ecosystem,
		req.Force, req.SkipThreat, nullableString(r.WorkerID))
	if err == nil {
		s.notifyRunChanged(ctx, r.ID)
	}
	return err
}

func (s *Store) InsertEvent(ctx context.Context, runID string, ts time.Time, state, detail string, pct *int) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO pipeline_events (run_id, ts, state, detail, pct)
		VALUES ($1, $2, $3, $4, $5)
	`, runID, ts, state, detail, pct)
	return err
}

// UpdateProgress never moves a run backwards.
func (s *Store) UpdateProgress(ctx context.Context, id, state string, pct int, msg string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE pipeline_runs
		SET progress_pct=GREATEST(progress_pct, $3),
		    state=CASE WHEN $3 >= progress_pct THEN $2 ELSE state END,
		    progress_msg=CASE WHEN $3 >= progress_pct THEN $4 ELSE progress_msg END
		WHERE id=$1
		  AND status='running'
	`, id, state, pct, msg)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE pipeline_runs
		SET status='failed',
		    finished_at=now(),
		    error_msg=$2,
		    progress_msg=COALESCE(progress_msg, $2)
		WHERE id=$1
		  AND status='running'
	`, id, errMsg)
	if err == nil {
		s.notifyRunChanged(ctx, id)
	}
	return err
}

func (s *Store) MarkDone(ctx context.Context, id, reportBucket, reportKey string, summaryJSON []byte) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE pipeline_runs
		SET status='done', state='COMPLETE', finished_at=now(),
		    progress_pct=100, progress_msg='completed',
		    report_bucket=$2, report_key=$3, summary_json=$4::jsonb
		WHERE id=$1
	`, id, nullableString(reportBucket), nullableString(reportKey), string(summaryJSON))
	if err == nil {
		s.notifyRunChanged(ctx, id)
	}
	return err
}

// FailStaleRunning closes runs whose worker stopped reporting progress. Their
// tasks were already popped and are not requeued.
func (s *Store) FailStaleRunning(ctx context.Context, idleFor time.Duration) ([]string, error) {
	seconds := int64(idleFor.Seconds())
	if seconds <= 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `
		WITH stale AS (
			SELECT r.id
			FROM pipeline_runs r
			LEFT JOIN LATERAL (
				SELECT MAX(ts) AS last_event_ts
				FROM pipeline_events e
				WHERE e.run_id = r.id
			) ev ON true
			WHERE r.status='running'
			  AND COALESCE(ev.last_event_ts, r.started_at, r.created_at)
			      < now() - ($1::bigint * interval '1 second')
		)
		UPDATE pipeline_runs r
		SET status='failed',
		    finished_at=now(),
		    error_msg='worker lost: no progress heartbeat',
		    progress_msg='worker lost: no progress heartbeat'
		FROM stale
		WHERE r.id = stale.id
		RETURNING r.id::text
	`, seconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
		s.notifyRunChanged(ctx, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListBackfillCandidates finds completed runs with an archived report that
// found CVEs but whose analysis rows are gone.
func (s *Store) ListBackfillCandidates(ctx context.Context, limit int) ([]BackfillRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
SELECT r.id::text, r.subject_key, r.report_bucket, r.report_key
FROM pipeline_runs r
WHERE r.status='done'
  AND r.report_bucket IS NOT NULL
  AND r.report_key IS NOT NULL
  AND COALESCE((r.summary_json->>'total_cves')::int, 0) > 0
  AND NOT EXISTS (SELECT 1 FROM analysis_results a WHERE a.subject_key=r.subject_key)
ORDER BY COALESCE(r.finished_at, r.created_at), r.id
LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]BackfillRun, 0, limit)
	for rows.Next() {
		var r BackfillRun
		if err := rows.Scan(&r.ID, &r.SubjectKey, &r.ReportBucket, &r.ReportKey); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceReport replays every stage write of an archived report in one
// transaction.
func (s *Store) ReplaceReport(ctx context.Context, r *model.PipelineReport) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if !r.Key.IsCVE() {
		if err := upsertMapping(ctx, tx, r.Key, r.Mapping); err != nil {
			return err
		}
	}
	for _, c := range r.CVEs {
		if err := upsertScore(ctx, tx, c.Scores); err != nil {
			return err
		}
		if err := upsertThreatCases(ctx, tx, r.Key, c.Threat); err != nil {
			return err
		}
		if err := upsertAnalysis(ctx, tx, r.Key, c.Analysis); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func coalesceString(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
