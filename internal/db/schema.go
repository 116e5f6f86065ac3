package db

import "context"

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS package_cve_mapping (
  package TEXT NOT NULL,
  version_range TEXT NOT NULL,
  ecosystem TEXT NOT NULL,
  cve_ids TEXT[] NOT NULL DEFAULT '{}',
  degraded BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (package, version_range, ecosystem)
);

CREATE TABLE IF NOT EXISTS cve_scores (
  cve_id TEXT PRIMARY KEY,
  cvss_score DOUBLE PRECISION,
  cvss_vector TEXT,
  cvss_version TEXT,
  cvss_severity TEXT,
  cvss_source TEXT,
  cvss_degraded BOOLEAN NOT NULL DEFAULT false,
  epss_score DOUBLE PRECISION,
  epss_percentile DOUBLE PRECISION,
  epss_source TEXT,
  epss_degraded BOOLEAN NOT NULL DEFAULT false,
  collected_at TIMESTAMPTZ,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS threat_cases (
  subject_key TEXT NOT NULL,
  cve_id TEXT NOT NULL,
  cases JSONB NOT NULL DEFAULT '[]'::jsonb,
  degraded BOOLEAN NOT NULL DEFAULT false,
  skipped BOOLEAN NOT NULL DEFAULT false,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (subject_key, cve_id)
);

CREATE TABLE IF NOT EXISTS analysis_results (
  subject_key TEXT NOT NULL,
  cve_id TEXT NOT NULL,
  package TEXT,
  version_range TEXT,
  ecosystem TEXT,
  risk_level TEXT NOT NULL,
  risk_score DOUBLE PRECISION NOT NULL,
  recommendations JSONB NOT NULL DEFAULT '[]'::jsonb,
  summary TEXT NOT NULL DEFAULT '',
  hallucination_risk DOUBLE PRECISION NOT NULL DEFAULT 0,
  consensus_confidence DOUBLE PRECISION,
  warnings JSONB NOT NULL DEFAULT '[]'::jsonb,
  verdict TEXT NOT NULL DEFAULT 'clean',
  manual_review BOOLEAN NOT NULL DEFAULT false,
  degraded BOOLEAN NOT NULL DEFAULT false,
  generated_at TIMESTAMPTZ,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (subject_key, cve_id)
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
  id UUID PRIMARY KEY,
  task_id TEXT,
  subject TEXT NOT NULL,
  subject_key TEXT NOT NULL,
  version_range TEXT NOT NULL,
  ecosystem TEXT NOT NULL,
  force BOOLEAN NOT NULL DEFAULT false,
  skip_threat BOOLEAN NOT NULL DEFAULT false,
  status TEXT NOT NULL DEFAULT 'running',
  state TEXT NOT NULL DEFAULT 'PENDING',
  worker_id TEXT,
  progress_pct INT NOT NULL DEFAULT 0,
  progress_msg TEXT,
  report_bucket TEXT,
  report_key TEXT,
  summary_json JSONB,
  error_msg TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  started_at TIMESTAMPTZ,
  finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS pipeline_events (
  id BIGSERIAL PRIMARY KEY,
  run_id UUID NOT NULL REFERENCES pipeline_runs(id) ON DELETE CASCADE,
  ts TIMESTAMPTZ NOT NULL DEFAULT now(),
  state TEXT NOT NULL,
  detail TEXT,
  pct INT
);

CREATE INDEX IF NOT EXISTS idx_analysis_results_cve ON analysis_results(cve_id);
CREATE INDEX IF NOT EXISTS idx_analysis_results_package ON analysis_results(package, version_range);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status, finished_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_subject_key ON pipeline_runs(subject_key);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_run_ts ON pipeline_events(run_id, ts);
`)
	return err
}
