package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

// Stage writes. Each is an upsert on the natural key, so replays and
// concurrent runs for the same subject converge on one row (last write wins).

func (s *Store) UpsertMapping(ctx context.Context, k model.NaturalKey, m model.MappingResult) error {
	return upsertMapping(ctx, s.Pool, k, m)
}

func (s *Store) UpsertScore(ctx context.Context, sc model.ScoreResult) error {
	return upsertScore(ctx, s.Pool, sc)
}

func (s *Store) UpsertThreatCases(ctx context.Context, k model.NaturalKey, t model.ThreatResult) error {
	return upsertThreatCases(ctx, s.Pool, k, t)
}

func (s *Store) UpsertAnalysis(ctx context.Context, k model.NaturalKey, a model.AnalysisResult) error {
	return upsertAnalysis(ctx, s.Pool, k, a)
}

func (s *Store) DeleteAnalysis(ctx context.Context, k model.NaturalKey) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM analysis_results WHERE subject_key=$1`, k.String())
	return err
}

func upsertMapping(ctx context.Context, db execer, k model.NaturalKey, m model.MappingResult) error {
	ids := m.CVEIDs
	if ids == nil {
		ids = []string{}
	}
	_, err := db.Exec(ctx, `
INSERT INTO package_cve_mapping (package, version_range, ecosystem, cve_ids, degraded)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (package, version_range, ecosystem) DO UPDATE SET
  cve_ids = EXCLUDED.cve_ids,
  degraded = EXCLUDED.degraded,
  updated_at = now()
`, k.Package, k.VersionRange, k.Ecosystem, ids, m.Degraded)
	if err != nil {
		return fmt.Errorf("upsert mapping %s: %w", k, err)
	}
	return nil
}

func upsertScore(ctx context.Context, db execer, sc model.ScoreResult) error {
	var collected *time.Time
	for _, t := range []time.Time{sc.CVSS.CollectedAt, sc.EPSS.CollectedAt} {
		if !t.IsZero() {
			collected = &t
			break
		}
	}
	_, err := db.Exec(ctx, `
INSERT INTO cve_scores (
  cve_id, cvss_score, cvss_vector, cvss_version, cvss_severity, cvss_source, cvss_degraded,
  epss_score, epss_percentile, epss_source, epss_degraded, collected_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (cve_id) DO UPDATE SET
  cvss_score = EXCLUDED.cvss_score,
  cvss_vector = EXCLUDED.cvss_vector,
  cvss_version = EXCLUDED.cvss_version,
  cvss_severity = EXCLUDED.cvss_severity,
  cvss_source = EXCLUDED.cvss_source,
  cvss_degraded = EXCLUDED.cvss_degraded,
  epss_score = EXCLUDED.epss_score,
  epss_percentile = EXCLUDED.epss_percentile,
  epss_source = EXCLUDED.epss_source,
  epss_degraded = EXCLUDED.epss_degraded,
  collected_at = EXCLUDED.collected_at,
  updated_at = now()
`, sc.CVEID,
		sc.CVSS.Score, nullableString(sc.CVSS.Vector), nullableString(sc.CVSS.Version),
		nullableString(sc.CVSS.Severity), nullableString(sc.CVSS.Source), sc.CVSSDegraded,
		sc.EPSS.Score, sc.EPSS.Percentile, nullableString(sc.EPSS.Source), sc.EPSSDegraded,
		collected)
	if err != nil {
		return fmt.Errorf("upsert scores %s: %w", sc.CVEID, err)
	}
	return nil
}

func upsertThreatCases(ctx context.Context, db execer, k model.NaturalKey, t model.ThreatResult) error {
	cases := t.Cases
	if cases == nil {
		cases = []model.ThreatCase{}
	}
	casesJSON, err := json.Marshal(cases)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
INSERT INTO threat_cases (subject_key, cve_id, cases, degraded, skipped)
VALUES ($1, $2, $3::jsonb, $4, $5)
ON CONFLICT (subject_key, cve_id) DO UPDATE SET
  cases = EXCLUDED.cases,
  degraded = EXCLUDED.degraded,
  skipped = EXCLUDED.skipped,
  updated_at = now()
`, k.String(), t.CVEID, string(casesJSON), t.Degraded, t.Skipped)
	if err != nil {
		return fmt.Errorf("upsert threat cases %s/%s: %w", k, t.CVEID, err)
	}
	return nil
}

func upsertAnalysis(ctx context.Context, db execer, k model.NaturalKey, a model.AnalysisResult) error {
	recs := a.Recommendations
	if recs == nil {
		recs = []string{}
	}
	warnings := a.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	recsJSON, _ := json.Marshal(recs)
	warningsJSON, _ := json.Marshal(warnings)

	var generated *time.Time
	if !a.GeneratedAt.IsZero() {
		generated = &a.GeneratedAt
	}
	_, err := db.Exec(ctx, `
INSERT INTO analysis_results (
  subject_key, cve_id, package, version_range, ecosystem,
  risk_level, risk_score, recommendations, summary,
  hallucination_risk, consensus_confidence, warnings, verdict, manual_review, degraded, generated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12::jsonb, $13, $14, $15, $16)
ON CONFLICT (subject_key, cve_id) DO UPDATE SET
  risk_level = EXCLUDED.risk_level,
  risk_score = EXCLUDED.risk_score,
  recommendations = EXCLUDED.recommendations,
  summary = EXCLUDED.summary,
  hallucination_risk = EXCLUDED.hallucination_risk,
  consensus_confidence = EXCLUDED.consensus_confidence,
  warnings = EXCLUDED.warnings,
  verdict = EXCLUDED.verdict,
  manual_review = EXCLUDED.manual_review,
  degraded = EXCLUDED.degraded,
  generated_at = EXCLUDED.generated_at,
  updated_at = now()
`, k.String(), a.CVEID,
		nullableString(k.Package), nullableString(k.VersionRange), nullableString(k.Ecosystem),
		a.RiskLevel, a.RiskScore, string(recsJSON), a.Summary,
		a.HallucinationRisk, a.ConsensusConfidence, string(warningsJSON),
		coalesceString(string(a.Verdict), string(model.VerdictClean)), a.ManualReview, a.Degraded, generated)
	if err != nil {
		return fmt.Errorf("upsert analysis %s/%s: %w", k, a.CVEID, err)
	}
	return nil
}

// AnalysisRow is one persisted verdict as read back by operators.
type AnalysisRow struct {
	SubjectKey   string               `json:"subject_key"`
	Package      string               `json:"package,omitempty"`
	VersionRange string               `json:"version_range,omitempty"`
	Ecosystem    string               `json:"ecosystem,omitempty"`
	Result       model.AnalysisResult `json:"result"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

const analysisColumns = `
  subject_key, COALESCE(package, ''), COALESCE(version_range, ''), COALESCE(ecosystem, ''),
  cve_id, risk_level, risk_score, recommendations, summary, hallucination_risk,
  consensus_confidence, warnings, verdict, manual_review, degraded, generated_at, updated_at`

// QueryByPackage lists verdicts for a package. An empty versionRange matches
// every range.
func (s *Store) QueryByPackage(ctx context.Context, pkg, versionRange string) ([]AnalysisRow, error) {
	return s.queryAnalysis(ctx, `
SELECT`+analysisColumns+`
FROM analysis_results
WHERE package=$1
  AND ($2 = '' OR version_range=$2)
ORDER BY version_range, risk_score DESC, cve_id
`, pkg, versionRange)
}

func (s *Store) QueryByCVE(ctx context.Context, cveID string) ([]AnalysisRow, error) {
	return s.queryAnalysis(ctx, `
SELECT`+analysisColumns+`
FROM analysis_results
WHERE cve_id=$1
ORDER BY updated_at DESC
`, cveID)
}

func (s *Store) queryAnalysis(ctx context.Context, sql string, args ...any) ([]AnalysisRow, error) {
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnalysisRow
	for rows.Next() {
		var (
			r         AnalysisRow
			recs      []byte
			warnings  []byte
			verdict   string
			generated *time.Time
		)
		a := &r.Result
		if err := rows.Scan(
			&r.SubjectKey, &r.Package, &r.VersionRange, &r.Ecosystem,
			&a.CVEID, &a.RiskLevel, &a.RiskScore, &recs, &a.Summary, &a.HallucinationRisk,
			&a.ConsensusConfidence, &warnings, &verdict, &a.ManualReview, &a.Degraded, &generated, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		a.Verdict = model.Verdict(verdict)
		if generated != nil {
			a.GeneratedAt = generated.UTC()
		}
		if err := json.Unmarshal(recs, &a.Recommendations); err != nil {
			return nil, fmt.Errorf("decode recommendations for %s: %w", a.CVEID, err)
		}
		if err := json.Unmarshal(warnings, &a.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings for %s: %w", a.CVEID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
