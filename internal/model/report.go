package model

import "time"

type State string

const (
	StatePending  State = "PENDING"
	StateMapping  State = "MAPPING"
	StateScoring  State = "SCORING"
	StateThreat   State = "THREAT"
	StateAnalysis State = "ANALYSIS"
	StateComplete State = "COMPLETE"
	StateFailed   State = "FAILED"
)

type ProgressEvent struct {
	State  State     `json:"state"`
	Detail string    `json:"detail"`
	TS     time.Time `json:"ts"`
}

type MappingResult struct {
	CVEIDs   []string `json:"cve_ids"`
	Degraded bool     `json:"degraded,omitempty"`
}

type CVSSScore struct {
	CVEID       string    `json:"cve_id"`
	Score       *float64  `json:"score"`
	Vector      string    `json:"vector,omitempty"`
	Version     string    `json:"version,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Source      string    `json:"source"`
	CollectedAt time.Time `json:"collected_at"`
}

type EPSSScore struct {
	CVEID       string    `json:"cve_id"`
	Score       *float64  `json:"score"`
	Percentile  *float64  `json:"percentile,omitempty"`
	Source      string    `json:"source"`
	CollectedAt time.Time `json:"collected_at"`
}

type ScoreResult struct {
	CVEID        string    `json:"cve_id"`
	CVSS         CVSSScore `json:"cvss"`
	EPSS         EPSSScore `json:"epss"`
	CVSSDegraded bool      `json:"cvss_degraded,omitempty"`
	EPSSDegraded bool      `json:"epss_degraded,omitempty"`
}

func (s ScoreResult) Degraded() bool { return s.CVSSDegraded || s.EPSSDegraded }

type ThreatCase struct {
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Date        string    `json:"date,omitempty"`
	Summary     string    `json:"summary"`
	CollectedAt time.Time `json:"collected_at"`
}

type ThreatResult struct {
	CVEID    string       `json:"cve_id"`
	Cases    []ThreatCase `json:"cases"`
	Degraded bool         `json:"degraded,omitempty"`
	Skipped  bool         `json:"skipped,omitempty"`
}

type Verdict string

const (
	VerdictClean    Verdict = "clean"
	VerdictWarning  Verdict = "warning"
	VerdictUnusable Verdict = "unusable"
)

type AnalysisResult struct {
	CVEID               string    `json:"cve_id"`
	RiskLevel           string    `json:"risk_level"`
	RiskScore           float64   `json:"risk_score"`
	Recommendations     []string  `json:"recommendations"`
	Summary             string    `json:"summary"`
	HallucinationRisk   float64   `json:"hallucination_risk"`
	ConsensusConfidence *float64  `json:"consensus_confidence,omitempty"`
	Warnings            []string  `json:"warnings"`
	Verdict             Verdict   `json:"verdict"`
	ManualReview        bool      `json:"manual_review"`
	Degraded            bool      `json:"degraded,omitempty"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// AnalysisInput is everything the Analysis stage sees for one CVE.
type AnalysisInput struct {
	Key    NaturalKey   `json:"key"`
	CVEID  string       `json:"cve_id"`
	Scores ScoreResult  `json:"scores"`
	Threat ThreatResult `json:"threat"`
}

type CVEReport struct {
	CVEID    string         `json:"cve_id"`
	Scores   ScoreResult    `json:"scores"`
	Threat   ThreatResult   `json:"threat"`
	Analysis AnalysisResult `json:"analysis"`
}

type PipelineReport struct {
	Request        AnalysisRequest `json:"request"`
	Key            NaturalKey      `json:"key"`
	State          State           `json:"state"`
	Mapping        MappingResult   `json:"mapping"`
	CVEs           []CVEReport     `json:"cves"`
	DegradedStages []string        `json:"degraded_stages,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	ArchiveKey     string          `json:"archive_key,omitempty"`
}

// Summary counts verdicts by risk level for the run row.
type Summary struct {
	Total    int `json:"total_cves"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Degraded int `json:"degraded_stages"`
	Unusable int `json:"unusable"`
}

func (r *PipelineReport) Summarize() Summary {
	s := Summary{Total: len(r.CVEs), Degraded: len(r.DegradedStages)}
	for _, c := range r.CVEs {
		switch c.Analysis.RiskLevel {
		case "High", "Critical":
			s.High++
		case "Medium":
			s.Medium++
		default:
			s.Low++
		}
		if c.Analysis.Verdict == VerdictUnusable {
			s.Unusable++
		}
	}
	return s
}
