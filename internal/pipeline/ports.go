package pipeline

import (
	"context"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

type MappingCollector interface {
	FetchCVEs(ctx context.Context, k model.NaturalKey) ([]string, error)
}

type CVSSCollector interface {
	FetchCVSS(ctx context.Context, cveID string) (model.CVSSScore, error)
}

type EPSSCollector interface {
	FetchEPSS(ctx context.Context, cveID string) (model.EPSSScore, error)
}

type ThreatCollector interface {
	FetchCases(ctx context.Context, k model.NaturalKey, cveID string) ([]model.ThreatCase, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, in model.AnalysisInput) (model.AnalysisResult, error)
}

// Repository is the relational source of truth. Every write is an upsert on
// the natural key so repeated runs converge on the same rows.
type Repository interface {
	UpsertMapping(ctx context.Context, k model.NaturalKey, m model.MappingResult) error
	UpsertScore(ctx context.Context, s model.ScoreResult) error
	UpsertThreatCases(ctx context.Context, k model.NaturalKey, t model.ThreatResult) error
	UpsertAnalysis(ctx context.Context, k model.NaturalKey, a model.AnalysisResult) error
	DeleteAnalysis(ctx context.Context, k model.NaturalKey) error
}

// Archive stores the finished report and returns its location.
type Archive interface {
	PutReport(ctx context.Context, r *model.PipelineReport) (string, error)
}

// ProgressFunc receives every state change. It must not block for long.
type ProgressFunc func(ctx context.Context, ev model.ProgressEvent)
