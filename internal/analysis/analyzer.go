// Package analysis produces the per-CVE verdict: a rule-based risk level, an
// AI-written summary and recommendations, and the verification outcome for
// that summary.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/ai"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/metrics"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/verify"
)

var ErrNoInferencer = errors.New("analysis: no primary inferencer configured")

type Analyzer struct {
	primary   ai.Inferencer
	secondary ai.Inferencer
	engine    *verify.Engine
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

type Option func(*Analyzer)

func WithSecondary(inf ai.Inferencer) Option { return func(a *Analyzer) { a.secondary = inf } }

func WithGroundTruth(c *verify.GroundTruthChecker) Option {
	return func(a *Analyzer) { a.engine = &verify.Engine{Checker: c} }
}

func WithMetrics(m *metrics.Metrics) Option { return func(a *Analyzer) { a.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(a *Analyzer) { a.log = l } }

func WithClock(now func() time.Time) Option { return func(a *Analyzer) { a.now = now } }

func New(primary ai.Inferencer, opts ...Option) *Analyzer {
	a := &Analyzer{
		primary: primary,
		engine:  &verify.Engine{},
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze returns an error only when the primary model cannot produce a
// draft; the caller substitutes its fallback in that case.
func (a *Analyzer) Analyze(ctx context.Context, in model.AnalysisInput) (model.AnalysisResult, error) {
	if a.primary == nil {
		return model.AnalysisResult{}, ErrNoInferencer
	}
	cvss, epss := in.Scores.CVSS.Score, in.Scores.EPSS.Score
	cases := len(in.Threat.Cases)
	level := RiskLevel(cvss, epss, cases)

	draft, err := a.primary.Infer(ctx, summaryPrompt(in, level))
	if err != nil {
		return model.AnalysisResult{}, err
	}

	recs := defaultRecommendations(level)
	if text, err := a.primary.Infer(ctx, recommendationPrompt(in, level)); err != nil {
		a.log.Warn("analysis: recommendations unavailable, using defaults", "cve", in.CVEID, "error", err)
	} else if parsed := parseRecommendations(text); len(parsed) > 0 {
		recs = parsed
	}

	var secondary *string
	if a.secondary != nil {
		if text, err := a.secondary.Infer(ctx, summaryPrompt(in, level)); err != nil {
			a.log.Warn("analysis: secondary model unavailable, skipping consensus", "cve", in.CVEID, "model", a.secondary.Name(), "error", err)
		} else {
			secondary = &text
		}
	}

	inputs := verify.Inputs{
		CVEID:     in.CVEID,
		CVSS:      cvss,
		EPSS:      epss,
		CaseCount: cases,
	}
	if !in.Key.IsCVE() {
		inputs.Package = in.Key.Package
		inputs.VersionRange = in.Key.VersionRange
	}
	assessment := a.engine.Assess(ctx, draft, secondary, inputs)
	a.metrics.Verdict(string(assessment.Verdict))

	res := model.AnalysisResult{
		CVEID:             in.CVEID,
		RiskLevel:         level,
		RiskScore:         RiskScore(cvss, epss, cases),
		Recommendations:   recs,
		Summary:           assessment.Text,
		HallucinationRisk: assessment.FinalRisk,
		Warnings:          assessment.Warnings,
		Verdict:           assessment.Verdict,
		ManualReview:      assessment.Verdict == model.VerdictUnusable,
		GeneratedAt:       a.now(),
	}
	if assessment.Ensemble != nil {
		c := assessment.Ensemble.ConsensusConfidence
		res.ConsensusConfidence = &c
	}
	if res.ManualReview {
		a.log.Warn("analysis: summary flagged for manual review", "cve", in.CVEID, "risk", res.HallucinationRisk)
	}
	return res, nil
}
