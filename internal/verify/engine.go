package verify

import (
	"context"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

// Assessment is the outcome of verifying one draft summary.
type Assessment struct {
	Text        string
	Signals     []model.ValidationSignal
	PartialRisk float64
	FinalRisk   float64
	Ensemble    *model.EnsembleComparison
	FactCheck   *model.FactCheckResult
	Verdict     model.Verdict
	Warnings    []string
}

// Engine runs every verification step. A nil Checker skips the ground-truth
// step; a missing secondary response skips the ensemble.
type Engine struct {
	Checker *GroundTruthChecker
}

func (e *Engine) Assess(ctx context.Context, primary string, secondary *string, in Inputs) Assessment {
	a := Assessment{Text: primary, Warnings: []string{}}

	a.Signals, a.PartialRisk = Validate(primary, in)
	for _, s := range a.Signals {
		a.Warnings = append(a.Warnings, s.Message)
	}

	if secondary != nil {
		cmp := Compare(primary, *secondary, in.CVEID)
		a.Ensemble = &cmp
		a.Text, _ = Select(primary, cmp)
		a.Warnings = append(a.Warnings, cmp.Discrepancies...)
	}

	if e != nil && e.Checker != nil && in.CVEID != "" {
		claimed := in.CVSS
		if v, ok := SeverityScore(primary); ok {
			claimed = &v
		}
		fc := e.Checker.Verify(ctx, in.CVEID, claimed)
		a.FactCheck = &fc
		a.Warnings = append(a.Warnings, fc.Discrepancies...)
	}

	a.FinalRisk = Finalize(a.PartialRisk, a.FactCheck)
	a.Verdict = Classify(a.FinalRisk)
	a.Text = Decorate(a.Text, a.Verdict, a.FinalRisk)
	return a
}
