package verify

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/nvd"
)

func TestFinalizeUnverifiedCrossesUnusableThreshold(t *testing.T) {
	final := Finalize(0.65, &model.FactCheckResult{Verified: false})
	assert.Equal(t, 0.85, final)
	assert.Equal(t, model.VerdictUnusable, Classify(final))
}

func TestFinalizeClampsAndSkips(t *testing.T) {
	assert.Equal(t, 0.3, Finalize(0.3, nil), "skipped check adds nothing")
	assert.Equal(t, 0.3, Finalize(0.3, &model.FactCheckResult{Verified: true}))
	assert.Equal(t, 1.0, Finalize(1.65, nil))
	assert.Equal(t, 0.0, Finalize(-0.2, nil))
	assert.Equal(t, 0.65, Finalize(0.45, &model.FactCheckResult{}))
}

func TestClassifyBoundaries(t *testing.T) {
	assert.Equal(t, model.VerdictClean, Classify(0.4999))
	assert.Equal(t, model.VerdictWarning, Classify(0.5))
	assert.Equal(t, model.VerdictWarning, Classify(0.7999))
	assert.Equal(t, model.VerdictUnusable, Classify(0.8))
	assert.Equal(t, model.VerdictUnusable, Classify(1))
}

func TestDecorate(t *testing.T) {
	assert.Equal(t, "body", Decorate("body", model.VerdictClean, 0.1))

	w := Decorate("body", model.VerdictWarning, 0.6)
	assert.True(t, strings.HasPrefix(w, WarningBanner))
	assert.True(t, strings.HasSuffix(w, "body"))

	u := Decorate("body", model.VerdictUnusable, 0.85)
	assert.True(t, strings.HasPrefix(u, ManualReviewMarker))
	assert.Contains(t, u, "0.85")
}

func TestEngineSkipsAbsentSubStages(t *testing.T) {
	var e Engine
	a := e.Assess(context.Background(), groundedSummary, nil, lodashInputs())

	assert.Nil(t, a.Ensemble)
	assert.Nil(t, a.FactCheck)
	assert.Equal(t, 0.0, a.FinalRisk)
	assert.Equal(t, model.VerdictClean, a.Verdict)
	assert.Equal(t, groundedSummary, a.Text)
}

func TestEngineRunsEveryStep(t *testing.T) {
	src := &scriptedSource{results: []lookupResult{{rec: nvd.Record{Score: f(8.8)}}}}
	checker, _ := newTestChecker(src)
	e := Engine{Checker: checker}
	secondary := groundedSummary

	a := e.Assess(context.Background(), groundedSummary, &secondary, lodashInputs())

	require.NotNil(t, a.Ensemble)
	assert.Equal(t, 1.0, a.Ensemble.ConsensusConfidence)
	require.NotNil(t, a.FactCheck)
	assert.False(t, a.FactCheck.Verified, "7.2 claimed vs 8.8 authoritative")
	assert.Equal(t, PenaltyUnverified, a.FinalRisk)
	assert.Equal(t, model.VerdictClean, a.Verdict)
	assert.NotEmpty(t, a.Warnings)
}
