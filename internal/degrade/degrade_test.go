package degrade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/metrics"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

func TestRunPassesThroughSuccess(t *testing.T) {
	res := Run(context.Background(), &Policy{}, "epss", func(context.Context) (float64, error) {
		return 0.91, nil
	}, func() float64 { return FallbackEPSS })

	assert.False(t, res.Degraded)
	assert.NoError(t, res.Err)
	assert.Equal(t, 0.91, res.Value)
}

func TestRunFallsBackOnError(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	p := &Policy{Metrics: m}
	res := Run(context.Background(), p, "cvss", func(context.Context) (model.CVSSScore, error) {
		return model.CVSSScore{}, errors.New("503 from upstream")
	}, func() model.CVSSScore { return CVSSFallback("CVE-2024-0001") })

	require.True(t, res.Degraded)
	assert.EqualError(t, res.Err, "503 from upstream")
	require.NotNil(t, res.Value.Score)
	assert.Equal(t, FallbackCVSS, *res.Value.Score)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DegradedTotal.WithLabelValues("cvss")))
}

func TestRunTimesOutEvenIfCallIgnoresContext(t *testing.T) {
	p := &Policy{Timeouts: map[string]time.Duration{"threat": 20 * time.Millisecond}}
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	res := Run(context.Background(), p, "threat", func(context.Context) (model.ThreatResult, error) {
		<-release
		return model.ThreatResult{Cases: []model.ThreatCase{{Title: "late"}}}, nil
	}, func() model.ThreatResult { return ThreatFallback("CVE-2024-0002") })

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, res.Degraded)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.Empty(t, res.Value.Cases)
}

func TestRunRecoversPanics(t *testing.T) {
	res := Run(context.Background(), nil, "analysis", func(context.Context) (model.AnalysisResult, error) {
		panic("nil map write")
	}, func() model.AnalysisResult { return AnalysisFallback("CVE-2024-0003") })

	require.True(t, res.Degraded)
	assert.Contains(t, res.Err.Error(), "nil map write")
	assert.Equal(t, "Medium", res.Value.RiskLevel)
}

func TestFailingCollectorYieldsSameFallbackEveryTime(t *testing.T) {
	key := model.NaturalKey{Package: "lodash", VersionRange: "<4.17.21", Ecosystem: "npm"}
	failing := func(context.Context) (model.MappingResult, error) {
		return model.MappingResult{}, errors.New("osv unreachable")
	}

	var seen []model.MappingResult
	for i := 0; i < 5; i++ {
		res := Run(context.Background(), &Policy{}, "mapping", failing, func() model.MappingResult {
			return MappingFallback(key)
		})
		require.True(t, res.Degraded)
		seen = append(seen, res.Value)
	}
	for _, v := range seen[1:] {
		assert.Equal(t, seen[0], v)
	}
	require.Len(t, seen[0].CVEIDs, 1)
	assert.Regexp(t, `^CVE-2025-\d{4}$`, seen[0].CVEIDs[0])
	assert.Equal(t, seen[0], MappingFallback(model.NaturalKey{Package: "LODASH", VersionRange: "1.0.0", Ecosystem: "npm"}))
}

func TestFallbacksAreStagedTyped(t *testing.T) {
	assert.Equal(t, []string{"CVE-2021-44228"}, MappingFallback(model.NaturalKey{CVEID: "CVE-2021-44228"}).CVEIDs)
	assert.Equal(t, FallbackEPSS, *EPSSFallback("CVE-2021-44228").Score)
	assert.NotNil(t, ThreatFallback("CVE-2021-44228").Cases)

	a := AnalysisFallback("CVE-2021-44228")
	assert.True(t, a.ManualReview)
	assert.Equal(t, model.VerdictUnusable, a.Verdict)
	assert.Equal(t, 1.0, a.HallucinationRisk)
	assert.Equal(t, FallbackNote, a.Summary)
	assert.Len(t, a.Recommendations, 2)
}
