package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/nvd"
)

type scriptedSource struct {
	results []lookupResult
	calls   int
}

type lookupResult struct {
	rec nvd.Record
	err error
}

func (s *scriptedSource) Lookup(context.Context, string) (nvd.Record, error) {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i].rec, s.results[i].err
}

func newTestChecker(src Source) (*GroundTruthChecker, *[]time.Duration) {
	var slept []time.Duration
	g := NewGroundTruthChecker(src)
	g.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return g, &slept
}

func TestVerifyMismatchBeyondTolerance(t *testing.T) {
	src := &scriptedSource{results: []lookupResult{{rec: nvd.Record{Score: f(8.1), Version: "3.1"}}}}
	g, _ := newTestChecker(src)

	res := g.Verify(context.Background(), "CVE-2021-23337", f(7.5))
	assert.False(t, res.Verified)
	require.Len(t, res.Discrepancies, 1)
	assert.Contains(t, res.Discrepancies[0], "7.5")
	assert.Contains(t, res.Discrepancies[0], "8.1")
	require.NotNil(t, res.GroundTruthScore)
	assert.Equal(t, 8.1, *res.GroundTruthScore)
}

func TestVerifyWithinTolerance(t *testing.T) {
	g, _ := newTestChecker(&scriptedSource{results: []lookupResult{{rec: nvd.Record{Score: f(7.9)}}}})
	res := g.Verify(context.Background(), "CVE-2021-23337", f(7.5))
	assert.True(t, res.Verified)
	assert.Empty(t, res.Discrepancies)
}

func TestVerifyUnknownIdentifier(t *testing.T) {
	g, _ := newTestChecker(&scriptedSource{results: []lookupResult{{err: nvd.ErrNotFound}}})
	res := g.Verify(context.Background(), "CVE-2099-0001", f(5.0))
	assert.False(t, res.Verified)
	require.Len(t, res.Discrepancies, 1)
	assert.Contains(t, res.Discrepancies[0], "fabricated")
}

func TestVerifyRetriesOnceAfterRateLimit(t *testing.T) {
	src := &scriptedSource{results: []lookupResult{
		{err: nvd.ErrRateLimited},
		{rec: nvd.Record{Score: f(7.2)}},
	}}
	g, slept := newTestChecker(src)

	res := g.Verify(context.Background(), "CVE-2021-23337", f(7.2))
	assert.True(t, res.Verified)
	assert.Equal(t, []time.Duration{RateLimitRetryDelay}, *slept)
}

func TestVerifyGivesUpAfterSecondRateLimit(t *testing.T) {
	src := &scriptedSource{results: []lookupResult{{err: nvd.ErrRateLimited}, {err: nvd.ErrRateLimited}, {rec: nvd.Record{Score: f(7.2)}}}}
	g, slept := newTestChecker(src)

	res := g.Verify(context.Background(), "CVE-2021-23337", f(7.2))
	assert.False(t, res.Verified)
	assert.Len(t, *slept, 1)
	assert.Equal(t, 2, src.calls)
}

func TestVerifyOtherErrorIsUnverified(t *testing.T) {
	g, slept := newTestChecker(&scriptedSource{results: []lookupResult{{err: errors.New("dial tcp: timeout")}}})
	res := g.Verify(context.Background(), "CVE-2021-23337", f(7.2))
	assert.False(t, res.Verified)
	assert.Empty(t, *slept)
	assert.Equal(t, []string{"ground truth lookup for CVE-2021-23337 unavailable"}, res.Discrepancies)
}

func TestVerifyNeverQuotesUpstreamBody(t *testing.T) {
	body := "<html><body>Bad Gateway nginx/1.18 at 10.0.3.4</body></html>"
	g, _ := newTestChecker(&scriptedSource{results: []lookupResult{{err: &nvd.StatusError{Status: 502, Body: body}}}})
	res := g.Verify(context.Background(), "CVE-2021-23337", f(7.2))
	assert.False(t, res.Verified)
	require.Len(t, res.Discrepancies, 1)
	assert.NotContains(t, res.Discrepancies[0], "nginx")
	assert.NotContains(t, res.Discrepancies[0], "502")
}

func TestVerifyAbandonedRetryIsGeneric(t *testing.T) {
	g, _ := newTestChecker(&scriptedSource{results: []lookupResult{{err: nvd.ErrRateLimited}}})
	g.sleep = func(context.Context, time.Duration) error { return context.DeadlineExceeded }
	res := g.Verify(context.Background(), "CVE-2021-23337", f(7.2))
	assert.False(t, res.Verified)
	assert.Equal(t, []string{"ground truth lookup for CVE-2021-23337 unavailable"}, res.Discrepancies)
}

func TestVerifyWithoutClaimOnlyChecksExistence(t *testing.T) {
	g, _ := newTestChecker(&scriptedSource{results: []lookupResult{{rec: nvd.Record{Score: f(9.8)}}}})
	res := g.Verify(context.Background(), "CVE-2021-44228", nil)
	assert.True(t, res.Verified)
	assert.Equal(t, 9.8, *res.GroundTruthScore)
}
