package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/nvd"
)

const (
	GroundTruthTolerance = 0.5
	RateLimitRetryDelay  = 6 * time.Second
)

// Source is the authoritative record lookup. It returns nvd.ErrNotFound for
// unknown identifiers and nvd.ErrRateLimited when throttled.
type Source interface {
	Lookup(ctx context.Context, cveID string) (nvd.Record, error)
}

type GroundTruthChecker struct {
	src        Source
	tolerance  float64
	retryDelay time.Duration
	sleep      func(context.Context, time.Duration) error
	log        *slog.Logger
}

type CheckerOption func(*GroundTruthChecker)

func WithCheckerLogger(l *slog.Logger) CheckerOption {
	return func(g *GroundTruthChecker) { g.log = l }
}

func NewGroundTruthChecker(src Source, opts ...CheckerOption) *GroundTruthChecker {
	g := &GroundTruthChecker{
		src:        src,
		tolerance:  GroundTruthTolerance,
		retryDelay: RateLimitRetryDelay,
		sleep:      sleepCtx,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	return g
}

// Verify compares claimed against the authoritative score for cveID. A nil
// claimed score only checks that the identifier exists. Discrepancies end up
// in delivered verdicts, so lookup errors are logged and never quoted.
func (g *GroundTruthChecker) Verify(ctx context.Context, cveID string, claimed *float64) model.FactCheckResult {
	rec, err := g.src.Lookup(ctx, cveID)
	if errors.Is(err, nvd.ErrRateLimited) {
		if serr := g.sleep(ctx, g.retryDelay); serr != nil {
			g.log.Warn("ground truth: retry abandoned", "cve", cveID, "error", serr)
			return unverified(fmt.Sprintf("ground truth lookup for %s unavailable", cveID))
		}
		rec, err = g.src.Lookup(ctx, cveID)
	}
	switch {
	case errors.Is(err, nvd.ErrNotFound):
		return unverified(fmt.Sprintf("%s not found in authoritative source (possible fabricated identifier)", cveID))
	case errors.Is(err, nvd.ErrRateLimited):
		return unverified(fmt.Sprintf("ground truth lookup for %s rate limited after retry", cveID))
	case err != nil:
		g.log.Warn("ground truth: lookup failed", "cve", cveID, "error", err)
		return unverified(fmt.Sprintf("ground truth lookup for %s unavailable", cveID))
	}

	res := model.FactCheckResult{Verified: true, GroundTruthScore: rec.Score, Discrepancies: []string{}}
	if claimed == nil || rec.Score == nil {
		return res
	}
	if math.Abs(*claimed-*rec.Score) > g.tolerance {
		res.Verified = false
		res.Discrepancies = append(res.Discrepancies, fmt.Sprintf(
			"CVSS mismatch for %s: claimed %.1f, authoritative %.1f (CVSS %s)",
			cveID, *claimed, *rec.Score, rec.Version))
	}
	return res
}

func unverified(msg string) model.FactCheckResult {
	return model.FactCheckResult{Verified: false, Discrepancies: []string{msg}}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
