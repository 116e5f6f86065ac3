// Package pipeline drives one analysis request through the fixed stage
// sequence MAPPING, SCORING (CVSS and EPSS in parallel), THREAT and ANALYSIS.
// Collaborator failures never abort a run: each call goes through the degrade
// wrapper and its fallback is used instead.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/cache"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/degrade"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

const (
	StageMapping  = "mapping"
	StageCVSS     = "cvss"
	StageEPSS     = "epss"
	StageThreat   = "threat"
	StageAnalysis = "analysis"

	defaultScoringParallelism = 8
)

// ErrPersist marks a failed write to the relational store. Unlike collector
// failures it is not absorbed; the caller dead-letters the task.
var ErrPersist = errors.New("persist stage result")

type Deps struct {
	Mapping  MappingCollector
	CVSS     CVSSCollector
	EPSS     EPSSCollector
	Threat   ThreatCollector
	Analyzer Analyzer
	Repo     Repository

	// Optional.
	Cache   *cache.Gateway
	Policy  *degrade.Policy
	Archive Archive
	Log     *slog.Logger
	Now     func() time.Time

	ScoringParallelism int
}

type Orchestrator struct {
	d Deps
}

func New(d Deps) *Orchestrator {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC().Truncate(time.Second) }
	}
	if d.ScoringParallelism <= 0 {
		d.ScoringParallelism = defaultScoringParallelism
	}
	return &Orchestrator{d: d}
}

// run carries the per-request state between stages.
type run struct {
	req      model.AnalysisRequest
	key      model.NaturalKey
	report   *model.PipelineReport
	progress ProgressFunc
	degraded map[string]bool
}

func (r *run) markDegraded(stage string) {
	if r.degraded[stage] {
		return
	}
	r.degraded[stage] = true
	r.report.DegradedStages = append(r.report.DegradedStages, stage)
}

// Run executes every stage for req. The only errors are a
// *model.ValidationError for a malformed request (state FAILED) and ErrPersist.
func (o *Orchestrator) Run(ctx context.Context, req model.AnalysisRequest, progress ProgressFunc) (*model.PipelineReport, error) {
	req = req.Normalize()
	r := &run{
		req:      req,
		key:      req.Key(),
		progress: progress,
		degraded: map[string]bool{},
		report: &model.PipelineReport{
			Request:   req,
			Key:       req.Key(),
			State:     model.StatePending,
			CVEs:      []model.CVEReport{},
			StartedAt: o.d.Now(),
		},
	}
	if err := req.Validate(); err != nil {
		o.transition(ctx, r, model.StateFailed, err.Error())
		return r.report, err
	}
	o.transition(ctx, r, model.StatePending, "accepted "+r.key.String())

	o.transition(ctx, r, model.StateMapping, "")
	mapping, err := o.mapping(ctx, r)
	if err != nil {
		return r.report, err
	}
	r.report.Mapping = mapping

	cves := mapping.CVEIDs
	o.transition(ctx, r, model.StateScoring, fmt.Sprintf("%d cves", len(cves)))
	scores, err := o.scoring(ctx, r, cves)
	if err != nil {
		return r.report, err
	}

	if r.req.Force {
		if err := o.d.Repo.DeleteAnalysis(ctx, r.key); err != nil {
			return r.report, fmt.Errorf("%w: delete stale analysis for %s: %v", ErrPersist, r.key, err)
		}
		keys := make([]string, len(cves))
		for i, id := range cves {
			keys[i] = cache.AnalysisKey(r.key, id)
		}
		o.d.Cache.Delete(ctx, keys...)
	}

	detail := ""
	if r.req.SkipThreat {
		detail = "skipped"
	}
	o.transition(ctx, r, model.StateThreat, detail)
	threats := make([]model.ThreatResult, len(cves))
	for i, id := range cves {
		if threats[i], err = o.threat(ctx, r, id); err != nil {
			return r.report, err
		}
	}

	o.transition(ctx, r, model.StateAnalysis, "")
	for i, id := range cves {
		in := model.AnalysisInput{Key: r.key, CVEID: id, Scores: scores[i], Threat: threats[i]}
		res, err := o.analysis(ctx, r, in)
		if err != nil {
			return r.report, err
		}
		r.report.CVEs = append(r.report.CVEs, model.CVEReport{
			CVEID:    id,
			Scores:   scores[i],
			Threat:   threats[i],
			Analysis: res,
		})
	}

	r.report.FinishedAt = o.d.Now()
	r.report.State = model.StateComplete
	o.archive(ctx, r)
	s := r.report.Summarize()
	o.transition(ctx, r, model.StateComplete, fmt.Sprintf("%d cves, %d high, %d degraded stages", s.Total, s.High, s.Degraded))
	return r.report, nil
}

func (o *Orchestrator) transition(ctx context.Context, r *run, s model.State, detail string) {
	r.report.State = s
	o.d.Log.Debug("pipeline: state change", "subject", r.req.Subject, "state", s, "detail", detail)
	if r.progress != nil {
		r.progress(ctx, model.ProgressEvent{State: s, Detail: detail, TS: o.d.Now()})
	}
}

func (o *Orchestrator) mapping(ctx context.Context, r *run) (model.MappingResult, error) {
	if r.key.IsCVE() {
		return model.MappingResult{CVEIDs: []string{r.key.CVEID}}, nil
	}

	ckey := cache.MappingKey(r.key)
	var out model.MappingResult
	if !r.req.Force && o.d.Cache.Get(ctx, ckey, &out) {
		if out.CVEIDs == nil {
			out.CVEIDs = []string{}
		}
	} else {
		res := degrade.Run(ctx, o.d.Policy, StageMapping,
			func(ctx context.Context) (model.MappingResult, error) {
				ids, err := o.d.Mapping.FetchCVEs(ctx, r.key)
				if err != nil {
					return model.MappingResult{}, err
				}
				if ids == nil {
					ids = []string{}
				}
				return model.MappingResult{CVEIDs: ids}, nil
			},
			func() model.MappingResult { return degrade.MappingFallback(r.key) },
		)
		out = res.Value
		if res.Degraded {
			r.markDegraded(StageMapping)
		} else {
			o.d.Cache.Set(ctx, ckey, out, 0)
		}
	}

	if err := o.d.Repo.UpsertMapping(ctx, r.key, out); err != nil {
		return out, fmt.Errorf("%w: mapping for %s: %v", ErrPersist, r.key, err)
	}
	return out, nil
}

// scoring resolves CVSS and EPSS for every CVE concurrently and only returns
// once all of them have a value or a fallback.
func (o *Orchestrator) scoring(ctx context.Context, r *run, cves []string) ([]model.ScoreResult, error) {
	out := make([]model.ScoreResult, len(cves))
	var g errgroup.Group
	g.SetLimit(o.d.ScoringParallelism)
	for i, id := range cves {
		out[i].CVEID = id
		g.Go(func() error {
			out[i].CVSS, out[i].CVSSDegraded = o.cvss(ctx, r.req.Force, id)
			return nil
		})
		g.Go(func() error {
			out[i].EPSS, out[i].EPSSDegraded = o.epss(ctx, r.req.Force, id)
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range out {
		if s.CVSSDegraded {
			r.markDegraded(StageCVSS)
		}
		if s.EPSSDegraded {
			r.markDegraded(StageEPSS)
		}
		if err := o.d.Repo.UpsertScore(ctx, s); err != nil {
			return out, fmt.Errorf("%w: scores for %s: %v", ErrPersist, s.CVEID, err)
		}
	}
	return out, nil
}

func (o *Orchestrator) cvss(ctx context.Context, force bool, cveID string) (model.CVSSScore, bool) {
	ckey := cache.CVSSKey(cveID)
	var out model.CVSSScore
	if !force && o.d.Cache.Get(ctx, ckey, &out) {
		return out, false
	}
	res := degrade.Run(ctx, o.d.Policy, StageCVSS,
		func(ctx context.Context) (model.CVSSScore, error) { return o.d.CVSS.FetchCVSS(ctx, cveID) },
		func() model.CVSSScore { return degrade.CVSSFallback(cveID) },
	)
	if !res.Degraded {
		o.d.Cache.Set(ctx, ckey, res.Value, 0)
	}
	return res.Value, res.Degraded
}

func (o *Orchestrator) epss(ctx context.Context, force bool, cveID string) (model.EPSSScore, bool) {
	ckey := cache.EPSSKey(cveID)
	var out model.EPSSScore
	if !force && o.d.Cache.Get(ctx, ckey, &out) {
		return out, false
	}
	res := degrade.Run(ctx, o.d.Policy, StageEPSS,
		func(ctx context.Context) (model.EPSSScore, error) { return o.d.EPSS.FetchEPSS(ctx, cveID) },
		func() model.EPSSScore { return degrade.EPSSFallback(cveID) },
	)
	if !res.Degraded {
		o.d.Cache.Set(ctx, ckey, res.Value, 0)
	}
	return res.Value, res.Degraded
}

func (o *Orchestrator) threat(ctx context.Context, r *run, cveID string) (model.ThreatResult, error) {
	var out model.ThreatResult
	ckey := cache.ThreatKey(r.key, cveID)
	switch {
	case r.req.SkipThreat:
		out = degrade.ThreatFallback(cveID)
		out.Degraded = false
		out.Skipped = true
	case !r.req.Force && o.d.Cache.Get(ctx, ckey, &out):
		if out.Cases == nil {
			out.Cases = []model.ThreatCase{}
		}
	default:
		res := degrade.Run(ctx, o.d.Policy, StageThreat,
			func(ctx context.Context) (model.ThreatResult, error) {
				cases, err := o.d.Threat.FetchCases(ctx, r.key, cveID)
				if err != nil {
					return model.ThreatResult{}, err
				}
				if cases == nil {
					cases = []model.ThreatCase{}
				}
				return model.ThreatResult{CVEID: cveID, Cases: cases}, nil
			},
			func() model.ThreatResult { return degrade.ThreatFallback(cveID) },
		)
		out = res.Value
		if res.Degraded {
			r.markDegraded(StageThreat)
		} else {
			o.d.Cache.Set(ctx, ckey, out, 0)
		}
	}

	if err := o.d.Repo.UpsertThreatCases(ctx, r.key, out); err != nil {
		return out, fmt.Errorf("%w: threat cases for %s: %v", ErrPersist, cveID, err)
	}
	return out, nil
}

func (o *Orchestrator) analysis(ctx context.Context, r *run, in model.AnalysisInput) (model.AnalysisResult, error) {
	ckey := cache.AnalysisKey(r.key, in.CVEID)
	var out model.AnalysisResult
	if r.req.Force || !o.d.Cache.Get(ctx, ckey, &out) {
		res := degrade.Run(ctx, o.d.Policy, StageAnalysis,
			func(ctx context.Context) (model.AnalysisResult, error) { return o.d.Analyzer.Analyze(ctx, in) },
			func() model.AnalysisResult { return degrade.AnalysisFallback(in.CVEID) },
		)
		out = res.Value
		switch {
		case res.Degraded:
			out.GeneratedAt = o.d.Now()
			r.markDegraded(StageAnalysis)
		case in.Scores.Degraded() || in.Threat.Degraded:
			// Built on fallback inputs; recompute next time.
		default:
			o.d.Cache.Set(ctx, ckey, out, 0)
		}
	}

	if err := o.d.Repo.UpsertAnalysis(ctx, r.key, out); err != nil {
		return out, fmt.Errorf("%w: analysis for %s: %v", ErrPersist, in.CVEID, err)
	}
	return out, nil
}

func (o *Orchestrator) archive(ctx context.Context, r *run) {
	if o.d.Archive == nil {
		return
	}
	loc, err := o.d.Archive.PutReport(ctx, r.report)
	if err != nil {
		o.d.Log.Warn("pipeline: report archive failed", "subject", r.req.Subject, "error", err)
		return
	}
	r.report.ArchiveKey = loc
}
