// Package worker pops analysis tasks from the queue, runs the pipeline for
// each and dead-letters anything that cannot complete. A single task failure
// never stops the loop; only losing the queue for good does.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/db"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/metrics"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/pipeline"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/queue"
)

// ErrQueueUnavailable means reconnecting to the queue failed on every
// attempt. It is fatal to the worker process.
var ErrQueueUnavailable = errors.New("queue unavailable")

const (
	reasonMalformed = "malformed"
	reasonPipeline  = "pipeline_error"
	reasonPanic     = "panic"

	maxReconnectDelay = 30 * time.Second
)

type Pipeline interface {
	Run(ctx context.Context, req model.AnalysisRequest, progress pipeline.ProgressFunc) (*model.PipelineReport, error)
}

// RunStore tracks runs in the relational store. *db.Store implements it.
type RunStore interface {
	InsertRun(ctx context.Context, r db.Run) error
	InsertEvent(ctx context.Context, runID string, ts time.Time, state, detail string, pct *int) error
	UpdateProgress(ctx context.Context, id, state string, pct int, msg string) error
	MarkDone(ctx context.Context, id, reportBucket, reportKey string, summaryJSON []byte) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

type staleRunFailer interface {
	FailStaleRunning(ctx context.Context, idleFor time.Duration) ([]string, error)
}

type Options struct {
	Concurrency       int
	PollTimeout       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReportsBucket     string
	Log               *slog.Logger
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

type Runner struct {
	q        queue.Queue
	p        Pipeline
	runs     RunStore
	opts     Options
	log      *slog.Logger
	workerID string
}

// NewRunner wires a worker. runs may be nil to skip run tracking.
func NewRunner(q queue.Queue, p Pipeline, runs RunStore, opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 2 * time.Second
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 8
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 500 * time.Millisecond
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	id := uuid.NewString()
	return &Runner{
		q:        q,
		p:        p,
		runs:     runs,
		opts:     opts,
		log:      opts.Log.With("worker", id),
		workerID: id,
	}
}

func (r *Runner) WorkerID() string { return r.workerID }

// RecoverStaleRuns fails runs left in 'running' by a crashed worker. Their
// tasks were popped already and are not requeued.
func (r *Runner) RecoverStaleRuns(ctx context.Context, idleFor time.Duration) {
	f, ok := r.runs.(staleRunFailer)
	if !ok {
		return
	}
	ids, err := f.FailStaleRunning(ctx, idleFor)
	if err != nil {
		r.log.Warn("stale run recovery failed", "error", err)
		return
	}
	if len(ids) > 0 {
		r.log.Info("failed stale runs from lost workers", "count", len(ids), "runs", ids)
	}
}

// RunForever polls until ctx is cancelled, then waits for in-flight tasks.
// It returns ErrQueueUnavailable when the queue cannot be reached again.
func (r *Runner) RunForever(ctx context.Context) error {
	sem := make(chan struct{}, r.opts.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sem <- struct{}{}:
		}

		raw, err := r.q.Dequeue(ctx, r.opts.PollTimeout)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if rerr := r.reconnect(ctx, err); rerr != nil {
				return rerr
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			// Shutdown lets a popped task finish; it is not requeued otherwise.
			r.handle(context.WithoutCancel(ctx), raw)
		}()
	}
}

func (r *Runner) reconnect(ctx context.Context, cause error) error {
	r.log.Warn("queue connection lost, reconnecting", "error", cause, "attempts", r.opts.ReconnectAttempts)
	err := retry(ctx, r.opts.ReconnectAttempts, r.opts.ReconnectDelay, maxReconnectDelay, func() error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return r.q.Ping(pctx)
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		r.log.Error("queue unreachable, giving up", "error", err)
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	r.log.Info("queue connection restored")
	return nil
}

// handle processes one raw payload end to end.
func (r *Runner) handle(ctx context.Context, raw []byte) {
	task, err := model.DecodeTask(raw)
	if err != nil {
		r.log.Warn("task rejected", "error", err)
		r.deadLetter(ctx, raw, err, "", reasonMalformed)
		return
	}

	runID := uuid.NewString()
	log := r.log.With("task", task.ID, "run", runID, "subject", task.Payload.Subject)
	log.Info("task started", "version_range", task.Payload.VersionRange, "ecosystem", task.Payload.Ecosystem,
		"force", task.Payload.Force, "skip_threat", task.Payload.SkipThreat)
	if r.runs != nil {
		if err := r.runs.InsertRun(ctx, db.Run{ID: runID, TaskID: task.ID, Request: task.Payload, WorkerID: r.workerID}); err != nil {
			log.Warn("run row not created", "error", err)
		}
	}

	rep, trace, err := r.runPipeline(ctx, task, progressReporter(r.runs, runID, log))
	if err != nil {
		reason := reasonPipeline
		var verr *model.ValidationError
		switch {
		case trace != "":
			reason = reasonPanic
		case errors.As(err, &verr):
			reason = reasonMalformed
		}
		log.Error("task failed", "reason", reason, "error", err)
		r.deadLetter(ctx, raw, err, trace, reason)
		if r.runs != nil {
			if merr := r.runs.MarkFailed(ctx, runID, err.Error()); merr != nil {
				log.Warn("run not marked failed", "error", merr)
			}
		}
		return
	}

	summary := rep.Summarize()
	if r.runs != nil {
		sumBytes, _ := json.Marshal(summary)
		bucket := ""
		if rep.ArchiveKey != "" {
			bucket = r.opts.ReportsBucket
		}
		dbctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := r.runs.MarkDone(dbctx, runID, bucket, rep.ArchiveKey, sumBytes)
		cancel()
		if err != nil {
			log.Warn("run not marked done", "error", err)
		}
	}
	r.opts.Metrics.TaskDone("complete")
	log.Info("task completed", "cves", summary.Total, "high", summary.High,
		"degraded_stages", rep.DegradedStages, "report", rep.ArchiveKey)
}

func (r *Runner) runPipeline(ctx context.Context, task model.QueueTask, progress pipeline.ProgressFunc) (rep *model.PipelineReport, trace string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			trace = string(debug.Stack())
		}
	}()
	rep, err = r.p.Run(ctx, task.Payload, progress)
	return rep, "", err
}

func (r *Runner) deadLetter(ctx context.Context, raw []byte, cause error, trace, reason string) {
	entry := queue.NewDLQEntry(raw, cause, r.workerID, trace, r.opts.Now())
	if err := r.q.PushDLQ(ctx, entry); err != nil {
		r.log.Error("dlq push failed, task dropped", "reason", reason, "error", err, "cause", cause)
	}
	r.opts.Metrics.DeadLettered(reason)
	r.opts.Metrics.TaskDone("dead_lettered")
}
