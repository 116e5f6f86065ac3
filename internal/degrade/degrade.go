// Package degrade runs collaborator calls under a per-stage timeout and
// substitutes a deterministic fallback when they fail.
package degrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/metrics"
)

const DefaultTimeout = 30 * time.Second

var ErrTimeout = errors.New("stage timed out")

type Policy struct {
	Timeouts map[string]time.Duration
	Default  time.Duration
	Log      *slog.Logger
	Metrics  *metrics.Metrics
}

func (p *Policy) timeout(stage string) time.Duration {
	if p == nil {
		return DefaultTimeout
	}
	if d, ok := p.Timeouts[stage]; ok && d > 0 {
		return d
	}
	if p.Default > 0 {
		return p.Default
	}
	return DefaultTimeout
}

func (p *Policy) logger() *slog.Logger {
	if p == nil || p.Log == nil {
		return slog.Default()
	}
	return p.Log
}

func (p *Policy) metrics() *metrics.Metrics {
	if p == nil {
		return nil
	}
	return p.Metrics
}

type Result[T any] struct {
	Value    T
	Degraded bool
	Err      error
}

type outcome[T any] struct {
	v   T
	err error
}

// Run invokes call with a context bounded by the stage timeout. On error,
// panic or timeout it returns fallback() tagged as degraded. Run returns as
// soon as the timeout fires even if call ignores its context.
func Run[T any](ctx context.Context, p *Policy, stage string, call func(context.Context) (T, error), fallback func() T) Result[T] {
	cctx, cancel := context.WithTimeout(ctx, p.timeout(stage))
	defer cancel()

	start := time.Now()
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- outcome[T]{v: zero, err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
			}
		}()
		v, err := call(cctx)
		done <- outcome[T]{v: v, err: err}
	}()

	var out outcome[T]
	select {
	case out = <-done:
	case <-cctx.Done():
		out.err = fmt.Errorf("%w after %s: %v", ErrTimeout, p.timeout(stage), cctx.Err())
	}
	p.metrics().ObserveStage(stage, time.Since(start))

	if out.err == nil {
		return Result[T]{Value: out.v}
	}
	if errors.Is(out.err, context.DeadlineExceeded) && !errors.Is(out.err, ErrTimeout) {
		out.err = fmt.Errorf("%w: %v", ErrTimeout, out.err)
	}
	p.logger().Warn("stage degraded, using fallback", "stage", stage, "error", out.err)
	p.metrics().StageDegraded(stage)
	return Result[T]{Value: fallback(), Degraded: true, Err: out.err}
}
