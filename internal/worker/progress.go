package worker

import (
	"context"
	"log/slog"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/pipeline"
)

// derivePct maps a pipeline state to run progress. FAILED keeps whatever
// percentage the run had reached.
func derivePct(s model.State) (int, bool) {
	switch s {
	case model.StatePending:
		return 0, true
	case model.StateMapping:
		return 10, true
	case model.StateScoring:
		return 35, true
	case model.StateThreat:
		return 60, true
	case model.StateAnalysis:
		return 80, true
	case model.StateComplete:
		return 100, true
	default:
		return 0, false
	}
}

// progressReporter records every state change as an event row and moves the
// run's progress forward. Writes are best effort.
func progressReporter(runs RunStore, runID string, log *slog.Logger) pipeline.ProgressFunc {
	return func(ctx context.Context, ev model.ProgressEvent) {
		if runs == nil {
			return
		}
		pct, known := derivePct(ev.State)
		var p *int
		if known {
			p = &pct
		}
		if err := runs.InsertEvent(ctx, runID, ev.TS, string(ev.State), ev.Detail, p); err != nil {
			log.Debug("run event not recorded", "run", runID, "state", ev.State, "error", err)
		}
		if !known || ev.State == model.StateComplete {
			return
		}
		msg := string(ev.State)
		if ev.Detail != "" {
			msg += ": " + ev.Detail
		}
		if err := runs.UpdateProgress(ctx, runID, string(ev.State), pct, msg); err != nil {
			log.Debug("run progress not updated", "run", runID, "state", ev.State, "error", err)
		}
	}
}
