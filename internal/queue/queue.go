// Package queue moves analysis tasks between producers and workers and keeps
// the dead-letter list of tasks that could not be processed.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

// ErrEmpty is returned by Dequeue when nothing arrived within the timeout.
var ErrEmpty = errors.New("queue: empty")

type Queue interface {
	Enqueue(ctx context.Context, raw []byte) error
	// Dequeue blocks for at most timeout and returns the raw payload.
	Dequeue(ctx context.Context, timeout time.Duration) ([]byte, error)
	PushDLQ(ctx context.Context, e model.DLQEntry) error
	DLQLength(ctx context.Context) (int64, error)
	ListDLQ(ctx context.Context, limit int64) ([]model.DLQEntry, error)
	Ping(ctx context.Context) error
}

// Submit validates req, wraps it in a task with a fresh id and pushes it.
func Submit(ctx context.Context, q Queue, req model.AnalysisRequest) (model.QueueTask, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return model.QueueTask{}, err
	}
	t := model.QueueTask{
		ID:         uuid.NewString(),
		Payload:    req,
		EnqueuedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return model.QueueTask{}, fmt.Errorf("encode task: %w", err)
	}
	if err := q.Enqueue(ctx, raw); err != nil {
		return model.QueueTask{}, err
	}
	return t, nil
}

// NewDLQEntry keeps the original payload verbatim. Payloads that are not
// valid JSON are stored as a JSON string so the entry stays decodable.
func NewDLQEntry(raw []byte, cause error, workerID, traceback string, at time.Time) model.DLQEntry {
	task := json.RawMessage(raw)
	if !json.Valid(raw) {
		task, _ = json.Marshal(string(raw))
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return model.DLQEntry{
		Task:           task,
		ErrorMsg:       msg,
		ErrorTimestamp: at.UTC(),
		Traceback:      traceback,
		WorkerID:       workerID,
	}
}
