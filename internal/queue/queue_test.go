package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

type recorder struct {
	pushed [][]byte
	err    error
}

func (r *recorder) Enqueue(_ context.Context, raw []byte) error {
	if r.err != nil {
		return r.err
	}
	r.pushed = append(r.pushed, raw)
	return nil
}

func (r *recorder) Dequeue(context.Context, time.Duration) ([]byte, error) { return nil, ErrEmpty }

func (r *recorder) PushDLQ(context.Context, model.DLQEntry) error { return nil }

func (r *recorder) DLQLength(context.Context) (int64, error) { return 0, nil }

func (r *recorder) ListDLQ(context.Context, int64) ([]model.DLQEntry, error) { return nil, nil }

func (r *recorder) Ping(context.Context) error { return nil }

func TestSubmitWritesDecodableTask(t *testing.T) {
	q := &recorder{}
	task, err := Submit(context.Background(), q, model.AnalysisRequest{Subject: "lodash", VersionRange: "<4.17.21", SkipThreat: true})
	require.NoError(t, err)
	require.Len(t, q.pushed, 1)
	assert.NotEmpty(t, task.ID)

	got, err := model.DecodeTask(q.pushed[0])
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "npm", got.Payload.Ecosystem)
	assert.Equal(t, "<4.17.21", got.Payload.VersionRange)
	assert.True(t, got.Payload.SkipThreat)
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	q := &recorder{}
	_, err := Submit(context.Background(), q, model.AnalysisRequest{})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, q.pushed)
}

func TestSubmitPropagatesQueueError(t *testing.T) {
	q := &recorder{err: errors.New("READONLY")}
	_, err := Submit(context.Background(), q, model.AnalysisRequest{Subject: "lodash"})
	assert.ErrorContains(t, err, "READONLY")
}

func TestDLQEntryKeepsPayload(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.FixedZone("KST", 9*3600))
	raw := []byte(`{"id":"t1","payload":{"ecosystem":"npm"}}`)

	e := NewDLQEntry(raw, errors.New("invalid subject: required"), "w-1", "", at)
	assert.JSONEq(t, string(raw), string(e.Task))
	assert.Equal(t, "invalid subject: required", e.ErrorMsg)
	assert.Equal(t, time.UTC, e.ErrorTimestamp.Location())
	assert.Equal(t, "w-1", e.WorkerID)
}

func TestDLQEntryQuotesNonJSONPayload(t *testing.T) {
	e := NewDLQEntry([]byte("not json"), errors.New("bad"), "", "", time.Now())

	var s string
	require.NoError(t, json.Unmarshal(e.Task, &s))
	assert.Equal(t, "not json", s)

	_, err := json.Marshal(e)
	assert.NoError(t, err)
}

func TestDecodeEntriesToleratesGarbage(t *testing.T) {
	good, err := json.Marshal(model.DLQEntry{Task: json.RawMessage(`{}`), ErrorMsg: "boom"})
	require.NoError(t, err)

	out := decodeEntries([]string{string(good), "garbage"})
	require.Len(t, out, 2)
	assert.Equal(t, "boom", out[0].ErrorMsg)
	assert.Contains(t, out[1].ErrorMsg, "undecodable dlq entry")
}
