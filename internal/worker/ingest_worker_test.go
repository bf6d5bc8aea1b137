package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textbook-rag/internal/app"
	"textbook-rag/internal/model"
)

type stubIngester struct {
	err   error
	calls int
}

func (s *stubIngester) Ingest(_ context.Context, in app.IngestInput) (*app.IngestResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &app.IngestResult{SourceID: in.SourceID, ChunksWritten: 2}, nil
}

type recordingRequeuer struct {
	attempts []int
	err      error
}

func (r *recordingRequeuer) Publish(_ context.Context, _ model.IngestJob, attempt int) error {
	r.attempts = append(r.attempts, attempt)
	return r.err
}

func jobBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(model.IngestJob{JobID: "j1", SourceID: "bio", Text: "Cells divide.", Language: "en"})
	require.NoError(t, err)
	return body
}

func newTestWorker(ing Ingester, rq Requeuer) *IngestWorker {
	return NewIngestWorker(nil, ing, rq, "q", Options{MaxRequeues: 2}, nil)
}

func TestHandleSuccessAcks(t *testing.T) {
	ing := &stubIngester{}
	w := newTestWorker(ing, &recordingRequeuer{})
	assert.Equal(t, outcomeAck, w.handle(context.Background(), jobBody(t), 1))
	assert.Equal(t, 1, ing.calls)
}

func TestHandleBadPayloadIsDropped(t *testing.T) {
	ing := &stubIngester{}
	w := newTestWorker(ing, &recordingRequeuer{})
	assert.Equal(t, outcomeDrop, w.handle(context.Background(), []byte("{"), 1))
	assert.Zero(t, ing.calls)
}

func TestHandleContentErrorIsAcked(t *testing.T) {
	rq := &recordingRequeuer{}
	err := &app.ContentError{SourceID: "bio", Err: fmt.Errorf("%w: empty", app.ErrContent)}
	w := newTestWorker(&stubIngester{err: err}, rq)
	assert.Equal(t, outcomeAck, w.handle(context.Background(), jobBody(t), 1))
	assert.Empty(t, rq.attempts)
}

func TestHandleTransientErrorRequeuesUntilLimit(t *testing.T) {
	rq := &recordingRequeuer{}
	w := newTestWorker(&stubIngester{err: fmt.Errorf("%w: timeout", app.ErrEmbeddingUnavailable)}, rq)

	assert.Equal(t, outcomeAck, w.handle(context.Background(), jobBody(t), 1))
	assert.Equal(t, outcomeAck, w.handle(context.Background(), jobBody(t), 2))
	assert.Equal(t, outcomeDrop, w.handle(context.Background(), jobBody(t), 3))
	assert.Equal(t, []int{2, 3}, rq.attempts)
}

func TestHandleEmbeddingDimensionChangeIsNotRequeued(t *testing.T) {
	rq := &recordingRequeuer{}
	w := newTestWorker(&stubIngester{err: fmt.Errorf("%w: got 8, want 16", app.ErrEmbeddingDimension)}, rq)
	assert.Equal(t, outcomeDrop, w.handle(context.Background(), jobBody(t), 1))
	assert.Empty(t, rq.attempts)
}

func TestHandleRequeueFailureNacksForRedelivery(t *testing.T) {
	rq := &recordingRequeuer{err: fmt.Errorf("broker gone")}
	w := newTestWorker(&stubIngester{err: app.ErrIndexUnavailable}, rq)
	assert.Equal(t, outcomeRetry, w.handle(context.Background(), jobBody(t), 1))
}

func TestHandleCanceledContextRedelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := newTestWorker(&stubIngester{err: context.Canceled}, &recordingRequeuer{})
	assert.Equal(t, outcomeRetry, w.handle(ctx, jobBody(t), 1))
}
