package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textbook-rag/internal/ai"
)

func TestEmbedBatchSplitsIntoProviderBatches(t *testing.T) {
	p := &fakeProvider{}
	c := NewEmbeddingClient(p, testPolicy, 2, 0, nil)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, []int{2, 2, 1}, p.sizes)
	assert.Equal(t, testDims, c.Dimensions())
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	p := &fakeProvider{errs: []error{&ai.StatusError{StatusCode: 429}}}
	c := NewEmbeddingClient(p, testPolicy, 10, 0, nil)

	_, err := c.Embed(context.Background(), "robots")
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount())
}

func TestEmbedExhaustedRetriesIsUnavailable(t *testing.T) {
	p := &fakeProvider{errs: []error{errUpstream, errUpstream, errUpstream}}
	c := NewEmbeddingClient(p, testPolicy, 10, 0, nil)

	_, err := c.Embed(context.Background(), "robots")
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.Equal(t, 2, p.callCount())
}

func TestEmbedDoesNotRetryClientErrors(t *testing.T) {
	p := &fakeProvider{errs: []error{&ai.StatusError{StatusCode: 400, Body: "bad model"}}}
	c := NewEmbeddingClient(p, testPolicy, 10, 0, nil)

	_, err := c.Embed(context.Background(), "robots")
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.Equal(t, 1, p.callCount())
}

func TestEmbedRejectsDimensionChange(t *testing.T) {
	p := &fakeProvider{dims: 8}
	c := NewEmbeddingClient(p, testPolicy, 10, 16, nil)

	_, err := c.Embed(context.Background(), "robots")
	assert.ErrorIs(t, err, ErrEmbeddingDimension)
	assert.NotErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.False(t, IsTransient(err))
	assert.Equal(t, 1, p.callCount())
}

func TestEmbedCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewEmbeddingClient(&fakeProvider{}, testPolicy, 10, 0, nil)

	_, err := c.Embed(ctx, "robots")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrEmbeddingUnavailable)
}
