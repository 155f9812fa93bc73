package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/kbindex/internal/core"
)

func newTestBatcher(emb *fakeEmbedder) *EmbeddingBatcher {
	return NewEmbeddingBatcher(emb, discardLogger(), BatcherConfig{
		MaxBatchSize: 2,
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
	})
}

func Test_Embed_PositionMapping(t *testing.T) {
	emb := &fakeEmbedder{}
	b := newTestBatcher(emb)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := b.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	// The fake encodes len(text) in the first component; alignment across
	// batch boundaries shows through it.
	for i, txt := range texts {
		assert.Equal(t, float32(len(txt)), vecs[i][0], "vector %d out of order", i)
	}

	// 5 texts with batch size 2 means 3 calls.
	assert.Equal(t, 3, emb.callCount())
}

func Test_Embed_RetriesTransientFailure(t *testing.T) {
	emb := &fakeEmbedder{failures: []error{
		core.Transientf("rate limited"),
		core.Transientf("rate limited"),
	}}
	b := newTestBatcher(emb)

	vecs, err := b.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, 3, emb.callCount())

	calls, failures := b.Counters()
	assert.Equal(t, int64(3), calls)
	assert.Equal(t, int64(0), failures)
}

func Test_Embed_RetryExhaustion(t *testing.T) {
	emb := &fakeEmbedder{failures: []error{
		core.Transientf("rate limited"),
		core.Transientf("rate limited"),
		core.Transientf("rate limited"),
	}}
	b := newTestBatcher(emb)

	_, err := b.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.Equal(t, 3, emb.callCount())

	_, failures := b.Counters()
	assert.Equal(t, int64(1), failures)
}

func Test_Embed_NonRetriableFailsFast(t *testing.T) {
	emb := &fakeEmbedder{failures: []error{errors.New("invalid input")}}
	b := newTestBatcher(emb)

	_, err := b.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.Equal(t, 1, emb.callCount(), "permanent errors must not be retried")
}

func Test_Embed_DimensionMismatch(t *testing.T) {
	emb := &fakeEmbedder{dim: 4}
	b := NewEmbeddingBatcher(emb, discardLogger(), BatcherConfig{
		MaxBatchSize: 2,
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		EmbedDim:     768,
	})

	_, err := b.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvariantViolation)
	assert.Equal(t, 1, emb.callCount(), "dimension mismatch is not retriable")
}

func Test_Embed_EmptyInput(t *testing.T) {
	emb := &fakeEmbedder{}
	b := newTestBatcher(emb)

	vecs, err := b.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, 0, emb.callCount())
}

func Test_RetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retryWithBackoff(ctx, func() error {
		t.Fatal("operation must not run after cancellation")
		return nil
	}, 3, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}
