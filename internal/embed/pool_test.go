package embed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferret-index/codelens/internal/apperr"
)

func TestPoolEmbedReturnsVectorFromSharedEmbedder(t *testing.T) {
	inner := NewStaticEmbedderWithDimensions(16)
	p := NewPool(inner, 2, 0)
	defer p.Close()

	vec, err := p.Embed(context.Background(), "func Greet() {}")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
}

func TestPoolEmbedBatchPreservesOrder(t *testing.T) {
	inner := NewStaticEmbedderWithDimensions(16)
	p := NewPool(inner, 2, 0)
	defer p.Close()

	texts := []string{"alpha", "beta", "gamma"}
	vectors, err := p.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for i, text := range texts {
		want, err := inner.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, want, vectors[i])
	}
}

func TestPoolEmbedBatchEmptyInputReturnsEmptySlice(t *testing.T) {
	p := NewPool(NewStaticEmbedderWithDimensions(8), 1, 0)
	defer p.Close()

	vectors, err := p.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestPoolOneTaskErrorDoesNotKillWorker(t *testing.T) {
	inner := &flakyEmbedder{failOn: "boom"}
	p := NewPool(inner, 1, 0)
	defer p.Close()

	_, err := p.Embed(context.Background(), "boom")
	assert.Error(t, err)

	vec, err := p.Embed(context.Background(), "fine")
	require.NoError(t, err)
	assert.NotNil(t, vec)
}

func TestPoolCloseRejectsNewSubmissions(t *testing.T) {
	p := NewPool(NewStaticEmbedderWithDimensions(8), 1, 0)
	require.NoError(t, p.Close())

	_, err := p.Embed(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, apperr.CapacityExceeded, apperr.KindOf(err))
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	p := NewPool(NewStaticEmbedderWithDimensions(8), 1, 0)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestPoolHandlesConcurrentSubmissions(t *testing.T) {
	p := NewPool(NewStaticEmbedderWithDimensions(8), 4, 0)
	defer p.Close()

	var wg sync.WaitGroup
	errs := make([]error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := p.Embed(context.Background(), "concurrent text")
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestPoolEmbedRespectsContextCancellation(t *testing.T) {
	p := NewPool(&blockingEmbedder{}, 1, 1)

	// Occupy the only worker and fill the queue so the next submission blocks.
	// Both are cancelled before the pool closes, so neither leaks.
	occupyCtx, occupyCancel := context.WithCancel(context.Background())
	go p.Embed(occupyCtx, "occupy-worker")
	time.Sleep(10 * time.Millisecond)
	go p.Embed(occupyCtx, "fill-queue")
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Embed(ctx, "should not be accepted")
	assert.Error(t, err)

	occupyCancel()
	time.Sleep(10 * time.Millisecond)
	p.Close()
}

func TestDefaultWorkerCountIsClampedBetweenOneAndFour(t *testing.T) {
	n := DefaultWorkerCount()
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 4)
}

// flakyEmbedder fails EmbedBatch whenever the batch contains failOn.
type flakyEmbedder struct {
	failOn string
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if t == f.failOn {
			return nil, assertErr{}
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *flakyEmbedder) Dimensions() int                  { return 3 }
func (f *flakyEmbedder) ModelName() string                { return "flaky" }
func (f *flakyEmbedder) Available(ctx context.Context) bool { return true }
func (f *flakyEmbedder) Close() error                     { return nil }

type assertErr struct{}

func (assertErr) Error() string { return "simulated embedding failure" }

// blockingEmbedder never returns, used to force the pool's queue/worker
// capacity to fill for cancellation tests.
type blockingEmbedder struct{}

func (b *blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingEmbedder) Dimensions() int                  { return 3 }
func (b *blockingEmbedder) ModelName() string                { return "blocking" }
func (b *blockingEmbedder) Available(ctx context.Context) bool { return true }
func (b *blockingEmbedder) Close() error                     { return nil }
