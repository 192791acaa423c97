package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferret-index/codelens/internal/apperr"
)

func newTestHNSW(t *testing.T, maxElements int) *HNSWStore {
	t.Helper()
	cfg := DefaultVectorStoreConfig(4)
	if maxElements > 0 {
		cfg.MaxElements = maxElements
	}
	s, err := NewHNSWStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHNSWSearchSelfRecall(t *testing.T) {
	s := newTestHNSW(t, 0)
	ctx := context.Background()

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	require.NoError(t, s.Add(ctx, []string{"a:1-1", "b:1-1", "c:1-1"}, vectors))

	for i, id := range []string{"a:1-1", "b:1-1", "c:1-1"} {
		results, err := s.Search(ctx, vectors[i], 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, id, results[0].ID)
	}
}

func TestHNSWSearchEmptyIndexReturnsNoResults(t *testing.T) {
	s := newTestHNSW(t, 0)
	results, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWAddRejectsWrongDimension(t *testing.T) {
	s := newTestHNSW(t, 0)
	err := s.Add(context.Background(), []string{"a:1-1"}, [][]float32{{1, 0}})
	var mismatch ErrDimensionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 4, mismatch.Expected)
	assert.Equal(t, 2, mismatch.Got)
}

func TestHNSWDeleteTombstonesSlot(t *testing.T) {
	s := newTestHNSW(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a:1-1", "b:1-1"}, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))
	require.NoError(t, s.Delete(ctx, []string{"a:1-1"}))

	assert.False(t, s.Contains("a:1-1"))
	assert.True(t, s.Contains("b:1-1"))
	assert.Equal(t, 1, s.Count())

	// The graph node survives as an orphan until the next rebuild; searches
	// never surface it because its slot no longer resolves to an ID.
	stats := s.Stats()
	assert.Equal(t, 1, stats.Orphans)
	assert.Equal(t, 2, stats.GraphNodes)

	results, err := s.Search(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a:1-1", r.ID)
	}
}

func TestHNSWAddFailsAtMaxElements(t *testing.T) {
	s := newTestHNSW(t, 2)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a:1-1", "b:1-1"}, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))

	err := s.Add(ctx, []string{"c:1-1"}, [][]float32{{0, 0, 1, 0}})
	assert.Equal(t, apperr.CapacityExceeded, apperr.KindOf(err))

	// Replacing an existing live ID doesn't grow the live set, so it is
	// still allowed at capacity.
	require.NoError(t, s.Add(ctx, []string{"a:1-1"}, [][]float32{{0, 0, 0, 1}}))
}

func TestHNSWRebuildFromDropsTombstones(t *testing.T) {
	s := newTestHNSW(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a:1-1", "b:1-1", "c:1-1"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}))
	require.NoError(t, s.Delete(ctx, []string{"b:1-1"}))
	require.Equal(t, 1, s.Stats().Orphans)

	live := []IndexedChunk{
		{SlotOrder: 0, ChunkID: "a:1-1", Embedding: []float32{1, 0, 0, 0}},
		{SlotOrder: 1, ChunkID: "c:1-1", Embedding: []float32{0, 0, 1, 0}},
	}
	err := s.RebuildFrom(ctx, func(visit func(IndexedChunk) error) error {
		for _, ic := range live {
			if err := visit(ic); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 0, stats.Orphans)
	assert.Equal(t, 2, stats.GraphNodes)
	assert.False(t, s.Contains("b:1-1"))

	results, err := s.Search(ctx, []float32{0, 0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c:1-1", results[0].ID)
}

func TestHNSWSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	ctx := context.Background()

	s := newTestHNSW(t, 0)
	require.NoError(t, s.Add(ctx, []string{"a:1-1", "b:1-1"}, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))
	require.NoError(t, s.Save(path))

	loaded, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = loaded.Close() })
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 2, loaded.Count())
	results, err := loaded.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b:1-1", results[0].ID)
}

func TestReadHNSWStoreDimensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	dims, err := ReadHNSWStoreDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 0, dims, "missing metadata means fresh start")

	s := newTestHNSW(t, 0)
	require.NoError(t, s.Add(context.Background(), []string{"a:1-1"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, s.Save(path))

	dims, err = ReadHNSWStoreDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 4, dims)
}
