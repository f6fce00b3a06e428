package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(dims int, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestHNSWDenseIndex_AddAndSearch(t *testing.T) {
	idx, err := NewHNSWDenseIndex(8)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{"c1", "c2", "c3"},
		[][]float32{vec(8, 0), vec(8, 1), vec(8, 2)}))

	hits, err := idx.Search(ctx, vec(8, 0), 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)
}

func TestHNSWDenseIndex_DimensionMismatch(t *testing.T) {
	idx, err := NewHNSWDenseIndex(8)
	require.NoError(t, err)
	ctx := context.Background()

	err = idx.Add(ctx, []string{"c1"}, [][]float32{vec(4, 0)})
	var mismatch ErrDimensionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 8, mismatch.Expected)
	assert.Equal(t, 4, mismatch.Got)

	_, err = idx.Search(ctx, vec(4, 0), 1)
	assert.ErrorAs(t, err, &mismatch)
}

func TestHNSWDenseIndex_LazyDelete(t *testing.T) {
	idx, err := NewHNSWDenseIndex(8)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{"c1", "c2"},
		[][]float32{vec(8, 0), vec(8, 1)}))
	require.NoError(t, idx.Delete(ctx, []string{"c1"}))

	assert.Equal(t, 1, idx.Count())

	hits, err := idx.Search(ctx, vec(8, 0), 2)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "c1", h.ChunkID)
	}
}

func TestHNSWDenseIndex_EmptyIndex(t *testing.T) {
	idx, err := NewHNSWDenseIndex(8)
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), vec(8, 0), 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHNSWDenseIndex_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	ctx := context.Background()

	idx, err := NewHNSWDenseIndex(8)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx,
		[]string{"c1", "c2"},
		[][]float32{vec(8, 0), vec(8, 1)}))
	require.NoError(t, idx.Save(path))

	loaded, err := LoadHNSWDenseIndex(path, 8)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Count())

	hits, err := loaded.Search(ctx, vec(8, 1), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c2", hits[0].ChunkID)
}

func TestLoadHNSWDenseIndex_MissingFileIsEmpty(t *testing.T) {
	idx, err := LoadHNSWDenseIndex(filepath.Join(t.TempDir(), "none.hnsw"), 8)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Count())
}
