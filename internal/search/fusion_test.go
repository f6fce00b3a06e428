package search

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsense/docsense/internal/store"
)

func sparseHits(ids ...string) []store.SparseHit {
	hits := make([]store.SparseHit, len(ids))
	for i, id := range ids {
		hits[i] = store.SparseHit{ChunkID: id, Score: float64(len(ids) - i)}
	}
	return hits
}

func denseHits(ids ...string) []store.DenseHit {
	hits := make([]store.DenseHit, len(ids))
	for i, id := range ids {
		hits[i] = store.DenseHit{ChunkID: id, Score: float32(len(ids)-i) * 0.1}
	}
	return hits
}

func TestFuse_EmptyInputs(t *testing.T) {
	f := NewFusion(0)
	results := f.Fuse(nil, nil, nil)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestFuse_BothArmsOutrankSingleArm(t *testing.T) {
	// Given: "both" ranks second in each arm, while each arm's top hit
	// appears in that arm only.
	f := NewFusion(60)
	results := f.Fuse(
		sparseHits("sparse-only", "both"),
		denseHits("dense-only", "both"),
		map[string]int{"sparse-only": 0, "dense-only": 1, "both": 2},
	)

	// Then: two contributions at rank 2 beat one contribution at rank 1.
	require.Len(t, results, 3)
	assert.Equal(t, "both", results[0].ChunkID)
	assert.True(t, results[0].InBoth)
	assert.Equal(t, 1.0, results[0].Score)
}

func TestFuse_SingleModalityScoresFromThatArmOnly(t *testing.T) {
	f := NewFusion(60)
	results := f.Fuse(sparseHits("a", "b"), nil, map[string]int{"a": 0, "b": 1})

	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, 1, results[0].SparseRank)
	assert.Zero(t, results[0].DenseRank)
	// Raw scores before normalization: 1/61 vs 1/62.
	assert.InDelta(t, (1.0/62.0)/(1.0/61.0), results[1].Score, 1e-9)
}

func TestFuse_TieBreakByMinRank(t *testing.T) {
	// "a" holds rank 1 sparse + rank 3 dense; "b" holds rank 2 in both.
	// With k chosen so the sums differ, scores split; pick symmetric ranks
	// instead: a = sparse 1 + dense 2, b = sparse 2 + dense 1. Equal sums,
	// equal min ranks, so ordering falls through to document position.
	f := NewFusion(60)
	results := f.Fuse(
		[]store.SparseHit{{ChunkID: "a", Score: 2}, {ChunkID: "b", Score: 1}},
		[]store.DenseHit{{ChunkID: "b", Score: 0.9}, {ChunkID: "a", Score: 0.8}},
		map[string]int{"a": 7, "b": 3},
	)

	require.Len(t, results, 2)
	assert.Equal(t, results[0].Score, results[1].Score)
	assert.Equal(t, "b", results[0].ChunkID, "earlier document position wins the tie")
}

func TestFuse_TieBreakByChunkID(t *testing.T) {
	// Identical ranks, identical ordinals: the chunk ID decides.
	f := NewFusion(60)
	results := f.Fuse(
		[]store.SparseHit{{ChunkID: "zzz", Score: 1}},
		[]store.DenseHit{{ChunkID: "aaa", Score: 0.5}},
		map[string]int{"zzz": 5, "aaa": 5},
	)

	require.Len(t, results, 2)
	assert.Equal(t, "aaa", results[0].ChunkID)
}

func TestFuse_Deterministic(t *testing.T) {
	f := NewFusion(60)
	sparse := sparseHits("c1", "c2", "c3", "c4")
	dense := denseHits("c3", "c5", "c1", "c6")
	ordinals := map[string]int{"c1": 0, "c2": 1, "c3": 2, "c4": 3, "c5": 4, "c6": 5}

	baseline := f.Fuse(sparse, dense, ordinals)
	for i := 0; i < 20; i++ {
		got := f.Fuse(sparse, dense, ordinals)
		require.Equal(t, len(baseline), len(got), "run %d", i)
		for j := range baseline {
			assert.Equal(t, baseline[j].ChunkID, got[j].ChunkID,
				fmt.Sprintf("run %d position %d", i, j))
			assert.Equal(t, baseline[j].Score, got[j].Score)
		}
	}
}

func TestFuse_NormalizedScores(t *testing.T) {
	f := NewFusion(60)
	results := f.Fuse(sparseHits("a", "b", "c"), denseHits("a", "d"),
		map[string]int{"a": 0, "b": 1, "c": 2, "d": 3})

	require.NotEmpty(t, results)
	assert.Equal(t, 1.0, results[0].Score)
	for _, c := range results {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
}

func TestNewFusion_DefaultK(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, NewFusion(0).K)
	assert.Equal(t, DefaultRRFConstant, NewFusion(-5).K)
	assert.Equal(t, 30, NewFusion(30).K)
}
