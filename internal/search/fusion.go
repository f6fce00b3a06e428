package search

import (
	"sort"
	"strings"

	"github.com/docsense/docsense/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains (used by Azure AI Search,
// OpenSearch, etc.).
const DefaultRRFConstant = 60

// Fusion combines the two retrieval arms with Reciprocal Rank Fusion:
//
//	score(d) = Σ 1 / (k + rank_i)
//
// summed over the lists the chunk actually appears in. A chunk missing
// from one arm scores from the surviving arm alone; absence carries no
// synthetic penalty rank.
type Fusion struct {
	K int
}

// NewFusion creates a fusion instance. k <= 0 falls back to the default.
func NewFusion(k int) *Fusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fusion{K: k}
}

// Fuse merges the ranked lists into a single ordering. ordinals maps
// chunk IDs to their document position and drives deterministic
// tie-breaking; IDs absent from the map sort after mapped ones.
//
// Ordering: fused score desc, then best single-arm rank asc, then
// document position asc, then chunk ID asc. Scores are normalized to
// 0-1 against the top result.
func (f *Fusion) Fuse(sparse []store.SparseHit, dense []store.DenseHit, ordinals map[string]int) []*Candidate {
	if len(sparse) == 0 && len(dense) == 0 {
		return []*Candidate{}
	}

	merged := make(map[string]*Candidate, len(sparse)+len(dense))

	for rank, hit := range sparse {
		c := f.getOrCreate(merged, hit.ChunkID, ordinals)
		c.SparseScore = hit.Score
		c.SparseRank = rank + 1
		c.Score += 1.0 / float64(f.K+rank+1)
	}

	for rank, hit := range dense {
		c := f.getOrCreate(merged, hit.ChunkID, ordinals)
		c.DenseScore = float64(hit.Score)
		c.DenseRank = rank + 1
		c.Score += 1.0 / float64(f.K+rank+1)
		if c.SparseRank > 0 {
			c.InBoth = true
		}
	}

	results := make([]*Candidate, 0, len(merged))
	for _, c := range merged {
		results = append(results, c)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.less(results[i], results[j])
	})

	f.normalize(results)
	return results
}

func (f *Fusion) getOrCreate(m map[string]*Candidate, id string, ordinals map[string]int) *Candidate {
	if c, ok := m[id]; ok {
		return c
	}
	ordinal, ok := ordinals[id]
	if !ok {
		ordinal = int(^uint(0) >> 1)
	}
	c := &Candidate{ChunkID: id, Ordinal: ordinal}
	m[id] = c
	return c
}

// less reports whether a ranks before b.
func (f *Fusion) less(a, b *Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if ar, br := a.minRank(), b.minRank(); ar != br {
		return ar < br
	}
	if a.Ordinal != b.Ordinal {
		return a.Ordinal < b.Ordinal
	}
	return strings.Compare(a.ChunkID, b.ChunkID) < 0
}

// normalize scales fused scores so the top result is 1.0. Results are
// already sorted, so the first element holds the maximum.
func (f *Fusion) normalize(results []*Candidate) {
	if len(results) == 0 {
		return
	}
	max := results[0].Score
	if max == 0 {
		return
	}
	for _, c := range results {
		c.Score /= max
	}
}
