// Package search implements hybrid retrieval: lexical and vector arms
// run in parallel and their ranked lists are combined with Reciprocal
// Rank Fusion.
package search

import (
	"time"

	"github.com/docsense/docsense/internal/chunk"
)

// Candidate is one fused retrieval result.
type Candidate struct {
	ChunkID string
	// Score is the fused score normalized to 0-1 within the result set.
	Score float64

	SparseScore float64
	SparseRank  int // 1-indexed, 0 if absent from the lexical list
	DenseScore  float64
	DenseRank   int // 1-indexed, 0 if absent from the vector list
	InBoth      bool

	// Ordinal is the chunk's position within its document, used for
	// deterministic tie-breaking.
	Ordinal int

	// Chunk carries the full metadata, attached after fusion.
	Chunk *chunk.ChildChunk
}

// minRank returns the best (smallest) rank across modalities.
func (c *Candidate) minRank() int {
	switch {
	case c.SparseRank == 0:
		return c.DenseRank
	case c.DenseRank == 0:
		return c.SparseRank
	case c.SparseRank < c.DenseRank:
		return c.SparseRank
	default:
		return c.DenseRank
	}
}

// Filters restrict retrieval candidates before fusion.
type Filters struct {
	// DocIDs limits results to the listed documents. Empty means all.
	DocIDs []string
	// PageStart/PageEnd is an inclusive page range; zero means unset.
	PageStart int
	PageEnd   int
	// Section matches chunks whose section path contains this string,
	// case-insensitively.
	Section string
	// BlockType keeps only chunks of one block type ("text", "heading",
	// "table"). Empty means all types.
	BlockType string
}

// Empty reports whether no filter is active.
func (f Filters) Empty() bool {
	return len(f.DocIDs) == 0 && f.PageStart == 0 && f.PageEnd == 0 &&
		f.Section == "" && f.BlockType == ""
}

// Matches reports whether a chunk passes all active filters.
func (f Filters) Matches(c *chunk.ChildChunk) bool {
	if len(f.DocIDs) > 0 {
		found := false
		for _, id := range f.DocIDs {
			if c.DocID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PageStart > 0 {
		end := f.PageEnd
		if end == 0 {
			end = f.PageStart
		}
		if c.PageNumber < f.PageStart || c.PageNumber > end {
			return false
		}
	}
	if f.Section != "" && !containsFold(c.SectionPath, f.Section) {
		return false
	}
	if f.BlockType != "" && string(c.Type) != f.BlockType {
		return false
	}
	return true
}

// Stats describes one retrieval pass, reported alongside answers so
// degraded queries are visible to callers.
type Stats struct {
	SparseHits      int
	DenseHits       int
	FusedCandidates int
	// RerankedFrom is the candidate count entering the final ranking cut.
	RerankedFrom int
	FinalCount   int

	SparseFailed bool
	DenseFailed  bool
	// Degraded is set when one arm failed or timed out and results come
	// from the surviving arm only.
	Degraded bool

	Elapsed time.Duration
}

// Result is the output of one hybrid search pass.
type Result struct {
	Candidates []*Candidate
	Stats      Stats
}
