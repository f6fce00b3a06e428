package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docsense/docsense/internal/chunk"
	"github.com/docsense/docsense/internal/embed"
	docerrors "github.com/docsense/docsense/internal/errors"
	"github.com/docsense/docsense/internal/store"
)

// overFetchFactor widens the per-arm candidate lists when filters are
// active, since filtering happens after the index returns its top hits.
const overFetchFactor = 4

// Searcher runs both retrieval arms in parallel and fuses their output.
// A single failed or timed-out arm degrades the query to the surviving
// arm; only both arms failing is an error.
type Searcher struct {
	sparse   store.SparseIndex
	dense    store.DenseIndex
	docs     store.DocumentStore
	embedder embed.Embedder
	fusion   *Fusion

	sparseTopK      int
	denseTopK       int
	topK            int
	modalityTimeout time.Duration

	logger *slog.Logger
}

// Options configures a Searcher.
type Options struct {
	SparseTopK      int
	DenseTopK       int
	TopK            int
	RRFK            int
	ModalityTimeout time.Duration
}

// NewSearcher wires the retrieval arms together.
func NewSearcher(sparse store.SparseIndex, dense store.DenseIndex, docs store.DocumentStore,
	embedder embed.Embedder, opts Options, logger *slog.Logger) *Searcher {
	if opts.SparseTopK <= 0 {
		opts.SparseTopK = 20
	}
	if opts.DenseTopK <= 0 {
		opts.DenseTopK = 20
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.ModalityTimeout <= 0 {
		opts.ModalityTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		sparse:          sparse,
		dense:           dense,
		docs:            docs,
		embedder:        embedder,
		fusion:          NewFusion(opts.RRFK),
		sparseTopK:      opts.SparseTopK,
		denseTopK:       opts.DenseTopK,
		topK:            opts.TopK,
		modalityTimeout: opts.ModalityTimeout,
		logger:          logger,
	}
}

// Search retrieves, filters, and fuses candidates for a query. topK
// overrides the configured result count when positive.
func (s *Searcher) Search(ctx context.Context, query string, filters Filters, topK int) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, docerrors.Validation("query must not be empty")
	}
	if topK <= 0 {
		topK = s.topK
	}

	started := time.Now()

	sparseLimit, denseLimit := s.sparseTopK, s.denseTopK
	if !filters.Empty() {
		sparseLimit *= overFetchFactor
		denseLimit *= overFetchFactor
	}

	var (
		sparseHits []store.SparseHit
		denseHits  []store.DenseHit
		sparseErr  error
		denseErr   error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		armCtx, cancel := context.WithTimeout(gctx, s.modalityTimeout)
		defer cancel()
		sparseHits, sparseErr = s.sparse.Search(armCtx, query, sparseLimit)
		// Errors degrade the query instead of failing the group.
		return nil
	})

	g.Go(func() error {
		armCtx, cancel := context.WithTimeout(gctx, s.modalityTimeout)
		defer cancel()
		vector, err := s.embedder.Embed(armCtx, query)
		if err != nil {
			denseErr = fmt.Errorf("embed query: %w", err)
			return nil
		}
		denseHits, denseErr = s.dense.Search(armCtx, vector, denseLimit)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if sparseErr != nil && denseErr != nil {
		return nil, docerrors.Internal("both retrieval arms failed", errors.Join(sparseErr, denseErr))
	}
	if sparseErr != nil {
		s.logger.Warn("sparse arm degraded",
			slog.String("query", query),
			slog.String("error", sparseErr.Error()))
	}
	if denseErr != nil {
		s.logger.Warn("dense arm degraded",
			slog.String("query", query),
			slog.String("error", denseErr.Error()))
	}

	stats := Stats{
		SparseHits:   len(sparseHits),
		DenseHits:    len(denseHits),
		SparseFailed: sparseErr != nil,
		DenseFailed:  denseErr != nil,
		Degraded:     sparseErr != nil || denseErr != nil,
	}

	chunks, err := s.loadChunks(ctx, sparseHits, denseHits)
	if err != nil {
		return nil, err
	}

	sparseHits, denseHits = applyFilters(sparseHits, denseHits, chunks, filters)

	ordinals := make(map[string]int, len(chunks))
	for id, c := range chunks {
		ordinals[id] = c.Ordinal
	}

	candidates := s.fusion.Fuse(sparseHits, denseHits, ordinals)
	stats.FusedCandidates = len(candidates)
	stats.RerankedFrom = len(candidates)

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	for _, c := range candidates {
		c.Chunk = chunks[c.ChunkID]
	}
	stats.FinalCount = len(candidates)
	stats.Elapsed = time.Since(started)

	s.logger.Debug("hybrid search complete",
		slog.String("query", query),
		slog.Int("sparse_hits", stats.SparseHits),
		slog.Int("dense_hits", stats.DenseHits),
		slog.Int("fused", stats.FusedCandidates),
		slog.Int("final", stats.FinalCount),
		slog.Bool("degraded", stats.Degraded),
		slog.Duration("elapsed", stats.Elapsed))

	return &Result{Candidates: candidates, Stats: stats}, nil
}

// loadChunks fetches metadata for every hit across both arms.
func (s *Searcher) loadChunks(ctx context.Context, sparse []store.SparseHit, dense []store.DenseHit) (map[string]*chunk.ChildChunk, error) {
	seen := make(map[string]struct{}, len(sparse)+len(dense))
	ids := make([]string, 0, len(sparse)+len(dense))
	for _, h := range sparse {
		if _, ok := seen[h.ChunkID]; !ok {
			seen[h.ChunkID] = struct{}{}
			ids = append(ids, h.ChunkID)
		}
	}
	for _, h := range dense {
		if _, ok := seen[h.ChunkID]; !ok {
			seen[h.ChunkID] = struct{}{}
			ids = append(ids, h.ChunkID)
		}
	}

	chunks, err := s.docs.GetChildren(ctx, ids)
	if err != nil {
		return nil, docerrors.Internal("load chunk metadata", err)
	}
	return chunks, nil
}

// applyFilters drops hits that fail the filters or whose metadata is
// missing from the store, preserving each arm's rank order.
func applyFilters(sparse []store.SparseHit, dense []store.DenseHit,
	chunks map[string]*chunk.ChildChunk, filters Filters) ([]store.SparseHit, []store.DenseHit) {

	keptSparse := sparse[:0]
	for _, h := range sparse {
		if c, ok := chunks[h.ChunkID]; ok && filters.Matches(c) {
			keptSparse = append(keptSparse, h)
		}
	}
	keptDense := dense[:0]
	for _, h := range dense {
		if c, ok := chunks[h.ChunkID]; ok && filters.Matches(c) {
			keptDense = append(keptDense, h)
		}
	}
	return keptSparse, keptDense
}
