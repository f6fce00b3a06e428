package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docsense/docsense/internal/api"
	"github.com/docsense/docsense/internal/assemble"
	"github.com/docsense/docsense/internal/chunk"
	"github.com/docsense/docsense/internal/config"
	"github.com/docsense/docsense/internal/embed"
	"github.com/docsense/docsense/internal/generate"
	"github.com/docsense/docsense/internal/ingest"
	"github.com/docsense/docsense/internal/search"
	"github.com/docsense/docsense/internal/store"
)

// app holds the fully wired service. The CLI commands build it once from
// config and tear it down with close.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	sparse    *store.BleveSparseIndex
	dense     *store.HNSWDenseIndex
	docs      *store.SQLiteStore
	tracker   *ingest.Tracker
	pipeline  *ingest.Pipeline
	searcher  *search.Searcher
	assembler *assemble.Assembler
	gateway   *generate.Gateway
	server    *api.Server

	densePath string
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// saveDense persists the vector index so a restart does not require
// re-embedding every document.
func (a *app) saveDense() {
	if err := a.dense.Save(a.densePath); err != nil {
		a.logger.Error("save dense index", slog.String("error", err.Error()))
	}
}

func buildApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, err
	}

	embedder, err := embed.NewFromConfig(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	sparse, err := store.NewBleveSparseIndex(filepath.Join(cfg.Paths.DataDir, "sparse.bleve"))
	if err != nil {
		return nil, err
	}
	a.sparse = sparse
	a.closers = append(a.closers, func() { _ = sparse.Close() })

	a.densePath = filepath.Join(cfg.Paths.DataDir, "dense.hnsw")
	dense, err := store.LoadHNSWDenseIndex(a.densePath, embedder.Dimensions())
	if err != nil {
		a.close()
		return nil, err
	}
	a.dense = dense

	docs, err := store.NewSQLiteStore(filepath.Join(cfg.Paths.DataDir, "docsense.db"))
	if err != nil {
		a.close()
		return nil, err
	}
	a.docs = docs
	a.closers = append(a.closers, func() { _ = docs.Close() })

	chunker := chunk.NewChunker(chunk.Options{
		ParentTokens:  cfg.Chunking.ParentTokens,
		ParentOverlap: cfg.Chunking.ParentOverlap,
		ChildTokens:   cfg.Chunking.ChildTokens,
		ChildOverlap:  cfg.Chunking.ChildOverlap,
	})

	a.tracker = ingest.NewTracker()
	a.pipeline = ingest.NewPipeline(chunker, embedder, sparse, dense, docs, a.tracker, logger)

	a.searcher = search.NewSearcher(sparse, dense, docs, embedder, search.Options{
		SparseTopK:      cfg.Retrieval.SparseTopK,
		DenseTopK:       cfg.Retrieval.DenseTopK,
		TopK:            cfg.Retrieval.TopK,
		RRFK:            cfg.Retrieval.RRFK,
		ModalityTimeout: cfg.Retrieval.ModalityTimeout.Std(),
	}, logger)

	assembler, err := assemble.NewAssembler(docs, cfg.Retrieval.ContextTokens, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.assembler = assembler
	a.pipeline.SetOnDelete(assembler.InvalidateDoc)

	client := generate.NewOpenAIClient(generate.ClientOptions{
		APIKey:            os.Getenv("OPENROUTER_API_KEY"),
		BaseURL:           cfg.LLM.BaseURL,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})
	gateway := generate.NewGateway(client, generate.GatewayOptions{
		PrimaryModel:  cfg.LLM.Model,
		FallbackModel: cfg.LLM.FallbackModel,
		MaxRetries:    cfg.LLM.MaxRetries,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		Capacity:      cfg.LLM.Capacity,
	}, logger)
	a.gateway = gateway
	summarizer := generate.NewSummarizer(gateway, docs, cfg.LLM.SummaryMaxSections)

	a.server = api.NewServer(api.Deps{
		Pipeline:   a.pipeline,
		Tracker:    a.tracker,
		Searcher:   a.searcher,
		Assembler:  assembler,
		Gateway:    gateway,
		Summarizer: summarizer,
		Docs:       docs,
		Sparse:     sparse,
		Logger:     logger,
	})

	return a, nil
}
