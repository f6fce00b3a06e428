package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/docsense/docsense/internal/chunk"
	"github.com/docsense/docsense/internal/embed"
	docerrors "github.com/docsense/docsense/internal/errors"
	"github.com/docsense/docsense/internal/store"
)

// allowedExtensions are the uploadable file types. PDF extraction runs
// upstream; the pipeline itself consumes text.
var allowedExtensions = map[string]string{
	".txt":      "text",
	".md":       "markdown",
	".markdown": "markdown",
}

// Pipeline executes ingestion jobs end to end.
type Pipeline struct {
	detector *chunk.StructureDetector
	chunker  *chunk.Chunker
	embedder embed.Embedder
	sparse   store.SparseIndex
	dense    store.DenseIndex
	docs     store.DocumentStore
	tracker  *Tracker
	logger   *slog.Logger

	// onDelete lets callers invalidate caches when a document goes away.
	onDelete func(docID string)
}

// NewPipeline wires the ingestion stages together.
func NewPipeline(chunker *chunk.Chunker, embedder embed.Embedder,
	sparse store.SparseIndex, dense store.DenseIndex, docs store.DocumentStore,
	tracker *Tracker, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		detector: chunk.NewStructureDetector(),
		chunker:  chunker,
		embedder: embedder,
		sparse:   sparse,
		dense:    dense,
		docs:     docs,
		tracker:  tracker,
		logger:   logger,
	}
}

// SetOnDelete registers a document-deletion hook.
func (p *Pipeline) SetOnDelete(fn func(docID string)) {
	p.onDelete = fn
}

// DocIDFor derives the content-addressed document ID: re-uploading the
// same bytes maps to the same document.
func DocIDFor(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// Submit validates the upload, registers a job, and starts processing in
// the background. The returned snapshot carries the job and document IDs
// the caller polls with.
func (p *Pipeline) Submit(ctx context.Context, fileName string, data []byte) (Job, error) {
	if len(data) == 0 {
		return Job{}, docerrors.Validation("uploaded file is empty")
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	fileType, ok := allowedExtensions[ext]
	if !ok {
		return Job{}, docerrors.Validation(fmt.Sprintf("unsupported file type %q", ext))
	}

	docID := DocIDFor(data)
	job, err := p.tracker.Create(docID, fileName)
	if err != nil {
		return Job{}, err
	}

	// The job outlives the upload request.
	go p.run(context.WithoutCancel(ctx), job.JobID, docID, fileName, fileType, data)

	return job, nil
}

// run executes one ingestion job. Failures mark the job and the document
// failed; partial index writes for this document are cleaned up.
func (p *Pipeline) run(ctx context.Context, jobID, docID, fileName, fileType string, data []byte) {
	started := time.Now()
	log := p.logger.With(slog.String("job_id", jobID), slog.String("doc_id", docID))

	if err := p.tracker.Start(jobID); err != nil {
		log.Error("start job", slog.String("error", err.Error()))
		return
	}

	fail := func(stage string, err error) {
		log.Error("ingestion failed",
			slog.String("stage", stage),
			slog.String("error", err.Error()))
		_ = p.tracker.Fail(jobID, err)
		_ = p.docs.UpdateDocumentStatus(ctx, docID, store.DocStatusFailed)
	}

	_ = p.tracker.Progress(jobID, 5, "parsing document")
	blocks := p.detector.Detect(data)

	_ = p.tracker.Progress(jobID, 25, "chunking sections")
	parents, children, err := p.chunker.Chunk(docID, blocks)
	if err != nil {
		fail("chunk", docerrors.Chunking("document produced no chunks", err))
		return
	}
	for _, c := range children {
		c.EmbeddingModel = p.embedder.ModelName()
	}

	pageCount := 0
	for _, c := range children {
		if c.PageNumber > pageCount {
			pageCount = c.PageNumber
		}
	}

	record := &store.DocumentRecord{
		DocID:          docID,
		FileName:       fileName,
		FileType:       fileType,
		SizeBytes:      int64(len(data)),
		PageCount:      pageCount,
		ParentCount:    len(parents),
		ChunkCount:     len(children),
		EmbeddingModel: p.embedder.ModelName(),
		Status:         store.DocStatusProcessing,
		CreatedAt:      time.Now().UTC(),
	}
	if err := p.docs.PutDocument(ctx, record); err != nil {
		fail("store document", docerrors.Indexing("store document record", err))
		return
	}

	_ = p.tracker.Progress(jobID, 40, "embedding chunks")
	texts := make([]string, len(children))
	ids := make([]string, len(children))
	for i, c := range children {
		texts[i] = c.Text
		ids[i] = c.ChunkID
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		fail("embed", docerrors.Indexing("embed chunks", err))
		return
	}

	_ = p.tracker.Progress(jobID, 65, "indexing chunks")
	if err := p.dense.Add(ctx, ids, vectors); err != nil {
		fail("dense index", docerrors.Indexing("add vectors", err))
		return
	}
	sparseDocs := make([]store.SparseDoc, len(children))
	for i, c := range children {
		sparseDocs[i] = store.SparseDoc{ChunkID: c.ChunkID, Text: c.Text}
	}
	if err := p.sparse.Index(ctx, sparseDocs); err != nil {
		fail("sparse index", docerrors.Indexing("index chunks", err))
		return
	}

	_ = p.tracker.Progress(jobID, 85, "storing metadata")
	if err := p.docs.PutParents(ctx, parents); err != nil {
		fail("store parents", docerrors.Indexing("store parent sections", err))
		return
	}
	if err := p.docs.PutChildren(ctx, children); err != nil {
		fail("store children", docerrors.Indexing("store child chunks", err))
		return
	}

	_ = p.tracker.Progress(jobID, 95, "finalizing")
	if err := p.docs.UpdateDocumentStatus(ctx, docID, store.DocStatusReady); err != nil {
		fail("finalize", docerrors.Indexing("mark document ready", err))
		return
	}
	_ = p.tracker.Complete(jobID)

	log.Info("document ingested",
		slog.Int("parents", len(parents)),
		slog.Int("chunks", len(children)),
		slog.Int("pages", pageCount),
		slog.Duration("elapsed", time.Since(started)))
}

// Delete removes a document from both indexes and the metadata store.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	chunkIDs, err := p.docs.ChunkIDsForDoc(ctx, docID)
	if err != nil {
		return docerrors.Internal("list document chunks", err)
	}

	if err := p.sparse.Delete(ctx, chunkIDs); err != nil {
		return docerrors.Indexing("remove chunks from sparse index", err)
	}
	if err := p.dense.Delete(ctx, chunkIDs); err != nil {
		return docerrors.Indexing("remove chunks from dense index", err)
	}
	if err := p.docs.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	if p.onDelete != nil {
		p.onDelete(docID)
	}

	p.logger.Info("document deleted",
		slog.String("doc_id", docID),
		slog.Int("chunks", len(chunkIDs)))
	return nil
}
