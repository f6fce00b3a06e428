package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// BleveSparseIndex implements SparseIndex on Bleve v2. Child chunk text
// is analyzed with the English analyzer (tokenize, lowercase, stop words,
// stemming) and scored with BM25 at query time.
type BleveSparseIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ SparseIndex = (*BleveSparseIndex)(nil)

type bleveDocument struct {
	Content string `json:"content"`
}

// NewBleveSparseIndex opens or creates a lexical index at path.
// An empty path creates an in-memory index for tests.
func NewBleveSparseIndex(path string) (*BleveSparseIndex, error) {
	indexMapping := createIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open sparse index: %w", err)
	}

	return &BleveSparseIndex{index: idx, path: path}, nil
}

func createIndexMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)
	indexMapping.DefaultMapping = docMapping

	return indexMapping
}

// Index adds chunks in a single batch. Existing IDs are overwritten.
func (b *BleveSparseIndex) Index(ctx context.Context, docs []SparseDoc) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("sparse index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ChunkID, bleveDocument{Content: doc.Text}); err != nil {
			return fmt.Errorf("index chunk %s: %w", doc.ChunkID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute index batch: %w", err)
	}
	return nil
}

// Search returns up to limit chunks matching the query, BM25-ranked.
// An empty query returns no hits.
func (b *BleveSparseIndex) Search(ctx context.Context, queryStr string, limit int) ([]SparseHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("sparse index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []SparseHit{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = limit

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}

	hits := make([]SparseHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, SparseHit{ChunkID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// Delete removes chunks from the index.
func (b *BleveSparseIndex) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("sparse index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute delete batch: %w", err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (b *BleveSparseIndex) Count() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, fmt.Errorf("sparse index is closed")
	}
	return b.index.DocCount()
}

// Close releases the index.
func (b *BleveSparseIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
