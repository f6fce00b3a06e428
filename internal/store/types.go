// Package store holds the three persistence surfaces behind hybrid
// retrieval: a Bleve lexical index over child chunks, an HNSW vector
// index over the same chunks, and a SQLite metadata store for documents,
// parent sections, and child chunks.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/docsense/docsense/internal/chunk"
)

// SparseDoc is the unit handed to the lexical index.
type SparseDoc struct {
	ChunkID string
	Text    string
}

// SparseHit is one lexical match, ranked by BM25 score.
type SparseHit struct {
	ChunkID string
	Score   float64
}

// DenseHit is one vector match with a 0-1 similarity score.
type DenseHit struct {
	ChunkID string
	Score   float32
}

// SparseIndex is the lexical retrieval arm.
type SparseIndex interface {
	Index(ctx context.Context, docs []SparseDoc) error
	Search(ctx context.Context, query string, limit int) ([]SparseHit, error)
	Delete(ctx context.Context, chunkIDs []string) error
	Count() (uint64, error)
	Close() error
}

// DenseIndex is the vector retrieval arm.
type DenseIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]DenseHit, error)
	Delete(ctx context.Context, ids []string) error
	Count() int
	Close() error
}

// DocumentStatus tracks a document's lifecycle in the store.
type DocumentStatus string

const (
	DocStatusProcessing DocumentStatus = "processing"
	DocStatusReady      DocumentStatus = "ready"
	DocStatusFailed     DocumentStatus = "failed"
)

// DocumentRecord is the catalog entry for one ingested document.
type DocumentRecord struct {
	DocID          string
	FileName       string
	FileType       string
	SizeBytes      int64
	PageCount      int
	ParentCount    int
	ChunkCount     int
	EmbeddingModel string
	Status         DocumentStatus
	CreatedAt      time.Time
}

// DocumentStore persists documents with their parent/child hierarchy.
// Deleting a document cascades to its sections and chunks.
type DocumentStore interface {
	PutDocument(ctx context.Context, doc *DocumentRecord) error
	GetDocument(ctx context.Context, docID string) (*DocumentRecord, error)
	ListDocuments(ctx context.Context) ([]*DocumentRecord, error)
	DeleteDocument(ctx context.Context, docID string) error
	UpdateDocumentStatus(ctx context.Context, docID string, status DocumentStatus) error

	PutParents(ctx context.Context, parents []*chunk.ParentSection) error
	GetParents(ctx context.Context, parentIDs []string) (map[string]*chunk.ParentSection, error)
	// ParentsForDoc returns a document's sections in document order,
	// capped at limit when limit > 0.
	ParentsForDoc(ctx context.Context, docID string, limit int) ([]*chunk.ParentSection, error)

	PutChildren(ctx context.Context, children []*chunk.ChildChunk) error
	GetChildren(ctx context.Context, chunkIDs []string) (map[string]*chunk.ChildChunk, error)
	ChunkIDsForDoc(ctx context.Context, docID string) ([]string, error)

	Close() error
}

// ErrDimensionMismatch reports a vector whose size disagrees with the
// index configuration.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
