// Package chunk splits parsed document blocks into a two-level hierarchy:
// parent sections sized for generation context and child chunks sized for
// embedding and lexical indexing. Parent/child linkage is referential:
// every child carries the ID of exactly one parent section.
package chunk

import (
	"errors"
	"strings"
	"time"
)

// BlockType classifies a parsed layout block.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockHeading BlockType = "heading"
	BlockTable   BlockType = "table"
	BlockCaption BlockType = "caption"
)

// ErrEmptyDocument is returned when chunking input contains no usable text.
var ErrEmptyDocument = errors.New("chunk: document contains no text blocks")

// ParsedBlock is one structural unit of an extracted document layout.
// Blocks arrive from an upstream parser (or from the markdown structure
// detector) already ordered by reading position.
type ParsedBlock struct {
	Text         string
	PageNumber   int
	Type         BlockType
	SectionPath  string // "Chapter 3 > 3.2 > 3.2.1", empty if structure unknown
	HeadingLevel int    // 1-6 for headings, 0 otherwise
}

// ParentSection is the generation-context unit. Immutable after creation;
// deleted only together with its document.
type ParentSection struct {
	ParentID    string
	DocID       string
	Text        string
	PageStart   int
	PageEnd     int
	SectionPath string
	ChildIDs    []string
	TokenCount  int
	// Ordinal is the section's creation order within the document,
	// used for deterministic tie-breaking during fusion.
	Ordinal int
}

// ChildChunk is the retrieval unit: embedded and lexically indexed.
// Immutable after creation.
type ChildChunk struct {
	ChunkID  string
	ParentID string
	DocID    string
	Text     string

	// PositionIndex is the chunk's order within its parent section.
	PositionIndex int
	// Ordinal is the chunk's absolute order within the document.
	Ordinal int

	PageNumber  int
	PageStart   int
	PageEnd     int
	SectionPath string
	Type        BlockType
	TokenCount  int

	PrevChunkID string // empty only for the first chunk of a document
	NextChunkID string // empty only for the last chunk of a document

	EmbeddingModel string
	CreatedAt      time.Time
}

// Tokens estimates the token count of text by whitespace tokenization.
// All sizing in DocSense (chunk windows, context budget) uses this one
// estimate so budgets compare like with like.
func Tokens(text string) int {
	return len(strings.Fields(text))
}
