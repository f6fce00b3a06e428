// Package assemble turns fused child-chunk candidates into a generation
// context of parent sections. Children of the same parent deduplicate to
// one section, sections are admitted whole against a token budget, and
// every admitted section yields a citation.
package assemble

import (
	"context"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/docsense/docsense/internal/chunk"
	docerrors "github.com/docsense/docsense/internal/errors"
	"github.com/docsense/docsense/internal/search"
	"github.com/docsense/docsense/internal/store"
)

const (
	// DefaultBudget is the context token budget.
	DefaultBudget = 3000
	// parentCacheSize bounds the hot-parent cache. Parents are immutable,
	// so cached entries never go stale until their document is deleted.
	parentCacheSize = 512
	// previewRunes caps the citation text preview.
	previewRunes = 200
)

// Section is one parent section admitted into the context.
type Section struct {
	ParentID    string
	DocID       string
	SourceFile  string
	PageStart   int
	PageEnd     int
	SectionPath string
	Text        string
	TokenCount  int
	// Score is the best fused score among the section's children.
	Score float64
}

// Citation points a generated answer back at its source. PageNumber is
// the page of the best-matching child chunk; PageRange spans the whole
// parent section.
type Citation struct {
	DocID       string  `json:"doc_id"`
	SourceFile  string  `json:"source_file"`
	PageNumber  int     `json:"page_number"`
	PageRange   [2]int  `json:"page_range"`
	SectionPath string  `json:"section_path,omitempty"`
	Preview     string  `json:"chunk_text_preview"`
	Relevance   float64 `json:"relevance_score"`
}

// Context is the assembled generation input.
type Context struct {
	Sections   []Section
	Citations  []Citation
	TokenCount int
	// SkippedSections counts sections that matched but did not fit the
	// budget.
	SkippedSections int
}

// Assembler builds generation contexts from retrieval candidates.
type Assembler struct {
	docs   store.DocumentStore
	cache  *lru.Cache[string, *chunk.ParentSection]
	budget int
	logger *slog.Logger
}

// NewAssembler creates an assembler with the given token budget.
func NewAssembler(docs store.DocumentStore, budget int, logger *slog.Logger) (*Assembler, error) {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, *chunk.ParentSection](parentCacheSize)
	if err != nil {
		return nil, err
	}
	return &Assembler{docs: docs, cache: cache, budget: budget, logger: logger}, nil
}

// InvalidateDoc drops a deleted document's parents from the cache.
func (a *Assembler) InvalidateDoc(docID string) {
	for _, key := range a.cache.Keys() {
		if p, ok := a.cache.Peek(key); ok && p.DocID == docID {
			a.cache.Remove(key)
		}
	}
}

// Assemble deduplicates candidates by parent, loads parent sections, and
// packs them into the token budget in relevance order. Returns an
// empty-context error when no candidates are given.
func (a *Assembler) Assemble(ctx context.Context, candidates []*search.Candidate) (*Context, error) {
	if len(candidates) == 0 {
		return nil, docerrors.EmptyContext("no relevant content found")
	}

	groups := dedupeByParent(candidates)

	parents, err := a.loadParents(ctx, groups)
	if err != nil {
		return nil, err
	}

	fileNames := a.loadFileNames(ctx, groups)

	out := &Context{}
	remaining := a.budget
	for _, g := range groups {
		parent, ok := parents[g.parentID]
		if !ok {
			a.logger.Warn("candidate references missing parent",
				slog.String("parent_id", g.parentID),
				slog.String("chunk_id", g.best.ChunkID))
			continue
		}

		text := parent.Text
		tokens := parent.TokenCount
		if tokens > remaining {
			if len(out.Sections) > 0 {
				out.SkippedSections++
				continue
			}
			// The top section always ships, trimmed to the budget, so an
			// oversized section cannot produce an empty context.
			words := strings.Fields(text)
			if len(words) > remaining {
				words = words[:remaining]
			}
			text = strings.Join(words, " ")
			tokens = len(words)
		}
		remaining -= tokens

		section := Section{
			ParentID:    parent.ParentID,
			DocID:       parent.DocID,
			SourceFile:  fileNames[parent.DocID],
			PageStart:   parent.PageStart,
			PageEnd:     parent.PageEnd,
			SectionPath: parent.SectionPath,
			Text:        text,
			TokenCount:  tokens,
			Score:       g.best.Score,
		}
		out.Sections = append(out.Sections, section)
		out.TokenCount += tokens
		out.Citations = append(out.Citations, citationFor(section, g.best))
	}

	if len(out.Sections) == 0 {
		return nil, docerrors.EmptyContext("no candidate sections could be loaded")
	}
	return out, nil
}

// parentGroup is the best candidate per parent section.
type parentGroup struct {
	parentID string
	best     *search.Candidate
}

// dedupeByParent keeps one group per parent, ordered by each parent's
// best candidate. Candidates arrive sorted by fused score, so first
// appearance wins.
func dedupeByParent(candidates []*search.Candidate) []parentGroup {
	var groups []parentGroup
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c.Chunk == nil {
			continue
		}
		if _, ok := seen[c.Chunk.ParentID]; ok {
			continue
		}
		seen[c.Chunk.ParentID] = struct{}{}
		groups = append(groups, parentGroup{parentID: c.Chunk.ParentID, best: c})
	}
	return groups
}

func (a *Assembler) loadParents(ctx context.Context, groups []parentGroup) (map[string]*chunk.ParentSection, error) {
	out := make(map[string]*chunk.ParentSection, len(groups))
	var misses []string
	for _, g := range groups {
		if p, ok := a.cache.Get(g.parentID); ok {
			out[g.parentID] = p
		} else {
			misses = append(misses, g.parentID)
		}
	}

	if len(misses) > 0 {
		fetched, err := a.docs.GetParents(ctx, misses)
		if err != nil {
			return nil, docerrors.Internal("load parent sections", err)
		}
		for id, p := range fetched {
			out[id] = p
			a.cache.Add(id, p)
		}
	}
	return out, nil
}

// loadFileNames resolves document file names for citations. A lookup
// failure leaves the name empty rather than failing the answer.
func (a *Assembler) loadFileNames(ctx context.Context, groups []parentGroup) map[string]string {
	names := make(map[string]string)
	for _, g := range groups {
		docID := g.best.Chunk.DocID
		if _, ok := names[docID]; ok {
			continue
		}
		doc, err := a.docs.GetDocument(ctx, docID)
		if err != nil || doc == nil {
			names[docID] = ""
			continue
		}
		names[docID] = doc.FileName
	}
	return names
}

func citationFor(section Section, best *search.Candidate) Citation {
	preview := best.Chunk.Text
	if runes := []rune(preview); len(runes) > previewRunes {
		preview = string(runes[:previewRunes])
	}
	return Citation{
		DocID:       section.DocID,
		SourceFile:  section.SourceFile,
		PageNumber:  best.Chunk.PageNumber,
		PageRange:   [2]int{section.PageStart, section.PageEnd},
		SectionPath: section.SectionPath,
		Preview:     preview,
		Relevance:   best.Score,
	}
}
