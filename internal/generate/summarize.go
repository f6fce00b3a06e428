package generate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/docsense/docsense/internal/assemble"
	docerrors "github.com/docsense/docsense/internal/errors"
	"github.com/docsense/docsense/internal/store"
)

// DefaultSummaryMaxSections caps how much of a document feeds the
// summary prompt. Long documents summarize from their leading sections.
const DefaultSummaryMaxSections = 10

// SummaryMode selects the summarization output shape.
type SummaryMode string

const (
	ModeSummary   SummaryMode = "summary"
	ModeKeyPoints SummaryMode = "key_points"
)

// Summary is the result of a summarization call.
type Summary struct {
	Answer
	Mode         SummaryMode
	SectionsUsed int
}

// Summarizer produces whole-document summaries through the gateway's
// non-queueing path: a busy system reports busy instead of stalling.
type Summarizer struct {
	gateway     *Gateway
	docs        store.DocumentStore
	maxSections int
}

// NewSummarizer creates a summarizer.
func NewSummarizer(gateway *Gateway, docs store.DocumentStore, maxSections int) *Summarizer {
	if maxSections <= 0 {
		maxSections = DefaultSummaryMaxSections
	}
	return &Summarizer{gateway: gateway, docs: docs, maxSections: maxSections}
}

// Summarize generates a summary for one document. Returns a not-found
// error for unknown documents and a capacity error when no generation
// slot is free.
func (s *Summarizer) Summarize(ctx context.Context, docID string, mode SummaryMode, onToken func(string)) (*Summary, error) {
	switch mode {
	case "":
		mode = ModeSummary
	case ModeSummary, ModeKeyPoints:
	default:
		return nil, docerrors.Validation(fmt.Sprintf("unknown summarize mode %q", mode))
	}

	doc, err := s.docs.GetDocument(ctx, docID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, docerrors.NotFound(fmt.Sprintf("document %s not found", docID))
		}
		return nil, docerrors.Internal("load document", err)
	}
	if doc == nil {
		return nil, docerrors.NotFound(fmt.Sprintf("document %s not found", docID))
	}

	parents, err := s.docs.ParentsForDoc(ctx, docID, s.maxSections)
	if err != nil {
		return nil, docerrors.Internal("load document sections", err)
	}
	if len(parents) == 0 {
		return nil, docerrors.EmptyContext(fmt.Sprintf("document %s has no indexed sections", docID))
	}

	sections := make([]assemble.Section, 0, len(parents))
	for _, p := range parents {
		sections = append(sections, assemble.Section{
			ParentID:    p.ParentID,
			DocID:       p.DocID,
			SourceFile:  doc.FileName,
			PageStart:   p.PageStart,
			PageEnd:     p.PageEnd,
			SectionPath: p.SectionPath,
			Text:        p.Text,
			TokenCount:  p.TokenCount,
		})
	}

	system, user := BuildSummaryPrompt(doc.FileName, mode, sections)
	answer, err := s.gateway.TryChat(ctx, system, user, onToken)
	if err != nil {
		return nil, err
	}
	return &Summary{Answer: *answer, Mode: mode, SectionsUsed: len(sections)}, nil
}
