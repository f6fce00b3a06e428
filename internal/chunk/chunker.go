package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Options configures the chunker windows. Zero values fall back to the
// defaults below.
type Options struct {
	ParentTokens  int // parent window size (default 512)
	ParentOverlap int // overlap between parent windows (default 64)
	ChildTokens   int // child window size (default 128)
	ChildOverlap  int // overlap between child windows (default 16)
}

const (
	DefaultParentTokens  = 512
	DefaultParentOverlap = 64
	DefaultChildTokens   = 128
	DefaultChildOverlap  = 16
)

// Chunker implements section-aware parent/child chunking.
// Blocks are grouped by section path so no chunk crosses a section
// boundary; tables and headings are atomic and never split.
type Chunker struct {
	opts Options
}

// NewChunker creates a chunker with the given options.
func NewChunker(opts Options) *Chunker {
	if opts.ParentTokens <= 0 {
		opts.ParentTokens = DefaultParentTokens
	}
	if opts.ParentOverlap <= 0 {
		opts.ParentOverlap = DefaultParentOverlap
	}
	if opts.ChildTokens <= 0 {
		opts.ChildTokens = DefaultChildTokens
	}
	if opts.ChildOverlap <= 0 {
		opts.ChildOverlap = DefaultChildOverlap
	}
	// An overlap at or above the window size would stall the sliding
	// window; clamp so every window advances.
	if opts.ParentOverlap >= opts.ParentTokens {
		opts.ParentOverlap = opts.ParentTokens / 2
	}
	if opts.ChildOverlap >= opts.ChildTokens {
		opts.ChildOverlap = opts.ChildTokens / 2
	}
	return &Chunker{opts: opts}
}

// Chunk splits a document's parsed blocks into parent sections and child
// chunks. Both slices are returned in document order. Returns
// ErrEmptyDocument when the input yields zero sections; the ingestion
// pipeline maps that to a failed job.
func (c *Chunker) Chunk(docID string, blocks []ParsedBlock) ([]*ParentSection, []*ChildChunk, error) {
	usable := blocks[:0:0]
	for _, b := range blocks {
		if strings.TrimSpace(b.Text) != "" {
			usable = append(usable, b)
		}
	}
	if len(usable) == 0 {
		return nil, nil, ErrEmptyDocument
	}

	st := &chunkState{
		docID:     docID,
		createdAt: time.Now().UTC(),
	}

	for _, group := range groupBySection(usable) {
		var buffer []ParsedBlock
		for _, block := range group.blocks {
			// Tables and headings are atomic: flush buffered prose first,
			// then emit the block as its own parent+child.
			if block.Type == BlockTable || block.Type == BlockHeading {
				st.flushText(group.path, buffer, c.opts)
				buffer = buffer[:0]
				st.emitAtomic(group.path, block)
				continue
			}
			buffer = append(buffer, block)
		}
		st.flushText(group.path, buffer, c.opts)
	}

	if len(st.parents) == 0 {
		return nil, nil, ErrEmptyDocument
	}

	st.linkChildren()
	return st.parents, st.children, nil
}

// sectionGroup is a run of consecutive blocks sharing one section path.
type sectionGroup struct {
	path   string
	blocks []ParsedBlock
}

func groupBySection(blocks []ParsedBlock) []sectionGroup {
	var groups []sectionGroup
	current := sectionGroup{path: blocks[0].SectionPath}
	for _, b := range blocks {
		if b.SectionPath != current.path {
			groups = append(groups, current)
			current = sectionGroup{path: b.SectionPath}
		}
		current.blocks = append(current.blocks, b)
	}
	return append(groups, current)
}

// chunkState accumulates output while walking the block groups.
type chunkState struct {
	docID     string
	createdAt time.Time

	parents  []*ParentSection
	children []*ChildChunk

	charOffset int // running character offset used for deterministic IDs
}

// flushText windows buffered prose blocks into parent sections and child
// chunks. The buffer holds consecutive text/caption blocks of one section.
func (st *chunkState) flushText(sectionPath string, buffer []ParsedBlock, opts Options) {
	if len(buffer) == 0 {
		return
	}

	seg := newSegment(buffer)
	segStart := st.charOffset
	st.charOffset += len(seg.text) + 1

	pageStart, pageEnd := seg.pageRange()

	for _, pw := range windows(len(seg.words), opts.ParentTokens, opts.ParentOverlap) {
		parentText := seg.slice(pw.start, pw.end)
		parentCharStart := segStart + seg.wordOffsets[pw.start]
		parent := &ParentSection{
			ParentID:    hashID(st.docID, sectionPath, fmt.Sprintf("%d", parentCharStart)),
			DocID:       st.docID,
			Text:        parentText,
			PageStart:   pageStart,
			PageEnd:     pageEnd,
			SectionPath: sectionPath,
			TokenCount:  pw.end - pw.start,
			Ordinal:     len(st.parents),
		}

		position := 0
		for _, cw := range windows(pw.end-pw.start, opts.ChildTokens, opts.ChildOverlap) {
			absStart := pw.start + cw.start
			absEnd := pw.start + cw.end
			childText := seg.slice(absStart, absEnd)
			childCharStart := segStart + seg.wordOffsets[absStart]
			page := seg.pageAt(absStart)

			child := &ChildChunk{
				ChunkID:       hashID(st.docID, fmt.Sprintf("%d", page), fmt.Sprintf("%d", childCharStart)),
				ParentID:      parent.ParentID,
				DocID:         st.docID,
				Text:          childText,
				PositionIndex: position,
				Ordinal:       len(st.children),
				PageNumber:    page,
				PageStart:     pageStart,
				PageEnd:       pageEnd,
				SectionPath:   sectionPath,
				Type:          BlockText,
				TokenCount:    absEnd - absStart,
				CreatedAt:     st.createdAt,
			}
			parent.ChildIDs = append(parent.ChildIDs, child.ChunkID)
			st.children = append(st.children, child)
			position++
		}

		st.parents = append(st.parents, parent)
	}
}

// emitAtomic turns a table or heading block into its own parent section
// with a single child, preserving the block type.
func (st *chunkState) emitAtomic(sectionPath string, block ParsedBlock) {
	charStart := st.charOffset
	st.charOffset += len(block.Text) + 1

	parent := &ParentSection{
		ParentID:    hashID(st.docID, sectionPath, fmt.Sprintf("%d", charStart)),
		DocID:       st.docID,
		Text:        block.Text,
		PageStart:   block.PageNumber,
		PageEnd:     block.PageNumber,
		SectionPath: sectionPath,
		TokenCount:  Tokens(block.Text),
		Ordinal:     len(st.parents),
	}

	child := &ChildChunk{
		ChunkID:       hashID(st.docID, fmt.Sprintf("%d", block.PageNumber), fmt.Sprintf("%d", charStart)),
		ParentID:      parent.ParentID,
		DocID:         st.docID,
		Text:          block.Text,
		PositionIndex: 0,
		Ordinal:       len(st.children),
		PageNumber:    block.PageNumber,
		PageStart:     block.PageNumber,
		PageEnd:       block.PageNumber,
		SectionPath:   sectionPath,
		Type:          block.Type,
		TokenCount:    Tokens(block.Text),
		CreatedAt:     st.createdAt,
	}
	parent.ChildIDs = []string{child.ChunkID}

	st.parents = append(st.parents, parent)
	st.children = append(st.children, child)
}

// linkChildren sets prev/next linkage in document order.
func (st *chunkState) linkChildren() {
	for i, child := range st.children {
		if i > 0 {
			child.PrevChunkID = st.children[i-1].ChunkID
		}
		if i < len(st.children)-1 {
			child.NextChunkID = st.children[i+1].ChunkID
		}
	}
}

// window is a half-open [start, end) token range.
type window struct {
	start, end int
}

// windows computes overlapping token ranges covering total tokens.
func windows(total, size, overlap int) []window {
	var out []window
	s := 0
	for s < total {
		e := s + size
		if e > total {
			e = total
		}
		out = append(out, window{start: s, end: e})
		if e >= total {
			break
		}
		s = e - overlap
		if s < 0 {
			s = 0
		}
	}
	return out
}

// segment is prose from consecutive blocks of one section, tokenized once
// with per-word character offsets and per-word page attribution.
type segment struct {
	text        string
	words       []string
	wordOffsets []int // character offset of each word within text
	wordPages   []int // page number each word originated from
}

func newSegment(blocks []ParsedBlock) *segment {
	seg := &segment{}
	var sb strings.Builder
	for _, b := range blocks {
		for _, w := range strings.Fields(b.Text) {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			seg.wordOffsets = append(seg.wordOffsets, sb.Len())
			seg.wordPages = append(seg.wordPages, b.PageNumber)
			seg.words = append(seg.words, w)
			sb.WriteString(w)
		}
	}
	seg.text = sb.String()
	return seg
}

// slice reconstructs the text of a token window.
func (s *segment) slice(start, end int) string {
	return strings.Join(s.words[start:end], " ")
}

// pageAt returns the page the word at index originated from.
func (s *segment) pageAt(index int) int {
	if index < 0 || index >= len(s.wordPages) {
		if len(s.wordPages) == 0 {
			return 1
		}
		return s.wordPages[len(s.wordPages)-1]
	}
	return s.wordPages[index]
}

// pageRange returns the min and max pages contributing to the segment.
func (s *segment) pageRange() (int, int) {
	if len(s.wordPages) == 0 {
		return 1, 1
	}
	lo, hi := s.wordPages[0], s.wordPages[0]
	for _, p := range s.wordPages {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	return lo, hi
}

// hashID builds a deterministic SHA-256 identifier from its parts.
func hashID(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:])
}
