package chunk

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proseBlocks(words, perBlock, page int) []ParsedBlock {
	var blocks []ParsedBlock
	for i := 0; i < words; i += perBlock {
		n := perBlock
		if i+n > words {
			n = words - i
		}
		parts := make([]string, n)
		for j := 0; j < n; j++ {
			parts[j] = fmt.Sprintf("word%d", i+j)
		}
		blocks = append(blocks, ParsedBlock{
			Text:        strings.Join(parts, " "),
			PageNumber:  page,
			Type:        BlockText,
			SectionPath: "Intro",
		})
	}
	return blocks
}

func TestChunk_EmptyDocument(t *testing.T) {
	c := NewChunker(Options{})

	_, _, err := c.Chunk("doc1", nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, _, err = c.Chunk("doc1", []ParsedBlock{{Text: "   \n\t "}})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestChunk_ReferentialIntegrity(t *testing.T) {
	c := NewChunker(Options{})
	parents, children, err := c.Chunk("doc1", proseBlocks(1200, 100, 1))
	require.NoError(t, err)
	require.NotEmpty(t, parents)
	require.NotEmpty(t, children)

	byID := make(map[string]*ParentSection, len(parents))
	for _, p := range parents {
		byID[p.ParentID] = p
	}

	for _, child := range children {
		parent, ok := byID[child.ParentID]
		require.True(t, ok, "child %s points at unknown parent", child.ChunkID)
		assert.Equal(t, "doc1", parent.DocID)
		assert.Equal(t, "doc1", child.DocID)
		assert.Contains(t, parent.ChildIDs, child.ChunkID)
	}
}

func TestChunk_WindowSizes(t *testing.T) {
	c := NewChunker(Options{ParentTokens: 512, ParentOverlap: 64, ChildTokens: 128, ChildOverlap: 16})
	parents, children, err := c.Chunk("doc1", proseBlocks(1200, 100, 1))
	require.NoError(t, err)

	for _, p := range parents {
		assert.LessOrEqual(t, p.TokenCount, 512)
		assert.Positive(t, p.TokenCount)
	}
	for _, ch := range children {
		assert.LessOrEqual(t, ch.TokenCount, 128)
		assert.Positive(t, ch.TokenCount)
	}
	// Overlapping windows: consecutive parents repeat trailing words.
	require.GreaterOrEqual(t, len(parents), 2)
	firstTail := strings.Fields(parents[0].Text)
	secondHead := strings.Fields(parents[1].Text)
	assert.Equal(t, firstTail[len(firstTail)-64:], secondHead[:64])
}

func TestChunk_OverlapClampedBelowWindowSize(t *testing.T) {
	// overlap == size would leave the sliding window stuck in place.
	c := NewChunker(Options{ChildTokens: 100, ChildOverlap: 100, ParentTokens: 200, ParentOverlap: 300})

	done := make(chan struct{})
	go func() {
		defer close(done)
		parents, children, err := c.Chunk("doc1", proseBlocks(600, 100, 1))
		assert.NoError(t, err)
		assert.NotEmpty(t, parents)
		assert.NotEmpty(t, children)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("chunking did not terminate")
	}
}

func TestChunk_TablesAreAtomic(t *testing.T) {
	table := "| Metric | Value |\n| Revenue | 12.5M |\n| Margin | 34% |"
	blocks := []ParsedBlock{
		{Text: "Some prose before the table.", PageNumber: 2, Type: BlockText, SectionPath: "Results"},
		{Text: table, PageNumber: 2, Type: BlockTable, SectionPath: "Results"},
		{Text: "Prose after.", PageNumber: 3, Type: BlockText, SectionPath: "Results"},
	}

	c := NewChunker(Options{ChildTokens: 4, ChildOverlap: 1})
	_, children, err := c.Chunk("doc1", blocks)
	require.NoError(t, err)

	var tableChunks []*ChildChunk
	for _, ch := range children {
		if ch.Type == BlockTable {
			tableChunks = append(tableChunks, ch)
		}
	}
	// The table exceeds the child window yet stays whole in a single chunk.
	require.Len(t, tableChunks, 1)
	assert.Equal(t, table, tableChunks[0].Text)
	assert.Equal(t, 2, tableChunks[0].PageNumber)
}

func TestChunk_SectionBoundaries(t *testing.T) {
	blocks := []ParsedBlock{
		{Text: strings.Repeat("alpha ", 50), PageNumber: 1, Type: BlockText, SectionPath: "Chapter 1"},
		{Text: strings.Repeat("beta ", 50), PageNumber: 2, Type: BlockText, SectionPath: "Chapter 2"},
	}

	c := NewChunker(Options{})
	parents, _, err := c.Chunk("doc1", blocks)
	require.NoError(t, err)
	require.Len(t, parents, 2)

	assert.Equal(t, "Chapter 1", parents[0].SectionPath)
	assert.NotContains(t, parents[0].Text, "beta")
	assert.Equal(t, "Chapter 2", parents[1].SectionPath)
	assert.NotContains(t, parents[1].Text, "alpha")
}

func TestChunk_PrevNextLinkage(t *testing.T) {
	c := NewChunker(Options{})
	_, children, err := c.Chunk("doc1", proseBlocks(600, 100, 1))
	require.NoError(t, err)
	require.Greater(t, len(children), 2)

	assert.Empty(t, children[0].PrevChunkID)
	assert.Empty(t, children[len(children)-1].NextChunkID)
	for i := 1; i < len(children); i++ {
		assert.Equal(t, children[i-1].ChunkID, children[i].PrevChunkID)
		assert.Equal(t, children[i].ChunkID, children[i-1].NextChunkID)
	}
}

func TestChunk_DeterministicIDs(t *testing.T) {
	blocks := proseBlocks(600, 100, 1)
	c := NewChunker(Options{})

	parents1, children1, err := c.Chunk("doc1", blocks)
	require.NoError(t, err)
	parents2, children2, err := c.Chunk("doc1", blocks)
	require.NoError(t, err)

	require.Equal(t, len(parents1), len(parents2))
	require.Equal(t, len(children1), len(children2))
	for i := range parents1 {
		assert.Equal(t, parents1[i].ParentID, parents2[i].ParentID)
	}
	for i := range children1 {
		assert.Equal(t, children1[i].ChunkID, children2[i].ChunkID)
	}

	// A different document gets different IDs for the same content.
	parents3, _, err := c.Chunk("doc2", blocks)
	require.NoError(t, err)
	assert.NotEqual(t, parents1[0].ParentID, parents3[0].ParentID)
}

func TestChunk_OrdinalsAreDocumentOrder(t *testing.T) {
	c := NewChunker(Options{})
	parents, children, err := c.Chunk("doc1", proseBlocks(1200, 100, 1))
	require.NoError(t, err)

	for i, p := range parents {
		assert.Equal(t, i, p.Ordinal)
	}
	for i, ch := range children {
		assert.Equal(t, i, ch.Ordinal)
	}
}

func TestTokens_WhitespaceCount(t *testing.T) {
	assert.Equal(t, 0, Tokens(""))
	assert.Equal(t, 0, Tokens("   "))
	assert.Equal(t, 3, Tokens("one  two\tthree"))
}
