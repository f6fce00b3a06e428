package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsense/docsense/internal/chunk"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDocument(t *testing.T, s *SQLiteStore, docID string) {
	t.Helper()
	require.NoError(t, s.PutDocument(context.Background(), &DocumentRecord{
		DocID:     docID,
		FileName:  docID + ".pdf",
		FileType:  "pdf",
		SizeBytes: 1024,
		Status:    DocStatusProcessing,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestSQLiteStore_DocumentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDocument(t, s, "doc1")

	doc, err := s.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, "doc1.pdf", doc.FileName)
	assert.Equal(t, DocStatusProcessing, doc.Status)

	require.NoError(t, s.UpdateDocumentStatus(ctx, "doc1", DocStatusReady))
	doc, err = s.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, DocStatusReady, doc.Status)
}

func TestSQLiteStore_GetDocumentMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDocument(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSQLiteStore_ParentChildRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDocument(t, s, "doc1")

	parent := &chunk.ParentSection{
		ParentID:    "p1",
		DocID:       "doc1",
		Text:        "full parent section text",
		PageStart:   3,
		PageEnd:     4,
		SectionPath: "Chapter 1",
		TokenCount:  4,
		Ordinal:     0,
	}
	require.NoError(t, s.PutParents(ctx, []*chunk.ParentSection{parent}))

	children := []*chunk.ChildChunk{
		{ChunkID: "c1", ParentID: "p1", DocID: "doc1", Text: "first child",
			PositionIndex: 0, Ordinal: 0, PageNumber: 3, PageStart: 3, PageEnd: 4,
			SectionPath: "Chapter 1", Type: chunk.BlockText, TokenCount: 2,
			NextChunkID: "c2", CreatedAt: time.Now().UTC()},
		{ChunkID: "c2", ParentID: "p1", DocID: "doc1", Text: "second child",
			PositionIndex: 1, Ordinal: 1, PageNumber: 4, PageStart: 3, PageEnd: 4,
			SectionPath: "Chapter 1", Type: chunk.BlockText, TokenCount: 2,
			PrevChunkID: "c1", CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, s.PutChildren(ctx, children))

	parents, err := s.GetParents(ctx, []string{"p1"})
	require.NoError(t, err)
	require.Contains(t, parents, "p1")
	assert.Equal(t, []string{"c1", "c2"}, parents["p1"].ChildIDs)
	assert.Equal(t, "full parent section text", parents["p1"].Text)

	got, err := s.GetChildren(ctx, []string{"c2", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second child", got["c2"].Text)
	assert.Equal(t, "c1", got["c2"].PrevChunkID)
	assert.Equal(t, chunk.BlockText, got["c2"].Type)
}

func TestSQLiteStore_DeleteCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDocument(t, s, "doc1")

	require.NoError(t, s.PutParents(ctx, []*chunk.ParentSection{
		{ParentID: "p1", DocID: "doc1", Text: "t", PageStart: 1, PageEnd: 1, TokenCount: 1},
	}))
	require.NoError(t, s.PutChildren(ctx, []*chunk.ChildChunk{
		{ChunkID: "c1", ParentID: "p1", DocID: "doc1", Text: "t", PageNumber: 1,
			PageStart: 1, PageEnd: 1, Type: chunk.BlockText, TokenCount: 1,
			CreatedAt: time.Now().UTC()},
	}))

	ids, err := s.ChunkIDsForDoc(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)

	require.NoError(t, s.DeleteDocument(ctx, "doc1"))

	ids, err = s.ChunkIDsForDoc(ctx, "doc1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	parents, err := s.GetParents(ctx, []string{"p1"})
	require.NoError(t, err)
	assert.Empty(t, parents)
}

func TestSQLiteStore_DeleteMissingDocument(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.DeleteDocument(context.Background(), "ghost"), sql.ErrNoRows)
}

func TestSQLiteStore_ListDocumentsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutDocument(ctx, &DocumentRecord{
		DocID: "old", FileName: "old.pdf", FileType: "pdf",
		Status: DocStatusReady, CreatedAt: time.Now().Add(-time.Hour).UTC(),
	}))
	require.NoError(t, s.PutDocument(ctx, &DocumentRecord{
		DocID: "new", FileName: "new.pdf", FileType: "pdf",
		Status: DocStatusReady, CreatedAt: time.Now().UTC(),
	}))

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "new", docs[0].DocID)
}
