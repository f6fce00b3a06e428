package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/docsense/docsense/internal/chunk"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id          TEXT PRIMARY KEY,
	file_name       TEXT NOT NULL,
	file_type       TEXT NOT NULL,
	size_bytes      INTEGER NOT NULL DEFAULT 0,
	page_count      INTEGER NOT NULL DEFAULT 0,
	parent_count    INTEGER NOT NULL DEFAULT 0,
	chunk_count     INTEGER NOT NULL DEFAULT 0,
	embedding_model TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'processing',
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS parent_sections (
	parent_id    TEXT PRIMARY KEY,
	doc_id       TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
	content      TEXT NOT NULL,
	page_start   INTEGER NOT NULL,
	page_end     INTEGER NOT NULL,
	section_path TEXT NOT NULL,
	token_count  INTEGER NOT NULL,
	ordinal      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_parents_doc ON parent_sections(doc_id);

CREATE TABLE IF NOT EXISTS child_chunks (
	chunk_id        TEXT PRIMARY KEY,
	parent_id       TEXT NOT NULL REFERENCES parent_sections(parent_id) ON DELETE CASCADE,
	doc_id          TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
	content         TEXT NOT NULL,
	position_index  INTEGER NOT NULL,
	ordinal         INTEGER NOT NULL,
	page_number     INTEGER NOT NULL,
	page_start      INTEGER NOT NULL,
	page_end        INTEGER NOT NULL,
	section_path    TEXT NOT NULL,
	block_type      TEXT NOT NULL,
	token_count     INTEGER NOT NULL,
	prev_chunk_id   TEXT NOT NULL DEFAULT '',
	next_chunk_id   TEXT NOT NULL DEFAULT '',
	embedding_model TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_children_doc ON child_chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_children_parent ON child_chunks(parent_id);
`

// SQLiteStore implements DocumentStore on SQLite with WAL mode for
// concurrent readers during ingestion.
type SQLiteStore struct {
	db *sql.DB
}

var _ DocumentStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the metadata database at path.
// An empty path creates an in-memory database for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// modernc.org/sqlite opens a connection per query by default; the
	// in-memory DSN needs a single connection or tables vanish.
	if path == "" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// PutDocument inserts or replaces a document catalog entry.
func (s *SQLiteStore) PutDocument(ctx context.Context, doc *DocumentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (doc_id, file_name, file_type, size_bytes, page_count,
			parent_count, chunk_count, embedding_model, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			file_name = excluded.file_name,
			file_type = excluded.file_type,
			size_bytes = excluded.size_bytes,
			page_count = excluded.page_count,
			parent_count = excluded.parent_count,
			chunk_count = excluded.chunk_count,
			embedding_model = excluded.embedding_model,
			status = excluded.status`,
		doc.DocID, doc.FileName, doc.FileType, doc.SizeBytes, doc.PageCount,
		doc.ParentCount, doc.ChunkCount, doc.EmbeddingModel, string(doc.Status),
		doc.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put document %s: %w", doc.DocID, err)
	}
	return nil
}

// GetDocument returns the catalog entry, or sql.ErrNoRows if absent.
func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (*DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, file_name, file_type, size_bytes, page_count,
			parent_count, chunk_count, embedding_model, status, created_at
		FROM documents WHERE doc_id = ?`, docID)
	return scanDocument(row)
}

// ListDocuments returns all documents, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, file_name, file_type, size_bytes, page_count,
			parent_count, chunk_count, embedding_model, status, created_at
		FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*DocumentRecord
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes the document; sections and chunks cascade.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, docID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateDocumentStatus transitions the document's lifecycle status.
func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, docID string, status DocumentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ? WHERE doc_id = ?`, string(status), docID)
	if err != nil {
		return fmt.Errorf("update document %s status: %w", docID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PutParents inserts parent sections in one transaction.
func (s *SQLiteStore) PutParents(ctx context.Context, parents []*chunk.ParentSection) error {
	if len(parents) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put parents: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO parent_sections
			(parent_id, doc_id, content, page_start, page_end, section_path, token_count, ordinal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare put parents: %w", err)
	}
	defer stmt.Close()

	for _, p := range parents {
		if _, err := stmt.ExecContext(ctx, p.ParentID, p.DocID, p.Text,
			p.PageStart, p.PageEnd, p.SectionPath, p.TokenCount, p.Ordinal); err != nil {
			return fmt.Errorf("insert parent %s: %w", p.ParentID, err)
		}
	}
	return tx.Commit()
}

// GetParents returns the sections for the given IDs, keyed by ID.
// ChildIDs are reconstructed from the chunk table in position order.
func (s *SQLiteStore) GetParents(ctx context.Context, parentIDs []string) (map[string]*chunk.ParentSection, error) {
	out := make(map[string]*chunk.ParentSection, len(parentIDs))
	if len(parentIDs) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`
		SELECT parent_id, doc_id, content, page_start, page_end, section_path, token_count, ordinal
		FROM parent_sections WHERE parent_id IN (%s)`, placeholders(len(parentIDs)))
	rows, err := s.db.QueryContext(ctx, query, toArgs(parentIDs)...)
	if err != nil {
		return nil, fmt.Errorf("get parents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &chunk.ParentSection{}
		if err := rows.Scan(&p.ParentID, &p.DocID, &p.Text, &p.PageStart,
			&p.PageEnd, &p.SectionPath, &p.TokenCount, &p.Ordinal); err != nil {
			return nil, fmt.Errorf("scan parent: %w", err)
		}
		out[p.ParentID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	childQuery := fmt.Sprintf(`
		SELECT parent_id, chunk_id FROM child_chunks
		WHERE parent_id IN (%s) ORDER BY position_index`, placeholders(len(parentIDs)))
	childRows, err := s.db.QueryContext(ctx, childQuery, toArgs(parentIDs)...)
	if err != nil {
		return nil, fmt.Errorf("get parent children: %w", err)
	}
	defer childRows.Close()

	for childRows.Next() {
		var parentID, chunkID string
		if err := childRows.Scan(&parentID, &chunkID); err != nil {
			return nil, fmt.Errorf("scan parent child: %w", err)
		}
		if p, ok := out[parentID]; ok {
			p.ChildIDs = append(p.ChildIDs, chunkID)
		}
	}
	return out, childRows.Err()
}

// ParentsForDoc returns a document's sections in document order.
func (s *SQLiteStore) ParentsForDoc(ctx context.Context, docID string, limit int) ([]*chunk.ParentSection, error) {
	query := `
		SELECT parent_id, doc_id, content, page_start, page_end, section_path, token_count, ordinal
		FROM parent_sections WHERE doc_id = ? ORDER BY ordinal`
	args := []any{docID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("parents for %s: %w", docID, err)
	}
	defer rows.Close()

	var parents []*chunk.ParentSection
	for rows.Next() {
		p := &chunk.ParentSection{}
		if err := rows.Scan(&p.ParentID, &p.DocID, &p.Text, &p.PageStart,
			&p.PageEnd, &p.SectionPath, &p.TokenCount, &p.Ordinal); err != nil {
			return nil, fmt.Errorf("scan parent: %w", err)
		}
		parents = append(parents, p)
	}
	return parents, rows.Err()
}

// PutChildren inserts child chunks in one transaction.
func (s *SQLiteStore) PutChildren(ctx context.Context, children []*chunk.ChildChunk) error {
	if len(children) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put children: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO child_chunks
			(chunk_id, parent_id, doc_id, content, position_index, ordinal,
			 page_number, page_start, page_end, section_path, block_type,
			 token_count, prev_chunk_id, next_chunk_id, embedding_model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare put children: %w", err)
	}
	defer stmt.Close()

	for _, c := range children {
		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.ParentID, c.DocID, c.Text,
			c.PositionIndex, c.Ordinal, c.PageNumber, c.PageStart, c.PageEnd,
			c.SectionPath, string(c.Type), c.TokenCount, c.PrevChunkID, c.NextChunkID,
			c.EmbeddingModel, c.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
		}
	}
	return tx.Commit()
}

// GetChildren returns the chunks for the given IDs, keyed by ID.
// Missing IDs are simply absent from the result.
func (s *SQLiteStore) GetChildren(ctx context.Context, chunkIDs []string) (map[string]*chunk.ChildChunk, error) {
	out := make(map[string]*chunk.ChildChunk, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`
		SELECT chunk_id, parent_id, doc_id, content, position_index, ordinal,
			page_number, page_start, page_end, section_path, block_type,
			token_count, prev_chunk_id, next_chunk_id, embedding_model, created_at
		FROM child_chunks WHERE chunk_id IN (%s)`, placeholders(len(chunkIDs)))
	rows, err := s.db.QueryContext(ctx, query, toArgs(chunkIDs)...)
	if err != nil {
		return nil, fmt.Errorf("get children: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c := &chunk.ChildChunk{}
		var blockType, createdAt string
		if err := rows.Scan(&c.ChunkID, &c.ParentID, &c.DocID, &c.Text,
			&c.PositionIndex, &c.Ordinal, &c.PageNumber, &c.PageStart, &c.PageEnd,
			&c.SectionPath, &blockType, &c.TokenCount, &c.PrevChunkID,
			&c.NextChunkID, &c.EmbeddingModel, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Type = chunk.BlockType(blockType)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			c.CreatedAt = t
		}
		out[c.ChunkID] = c
	}
	return out, rows.Err()
}

// ChunkIDsForDoc returns all chunk IDs of a document in chunk order,
// used to purge the lexical and vector indexes before cascade delete.
func (s *SQLiteStore) ChunkIDsForDoc(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id FROM child_chunks WHERE doc_id = ? ORDER BY ordinal`, docID)
	if err != nil {
		return nil, fmt.Errorf("chunk ids for %s: %w", docID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*DocumentRecord, error) {
	doc := &DocumentRecord{}
	var status, createdAt string
	if err := row.Scan(&doc.DocID, &doc.FileName, &doc.FileType, &doc.SizeBytes,
		&doc.PageCount, &doc.ParentCount, &doc.ChunkCount, &doc.EmbeddingModel,
		&status, &createdAt); err != nil {
		return nil, err
	}
	doc.Status = DocumentStatus(status)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		doc.CreatedAt = t
	}
	return doc, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
