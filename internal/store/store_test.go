package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bad33ndj3/mcp-md-index/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "index.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertDocument_InsertThenNoopOnSameHash(t *testing.T) {
	s := openTestStore(t)

	title := "Hello"
	doc := domain.Document{
		SourceName:  "react",
		SourceURL:   "https://react.dev/llms.txt",
		DocURL:      "https://react.dev/hooks",
		Title:       &title,
		Content:     "hello world",
		ContentHash: HashContent("hello world"),
		UpdatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	chunks := []domain.Chunk{{Content: "hello world", StartPos: 0, EndPos: 11}}

	id1, changed1, err := s.UpsertDocument(doc, chunks)
	require.NoError(t, err)
	assert.True(t, changed1)
	assert.NotZero(t, id1)

	later := doc
	later.UpdatedAt = doc.UpdatedAt.Add(time.Hour)
	id2, changed2, err := s.UpsertDocument(later, chunks)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.False(t, changed2, "identical content hash should not trigger a rewrite")

	got, err := s.GetDocumentByURL(doc.DocURL)
	require.NoError(t, err)
	assert.Equal(t, later.UpdatedAt, got.UpdatedAt)
}

func TestUpsertDocument_ContentChangeReplacesChunks(t *testing.T) {
	s := openTestStore(t)

	doc := domain.Document{
		SourceName: "react", SourceURL: "https://react.dev/llms.txt", DocURL: "https://react.dev/hooks",
		Content: "v1", ContentHash: HashContent("v1"), UpdatedAt: time.Now().UTC(),
	}
	id, _, err := s.UpsertDocument(doc, []domain.Chunk{{Content: "v1", StartPos: 0, EndPos: 2}})
	require.NoError(t, err)

	doc.Content = "v2 longer content"
	doc.ContentHash = HashContent(doc.Content)
	doc.UpdatedAt = doc.UpdatedAt.Add(time.Minute)
	id2, changed, err := s.UpsertDocument(doc, []domain.Chunk{{Content: "v2 longer content", StartPos: 0, EndPos: 17}})
	require.NoError(t, err)
	assert.Equal(t, id, id2)
	assert.True(t, changed)

	chunks, err := s.GetChunksByDocID(id)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "v2 longer content", chunks[0].Content)
}

func TestDeleteStaleDocuments_RemovesOnlyMissingURLs(t *testing.T) {
	s := openTestStore(t)

	for _, url := range []string{"a", "b", "c"} {
		doc := domain.Document{
			SourceName: "src", SourceURL: "https://src.dev", DocURL: url,
			Content: url, ContentHash: HashContent(url), UpdatedAt: time.Now().UTC(),
		}
		_, _, err := s.UpsertDocument(doc, nil)
		require.NoError(t, err)
	}

	deleted, err := s.DeleteStaleDocuments("src", []string{"a", "c"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.GetDocumentByURL("b")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = s.GetDocumentByURL("a")
	assert.NoError(t, err)
}

func TestDeleteStaleDocuments_EmptyValidSetDeletesAll(t *testing.T) {
	s := openTestStore(t)
	doc := domain.Document{SourceName: "src", SourceURL: "https://src.dev", DocURL: "x", Content: "x", ContentHash: HashContent("x"), UpdatedAt: time.Now().UTC()}
	_, _, err := s.UpsertDocument(doc, nil)
	require.NoError(t, err)

	deleted, err := s.DeleteStaleDocuments("src", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestFTSCandidates_FindsInsertedChunk(t *testing.T) {
	s := openTestStore(t)
	doc := domain.Document{SourceName: "s", SourceURL: "https://s.dev", DocURL: "doc1", Content: "golang concurrency patterns", ContentHash: HashContent("golang concurrency patterns"), UpdatedAt: time.Now().UTC()}
	_, _, err := s.UpsertDocument(doc, []domain.Chunk{{Content: "golang concurrency patterns", StartPos: 0, EndPos: 27}})
	require.NoError(t, err)

	candidates, err := s.FTSCandidates("concurrency")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
}

func TestGetSourceStats_AggregatesPerSource(t *testing.T) {
	s := openTestStore(t)
	for _, url := range []string{"u1", "u2"} {
		doc := domain.Document{SourceName: "src", SourceURL: "https://src.dev", DocURL: url, Content: url, ContentHash: HashContent(url), UpdatedAt: time.Now().UTC()}
		_, _, err := s.UpsertDocument(doc, nil)
		require.NoError(t, err)
	}

	stats, err := s.GetSourceStats()
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].DocCount)
}

func TestMigrateLegacyColumns_BackfillsSourceNameAndDropsFetchedAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.db")

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_url TEXT NOT NULL,
		doc_url TEXT NOT NULL UNIQUE,
		title TEXT,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		fetched_at TIMESTAMP
	)`)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO documents (source_url, doc_url, content, content_hash, updated_at, fetched_at)
		VALUES ('https://react.dev/llms.txt', 'https://react.dev/hooks', 'hi', 'abc', '2024-01-01', '2024-01-01')`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err := Open(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	rows, err := s.db.Query(`PRAGMA table_info(documents)`)
	require.NoError(t, err)
	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		require.NoError(t, rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk))
		cols[name] = true
	}
	require.NoError(t, rows.Err())
	rows.Close()

	assert.True(t, cols["source_name"])
	assert.False(t, cols["fetched_at"])

	doc, err := s.GetDocumentByURL("https://react.dev/hooks")
	require.NoError(t, err)
	assert.Equal(t, "react.dev", doc.SourceName)
}
