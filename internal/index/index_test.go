package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bad33ndj3/mcp-md-index/internal/domain"
	"github.com/bad33ndj3/mcp-md-index/internal/store"
)

func newBuiltStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "idx.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	docs := []struct {
		url     string
		content string
	}{
		{"doc-goroutines", "Goroutines are lightweight threads managed by the Go runtime. Channels coordinate goroutines safely."},
		{"doc-channels", "Channels provide a way for goroutines to communicate and synchronize execution."},
		{"doc-unrelated", "This document discusses gardening and has nothing to do with concurrency."},
	}
	for _, d := range docs {
		_, _, err := s.UpsertDocument(domain.Document{
			SourceName: "golang", SourceURL: "https://go.dev/llms.txt", DocURL: d.url,
			Content: d.content, ContentHash: store.HashContent(d.content), UpdatedAt: time.Now().UTC(),
		}, []domain.Chunk{{Content: d.content, StartPos: 0, EndPos: len([]rune(d.content))}})
		require.NoError(t, err)
	}
	return s
}

func TestSearch_RanksRelevantDocumentsHigher(t *testing.T) {
	s := newBuiltStore(t)
	idx := New()
	require.NoError(t, idx.Build(s))

	results, err := idx.Search(s, "goroutines channels", 10, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.NotEqual(t, "doc-unrelated", results[0].DocURL)
}

func TestSearch_AtMostOneResultPerDocument(t *testing.T) {
	s := newBuiltStore(t)
	idx := New()
	require.NoError(t, idx.Build(s))

	results, err := idx.Search(s, "goroutines channels", 10, "")
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, r := range results {
		assert.False(t, seen[r.DocURL], "duplicate doc in results: %s", r.DocURL)
		seen[r.DocURL] = true
	}
}

func TestSearch_RespectsLimit(t *testing.T) {
	s := newBuiltStore(t)
	idx := New()
	require.NoError(t, idx.Build(s))

	results, err := idx.Search(s, "channels goroutines document", 1, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 1)
}

func TestSearch_SourceFilterExcludesOtherSources(t *testing.T) {
	s := newBuiltStore(t)
	doc := domain.Document{
		SourceName: "other", SourceURL: "https://other.dev", DocURL: "doc-other-channels",
		Content: "channels channels channels in a different source", ContentHash: store.HashContent("x"), UpdatedAt: time.Now().UTC(),
	}
	_, _, err := s.UpsertDocument(doc, []domain.Chunk{{Content: doc.Content, StartPos: 0, EndPos: len([]rune(doc.Content))}})
	require.NoError(t, err)

	idx := New()
	require.NoError(t, idx.Build(s))

	results, err := idx.Search(s, "channels", 10, "golang")
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "golang", r.SourceName)
	}
}

func TestTokenize_DropsStopwordsAndSingleLetters(t *testing.T) {
	tokens := Tokenize("The quick a fox and I jumped")
	assert.NotContains(t, tokens, "the")
	assert.NotContains(t, tokens, "a")
	assert.NotContains(t, tokens, "and")
	assert.NotContains(t, tokens, "i")
	assert.Contains(t, tokens, "quick")
	assert.Contains(t, tokens, "fox")
	assert.Contains(t, tokens, "jumped")
}

func TestSearch_FTSDisabledFallsBackToScoringEveryChunk(t *testing.T) {
	s := newBuiltStore(t)
	idx := NewWithFTS(false)
	require.NoError(t, idx.Build(s))

	results, err := idx.Search(s, "goroutines", 10, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc-goroutines", results[0].DocURL)
}

func TestSearchWithinDocument_ScoresOnlyThatDocument(t *testing.T) {
	s := newBuiltStore(t)
	idx := New()
	require.NoError(t, idx.Build(s))

	doc, err := s.GetDocumentByURL("doc-goroutines")
	require.NoError(t, err)

	results := idx.SearchWithinDocument(doc.ID, "goroutines", 5)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, doc.ID, r.Chunk.DocID)
		assert.Greater(t, r.Score, 0.0)
	}
}
