package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bad33ndj3/mcp-md-index/internal/domain"
)

func TestFetchSource_SingleMarkdownDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Hello\n\nWorld"))
	}))
	defer srv.Close()

	f := New(2)
	docs, errs := f.FetchSource(context.Background(), domain.Source{Name: "test", URL: srv.URL})
	require.Empty(t, errs)
	require.Len(t, docs, 1)
	assert.Equal(t, "Hello", *docs[0].Title)
	assert.Contains(t, docs[0].Content, "World")
}

func TestFetchSource_HTMLIsConvertedToMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><h1>Title</h1><p>Body text</p></body></html>"))
	}))
	defer srv.Close()

	f := New(2)
	docs, errs := f.FetchSource(context.Background(), domain.Source{Name: "test", URL: srv.URL})
	require.Empty(t, errs)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Content, "Body text")
}

func TestFetchSource_ManifestFetchesAllLinksConcurrently(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/llms.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[Doc One](/doc1.md): first doc\n[Doc Two](/doc2.md): second doc\n"))
	})
	mux.HandleFunc("/doc1.md", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# First\n\ncontent one"))
	})
	mux.HandleFunc("/doc2.md", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("no heading here"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(2)
	docs, errs := f.FetchSource(context.Background(), domain.Source{Name: "test", URL: srv.URL + "/llms.txt"})
	require.Empty(t, errs)
	require.Len(t, docs, 2)

	var titles []string
	for _, d := range docs {
		require.NotNil(t, d.Title)
		titles = append(titles, *d.Title)
	}
	assert.Contains(t, titles, "First")
	assert.Contains(t, titles, "Doc Two") // fallback to manifest link title
}

func TestFetchSource_OneBadLinkDoesNotAbortTheRest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/llms.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[Good](/good.md): ok\n[Bad](/missing.md): broken\n"))
	})
	mux.HandleFunc("/good.md", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# Good\n\nfine"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(2)
	docs, errs := f.FetchSource(context.Background(), domain.Source{Name: "test", URL: srv.URL + "/llms.txt"})
	require.Len(t, docs, 1)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Failed to fetch")
}

func TestParseLLMsTxt_ResolvesRelativeURLs(t *testing.T) {
	links := parseLLMsTxt("[A](/a.md): desc a\n[B](https://other.dev/b.md)\n", "https://docs.dev/llms.txt")
	require.Len(t, links, 2)
	assert.Equal(t, "https://docs.dev/a.md", links[0].URL)
	assert.Equal(t, "https://other.dev/b.md", links[1].URL)
}

func TestIsLLMsTxtURL(t *testing.T) {
	assert.True(t, isLLMsTxtURL("https://react.dev/llms.txt"))
	assert.True(t, isLLMsTxtURL("https://react.dev/docs/llms.txt"))
	assert.False(t, isLLMsTxtURL("https://react.dev/docs/hooks.md"))
}
