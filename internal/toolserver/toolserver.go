// Package toolserver exposes the documentation index as MCP tools: ranked
// search, direct document retrieval, within-document excerpt search,
// source statistics, and an on-demand refresh trigger.
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bad33ndj3/mcp-md-index/internal/app"
	"github.com/bad33ndj3/mcp-md-index/internal/domain"
	"github.com/bad33ndj3/mcp-md-index/internal/index"
	"github.com/bad33ndj3/mcp-md-index/internal/refresh"
	"github.com/bad33ndj3/mcp-md-index/internal/store"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit      = 50
	defaultMaxChunks    = 5
	maxMaxChunks        = 20
	defaultContextChars = 500
	maxContextChars     = 2000

	defaultDocLimit = 5000
	minDocLimit     = 1000
	maxDocLimit     = 100000
)

// SearchArgs defines the arguments for the search_docs tool.
type SearchArgs struct {
	Query  string `json:"query" jsonschema_description:"Search query"`
	Limit  int    `json:"limit,omitempty" jsonschema_description:"Max results to return (1-50, default 5)"`
	Source string `json:"source,omitempty" jsonschema_description:"Restrict results to this source name"`
}

// GetDocArgs defines the arguments for the get_doc tool.
type GetDocArgs struct {
	URL    string `json:"url" jsonschema_description:"The doc_url of the document to fetch"`
	Offset int    `json:"offset,omitempty" jsonschema_description:"Character offset to start from (default 0)"`
	Limit  int    `json:"limit,omitempty" jsonschema_description:"Max characters to return (1000-100000, default 5000)"`
}

// GetDocExcerptArgs defines the arguments for the get_doc_excerpt tool.
type GetDocExcerptArgs struct {
	URL          string `json:"url" jsonschema_description:"The doc_url of the document to search within"`
	Query        string `json:"query" jsonschema_description:"Query to find relevant excerpts"`
	MaxChunks    int    `json:"max_chunks,omitempty" jsonschema_description:"Max excerpts to return (1-20, default 5)"`
	ContextChars int    `json:"context_chars,omitempty" jsonschema_description:"Characters of context around each match (up to 2000, default 500; 0 counts as unset and gives 500, a negative value gives no context)"`
}

// searchResultItem mirrors one ranked search hit.
type searchResultItem struct {
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	URL        string  `json:"url"`
	Source     string  `json:"source"`
	SourceURL  string  `json:"source_url"`
	Score      float64 `json:"score"`
}

// documentResult mirrors a windowed document fetch.
type documentResult struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	SourceURL   string `json:"source_url"`
	TotalLength int    `json:"total_length"`
	Length      int    `json:"length"`
	HasMore     bool   `json:"has_more"`
}

// excerptItem is one windowed excerpt around a matching chunk.
type excerptItem struct {
	Content  string  `json:"content"`
	StartPos int     `json:"start_pos"`
	EndPos   int     `json:"end_pos"`
	Score    float64 `json:"score"`
}

// documentExcerptResult mirrors a within-document excerpt search.
type documentExcerptResult struct {
	Title       string        `json:"title"`
	URL         string        `json:"url"`
	Source      string        `json:"source"`
	SourceURL   string        `json:"source_url"`
	TotalLength int           `json:"total_length"`
	Excerpts    []excerptItem `json:"excerpts"`
}

// sourceInfo mirrors one configured source's stats for list_sources.
type sourceInfo struct {
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	DocCount    int     `json:"doc_count"`
	LastUpdated *string `json:"last_updated"`
}

// refreshResult mirrors a refresh cycle's outcome.
type refreshResult struct {
	RefreshedCount   int      `json:"refreshed_count"`
	IndexedDocuments int      `json:"indexed_documents"`
	IndexedChunks    int      `json:"indexed_chunks"`
	Errors           []string `json:"errors,omitempty"`
	Skipped          bool     `json:"skipped,omitempty"`
	Reason           string   `json:"reason,omitempty"`
}

// Handlers wraps the App and refresh Coordinator to implement MCP tools.
type Handlers struct {
	app    *app.App
	refresh *refresh.Coordinator
	logger *slog.Logger
}

// NewHandlers creates handlers backed by a, triggering refreshes through
// coordinator, logging through logger.
func NewHandlers(a *app.App, coordinator *refresh.Coordinator, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{app: a, refresh: coordinator, logger: logger}
}

func textResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("toolserver: marshal result: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
}

func titleOrDefault(t *string) string {
	if t == nil || *t == "" {
		return "Untitled"
	}
	return *t
}

// SearchDocs handles the search_docs tool call: ranked search across every
// indexed document, optionally restricted to one source.
func (h *Handlers) SearchDocs(ctx context.Context, req *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, any, error) {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return nil, nil, fmt.Errorf("query is required")
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	h.logger.Debug("search_docs", "query", query, "limit", limit, "source", args.Source)

	var results []domain.SearchResult
	err := h.app.WithReadLock(func(s *store.Store, idx *index.Index) error {
		var err error
		results, err = idx.Search(s, query, limit, args.Source)
		return err
	})
	if err != nil {
		h.logger.Error("search_docs failed", "error", err)
		return nil, nil, err
	}

	items := make([]searchResultItem, 0, len(results))
	for _, r := range results {
		items = append(items, searchResultItem{
			Title:     titleOrDefault(r.Title),
			Snippet:   r.Snippet,
			URL:       r.DocURL,
			Source:    r.SourceName,
			SourceURL: r.SourceURL,
			Score:     roundScore(r.Score),
		})
	}

	h.logger.Info("search_docs complete", "query", query, "results", len(items))
	return textResult(items)
}

// GetDoc handles the get_doc tool call: returns a window of a single
// document's content by its doc_url, starting at offset and at most limit
// runes long, with the total length and whether more content follows.
func (h *Handlers) GetDoc(ctx context.Context, req *mcp.CallToolRequest, args GetDocArgs) (*mcp.CallToolResult, any, error) {
	url := strings.TrimSpace(args.URL)
	if url == "" {
		return nil, nil, fmt.Errorf("url is required")
	}

	offset := args.Offset
	if offset < 0 {
		offset = 0
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultDocLimit
	}
	if limit < minDocLimit {
		limit = minDocLimit
	}
	if limit > maxDocLimit {
		limit = maxDocLimit
	}

	var doc domain.Document
	err := h.app.WithReadLock(func(s *store.Store, idx *index.Index) error {
		var err error
		doc, err = s.GetDocumentByURL(url)
		return err
	})
	if errors.Is(err, store.ErrDocumentNotFound) {
		return nil, nil, fmt.Errorf("document not found: %s", url)
	}
	if err != nil {
		h.logger.Error("get_doc failed", "url", url, "error", err)
		return nil, nil, err
	}

	runes := []rune(doc.Content)
	total := len(runes)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return textResult(documentResult{
		Title:       titleOrDefault(doc.Title),
		Content:     string(runes[start:end]),
		URL:         doc.DocURL,
		Source:      doc.SourceName,
		SourceURL:   doc.SourceURL,
		TotalLength: total,
		Length:      end - start,
		HasMore:     end < total,
	})
}

// GetDocExcerpt handles the get_doc_excerpt tool call: finds the
// highest-scoring chunks of one document for a query and returns each
// with a window of surrounding context.
func (h *Handlers) GetDocExcerpt(ctx context.Context, req *mcp.CallToolRequest, args GetDocExcerptArgs) (*mcp.CallToolResult, any, error) {
	url := strings.TrimSpace(args.URL)
	if url == "" {
		return nil, nil, fmt.Errorf("url is required")
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return nil, nil, fmt.Errorf("query is required")
	}

	maxChunks := args.MaxChunks
	if maxChunks <= 0 {
		maxChunks = defaultMaxChunks
	}
	if maxChunks > maxMaxChunks {
		maxChunks = maxMaxChunks
	}
	contextChars := args.ContextChars
	if contextChars == 0 {
		contextChars = defaultContextChars
	}
	if contextChars < 0 {
		contextChars = 0
	}
	if contextChars > maxContextChars {
		contextChars = maxContextChars
	}

	var doc domain.Document
	var hits []index.DocChunkScore
	err := h.app.WithReadLock(func(s *store.Store, idx *index.Index) error {
		var err error
		doc, err = s.GetDocumentByURL(url)
		if err != nil {
			return err
		}
		hits = idx.SearchWithinDocument(doc.ID, query, maxChunks)
		return nil
	})
	if errors.Is(err, store.ErrDocumentNotFound) {
		return nil, nil, fmt.Errorf("document not found: %s", url)
	}
	if err != nil {
		return nil, nil, err
	}

	if len(hits) == 0 {
		return nil, nil, fmt.Errorf("no relevant excerpts found in %s", url)
	}

	runes := []rune(doc.Content)
	excerpts := make([]excerptItem, 0, len(hits))
	for _, hit := range hits {
		start := hit.Chunk.StartPos - contextChars
		if start < 0 {
			start = 0
		}
		end := hit.Chunk.EndPos + contextChars
		if end > len(runes) {
			end = len(runes)
		}
		excerpts = append(excerpts, excerptItem{
			Content:  string(runes[start:end]),
			StartPos: start,
			EndPos:   end,
			Score:    roundScore(hit.Score),
		})
	}

	return textResult(documentExcerptResult{
		Title:       titleOrDefault(doc.Title),
		URL:         doc.DocURL,
		Source:      doc.SourceName,
		SourceURL:   doc.SourceURL,
		TotalLength: len(runes),
		Excerpts:    excerpts,
	})
}

// ListSources handles the list_sources tool call: joins configured sources
// with their stored document stats, defaulting absent sources to zero.
func (h *Handlers) ListSources(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, any, error) {
	var stats []domain.SourceStats
	err := h.app.WithReadLock(func(s *store.Store, idx *index.Index) error {
		var err error
		stats, err = s.GetSourceStats()
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	byName := make(map[string]struct {
		DocCount    int
		LastUpdated *string
	}, len(stats))
	for _, st := range stats {
		var lastUpdated *string
		if st.LastUpdated != nil {
			s := st.LastUpdated.Format("2006-01-02T15:04:05Z07:00")
			lastUpdated = &s
		}
		byName[st.Name] = struct {
			DocCount    int
			LastUpdated *string
		}{DocCount: st.DocCount, LastUpdated: lastUpdated}
	}

	infos := make([]sourceInfo, 0, len(h.app.Config.Sources))
	for _, src := range h.app.Config.Sources {
		info := sourceInfo{Name: src.Name, URL: src.URL}
		if st, ok := byName[src.Name]; ok {
			info.DocCount = st.DocCount
			info.LastUpdated = st.LastUpdated
		}
		infos = append(infos, info)
	}

	return textResult(infos)
}

// RefreshSources handles the refresh_sources tool call: runs one refresh
// cycle synchronously and reports what happened.
func (h *Handlers) RefreshSources(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, any, error) {
	h.logger.Info("refresh_sources starting")
	result, err := h.refresh.Do(ctx)
	if err != nil {
		h.logger.Error("refresh_sources failed", "error", err)
		return nil, nil, err
	}

	h.logger.Info("refresh_sources complete",
		"refreshed", result.RefreshedCount,
		"documents", result.IndexedDocuments,
		"chunks", result.IndexedChunks,
		"skipped", result.Skipped,
	)

	return textResult(refreshResult{
		RefreshedCount:   result.RefreshedCount,
		IndexedDocuments: result.IndexedDocuments,
		IndexedChunks:    result.IndexedChunks,
		Errors:           result.Errors,
		Skipped:          result.Skipped,
		Reason:           result.Reason,
	})
}

func roundScore(score float64) float64 {
	return float64(int(score*10000+0.5)) / 10000
}
