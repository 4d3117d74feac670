// Package domain contains core data types used across the llmdoc-mcp server.
// These are pure data structures with no behavior - making them easy to understand
// and test. Think of them as the "nouns" of our application.
package domain

import "time"

// FTSCandidateLimit bounds how many chunk ids the stage-1 full-text
// candidate lookup returns before stage-2 BM25 reranking narrows them down.
const FTSCandidateLimit = 100

// Source is a configured documentation endpoint: either a single document
// URL or an llms.txt manifest URL, identified by an opaque name used to
// scope and label search results.
type Source struct {
	Name string
	URL  string
}

// Document is a single normalized markdown document fetched from a Source.
// DocURL is its global primary key.
type Document struct {
	ID          int64
	SourceName  string
	SourceURL   string
	DocURL      string
	Title       *string
	Content     string
	ContentHash string
	UpdatedAt   time.Time
}

// Chunk is a contiguous, position-tracked sub-range of a Document's content,
// produced by the chunker. StartPos/EndPos are half-open rune offsets into
// the parent Document's Content.
type Chunk struct {
	ID       int64
	DocID    int64
	Content  string
	StartPos int
	EndPos   int
}

// SearchResult is one ranked hit returned by a search operation. At most one
// SearchResult per DocURL is ever returned for a given query.
type SearchResult struct {
	DocURL     string
	SourceName string
	SourceURL  string
	Title      *string
	Snippet    string
	Score      float64
}

// SourceStats summarizes the documents stored for one configured source.
type SourceStats struct {
	Name        string
	URL         string
	DocCount    int
	LastUpdated *time.Time
}
