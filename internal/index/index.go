// Package index holds an in-memory, two-stage ranked search index: a
// stage-1 full-text candidate lookup delegated to the store's FTS5 table,
// reranked in stage 2 by an Okapi BM25 score computed entirely in memory so
// its formula and tokenizer are exactly reproducible independent of the
// storage engine's own ranking function.
package index

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bad33ndj3/mcp-md-index/internal/domain"
	"github.com/bad33ndj3/mcp-md-index/internal/store"
)

// DefaultK1 and DefaultB are the Okapi BM25 tuning constants.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75

	// snippetRuneLimit bounds a result snippet; truncation counts runes, not
	// bytes or grapheme clusters, so combining-character scripts may split
	// mid-glyph in rare cases.
	snippetRuneLimit = 200
)

var wordPattern = regexp.MustCompile(`\b\w+\b`)

type chunkRecord struct {
	chunk      domain.Chunk
	docURL     string
	sourceName string
	sourceURL  string
	title      *string
	tokens     []string
	termCounts map[string]int
}

// Index is the in-memory search structure. It must be rebuilt (via Build)
// whenever the underlying store's documents or chunks change.
type Index struct {
	mu sync.RWMutex

	k1, b float64

	chunksByID  map[int64]*chunkRecord
	docFreq     map[string]int
	totalChunks int
	avgChunkLen float64

	// enableFTS toggles the stage-1 FTS5 candidate lookup. When false (or
	// when the lookup yields nothing), Search reranks every chunk instead.
	enableFTS bool
}

// New returns an empty Index using the default BM25 tuning constants, with
// the stage-1 FTS5 candidate lookup enabled.
func New() *Index {
	return NewWithFTS(true)
}

// NewWithFTS returns an empty Index with the stage-1 FTS5 candidate lookup
// toggled by enableFTS (spec.md §6's enable_fts config option).
func NewWithFTS(enableFTS bool) *Index {
	return &Index{k1: DefaultK1, b: DefaultB, chunksByID: make(map[int64]*chunkRecord), enableFTS: enableFTS}
}

// Tokenize lowercases text, extracts word tokens, and drops stopwords and
// single-character tokens. The same tokenizer is used to build both the
// stage-1 FTS5 MATCH query and the stage-2 scoring corpus.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := wordPattern.FindAllString(lower, -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if len(tok) <= 1 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Build replaces the index's contents with a fresh snapshot read from s.
func (idx *Index) Build(s *store.Store) error {
	rows, err := s.GetAllChunks()
	if err != nil {
		return fmt.Errorf("index: build: %w", err)
	}

	chunksByID := make(map[int64]*chunkRecord, len(rows))
	docFreq := make(map[string]int)
	totalLen := 0

	for _, row := range rows {
		tokens := Tokenize(row.Chunk.Content)
		counts := make(map[string]int, len(tokens))
		for _, t := range tokens {
			counts[t]++
		}
		for t := range counts {
			docFreq[t]++
		}
		chunksByID[row.Chunk.ID] = &chunkRecord{
			chunk:      row.Chunk,
			docURL:     row.DocURL,
			sourceName: row.SourceName,
			sourceURL:  row.SourceURL,
			title:      row.Title,
			tokens:     tokens,
			termCounts: counts,
		}
		totalLen += len(tokens)
	}

	avg := 0.0
	if len(chunksByID) > 0 {
		avg = float64(totalLen) / float64(len(chunksByID))
	}

	idx.mu.Lock()
	idx.chunksByID = chunksByID
	idx.docFreq = docFreq
	idx.totalChunks = len(chunksByID)
	idx.avgChunkLen = avg
	idx.mu.Unlock()
	return nil
}

// ChunkCount returns the number of chunks currently held in memory.
func (idx *Index) ChunkCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.totalChunks
}

func (idx *Index) idf(term string) float64 {
	df := idx.docFreq[term]
	n := float64(idx.totalChunks)
	return math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
}

func (idx *Index) scoreChunk(rec *chunkRecord, queryTokens []string) float64 {
	docLen := float64(len(rec.tokens))
	score := 0.0
	for _, term := range queryTokens {
		tf := float64(rec.termCounts[term])
		if tf == 0 {
			continue
		}
		idfVal := idx.idf(term)
		denom := tf + idx.k1*(1-idx.b+idx.b*(docLen/nonZero(idx.avgChunkLen)))
		tfComponent := (tf * (idx.k1 + 1)) / denom
		score += idfVal * tfComponent
	}
	return score
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// Search runs query against the FTS5 stage-1 candidate lookup, reranks the
// candidates with in-memory BM25, and returns at most limit results with at
// most one SearchResult per document (first, i.e. highest-scoring, wins).
// sourceFilter, when non-empty, restricts results to that source name.
func (idx *Index) Search(s *store.Store, query string, limit int, sourceFilter string) ([]domain.SearchResult, error) {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	// Stage 1: FTS5 candidate generation. Terms are OR-joined, per
	// SPEC_FULL §6.1 - MATCH is not an implicit-AND narrowing of every term,
	// it is a net wide enough that stage 2 can rerank across it. If FTS is
	// disabled, or stage 1 finds nothing, fall back to reranking every
	// chunk rather than returning zero results for a query stage 2 would
	// otherwise have scored.
	var candidates []store.FTSCandidate
	if idx.enableFTS {
		matchQuery := strings.Join(queryTokens, " OR ")
		var err error
		candidates, err = s.FTSCandidates(matchQuery)
		if err != nil {
			return nil, fmt.Errorf("index: search: %w", err)
		}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type scored struct {
		rec   *chunkRecord
		score float64
	}

	useFallback := !idx.enableFTS || len(candidates) == 0
	var results []scored
	if !useFallback {
		for _, c := range candidates {
			rec, ok := idx.chunksByID[c.ChunkID]
			if !ok {
				continue
			}
			if sourceFilter != "" && rec.sourceName != sourceFilter {
				continue
			}
			sc := idx.scoreChunk(rec, queryTokens)
			if sc <= 0 {
				continue
			}
			results = append(results, scored{rec: rec, score: sc})
		}
	} else {
		for _, rec := range idx.chunksByID {
			if sourceFilter != "" && rec.sourceName != sourceFilter {
				continue
			}
			sc := idx.scoreChunk(rec, queryTokens)
			if sc <= 0 {
				continue
			}
			results = append(results, scored{rec: rec, score: sc})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	seenDocs := make(map[string]struct{})
	out := make([]domain.SearchResult, 0, limit)
	for _, r := range results {
		if _, seen := seenDocs[r.rec.docURL]; seen {
			continue
		}
		seenDocs[r.rec.docURL] = struct{}{}

		out = append(out, domain.SearchResult{
			DocURL:     r.rec.docURL,
			SourceName: r.rec.sourceName,
			SourceURL:  r.rec.sourceURL,
			Title:      r.rec.title,
			Snippet:    snippet(r.rec.chunk.Content),
			Score:      r.score,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// DocChunkScore is one scored chunk within a single document, used by
// within-document search (doc excerpt lookup).
type DocChunkScore struct {
	Chunk domain.Chunk
	Score float64
}

// SearchWithinDocument scores every chunk of docID against query and
// returns the topK highest-scoring chunks with a strictly positive score.
func (idx *Index) SearchWithinDocument(docID int64, query string, topK int) []DocChunkScore {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var results []DocChunkScore
	for _, rec := range idx.chunksByID {
		if rec.chunk.DocID != docID {
			continue
		}
		sc := idx.scoreChunk(rec, queryTokens)
		if sc <= 0 {
			continue
		}
		results = append(results, DocChunkScore{Chunk: rec.chunk, Score: sc})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// snippet returns the first snippetRuneLimit runes of content, followed by
// an ellipsis if it was truncated.
func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetRuneLimit {
		return content
	}
	return string(runes[:snippetRuneLimit]) + "..."
}
