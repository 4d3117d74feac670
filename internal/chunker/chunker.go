// Package chunker splits document content into overlapping, position-tracked
// chunks suitable for indexing: paragraphs first, falling back to a
// sentence-boundary-aware sliding window for paragraphs that exceed the
// target chunk size.
package chunker

import (
	"regexp"
	"strings"

	"github.com/bad33ndj3/mcp-md-index/internal/domain"
)

// DefaultChunkSize is the target maximum rune length of a chunk.
const DefaultChunkSize = 500

// DefaultChunkOverlap is how many runes of a split paragraph carry over
// into the next chunk when a paragraph must be split internally.
const DefaultChunkOverlap = 100

var paragraphPattern = regexp.MustCompile(`\n\s*\n`)

// sentenceBoundaries are tried in order, closest-preceding-match wins.
var sentenceBoundaries = []string{".\n", ". ", "!\n", "! ", "?\n", "? "}

// Chunker splits Document content into Chunks.
type Chunker struct {
	ChunkSize int
	Overlap   int
}

// New returns a Chunker configured with the default chunk size and overlap.
func New() *Chunker {
	return &Chunker{ChunkSize: DefaultChunkSize, Overlap: DefaultChunkOverlap}
}

// Chunk splits content into position-tracked chunks for the given document.
// DocID is copied onto every produced Chunk; content is addressed by rune
// offset so StartPos/EndPos are stable regardless of encoding width.
func (c *Chunker) Chunk(docID int64, content string) []domain.Chunk {
	size := c.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}

	runes := []rune(content)
	if len(runes) == 0 {
		return nil
	}

	paragraphs := splitParagraphs(runes)

	var chunks []domain.Chunk
	var curStart, curEnd int
	curLen := 0
	hasCurrent := false

	flush := func() {
		if hasCurrent {
			chunks = append(chunks, domain.Chunk{
				DocID:    docID,
				Content:  string(runes[curStart:curEnd]),
				StartPos: curStart,
				EndPos:   curEnd,
			})
			hasCurrent = false
			curLen = 0
		}
	}

	for _, p := range paragraphs {
		pLen := p.end - p.start
		joinerLen := 0
		if hasCurrent {
			joinerLen = 2 // "\n\n"
		}

		if hasCurrent && curLen+joinerLen+pLen <= size {
			curEnd = p.end
			curLen += joinerLen + pLen
			continue
		}

		flush()

		if pLen <= size {
			curStart, curEnd = p.start, p.end
			curLen = pLen
			hasCurrent = true
			continue
		}

		// Paragraph itself exceeds the chunk size: split internally via a
		// sentence-boundary-snapped sliding window.
		for _, sub := range splitParagraph(runes, p.start, p.end, size, overlap) {
			chunks = append(chunks, domain.Chunk{
				DocID:    docID,
				Content:  string(runes[sub.start:sub.end]),
				StartPos: sub.start,
				EndPos:   sub.end,
			})
		}
	}
	flush()

	if len(chunks) == 0 && len(runes) > 0 {
		chunks = append(chunks, domain.Chunk{
			DocID:    docID,
			Content:  string(runes),
			StartPos: 0,
			EndPos:   len(runes),
		})
	}

	return chunks
}

type span struct{ start, end int }

// splitParagraphs returns the rune-offset spans of paragraphs in content,
// split on blank lines. Content with no paragraph breaks is a single span.
func splitParagraphs(runes []rune) []span {
	content := string(runes)
	matches := paragraphPattern.FindAllStringIndex(content, -1)
	if len(matches) == 0 {
		return []span{{0, len(runes)}}
	}

	var spans []span
	prev := 0
	for _, m := range matches {
		start := runeIndexFromByte(content, prev)
		end := runeIndexFromByte(content, m[0])
		if end > start {
			spans = append(spans, span{start, end})
		}
		prev = m[1]
	}
	if tailStart := runeIndexFromByte(content, prev); tailStart < len(runes) {
		spans = append(spans, span{tailStart, len(runes)})
	}
	if len(spans) == 0 {
		return []span{{0, len(runes)}}
	}
	return spans
}

// runeIndexFromByte converts a byte offset in s to the corresponding rune
// index. s must be valid UTF-8.
func runeIndexFromByte(s string, byteOffset int) int {
	return len([]rune(s[:byteOffset]))
}

// splitParagraph slides a size-window across runes[start:end], snapping each
// window's end to the nearest preceding sentence boundary when not already
// at the paragraph's end. Each next window starts overlap runes before the
// previous window's end, and always at least one rune after its start.
func splitParagraph(runes []rune, start, end, size, overlap int) []span {
	var spans []span
	innerStart := start
	for innerStart < end {
		innerEnd := innerStart + size
		if innerEnd > end {
			innerEnd = end
		}
		if innerEnd < end {
			innerEnd = findSentenceBoundary(runes, innerStart, innerEnd)
		}
		if innerEnd <= innerStart {
			innerEnd = minInt(innerStart+size, end)
		}
		spans = append(spans, span{innerStart, innerEnd})

		if innerEnd >= end {
			break
		}
		nextStart := innerEnd - overlap
		if nextStart <= innerStart {
			nextStart = innerStart + 1
		}
		innerStart = nextStart
	}
	return spans
}

// findSentenceBoundary searches runes[start:end] for the last occurrence of
// a sentence-ending separator, returning the offset just past it. If none is
// found, end is returned unchanged.
func findSentenceBoundary(runes []rune, start, end int) int {
	window := string(runes[start:end])
	best := -1
	for _, sep := range sentenceBoundaries {
		if idx := strings.LastIndex(window, sep); idx >= 0 {
			pos := idx + len(sep)
			if pos > best {
				best = pos
			}
		}
	}
	if best <= 0 {
		return end
	}
	return start + len([]rune(window[:best]))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
