package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_EmptyContentReturnsNoChunks(t *testing.T) {
	c := New()
	assert.Empty(t, c.Chunk(1, ""))
}

func TestChunk_ShortContentIsSingleChunk(t *testing.T) {
	c := New()
	content := "Hello world.\n\nA short paragraph."
	chunks := c.Chunk(1, content)
	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Content)
	assert.Equal(t, 0, chunks[0].StartPos)
	assert.Equal(t, len([]rune(content)), chunks[0].EndPos)
}

func TestChunk_PositionsCoverContentInOrder(t *testing.T) {
	c := &Chunker{ChunkSize: 50, Overlap: 10}
	var paras []string
	for i := 0; i < 10; i++ {
		paras = append(paras, strings.Repeat("word ", 8))
	}
	content := strings.Join(paras, "\n\n")
	runes := []rune(content)

	chunks := c.Chunk(1, content)
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		assert.GreaterOrEqual(t, ch.StartPos, 0)
		assert.LessOrEqual(t, ch.EndPos, len(runes))
		assert.Less(t, ch.StartPos, ch.EndPos)
		assert.Equal(t, string(runes[ch.StartPos:ch.EndPos]), ch.Content)
		if i > 0 {
			assert.LessOrEqual(t, chunks[i-1].StartPos, ch.StartPos)
		}
	}
	// Coverage: the union of chunk ranges reaches the end of the content.
	assert.Equal(t, len(runes), chunks[len(chunks)-1].EndPos)
}

func TestChunk_OversizedParagraphSplitsWithOverlap(t *testing.T) {
	c := &Chunker{ChunkSize: 100, Overlap: 20}
	sentence := "This is a sentence that repeats. "
	content := strings.Repeat(sentence, 20) // one giant paragraph, no blank lines
	chunks := c.Chunk(1, content)
	require.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch.Content)), 100+len(sentence))
	}
}

func TestChunk_AllChunksCarryDocID(t *testing.T) {
	c := New()
	chunks := c.Chunk(42, "para one.\n\npara two.")
	for _, ch := range chunks {
		assert.EqualValues(t, 42, ch.DocID)
	}
}
