package textsplitter

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestSplitSentenceAwareBreaks(t *testing.T) {
	// Each window ends at the last sentence terminator it can reach, so
	// short sentences under a tight budget come out one per chunk.
	chunks := Split("one. two. three.", Config{ChunkSize: 2, ChunkOverlap: 0})
	assert.Equal(t, []string{"one.", "two.", "three."}, texts(chunks))
}

func TestSplitEmptyText(t *testing.T) {
	assert.Empty(t, Split("", DefaultConfig()))
	assert.Empty(t, Split("   \n\t  ", DefaultConfig()))
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	chunks := Split("A single short sentence.", DefaultConfig())
	require.Len(t, chunks, 1)
	assert.Equal(t, "A single short sentence.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestSplitIndexesAreContiguous(t *testing.T) {
	text := strings.Repeat("This is a sentence about nothing in particular. ", 200)
	chunks := Split(text, Config{ChunkSize: 128, ChunkOverlap: 10})
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.NotEmpty(t, c.Text)
	}
}

func TestSplitOverlapRepeatsTail(t *testing.T) {
	// Distinct numbered words make the overlap observable: each chunk after
	// the first must begin with words already present in its predecessor.
	words := make([]string, 400)
	for i := range words {
		words[i] = fmt.Sprintf("w%03d", i)
	}
	text := strings.Join(words, " ")

	chunks := Split(text, Config{ChunkSize: 16, ChunkOverlap: 4})
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		firstWord := strings.Fields(chunks[i].Text)[0]
		assert.Contains(t, chunks[i-1].Text, firstWord,
			"chunk %d must start inside the tail of chunk %d", i, i-1)
	}
}

func TestSplitWhitespaceFallback(t *testing.T) {
	// No sentence terminators at all: breaks fall back to whitespace, never
	// mid-word.
	text := strings.Repeat("word ", 300)
	chunks := Split(text, Config{ChunkSize: 16, ChunkOverlap: 0})
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		for _, w := range strings.Fields(c.Text) {
			assert.Equal(t, "word", w)
		}
	}
}

func TestSplitHardBreakOnUnbrokenText(t *testing.T) {
	text := strings.Repeat("x", 5000)
	chunks := Split(text, Config{ChunkSize: 256, ChunkOverlap: 0})
	require.Greater(t, len(chunks), 1)

	total := 0
	for _, c := range chunks {
		total += len(c.Text)
		assert.LessOrEqual(t, len(c.Text), 256*4)
	}
	assert.Equal(t, 5000, total)
}

func TestSplitHardBreakPreservesRunes(t *testing.T) {
	text := strings.Repeat("é", 3000) // 2-byte rune
	chunks := Split(text, Config{ChunkSize: 128, ChunkOverlap: 0})
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.True(t, strings.HasPrefix(c.Text, "é"))
		assert.Equal(t, 0, len(c.Text)%2)
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("Sentences vary in length. Some are short. Others carry on for quite a while before stopping. ", 50)
	cfg := Config{ChunkSize: 64, ChunkOverlap: 12}
	first := Split(text, cfg)
	second := Split(text, cfg)
	assert.Equal(t, first, second)
}

func TestSplitClampsExcessiveOverlap(t *testing.T) {
	// Overlap beyond half the chunk size is clamped rather than letting the
	// scan stall.
	text := strings.Repeat("alpha beta. ", 200)
	chunks := Split(text, Config{ChunkSize: 16, ChunkOverlap: 16})
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}
