package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunker_Defaults(t *testing.T) {
	c := NewChunker(Config{})
	assert.Equal(t, DefaultMaxChunkSize, c.maxChunkSize)
	assert.Equal(t, 0, c.overlapSize)

	c = NewChunker(Config{MaxChunkSize: 500, OverlapSize: 50})
	assert.Equal(t, 500, c.maxChunkSize)
	assert.Equal(t, 50, c.overlapSize)

	c = NewChunker(Config{MaxChunkSize: 500, OverlapSize: -1})
	assert.Equal(t, 0, c.overlapSize)
}

func TestChunker_Chunk_EmptyInput(t *testing.T) {
	c := NewChunker(Config{MaxChunkSize: 100})

	chunks := c.Chunk("")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "", chunks[0].Text)

	chunks = c.Chunk("   \n\t  ")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "", chunks[0].Text)
}

func TestChunker_Chunk_SingleChunkWhenTextFits(t *testing.T) {
	c := NewChunker(Config{MaxChunkSize: 1000})

	chunks := c.Chunk("Mr. Smith went home. He was tired.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Mr. Smith went home. He was tired.", chunks[0].Text)
}

func TestChunker_Chunk_AbbreviationDoesNotBreakSentence(t *testing.T) {
	// Window too small for both sentences, so each lands in its own
	// chunk. "Mr." must stay attached to its sentence.
	c := NewChunker(Config{MaxChunkSize: 25})

	chunks := c.Chunk("Mr. Smith went home. He was tired.")
	require.Len(t, chunks, 2)
	assert.Equal(t, "Mr. Smith went home.", chunks[0].Text)
	assert.Equal(t, "He was tired.", chunks[1].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestChunker_Chunk_ZeroOverlapConcatenation(t *testing.T) {
	text := "The quick brown fox jumps. A lazy dog sleeps. Rain falls on the hills. Children play outside."
	c := NewChunker(Config{MaxChunkSize: 30})

	chunks := c.Chunk(text)
	require.Greater(t, len(chunks), 1)

	var parts []string
	for _, chunk := range chunks {
		parts = append(parts, chunk.Text)
	}
	assert.Equal(t, text, strings.Join(parts, " "))
}

func TestChunker_Chunk_MaxSizeRespected(t *testing.T) {
	text := strings.Repeat("Seven words fill one short test sentence. ", 40)
	c := NewChunker(Config{MaxChunkSize: 100, OverlapSize: 20})

	chunks := c.Chunk(text)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Text), 100)
	}
}

func TestChunker_Chunk_IndicesContiguous(t *testing.T) {
	text := strings.Repeat("Seven words fill one short test sentence. ", 40)
	c := NewChunker(Config{MaxChunkSize: 100, OverlapSize: 20})

	chunks := c.Chunk(text)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
	}
}

func TestChunker_Chunk_OverlapSeedsNextChunk(t *testing.T) {
	c := NewChunker(Config{MaxChunkSize: 30, OverlapSize: 10})

	chunks := c.Chunk("aaa bbb ccc dddd. Eee fff ggg hhh.")
	require.Len(t, chunks, 2)

	// Tail words "ccc dddd." (9 chars plus separator accounting) fit
	// the 10 char overlap budget and seed the second chunk.
	assert.Equal(t, "aaa bbb ccc dddd.", chunks[0].Text)
	assert.Equal(t, "ccc dddd. Eee fff ggg hhh.", chunks[1].Text)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "ccc dddd."))
	assert.True(t, strings.HasPrefix(chunks[1].Text, "ccc dddd."))
}

func TestChunker_Chunk_OversizedSentenceSplitsOnWords(t *testing.T) {
	sentence := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	c := NewChunker(Config{MaxChunkSize: 20})

	chunks := c.Chunk(sentence)
	require.Greater(t, len(chunks), 1)

	var parts []string
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Text), 20)
		parts = append(parts, chunk.Text)
	}
	assert.Equal(t, sentence, strings.Join(parts, " "))
}

func TestChunker_Chunk_OversizedWordForceSplit(t *testing.T) {
	word := strings.Repeat("x", 45)
	c := NewChunker(Config{MaxChunkSize: 20})

	chunks := c.Chunk(word)
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("x", 20), chunks[0].Text)
	assert.Equal(t, strings.Repeat("x", 20), chunks[1].Text)
	assert.Equal(t, strings.Repeat("x", 5), chunks[2].Text)
	assert.Equal(t, []int{0, 1, 2}, []int{chunks[0].Index, chunks[1].Index, chunks[2].Index})
}

func TestChunker_Chunk_BufferFlushedBeforeOversizedSentence(t *testing.T) {
	// The short sentence must be emitted before the long one's pieces
	// so chunk order follows sentence order.
	text := "Short first. " + strings.Repeat("y", 50)
	c := NewChunker(Config{MaxChunkSize: 20})

	chunks := c.Chunk(text)
	require.GreaterOrEqual(t, len(chunks), 3)
	assert.Equal(t, "Short first.", chunks[0].Text)
	assert.Equal(t, strings.Repeat("y", 20), chunks[1].Text)
}

func TestSplitSentences_Boundaries(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "two-letter abbreviation",
			text: "Mr. Smith went home. He was tired.",
			want: []string{"Mr. Smith went home.", "He was tired."},
		},
		{
			name: "dotted abbreviation",
			text: "See e.g. the appendix. Then sign it.",
			want: []string{"See e.g. the appendix.", "Then sign it."},
		},
		{
			name: "single initial",
			text: "J. Smith signed the deal. Payment follows.",
			want: []string{"J. Smith signed the deal.", "Payment follows."},
		},
		{
			name: "short token before lowercase",
			text: "Bring pens, paper, etc. and arrive early.",
			want: []string{"Bring pens, paper, etc. and arrive early."},
		},
		{
			name: "question and exclamation",
			text: "Really! Is that so? Fine.",
			want: []string{"Really!", "Is that so?", "Fine."},
		},
		{
			name: "ellipsis",
			text: "We waited... Then we left.",
			want: []string{"We waited...", "Then we left."},
		},
		{
			name: "ordinary words split",
			text: "The deal closed. The payment cleared.",
			want: []string{"The deal closed.", "The payment cleared."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitSentences(tt.text))
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}
