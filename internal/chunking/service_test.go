package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog near the riverbank. ")
	}
	return b.String()
}

func TestChunkEmptyText(t *testing.T) {
	assert.Nil(t, New(nil).Chunk(""))
}

func TestChunkShortTextSinglePassage(t *testing.T) {
	text := "A single short passage."
	chunks := New(nil).Chunk(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 0, chunks[0].StartPos)
	assert.Equal(t, len(text), chunks[0].EndPos)
	assert.True(t, chunks[0].IsComplete)
}

func TestChunkSequentialIndexes(t *testing.T) {
	chunks := New(nil).Chunk(sentences(40))
	require.Greater(t, len(chunks), 2)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestChunkCoversSourceWithoutGaps(t *testing.T) {
	text := sentences(50)
	chunks := New(nil).Chunk(text)
	require.NotEmpty(t, chunks)

	assert.Equal(t, 0, chunks[0].StartPos)
	assert.Equal(t, len(text), chunks[len(chunks)-1].EndPos)

	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		// No gap: the next window starts at or before the previous end.
		assert.LessOrEqual(t, cur.StartPos, prev.EndPos)
		// Overlap bounded by configuration.
		assert.LessOrEqual(t, prev.EndPos-cur.StartPos, DefaultConfig().Overlap)
		// Always advancing.
		assert.Greater(t, cur.StartPos, prev.StartPos)
	}

	// Positions slice back to the chunk text.
	for _, c := range chunks {
		assert.Equal(t, text[c.StartPos:c.EndPos], c.Text)
		assert.Equal(t, c.EndPos-c.StartPos, c.CharCount)
	}
}

func TestChunkRespectsSentenceBoundaries(t *testing.T) {
	chunks := New(nil).Chunk(sentences(50))
	require.Greater(t, len(chunks), 1)

	// Every non-final chunk found a delimiter to split at.
	for _, c := range chunks[:len(chunks)-1] {
		assert.True(t, c.IsComplete)
		trimmed := strings.TrimRight(c.Text, " ")
		assert.True(t, strings.HasSuffix(trimmed, "."),
			"chunk should end at a sentence boundary, got %q", trimmed[len(trimmed)-10:])
	}
}

func TestChunkForwardFallback(t *testing.T) {
	// No delimiter inside the first window; the first one appears
	// beyond it.
	text := strings.Repeat("x", 600) + ". " + strings.Repeat("y", 200)
	chunks := New(nil).Chunk(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, 601, chunks[0].EndPos, "split lands just after the late delimiter")
	assert.True(t, chunks[0].IsComplete)
}

func TestChunkNoDelimitersAtAll(t *testing.T) {
	text := strings.Repeat("z", 2000)
	chunks := New(nil).Chunk(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.False(t, chunks[0].IsComplete)
}

func TestChunkAdvancesWhenOverlapExceedsChunk(t *testing.T) {
	cfg := &Config{
		ChunkSize:       10,
		Delimiters:      []byte{'.'},
		ForwardFallback: true,
		Overlap:         20,
		MinChunkSize:    1,
	}
	text := strings.Repeat("ab.", 40)

	chunks := New(cfg).Chunk(text)
	require.NotEmpty(t, chunks)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].StartPos, chunks[i-1].StartPos)
	}
	assert.Equal(t, len(text), chunks[len(chunks)-1].EndPos)
}

func TestMarkdownConfigSplitsAtStructure(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("# Heading\nSome body text under the heading with enough words to fill space\n")
	}
	chunks := NewMarkdown(256, 32).Chunk(b.String())
	assert.Greater(t, len(chunks), 1)
}

func TestGetStats(t *testing.T) {
	chunks := New(nil).Chunk(sentences(30))
	stats := GetStats(chunks)

	assert.Equal(t, len(chunks), stats.TotalChunks)
	assert.Greater(t, stats.AvgCharCount, 0.0)
	assert.LessOrEqual(t, stats.CompleteCount, stats.TotalChunks)

	total := 0
	for _, c := range chunks {
		total += c.CharCount
	}
	assert.Equal(t, total, stats.TotalChars)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short", 100))
	long := Preview("alpha beta gamma delta epsilon", 12)
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.LessOrEqual(t, len(long), 15)
}
