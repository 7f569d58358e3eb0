package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/knowledge-agent-core/internal/chunking"
)

func testChunker() *chunking.Chunker {
	return chunking.New(&chunking.Config{
		ChunkSize:       80,
		Delimiters:      []byte{'.', '\n'},
		ForwardFallback: true,
		Overlap:         10,
		MinChunkSize:    20,
	})
}

func testDocument() string {
	return strings.Repeat("Queues in the billing system drain within five seconds of a burst. ", 6)
}

func newTestPipeline(t *testing.T, cfg PipelineConfig) (*Pipeline, *fakeEmbedder, *fakeIndex) {
	t.Helper()
	embedder := newFakeEmbedder()
	index := newFakeIndex()
	p := NewPipeline(testChunker(), embedder, index, cfg, zaptest.NewLogger(t))
	return p, embedder, index
}

func TestChunkIDDeterministic(t *testing.T) {
	assert.Equal(t, ChunkID("doc-1", 0), ChunkID("doc-1", 0))
	assert.NotEqual(t, ChunkID("doc-1", 0), ChunkID("doc-1", 1))
	assert.NotEqual(t, ChunkID("doc-1", 0), ChunkID("doc-2", 0))
}

func TestPipelineIndexSequential(t *testing.T) {
	p, embedder, index := newTestPipeline(t, PipelineConfig{})

	chunks, err := p.Index(context.Background(), testDocument(), "kb-1", "doc-1",
		map[string]interface{}{"source": "upload.txt"})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Collection ensured exactly once, sized to the dense dimension.
	assert.Equal(t, 1, index.ensureCalls)
	assert.Equal(t, 4, index.ensured["kb-1"])

	// One upsert per chunk, in chunk order, keyed by derived ids.
	require.Len(t, index.upsertCalls, len(chunks))
	for i, call := range index.upsertCalls {
		require.Len(t, call, 1)
		assert.Equal(t, ChunkID("doc-1", i), call[0].ID)
		assert.Equal(t, "doc-1", call[0].Payload.DocumentID)
		assert.Equal(t, chunks[i].Content, call[0].Payload.Text)
	}

	// Chunks carry embeddings, sequential indexes and merged metadata.
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.NotEmpty(t, c.Dense)
		assert.Equal(t, "upload.txt", c.Metadata["source"])
		assert.Equal(t, c.ID, c.Metadata["chunk_id"])
	}

	assert.Len(t, embedder.embeddedTexts(), len(chunks))
}

func TestPipelineGeneratesDocumentID(t *testing.T) {
	p, _, _ := newTestPipeline(t, PipelineConfig{})

	chunks, err := p.Index(context.Background(), testDocument(), "kb-1", "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	id := chunks[0].DocumentID
	assert.NotEmpty(t, id)
	for _, c := range chunks {
		assert.Equal(t, id, c.DocumentID)
	}
}

func TestPipelineEmptyTextIsNoop(t *testing.T) {
	p, embedder, index := newTestPipeline(t, PipelineConfig{})

	chunks, err := p.Index(context.Background(), "", "kb-1", "doc-1", nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Empty(t, embedder.embeddedTexts())
	assert.Zero(t, index.ensureCalls)
}

func TestPipelineAbortsOnEmbedFailure(t *testing.T) {
	p, embedder, index := newTestPipeline(t, PipelineConfig{})

	// Fail on whichever text the second chunk carries.
	probe, err := p.Index(context.Background(), testDocument(), "probe", "doc-probe", nil)
	require.NoError(t, err)
	require.Greater(t, len(probe), 1)
	embedder.failOn = probe[1].Content
	before := len(index.upsertCalls)

	_, err = p.Index(context.Background(), testDocument(), "kb-1", "doc-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to embed chunk 1")

	// Only the first chunk was upserted before the abort.
	assert.Len(t, index.upsertCalls, before+1)
}

func TestPipelineAbortsOnUpsertFailure(t *testing.T) {
	p, _, index := newTestPipeline(t, PipelineConfig{})
	index.failUpsertAt = 1

	_, err := p.Index(context.Background(), testDocument(), "kb-1", "doc-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to index chunk 1")
	assert.Len(t, index.upsertCalls, 1)
}

func TestPipelineReindexOverwrites(t *testing.T) {
	p, _, index := newTestPipeline(t, PipelineConfig{})
	ctx := context.Background()

	first, err := p.Index(ctx, testDocument(), "kb-1", "doc-1", nil)
	require.NoError(t, err)
	countAfterFirst := len(index.points)

	second, err := p.Index(ctx, testDocument(), "kb-1", "doc-1", nil)
	require.NoError(t, err)

	// Same ids, same point count: entries overwrite, never duplicate.
	assert.Equal(t, countAfterFirst, len(index.points))
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestPipelineParallelEmbedding(t *testing.T) {
	p, embedder, index := newTestPipeline(t, PipelineConfig{Concurrency: 4})

	chunks, err := p.Index(context.Background(), testDocument(), "kb-1", "doc-1", nil)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	assert.Len(t, embedder.embeddedTexts(), len(chunks))
	assert.Equal(t, 1, index.ensureCalls)

	// All points land in one ordered upsert after the collection
	// exists.
	require.Len(t, index.upsertCalls, 1)
	require.Len(t, index.upsertCalls[0], len(chunks))
	for i, point := range index.upsertCalls[0] {
		assert.Equal(t, ChunkID("doc-1", i), point.ID)
	}

	for _, c := range chunks {
		assert.NotEmpty(t, c.Dense)
	}
}

func TestPipelineDelete(t *testing.T) {
	p, _, index := newTestPipeline(t, PipelineConfig{})
	ctx := context.Background()

	_, err := p.Index(ctx, testDocument(), "kb-1", "doc-1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, index.points)

	require.NoError(t, p.Delete(ctx, "kb-1", "doc-1"))
	assert.Equal(t, []string{"doc-1"}, index.deleted)
	assert.Empty(t, index.points)
}
