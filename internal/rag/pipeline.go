package rag

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/knowledge-agent-core/internal/chunking"
	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/vectorindex"
)

// chunkIDNamespace anchors the derived chunk ids.
var chunkIDNamespace = uuid.MustParse("8c6f5f3a-0d94-45e2-9b8a-4f1dd2c7a6b1")

// ChunkID derives the stable identifier for a chunk position. The
// same document id and index always map to the same id, so
// re-indexing overwrites entries instead of duplicating them.
func ChunkID(documentID string, index int) string {
	return uuid.NewSHA1(chunkIDNamespace, []byte(documentID+":"+strconv.Itoa(index))).String()
}

// PipelineConfig tunes the indexing pipeline.
type PipelineConfig struct {
	// Concurrency bounds parallel embedding calls. At 1 chunks are
	// embedded and upserted strictly in order.
	Concurrency int
}

// Pipeline ingests documents: chunk, embed, ensure collection, upsert.
type Pipeline struct {
	chunker     *chunking.Chunker
	embedder    embedding.Embedder
	index       vectorindex.Index
	concurrency int
	logger      *zap.Logger
}

// NewPipeline creates an indexing pipeline.
func NewPipeline(chunker *chunking.Chunker, embedder embedding.Embedder, index vectorindex.Index, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if chunker == nil {
		chunker = chunking.New(nil)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		chunker:     chunker,
		embedder:    embedder,
		index:       index,
		concurrency: cfg.Concurrency,
		logger:      logger.Named("pipeline"),
	}
}

// Index ingests one document into collection. A missing documentID is
// generated. Failure on any chunk aborts the remaining chunks and
// propagates; chunks already upserted stay in the index, which is safe
// to retry because ids are deterministic and upserts overwrite.
func (p *Pipeline) Index(ctx context.Context, text, collection, documentID string, metadata map[string]interface{}) ([]Chunk, error) {
	if documentID == "" {
		documentID = uuid.New().String()
	}

	results := p.chunker.Chunk(text)
	if len(results) == 0 {
		p.logger.Warn("Document produced no chunks",
			zap.String("document_id", documentID),
			zap.String("collection", collection))
		return nil, nil
	}

	chunks := make([]Chunk, len(results))
	for i, r := range results {
		id := ChunkID(documentID, r.Index)
		md := make(map[string]interface{}, len(metadata)+1)
		for k, v := range metadata {
			md[k] = v
		}
		md["chunk_id"] = id
		chunks[i] = Chunk{
			ID:         id,
			DocumentID: documentID,
			Content:    r.Text,
			Index:      r.Index,
			Metadata:   md,
		}
	}

	var err error
	if p.concurrency > 1 {
		err = p.indexParallel(ctx, collection, chunks)
	} else {
		err = p.indexSequential(ctx, collection, documentID, chunks)
	}
	if err != nil {
		return nil, err
	}

	stats := chunking.GetStats(results)
	p.logger.Info("Indexed document",
		zap.String("document_id", documentID),
		zap.String("collection", collection),
		zap.Int("chunks", stats.TotalChunks),
		zap.Float64("avg_chunk_chars", stats.AvgCharCount))
	return chunks, nil
}

func (p *Pipeline) indexSequential(ctx context.Context, collection, documentID string, chunks []Chunk) error {
	for i := range chunks {
		emb, err := p.embedder.Embed(ctx, chunks[i].Content)
		if err != nil {
			return fmt.Errorf("failed to embed chunk %d of document %s: %w", i, documentID, err)
		}
		chunks[i].Dense = emb.Dense
		chunks[i].Sparse = emb.Sparse

		// The collection must exist before the first upsert that
		// references it.
		if i == 0 {
			if err := p.index.EnsureCollection(ctx, collection, len(emb.Dense)); err != nil {
				return err
			}
		}

		if err := p.index.Upsert(ctx, collection, []vectorindex.Point{pointFromChunk(chunks[i])}); err != nil {
			return fmt.Errorf("failed to index chunk %d of document %s: %w", i, documentID, err)
		}
	}
	return nil
}

// indexParallel embeds chunks concurrently, then applies all upserts
// in chunk order once the collection exists.
func (p *Pipeline) indexParallel(ctx context.Context, collection string, chunks []Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range chunks {
		g.Go(func() error {
			emb, err := p.embedder.Embed(gctx, chunks[i].Content)
			if err != nil {
				return fmt.Errorf("failed to embed chunk %d of document %s: %w", i, chunks[i].DocumentID, err)
			}
			chunks[i].Dense = emb.Dense
			chunks[i].Sparse = emb.Sparse
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := p.index.EnsureCollection(ctx, collection, len(chunks[0].Dense)); err != nil {
		return err
	}

	points := make([]vectorindex.Point, len(chunks))
	for i := range chunks {
		points[i] = pointFromChunk(chunks[i])
	}
	if err := p.index.Upsert(ctx, collection, points); err != nil {
		return fmt.Errorf("failed to index document %s: %w", chunks[0].DocumentID, err)
	}
	return nil
}

// Delete removes every index entry belonging to documentID.
func (p *Pipeline) Delete(ctx context.Context, collection, documentID string) error {
	if err := p.index.DeleteByDocument(ctx, collection, documentID); err != nil {
		return fmt.Errorf("failed to delete document %s from %s: %w", documentID, collection, err)
	}
	p.logger.Info("Deleted document from index",
		zap.String("document_id", documentID),
		zap.String("collection", collection))
	return nil
}

func pointFromChunk(c Chunk) vectorindex.Point {
	return vectorindex.Point{
		ID:     c.ID,
		Dense:  c.Dense,
		Sparse: c.Sparse,
		Payload: vectorindex.Payload{
			DocumentID: c.DocumentID,
			Text:       c.Content,
		},
	}
}
