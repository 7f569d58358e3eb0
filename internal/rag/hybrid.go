package rag

import (
	"context"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/vectorindex"
)

// Hybrid fuses dense similarity with sparse keyword matching in a
// single server-side query, so passages that match either signal rank
// by their combined reciprocal rank.
type Hybrid struct {
	strategyDeps
}

// NewHybrid creates the hybrid strategy.
func NewHybrid(embedder embedding.Embedder, index vectorindex.Index, client llm.Client, logger *zap.Logger) *Hybrid {
	return &Hybrid{strategyDeps: newStrategyDeps(embedder, index, client, logger, "rag.hybrid")}
}

// Retrieve returns the top passages of one fused dense+sparse query.
func (h *Hybrid) Retrieve(ctx context.Context, query, collection string, limit int, threshold float32) ([]Passage, error) {
	emb, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	points, err := h.index.QueryFused(ctx, collection, emb.Dense, emb.Sparse, limit, threshold)
	if err != nil {
		return nil, err
	}
	return toPassages(points), nil
}

// Search retrieves fused context and synthesizes an answer.
func (h *Hybrid) Search(ctx context.Context, query, collection string, limit int, threshold float32) (string, error) {
	passages, err := h.Retrieve(ctx, query, collection, limit, threshold)
	if err != nil {
		return "", err
	}
	h.logger.Debug("Retrieved fused context",
		zap.String("collection", collection),
		zap.Int("passages", len(passages)))
	return synthesize(ctx, h.llm, query, passages)
}
