package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/chunking"
	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/vectorindex"
)

// HyDE retrieves with a hypothetical answer instead of the raw query:
// a model-written answer document resembles stored passages more
// closely than a short question does.
type HyDE struct {
	strategyDeps
}

// NewHyDE creates the HyDE strategy.
func NewHyDE(embedder embedding.Embedder, index vectorindex.Index, client llm.Client, logger *zap.Logger) *HyDE {
	return &HyDE{strategyDeps: newStrategyDeps(embedder, index, client, logger, "rag.hyde")}
}

// Retrieve writes a hypothetical document for the query, embeds that
// document, and runs one fused query with its vectors.
func (h *HyDE) Retrieve(ctx context.Context, query, collection string, limit int, threshold float32) ([]Passage, error) {
	prompt := fmt.Sprintf("Generate a summary hypothetical document that could answer the following query:\nQuery: %s\nHypothetical Document:", query)
	doc, err := h.llm.Complete(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to generate hypothetical document: %w", err)
	}
	doc = strings.TrimSpace(doc)
	h.logger.Debug("Generated hypothetical document",
		zap.String("preview", chunking.Preview(doc, 120)))

	emb, err := h.embedder.Embed(ctx, doc)
	if err != nil {
		return nil, err
	}

	points, err := h.index.QueryFused(ctx, collection, emb.Dense, emb.Sparse, limit, threshold)
	if err != nil {
		return nil, err
	}
	return toPassages(points), nil
}

// Search runs hypothetical-document retrieval and synthesizes an
// answer to the original query.
func (h *HyDE) Search(ctx context.Context, query, collection string, limit int, threshold float32) (string, error) {
	passages, err := h.Retrieve(ctx, query, collection, limit, threshold)
	if err != nil {
		return "", err
	}
	return synthesize(ctx, h.llm, query, passages)
}
