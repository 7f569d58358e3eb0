package rag

import (
	"context"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/vectorindex"
)

// strategyDeps are the collaborators every retrieval strategy shares.
type strategyDeps struct {
	embedder embedding.Embedder
	index    vectorindex.Index
	llm      llm.Client
	logger   *zap.Logger
}

func newStrategyDeps(embedder embedding.Embedder, index vectorindex.Index, client llm.Client, logger *zap.Logger, name string) strategyDeps {
	if logger == nil {
		logger = zap.NewNop()
	}
	return strategyDeps{
		embedder: embedder,
		index:    index,
		llm:      client,
		logger:   logger.Named(name),
	}
}

// Naive is the baseline strategy: dense-only similarity search over
// the raw query, then synthesis.
type Naive struct {
	strategyDeps
}

// NewNaive creates the naive strategy.
func NewNaive(embedder embedding.Embedder, index vectorindex.Index, client llm.Client, logger *zap.Logger) *Naive {
	return &Naive{strategyDeps: newStrategyDeps(embedder, index, client, logger, "rag.naive")}
}

// Retrieve returns the top passages by dense similarity.
func (n *Naive) Retrieve(ctx context.Context, query, collection string, limit int, threshold float32) ([]Passage, error) {
	emb, err := n.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	points, err := n.index.Query(ctx, collection, emb.Dense, limit, threshold)
	if err != nil {
		return nil, err
	}
	return toPassages(points), nil
}

// Search retrieves context and synthesizes an answer.
func (n *Naive) Search(ctx context.Context, query, collection string, limit int, threshold float32) (string, error) {
	passages, err := n.Retrieve(ctx, query, collection, limit, threshold)
	if err != nil {
		return "", err
	}
	n.logger.Debug("Retrieved context",
		zap.String("collection", collection),
		zap.Int("passages", len(passages)))
	return synthesize(ctx, n.llm, query, passages)
}
