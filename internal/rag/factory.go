package rag

import (
	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/vectorindex"
)

// Deps bundles the collaborators a strategy needs.
type Deps struct {
	Embedder embedding.Embedder
	Index    vectorindex.Index
	LLM      llm.Client
	Logger   *zap.Logger
}

// NewStrategy builds the strategy for ragType. Unknown types fall back
// to Naive with a warning instead of failing, so a bad configuration
// value still answers questions.
func NewStrategy(ragType RAGType, deps Deps) Strategy {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch ragType {
	case TypeNaive:
		return NewNaive(deps.Embedder, deps.Index, deps.LLM, logger)
	case TypeHybrid:
		return NewHybrid(deps.Embedder, deps.Index, deps.LLM, logger)
	case TypeFusion:
		return NewFusion(deps.Embedder, deps.Index, deps.LLM, logger)
	case TypeHyDE:
		return NewHyDE(deps.Embedder, deps.Index, deps.LLM, logger)
	default:
		logger.Warn("Unknown retrieval strategy, falling back to naive",
			zap.String("rag_type", string(ragType)))
		return NewNaive(deps.Embedder, deps.Index, deps.LLM, logger)
	}
}
