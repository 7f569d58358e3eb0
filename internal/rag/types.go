// Package rag implements document ingestion and retrieval-augmented
// answering over a vector index. The indexing pipeline turns raw text
// into embedded chunks; pluggable strategies turn a question into
// ranked context passages and a synthesized answer.
package rag

import (
	"context"

	"github.com/knowledge-agent-core/internal/embedding"
)

// RAGType selects a retrieval strategy.
type RAGType string

const (
	TypeNaive  RAGType = "naive"
	TypeHybrid RAGType = "hybrid"
	TypeFusion RAGType = "fusion"
	TypeHyDE   RAGType = "hyde"
)

// Chunk is one embedded passage of a document. Chunks are immutable
// once created; reprocessing a document produces new chunks that
// overwrite by id.
type Chunk struct {
	ID         string                 `json:"chunk_id"`
	DocumentID string                 `json:"document_id"`
	Content    string                 `json:"content"`
	Index      int                    `json:"chunk_index"`
	Dense      []float32              `json:"-"`
	Sparse     embedding.SparseVector `json:"-"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Passage is one retrieved context candidate.
type Passage struct {
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
	DocumentID string  `json:"document_id"`
}

// Strategy answers questions from a collection. Search returns the
// synthesized answer; Retrieve exposes the surviving passages for
// callers that need the raw context.
type Strategy interface {
	Search(ctx context.Context, query, collection string, limit int, threshold float32) (string, error)
	Retrieve(ctx context.Context, query, collection string, limit int, threshold float32) ([]Passage, error)
}
