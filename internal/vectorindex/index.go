// Package vectorindex provides the client contract for the external
// vector database holding chunk embeddings. Collections are isolated
// namespaces, one per knowledge base; entries are keyed by chunk id
// and carry the owning document id in their payload so a document
// delete can cascade.
package vectorindex

import (
	"context"

	"github.com/knowledge-agent-core/internal/embedding"
)

// Payload is the stored metadata of an index entry.
type Payload struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
}

// Point is one entry to upsert: a chunk id with its vectors and
// payload.
type Point struct {
	ID      string
	Dense   []float32
	Sparse  embedding.SparseVector
	Payload Payload
}

// ScoredPoint is one query result.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload Payload
}

// Index is the narrow contract the pipeline and retrieval strategies
// depend on.
type Index interface {
	// EnsureCollection creates the collection when absent, sized to
	// dim dense dimensions. Idempotent: an existing collection, or a
	// conflict from a concurrent creator, is success.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert writes points keyed by their ids. Re-upserting an id
	// overwrites the entry.
	Upsert(ctx context.Context, collection string, points []Point) error

	// DeleteByDocument removes every entry whose payload references
	// documentID.
	DeleteByDocument(ctx context.Context, collection, documentID string) error

	// Query runs a dense similarity search. threshold <= 0 disables
	// score filtering.
	Query(ctx context.Context, collection string, dense []float32, limit int, threshold float32) ([]ScoredPoint, error)

	// QueryFused runs dense and sparse searches fused server-side by
	// reciprocal rank. threshold <= 0 disables score filtering.
	QueryFused(ctx context.Context, collection string, dense []float32, sparse embedding.SparseVector, limit int, threshold float32) ([]ScoredPoint, error)
}
