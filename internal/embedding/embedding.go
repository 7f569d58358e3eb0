// Package embedding turns text into the dense and sparse vector pair
// the index stores. Dense vectors come from an embedding model served
// over HTTP; sparse vectors are computed in-process by a BM25-style
// term-weight encoder so that keyword signal survives without a second
// model call.
package embedding

import "context"

// SparseVector is a term-weighted vector in index/value form. Indices
// are hashed term identifiers sorted ascending; Values holds the
// matching weights.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Embedding carries both representations of one text.
type Embedding struct {
	Dense  []float32    `json:"dense"`
	Sparse SparseVector `json:"sparse"`
}

// Embedder produces embeddings for text.
type Embedder interface {
	// Embed returns the dense and sparse vectors for text.
	Embed(ctx context.Context, text string) (Embedding, error)

	// Dimension returns the dense vector width.
	Dimension() int
}
