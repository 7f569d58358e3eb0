package embedding

import (
	"context"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/cache"
	"github.com/knowledge-agent-core/internal/jsonx"
)

// Service implements Embedder by pairing the HTTP dense client with
// the in-process sparse encoder. A cache, when present, short-circuits
// repeat embeds of the same text; cache trouble degrades to a
// recompute, never an error.
type Service struct {
	dense  *DenseClient
	sparse *SparseEncoder
	cache  *cache.TwoTier
	logger *zap.Logger
}

// NewService creates an embedding service. cacheTier may be nil.
func NewService(dense *DenseClient, cacheTier *cache.TwoTier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		dense:  dense,
		sparse: NewSparseEncoder(),
		cache:  cacheTier,
		logger: logger.Named("embedding"),
	}
}

// Embed returns the dense and sparse vectors for text.
func (s *Service) Embed(ctx context.Context, text string) (Embedding, error) {
	if s.cache == nil {
		return s.compute(ctx, text)
	}

	key := cache.Key("emb", s.dense.Model(), text)
	data, err := s.cache.GetOrCompute(ctx, key, func() ([]byte, error) {
		emb, err := s.compute(ctx, text)
		if err != nil {
			return nil, err
		}
		return jsonx.Marshal(emb)
	})
	if err != nil {
		return Embedding{}, err
	}

	var emb Embedding
	if err := jsonx.Unmarshal(data, &emb); err != nil {
		s.logger.Warn("Dropping unreadable cached embedding", zap.Error(err))
		s.cache.Delete(ctx, key)
		return s.compute(ctx, text)
	}
	return emb, nil
}

// Dimension returns the dense vector width.
func (s *Service) Dimension() int {
	return s.dense.Dimension()
}

func (s *Service) compute(ctx context.Context, text string) (Embedding, error) {
	dense, err := s.dense.Embed(ctx, text)
	if err != nil {
		return Embedding{}, err
	}
	return Embedding{
		Dense:  dense,
		Sparse: s.sparse.Encode(text),
	}, nil
}
