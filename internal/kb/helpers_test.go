package kb

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/knowledge-agent-core/internal/config"
	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/rag"
	"github.com/knowledge-agent-core/internal/store"
	"github.com/knowledge-agent-core/internal/tools"
	"github.com/knowledge-agent-core/internal/vectorindex"
)

// memoryIndex is an in-memory vector index. Dense queries rank stored
// points by dot product; fused queries add sparse term overlap through
// reciprocal rank fusion, mirroring the server-side contract.
type memoryIndex struct {
	mu          sync.Mutex
	collections map[string]int
	points      map[string]map[string]vectorindex.Point
	deletes     []string
	failEnsure  bool
	failUpsert  bool
	failDelete  bool
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{
		collections: make(map[string]int),
		points:      make(map[string]map[string]vectorindex.Point),
	}
}

func (m *memoryIndex) EnsureCollection(_ context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEnsure {
		return fmt.Errorf("index unavailable")
	}
	m.collections[name] = dim
	if m.points[name] == nil {
		m.points[name] = make(map[string]vectorindex.Point)
	}
	return nil
}

func (m *memoryIndex) Upsert(_ context.Context, collection string, pts []vectorindex.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert {
		return fmt.Errorf("index unavailable")
	}
	if m.points[collection] == nil {
		m.points[collection] = make(map[string]vectorindex.Point)
	}
	for _, p := range pts {
		m.points[collection][p.ID] = p
	}
	return nil
}

func (m *memoryIndex) DeleteByDocument(_ context.Context, collection, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return fmt.Errorf("index unavailable")
	}
	m.deletes = append(m.deletes, documentID)
	for id, p := range m.points[collection] {
		if p.Payload.DocumentID == documentID {
			delete(m.points[collection], id)
		}
	}
	return nil
}

func (m *memoryIndex) Query(_ context.Context, collection string, dense []float32, limit int, threshold float32) ([]vectorindex.ScoredPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cut(m.rankDense(collection, dense), limit, threshold), nil
}

func (m *memoryIndex) QueryFused(_ context.Context, collection string, dense []float32, sparse embedding.SparseVector, limit int, threshold float32) ([]vectorindex.ScoredPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fused := make(map[string]float32)
	byID := make(map[string]vectorindex.ScoredPoint)
	for rank, p := range m.rankDense(collection, dense) {
		fused[p.ID] += 1.0 / float32(60+rank+1)
		byID[p.ID] = p
	}
	for rank, p := range m.rankSparse(collection, sparse) {
		fused[p.ID] += 1.0 / float32(60+rank+1)
		byID[p.ID] = p
	}

	out := make([]vectorindex.ScoredPoint, 0, len(fused))
	for id, score := range fused {
		p := byID[id]
		p.Score = score
		out = append(out, p)
	}
	sortPoints(out)
	return cut(out, limit, threshold), nil
}

func (m *memoryIndex) rankDense(collection string, dense []float32) []vectorindex.ScoredPoint {
	out := make([]vectorindex.ScoredPoint, 0, len(m.points[collection]))
	for _, p := range m.points[collection] {
		var dot float32
		for i := 0; i < len(dense) && i < len(p.Dense); i++ {
			dot += dense[i] * p.Dense[i]
		}
		out = append(out, vectorindex.ScoredPoint{ID: p.ID, Score: dot, Payload: p.Payload})
	}
	sortPoints(out)
	return out
}

func (m *memoryIndex) rankSparse(collection string, sparse embedding.SparseVector) []vectorindex.ScoredPoint {
	out := make([]vectorindex.ScoredPoint, 0, len(m.points[collection]))
	for _, p := range m.points[collection] {
		if dot := sparseDot(sparse, p.Sparse); dot > 0 {
			out = append(out, vectorindex.ScoredPoint{ID: p.ID, Score: dot, Payload: p.Payload})
		}
	}
	sortPoints(out)
	return out
}

func (m *memoryIndex) count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points[collection])
}

func (m *memoryIndex) ensuredDim(collection string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dim, ok := m.collections[collection]
	return dim, ok
}

func sortPoints(pts []vectorindex.ScoredPoint) {
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].Score == pts[j].Score {
			return pts[i].ID < pts[j].ID
		}
		return pts[i].Score > pts[j].Score
	})
}

func cut(ranked []vectorindex.ScoredPoint, limit int, threshold float32) []vectorindex.ScoredPoint {
	out := make([]vectorindex.ScoredPoint, 0, len(ranked))
	for _, p := range ranked {
		if threshold > 0 && p.Score < threshold {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func sparseDot(a, b embedding.SparseVector) float32 {
	var sum float32
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			sum += a.Values[i] * b.Values[j]
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// fakeEmbedder produces deterministic vectors derived from the text
// hash. failContains forces an error for any text containing the
// marker.
type fakeEmbedder struct {
	mu           sync.Mutex
	texts        []string
	failContains string
	encoder      *embedding.SparseEncoder
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{encoder: embedding.NewSparseEncoder()}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (embedding.Embedding, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	if f.failContains != "" && strings.Contains(text, f.failContains) {
		return embedding.Embedding{}, fmt.Errorf("embedding server unavailable")
	}

	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()
	dense := make([]float32, 4)
	for i := range dense {
		dense[i] = float32((seed>>(i*8))&0xff) / 255.0
	}
	return embedding.Embedding{Dense: dense, Sparse: f.encoder.Encode(text)}, nil
}

func (f *fakeEmbedder) Dimension() int { return 4 }

// scriptedLLM serves completions in order, repeating the last one, and
// records every prompt.
type scriptedLLM struct {
	mu        sync.Mutex
	prompts   []string
	responses []string
}

func (f *scriptedLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.Prompt)
	if len(f.responses) == 0 {
		return "ok", nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *scriptedLLM) CompleteStream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	resp, err := f.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.SimulateStream(ctx, resp, llm.DefaultStreamChunkSize), nil
}

func (f *scriptedLLM) seenPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type testEnv struct {
	svc      *Service
	store    *store.SQLite
	index    *memoryIndex
	embedder *fakeEmbedder
	llm      *scriptedLLM
	keyword  *tools.ChunkIndex
	cfg      *config.Config
}

// newTestEnv builds a service over a real SQLite store, an in-memory
// vector index and an in-memory keyword index. opts mutate the deps
// before construction.
func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	idx := newMemoryIndex()
	emb := newFakeEmbedder()
	model := &scriptedLLM{}

	engines, err := tools.NewEngines(rag.Deps{Embedder: emb, Index: idx, LLM: model, Logger: logger}, 8)
	require.NoError(t, err)

	kwCfg := tools.DefaultKeywordConfig()
	kwCfg.InMemory = true
	keyword, err := tools.NewChunkIndex(kwCfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = keyword.Close() })

	deps := Deps{
		KBs:      st,
		Docs:     st,
		Index:    idx,
		Embedder: emb,
		Engines:  engines,
		Keyword:  keyword,
		Logger:   logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	cfg := config.Default()
	cfg.ChunkSize = 160
	cfg.ChunkOverlap = 16

	return &testEnv{
		svc:      NewService(deps, cfg),
		store:    st,
		index:    idx,
		embedder: emb,
		llm:      model,
		keyword:  keyword,
		cfg:      cfg,
	}
}

func (e *testEnv) createKB(t *testing.T, name string) *store.KnowledgeBase {
	t.Helper()
	kb, err := e.svc.CreateKnowledgeBase(context.Background(), CreateParams{
		Name:        name,
		Description: "support articles",
	})
	require.NoError(t, err)
	return kb
}

func (e *testEnv) uploadText(t *testing.T, kbID, filename, text string) *store.Document {
	t.Helper()
	doc, err := e.svc.UploadDocument(context.Background(), UploadParams{
		KnowledgeBaseID: kbID,
		Filename:        filename,
		Data:            []byte(text),
	})
	require.NoError(t, err)
	return doc
}
