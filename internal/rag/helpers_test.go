package rag

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/vectorindex"
)

// fakeEmbedder produces deterministic vectors derived from the text
// hash and records every embedded text.
type fakeEmbedder struct {
	mu      sync.Mutex
	texts   []string
	failOn  string
	encoder *embedding.SparseEncoder
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{encoder: embedding.NewSparseEncoder()}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (embedding.Embedding, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	if f.failOn != "" && text == f.failOn {
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

func (f *fakeEmbedder) embeddedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type queryCall struct {
	collection string
	limit      int
	threshold  float32
	fused      bool
	hasSparse  bool
}

// fakeIndex records writes and serves scripted query results.
type fakeIndex struct {
	mu           sync.Mutex
	ensured      map[string]int
	ensureCalls  int
	upsertCalls  [][]vectorindex.Point
	points       map[string]vectorindex.Point
	deleted      []string
	queries      []queryCall
	queryResults [][]vectorindex.ScoredPoint
	failUpsertAt int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		ensured:      make(map[string]int),
		points:       make(map[string]vectorindex.Point),
		failUpsertAt: -1,
	}
}

func (f *fakeIndex) EnsureCollection(_ context.Context, name string, dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	f.ensured[name] = dim
	return nil
}

func (f *fakeIndex) Upsert(_ context.Context, collection string, points []vectorindex.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsertAt >= 0 && len(f.upsertCalls) == f.failUpsertAt {
		return fmt.Errorf("upsert rejected")
	}
	f.upsertCalls = append(f.upsertCalls, points)
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeIndex) DeleteByDocument(_ context.Context, collection, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, documentID)
	for id, p := range f.points {
		if p.Payload.DocumentID == documentID {
			delete(f.points, id)
		}
	}
	return nil
}

func (f *fakeIndex) nextResult() []vectorindex.ScoredPoint {
	if len(f.queryResults) == 0 {
		return nil
	}
	result := f.queryResults[0]
	f.queryResults = f.queryResults[1:]
	return result
}

func (f *fakeIndex) Query(_ context.Context, collection string, _ []float32, limit int, threshold float32) ([]vectorindex.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, queryCall{collection: collection, limit: limit, threshold: threshold})
	return f.nextResult(), nil
}

func (f *fakeIndex) QueryFused(_ context.Context, collection string, _ []float32, sparse embedding.SparseVector, limit int, threshold float32) ([]vectorindex.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, queryCall{
		collection: collection,
		limit:      limit,
		threshold:  threshold,
		fused:      true,
		hasSparse:  len(sparse.Indices) > 0,
	})
	return f.nextResult(), nil
}

// fakeLLM serves scripted completions in order, repeating the last
// one, and records every prompt.
type fakeLLM struct {
	mu        sync.Mutex
	prompts   []string
	responses []string
	err       error
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
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

func (f *fakeLLM) CompleteStream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	resp, err := f.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.SimulateStream(ctx, resp, llm.DefaultStreamChunkSize), nil
}

func (f *fakeLLM) seenPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func scored(id, doc, text string, score float32) vectorindex.ScoredPoint {
	return vectorindex.ScoredPoint{
		ID:    id,
		Score: score,
		Payload: vectorindex.Payload{
			DocumentID: doc,
			Text:       text,
		},
	}
}
