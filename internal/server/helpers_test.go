package server

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/knowledge-agent-core/internal/chat"
	"github.com/knowledge-agent-core/internal/config"
	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/jsonx"
	"github.com/knowledge-agent-core/internal/kb"
	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/mcp"
	"github.com/knowledge-agent-core/internal/rag"
	"github.com/knowledge-agent-core/internal/store"
	"github.com/knowledge-agent-core/internal/tools"
	"github.com/knowledge-agent-core/internal/vectorindex"
)

// memoryIndex is a minimal in-memory vector index; queries rank stored
// points by dot product and fused queries ignore the sparse leg.
type memoryIndex struct {
	mu     sync.Mutex
	points map[string]map[string]vectorindex.Point
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{points: make(map[string]map[string]vectorindex.Point)}
}

func (m *memoryIndex) EnsureCollection(_ context.Context, name string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.points[name] == nil {
		m.points[name] = make(map[string]vectorindex.Point)
	}
	return nil
}

func (m *memoryIndex) Upsert(_ context.Context, collection string, pts []vectorindex.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	for id, p := range m.points[collection] {
		if p.Payload.DocumentID == documentID {
			delete(m.points[collection], id)
		}
	}
	return nil
}

func (m *memoryIndex) Query(_ context.Context, collection string, dense []float32, limit int, _ float32) ([]vectorindex.ScoredPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]vectorindex.ScoredPoint, 0, len(m.points[collection]))
	for _, p := range m.points[collection] {
		var dot float32
		for i := 0; i < len(dense) && i < len(p.Dense); i++ {
			dot += dense[i] * p.Dense[i]
		}
		out = append(out, vectorindex.ScoredPoint{ID: p.ID, Score: dot, Payload: p.Payload})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryIndex) QueryFused(ctx context.Context, collection string, dense []float32, _ embedding.SparseVector, limit int, threshold float32) ([]vectorindex.ScoredPoint, error) {
	return m.Query(ctx, collection, dense, limit, threshold)
}

func (m *memoryIndex) count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points[collection])
}

// fakeEmbedder derives deterministic vectors from the text hash.
type fakeEmbedder struct {
	encoder *embedding.SparseEncoder
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{encoder: embedding.NewSparseEncoder()}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (embedding.Embedding, error) {
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

func (f *scriptedLLM) script(responses ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append([]string(nil), responses...)
	f.prompts = nil
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

type testServer struct {
	router *mux.Router
	store  *store.SQLite
	index  *memoryIndex
	model  *scriptedLLM
}

// newTestServer wires the full stack behind the router: a real SQLite
// store, an in-memory vector index, deterministic embeddings and a
// scripted model.
func newTestServer(t *testing.T) *testServer {
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

	cfg := config.Default()
	cfg.ChunkSize = 160
	cfg.ChunkOverlap = 16

	kbSvc := kb.NewService(kb.Deps{
		KBs:      st,
		Docs:     st,
		Index:    idx,
		Embedder: emb,
		Engines:  engines,
		Logger:   logger,
	}, cfg)

	chatSvc := chat.NewService(chat.Deps{
		Agents:        st,
		Groups:        st,
		Conversations: st,
		KBs:           st,
		LLM:           model,
		Tools:         kbSvc,
		Logger:        logger,
	})

	mcpSrv := mcp.NewServer(mcp.Config{Knowledge: kbSvc, Chat: chatSvc, Logger: logger})

	srv := NewServer(Deps{KB: kbSvc, Chat: chatSvc, MCP: mcpSrv, Logger: logger})
	return &testServer{router: srv.Router(), store: st, index: idx, model: model}
}

// do runs one request through the router. A non-nil body is sent as
// JSON.
func (e *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := jsonx.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testServer) decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), v))
}

// upload sends a multipart document upload.
func (e *testServer) upload(t *testing.T, kbID, filename, text string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/kb/%s/documents", kbID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testServer) createKB(t *testing.T, name string) store.KnowledgeBase {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/kb", CreateKBRequest{Name: name, RAGType: "naive"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var base store.KnowledgeBase
	e.decode(t, rec, &base)
	return base
}

func (e *testServer) createAgent(t *testing.T, name string, kbIDs ...string) store.AgentConfig {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/agents", CreateAgentRequest{
		Name:        name,
		Description: "answers " + name + " questions",
		KBIDs:       kbIDs,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var agent store.AgentConfig
	e.decode(t, rec, &agent)
	return agent
}

func (e *testServer) createConversation(t *testing.T, agentIDs ...string) store.Conversation {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/conversations", CreateConversationRequest{
		Title:    "support chat",
		AgentIDs: agentIDs,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var conv store.Conversation
	e.decode(t, rec, &conv)
	return conv
}
