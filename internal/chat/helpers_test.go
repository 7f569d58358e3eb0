package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/store"
	"github.com/knowledge-agent-core/internal/tools"
)

// scriptedClient replays canned completions in order, repeating the
// last one, and records every prompt it sees.
type scriptedClient struct {
	mu        sync.Mutex
	responses []string
	calls     int
	prompts   []string
}

func (c *scriptedClient) Complete(_ context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, req.Prompt)
	idx := c.calls
	c.calls++
	if len(c.responses) == 0 {
		return "ok", nil
	}
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	return c.responses[idx], nil
}

func (c *scriptedClient) CompleteStream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	text, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.SimulateStream(ctx, text, llm.DefaultStreamChunkSize), nil
}

func (c *scriptedClient) script(responses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = responses
	c.calls = 0
	c.prompts = nil
}

func (c *scriptedClient) seenPrompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// stubTools hands out one canned search tool and records the knowledge
// base ids each request asked for.
type stubTools struct {
	mu     sync.Mutex
	asked  [][]string
	result string
}

func (s *stubTools) RetrievalTools(_ context.Context, kbIDs []string) ([]tools.Tool, error) {
	s.mu.Lock()
	s.asked = append(s.asked, append([]string(nil), kbIDs...))
	s.mu.Unlock()

	return []tools.Tool{{
		Name:        "search_notes",
		Description: "Search the notes knowledge base",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string"},
			},
		},
		Handler: func(context.Context, map[string]interface{}) (string, error) {
			return s.result, nil
		},
	}}, nil
}

func (s *stubTools) requested() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.asked...)
}

type testEnv struct {
	svc    *Service
	store  *store.SQLite
	client *scriptedClient
	tools  *stubTools
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client := &scriptedClient{}
	stub := &stubTools{result: "Refunds are issued within five business days."}

	svc := NewService(Deps{
		Agents:        st,
		Groups:        st,
		Conversations: st,
		KBs:           st,
		LLM:           client,
		Tools:         stub,
		Logger:        logger,
	})
	return &testEnv{svc: svc, store: st, client: client, tools: stub}
}

func (e *testEnv) seedKB(t *testing.T, id string) *store.KnowledgeBase {
	t.Helper()
	kb := &store.KnowledgeBase{
		ID:           id,
		Name:         "Support KB",
		RAGType:      "hybrid",
		ChunkSize:    512,
		ChunkOverlap: 64,
		IsActive:     true,
	}
	require.NoError(t, e.store.CreateKnowledgeBase(context.Background(), kb))
	return kb
}

func (e *testEnv) createAgent(t *testing.T, name string, kbIDs ...string) *store.AgentConfig {
	t.Helper()
	cfg, err := e.svc.CreateAgent(context.Background(), AgentParams{
		Name:        name,
		Description: "answers " + name + " questions",
		AgentType:   AgentTypeReAct,
		KBIDs:       kbIDs,
	})
	require.NoError(t, err)
	return cfg
}

func (e *testEnv) createConversation(t *testing.T, agentIDs ...string) *store.Conversation {
	t.Helper()
	conv, err := e.svc.CreateConversation(context.Background(), "support chat", agentIDs)
	require.NoError(t, err)
	return conv
}
