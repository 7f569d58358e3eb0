package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/knowledge-agent-core/internal/jsonx"
)

func TestRouterOllamaChat(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := jsonx.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": {"role": "assistant", "content": "hello from local"}}`))
	}))
	defer srv.Close()

	router := NewRouter(&Config{
		OllamaURL:       srv.URL,
		DefaultProvider: ProviderOllama,
	}, zaptest.NewLogger(t))

	content, err := router.Complete(context.Background(), Request{
		System: "You are terse.",
		Prompt: "Say hello.",
		History: []Message{
			{Role: RoleUser, Content: "earlier turn"},
			{Role: RoleAssistant, Content: "earlier answer"},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if content != "hello from local" {
		t.Errorf("got %q", content)
	}

	messages, ok := gotBody["messages"].([]interface{})
	if !ok {
		t.Fatalf("request had no messages array: %v", gotBody)
	}
	// system + two history turns + prompt
	if len(messages) != 4 {
		t.Errorf("expected 4 messages, got %d", len(messages))
	}
	first := messages[0].(map[string]interface{})
	if first["role"] != "system" {
		t.Errorf("expected system message first, got %v", first["role"])
	}
}

func TestRouterErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	router := NewRouter(&Config{OllamaURL: srv.URL, DefaultProvider: ProviderOllama}, zaptest.NewLogger(t))

	_, err := router.Complete(context.Background(), Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
	if !strings.Contains(err.Error(), "status 404") {
		t.Errorf("error should carry status: %v", err)
	}
}

func TestExtractContentShapes(t *testing.T) {
	openAI := map[string]interface{}{
		"choices": []interface{}{
			map[string]interface{}{
				"message": map[string]interface{}{"content": "openai text"},
			},
		},
	}
	anthropic := map[string]interface{}{
		"content": []interface{}{
			map[string]interface{}{"type": "text", "text": "anthropic text"},
		},
	}
	ollama := map[string]interface{}{
		"message": map[string]interface{}{"content": "ollama text"},
	}

	for name, tc := range map[string]struct {
		in   map[string]interface{}
		want string
	}{
		"openai":    {openAI, "openai text"},
		"anthropic": {anthropic, "anthropic text"},
		"ollama":    {ollama, "ollama text"},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := extractContent(tc.in)
			if err != nil {
				t.Fatalf("extractContent: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}

	if _, err := extractContent(map[string]interface{}{"unrelated": true}); err == nil {
		t.Error("expected error for unknown shape")
	}
}

func TestStripThinkingTags(t *testing.T) {
	in := "<think>reasoning goes here</think>\nThe answer is 42."
	if got := stripThinkingTags(in); got != "The answer is 42." {
		t.Errorf("got %q", got)
	}
}

func TestSimulateStream(t *testing.T) {
	ctx := context.Background()
	var sb strings.Builder
	var done bool
	for chunk := range SimulateStream(ctx, "incremental delivery of a computed answer", 5) {
		if chunk.Done {
			done = true
			continue
		}
		if chunk.Err != nil {
			t.Fatalf("unexpected stream error: %v", chunk.Err)
		}
		sb.WriteString(chunk.Content)
	}
	if !done {
		t.Error("stream never signaled Done")
	}
	if sb.String() != "incremental delivery of a computed answer" {
		t.Errorf("reassembled stream mismatch: %q", sb.String())
	}
}

func TestDefaultProviderSelection(t *testing.T) {
	cfg := &Config{AnthropicKey: "key"}
	router := NewRouter(cfg, nil)
	if !router.Available(ProviderAnthropic) {
		t.Error("anthropic should be available with a key")
	}
	if router.Available(ProviderOpenAI) {
		t.Error("openai should be unavailable without a key")
	}
	if !router.Available(ProviderOllama) {
		t.Error("ollama must always be available")
	}
}
