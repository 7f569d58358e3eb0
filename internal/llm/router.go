package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/jsonx"
)

// Provider identifies an LLM backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

const (
	openAIEndpoint = "https://api.openai.com/v1/chat/completions"
	// Gemini exposes an OpenAI-compatible chat surface.
	geminiEndpoint    = "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions"
	anthropicEndpoint = "https://api.anthropic.com/v1/messages"

	defaultMaxTokens = 1024
)

// Config holds router credentials and tuning.
type Config struct {
	OpenAIKey    string
	GeminiKey    string
	AnthropicKey string
	OllamaURL    string

	DefaultProvider Provider
	DefaultModel    string
	RequestTimeout  time.Duration
}

// DefaultConfig builds a config from the environment. The default
// provider is the first hosted provider with a key, else Ollama.
func DefaultConfig() *Config {
	cfg := &Config{
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		GeminiKey:      os.Getenv("GEMINI_API_KEY"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		OllamaURL:      getEnvOrDefault("OLLAMA_URL", "http://localhost:11434"),
		DefaultModel:   getEnvOrDefault("DEFAULT_MODEL", ""),
		RequestTimeout: 120 * time.Second,
	}

	switch {
	case cfg.OpenAIKey != "":
		cfg.DefaultProvider = ProviderOpenAI
	case cfg.GeminiKey != "":
		cfg.DefaultProvider = ProviderGemini
	case cfg.AnthropicKey != "":
		cfg.DefaultProvider = ProviderAnthropic
	default:
		cfg.DefaultProvider = ProviderOllama
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// Router routes completion requests to the configured providers.
type Router struct {
	config *Config
	client *http.Client
	logger *zap.Logger
	mu     sync.RWMutex

	providers       map[Provider]bool
	defaultProvider Provider
}

// NewRouter creates a router. A nil config loads DefaultConfig; a nil
// logger is replaced with a nop logger.
func NewRouter(cfg *Config, logger *zap.Logger) *Router {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 120 * time.Second
	}

	r := &Router{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:          logger,
		providers:       make(map[Provider]bool),
		defaultProvider: cfg.DefaultProvider,
	}

	if cfg.OpenAIKey != "" {
		r.providers[ProviderOpenAI] = true
	}
	if cfg.GeminiKey != "" {
		r.providers[ProviderGemini] = true
	}
	if cfg.AnthropicKey != "" {
		r.providers[ProviderAnthropic] = true
	}
	// Ollama is always available as the local fallback
	r.providers[ProviderOllama] = true

	return r
}

// Available reports whether a provider has credentials configured.
func (r *Router) Available(p Provider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[p]
}

// Complete sends the request to the selected provider and returns the
// completion text.
func (r *Router) Complete(ctx context.Context, req Request) (string, error) {
	provider := req.Provider
	if provider == "" {
		provider = r.defaultProvider
	}
	model := req.Model
	if model == "" {
		model = r.config.DefaultModel
	}

	var content string
	var err error

	switch provider {
	case ProviderOpenAI:
		if model == "" {
			model = "gpt-4o-mini"
		}
		content, err = r.callOpenAI(ctx, openAIEndpoint, req, model, r.config.OpenAIKey)

	case ProviderGemini:
		if model == "" {
			model = "gemini-2.0-flash"
		}
		content, err = r.callOpenAI(ctx, geminiEndpoint, req, model, r.config.GeminiKey)

	case ProviderAnthropic:
		if model == "" {
			model = "claude-3-haiku-20240307"
		}
		content, err = r.callAnthropic(ctx, req, model, r.config.AnthropicKey)

	case ProviderOllama:
		if model == "" {
			model = "llama3.2"
		}
		content, err = r.callOllama(ctx, req, model)

	default:
		r.logger.Warn("Unknown provider, falling back to local",
			zap.String("provider", string(provider)))
		if model == "" {
			model = "llama3.2"
		}
		content, err = r.callOllama(ctx, req, model)
		provider = ProviderOllama
	}

	if err != nil {
		return "", fmt.Errorf("provider %s failed: %w", provider, err)
	}

	return stripThinkingTags(content), nil
}

// CompleteStream delivers the completion as token chunks. None of the
// wire providers stream here; the full response is computed once and
// chunked, preserving ordering semantics.
func (r *Router) CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	content, err := r.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return SimulateStream(ctx, content, DefaultStreamChunkSize), nil
}

// buildMessages assembles the OpenAI-style message array.
func buildMessages(req Request) []map[string]string {
	messages := make([]map[string]string, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	for _, m := range req.History {
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})
	return messages
}

// callOpenAI serves both OpenAI and Gemini's OpenAI-compatible endpoint.
func (r *Router) callOpenAI(ctx context.Context, endpoint string, req Request, model, apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("no API key available for %s", endpoint)
	}

	reqBody := map[string]interface{}{
		"model":      model,
		"messages":   buildMessages(req),
		"max_tokens": defaultMaxTokens,
	}

	return r.makeRequest(ctx, endpoint, reqBody, map[string]string{
		"Authorization": "Bearer " + apiKey,
		"Content-Type":  "application/json",
	})
}

func (r *Router) callAnthropic(ctx context.Context, req Request, model, apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("no Anthropic API key available")
	}

	messages := make([]map[string]string, 0, len(req.History)+1)
	for _, m := range req.History {
		if m.Role == RoleSystem {
			continue
		}
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	reqBody := map[string]interface{}{
		"model":      model,
		"max_tokens": defaultMaxTokens,
		"messages":   messages,
	}
	if req.System != "" {
		reqBody["system"] = req.System
	}

	return r.makeRequest(ctx, anthropicEndpoint, reqBody, map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": "2023-06-01",
		"Content-Type":      "application/json",
	})
}

func (r *Router) callOllama(ctx context.Context, req Request, model string) (string, error) {
	reqBody := map[string]interface{}{
		"model":    model,
		"messages": buildMessages(req),
		"stream":   false,
	}

	url := fmt.Sprintf("%s/api/chat", r.config.OllamaURL)
	return r.makeRequest(ctx, url, reqBody, map[string]string{
		"Content-Type": "application/json",
	})
}

// makeRequest posts the body and extracts the completion text.
func (r *Router) makeRequest(ctx context.Context, url string, body map[string]interface{}, headers map[string]string) (string, error) {
	jsonBody, err := jsonx.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result map[string]interface{}
	if err := jsonx.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	return extractContent(result)
}

// extractContent pulls the completion text out of either the
// OpenAI-style or the Anthropic/Ollama response shapes.
func extractContent(result map[string]interface{}) (string, error) {
	// OpenAI / Gemini format
	if choices, ok := result["choices"].([]interface{}); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]interface{}); ok {
			if message, ok := choice["message"].(map[string]interface{}); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}

	// Anthropic format
	if content, ok := result["content"].([]interface{}); ok && len(content) > 0 {
		if block, ok := content[0].(map[string]interface{}); ok {
			if text, ok := block["text"].(string); ok {
				return text, nil
			}
		}
	}

	// Ollama chat format
	if message, ok := result["message"].(map[string]interface{}); ok {
		if content, ok := message["content"].(string); ok {
			return content, nil
		}
	}

	return "", fmt.Errorf("no content found in response")
}

var thinkingTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinkingTags removes reasoning-model scratchpads from completions.
func stripThinkingTags(content string) string {
	return strings.TrimSpace(thinkingTagRe.ReplaceAllString(content, ""))
}
