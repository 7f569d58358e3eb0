package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/jsonx"
)

// DenseConfig configures the HTTP dense embedding client.
type DenseConfig struct {
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// DefaultDenseConfig targets a local Ollama server with
// nomic-embed-text, which emits 768-wide vectors.
func DefaultDenseConfig() DenseConfig {
	return DenseConfig{
		BaseURL:   "http://localhost:11434",
		Model:     "nomic-embed-text",
		Dimension: 768,
		Timeout:   30 * time.Second,
	}
}

// DenseClient fetches dense vectors from an Ollama-compatible
// embeddings endpoint.
type DenseClient struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewDenseClient creates a dense embedding client.
func NewDenseClient(cfg DenseConfig, logger *zap.Logger) *DenseClient {
	def := DefaultDenseConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = def.Dimension
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DenseClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.Named("embedding"),
	}
}

// Embed returns the L2-normalized dense vector for text.
func (c *DenseClient) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]interface{}{
		"model":  c.model,
		"prompt": text,
	}

	payload, err := jsonx.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding server returned status %d: %s",
			resp.StatusCode, string(body))
	}

	var result struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := jsonx.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("embedding server returned empty vector for model %s", c.model)
	}

	vec := make([]float32, len(result.Embedding))
	var norm float64
	for i, v := range result.Embedding {
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 1e-9 {
		inv := float32(1.0 / norm)
		for i := range vec {
			vec[i] *= inv
		}
	}

	return vec, nil
}

// Dimension returns the configured dense vector width. It must match
// the served model.
func (c *DenseClient) Dimension() int {
	return c.dimension
}

// Model returns the embedding model name.
func (c *DenseClient) Model() string {
	return c.model
}

// EnsureModel checks that the embedding model is present on the server
// and pulls it when missing. Call once at startup.
func (c *DenseClient) EnsureModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create tags request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	defer resp.Body.Close()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("failed to decode model list: %w", err)
	}

	for _, m := range tags.Models {
		if m.Name == c.model || strings.HasPrefix(m.Name, c.model+":") {
			return nil
		}
	}

	c.logger.Info("Pulling embedding model", zap.String("model", c.model))

	pullBody, err := jsonx.Marshal(map[string]interface{}{"name": c.model})
	if err != nil {
		return fmt.Errorf("failed to marshal pull request: %w", err)
	}

	pullReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/pull", bytes.NewReader(pullBody))
	if err != nil {
		return fmt.Errorf("failed to create pull request: %w", err)
	}
	pullReq.Header.Set("Content-Type", "application/json")

	pullResp, err := c.httpClient.Do(pullReq)
	if err != nil {
		return fmt.Errorf("failed to pull model %s: %w", c.model, err)
	}
	defer pullResp.Body.Close()

	// Pull streams progress lines; drain them so the pull completes.
	if _, err := io.Copy(io.Discard, pullResp.Body); err != nil {
		return fmt.Errorf("model pull interrupted: %w", err)
	}
	if pullResp.StatusCode != http.StatusOK {
		return fmt.Errorf("model pull returned status %d", pullResp.StatusCode)
	}

	c.logger.Info("Embedding model ready", zap.String("model", c.model))
	return nil
}
