package vectorindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/jsonx"
)

// Config configures the Qdrant REST client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Connection verification on construction. Only transport-level
	// failures are retried.
	ConnectAttempts int
	ConnectDelay    time.Duration
}

// DefaultConfig targets a local Qdrant server.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:6333",
		Timeout:         60 * time.Second,
		ConnectAttempts: 5,
		ConnectDelay:    5 * time.Second,
	}
}

// Client talks to a Qdrant server over its REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// connectionError marks transport-level failures, the only kind New
// retries.
type connectionError struct {
	err error
}

func (e *connectionError) Error() string { return e.err.Error() }
func (e *connectionError) Unwrap() error { return e.err }

// New creates a Qdrant client and verifies connectivity. Connection
// failures are retried with a fixed delay up to a capped attempt
// count; any other failure returns immediately.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = def.ConnectAttempts
	}
	if cfg.ConnectDelay <= 0 {
		cfg.ConnectDelay = def.ConnectDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.Named("vectorindex"),
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := c.ping(ctx)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("Vector index connection established",
					zap.Int("attempts", attempt))
			}
			return c, nil
		}

		var connErr *connectionError
		if !errors.As(err, &connErr) {
			return nil, err
		}
		lastErr = err

		if attempt >= cfg.ConnectAttempts {
			break
		}

		c.logger.Warn("Vector index unreachable, retrying",
			zap.String("url", c.baseURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.ConnectAttempts),
			zap.Duration("delay", cfg.ConnectDelay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.ConnectDelay):
		}
	}

	return nil, fmt.Errorf("vector index unreachable after %d attempts: %w",
		cfg.ConnectAttempts, lastErr)
}

func (c *Client) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/collections", nil)
	if err != nil {
		return fmt.Errorf("failed to create ping request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &connectionError{err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vector index returned status %d on connect", resp.StatusCode)
	}
	return nil
}

// EnsureCollection creates collection name with a named dense vector
// and a sparse vector config. Existing collections, and conflicts from
// concurrent creators, count as success.
func (c *Client) EnsureCollection(ctx context.Context, name string, dim int) error {
	status, _, err := c.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"dense": map[string]interface{}{
				"size":     dim,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]interface{}{
			"sparse": map[string]interface{}{
				"modifier": "idf",
			},
		},
	}

	status, respBody, err := c.do(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		c.logger.Info("Created collection",
			zap.String("collection", name),
			zap.Int("dimension", dim))
		return nil
	case http.StatusConflict:
		// Lost a creation race; the collection exists now.
		return nil
	default:
		return fmt.Errorf("failed to create collection %s: status %d: %s",
			name, status, string(respBody))
	}
}

// Upsert writes points keyed by chunk id, waiting for them to be
// applied so a subsequent query can see them.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	wirePoints := make([]map[string]interface{}, 0, len(points))
	for _, p := range points {
		vector := map[string]interface{}{
			"dense": p.Dense,
		}
		if len(p.Sparse.Indices) > 0 {
			vector["sparse"] = map[string]interface{}{
				"indices": p.Sparse.Indices,
				"values":  p.Sparse.Values,
			}
		}
		wirePoints = append(wirePoints, map[string]interface{}{
			"id":     p.ID,
			"vector": vector,
			"payload": map[string]interface{}{
				"document_id": p.Payload.DocumentID,
				"text":        p.Payload.Text,
				"vector_id":   p.ID,
			},
		})
	}

	body := map[string]interface{}{"points": wirePoints}
	status, respBody, err := c.do(ctx, http.MethodPut,
		"/collections/"+collection+"/points?wait=true", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("failed to upsert %d points into %s: status %d: %s",
			len(points), collection, status, string(respBody))
	}
	return nil
}

// DeleteByDocument removes all points whose payload carries
// documentID.
func (c *Client) DeleteByDocument(ctx context.Context, collection, documentID string) error {
	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{
					"key":   "document_id",
					"match": map[string]interface{}{"value": documentID},
				},
			},
		},
	}

	status, respBody, err := c.do(ctx, http.MethodPost,
		"/collections/"+collection+"/points/delete?wait=true", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("failed to delete points for document %s from %s: status %d: %s",
			documentID, collection, status, string(respBody))
	}
	return nil
}

// Query runs a dense similarity search.
func (c *Client) Query(ctx context.Context, collection string, dense []float32, limit int, threshold float32) ([]ScoredPoint, error) {
	body := map[string]interface{}{
		"query":        dense,
		"using":        "dense",
		"limit":        limit,
		"with_payload": true,
	}
	if threshold > 0 {
		body["score_threshold"] = threshold
	}
	return c.queryPoints(ctx, collection, body)
}

// QueryFused prefetches dense and sparse candidates and lets the
// server merge them by reciprocal rank.
func (c *Client) QueryFused(ctx context.Context, collection string, dense []float32, sparse embedding.SparseVector, limit int, threshold float32) ([]ScoredPoint, error) {
	prefetchLimit := limit * 2
	prefetch := []map[string]interface{}{
		{
			"query": dense,
			"using": "dense",
			"limit": prefetchLimit,
		},
	}
	if len(sparse.Indices) > 0 {
		prefetch = append(prefetch, map[string]interface{}{
			"query": map[string]interface{}{
				"indices": sparse.Indices,
				"values":  sparse.Values,
			},
			"using": "sparse",
			"limit": prefetchLimit,
		})
	}

	body := map[string]interface{}{
		"prefetch":     prefetch,
		"query":        map[string]interface{}{"fusion": "rrf"},
		"limit":        limit,
		"with_payload": true,
	}
	if threshold > 0 {
		body["score_threshold"] = threshold
	}
	return c.queryPoints(ctx, collection, body)
}

func (c *Client) queryPoints(ctx context.Context, collection string, body map[string]interface{}) ([]ScoredPoint, error) {
	status, respBody, err := c.do(ctx, http.MethodPost,
		"/collections/"+collection+"/points/query", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("query against %s failed: status %d: %s",
			collection, status, string(respBody))
	}

	var result struct {
		Result struct {
			Points []struct {
				ID      interface{}            `json:"id"`
				Score   float32                `json:"score"`
				Payload map[string]interface{} `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	if err := jsonx.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}

	points := make([]ScoredPoint, 0, len(result.Result.Points))
	for _, p := range result.Result.Points {
		sp := ScoredPoint{
			ID:    fmt.Sprintf("%v", p.ID),
			Score: p.Score,
		}
		if doc, ok := p.Payload["document_id"].(string); ok {
			sp.Payload.DocumentID = doc
		}
		if text, ok := p.Payload["text"].(string); ok {
			sp.Payload.Text = text
		}
		points = append(points, sp)
	}
	return points, nil
}

// DropCollection removes an entire collection. Missing collections are
// not an error.
func (c *Client) DropCollection(ctx context.Context, name string) error {
	status, respBody, err := c.do(ctx, http.MethodDelete, "/collections/"+name, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNotFound {
		return fmt.Errorf("failed to drop collection %s: status %d: %s",
			name, status, string(respBody))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body map[string]interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := jsonx.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("vector index request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
}
