package tools

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/knowledge-agent-core/internal/rag"
)

const (
	defaultRetrievalLimit  = 5
	defaultEngineCacheSize = 128
)

// Engine is a retrieval strategy bound to one collection.
type Engine struct {
	strategy   rag.Strategy
	collection string
}

// Search runs the bound strategy against the engine's collection.
func (e *Engine) Search(ctx context.Context, query string, limit int, threshold float32) (string, error) {
	return e.strategy.Search(ctx, query, e.collection, limit, threshold)
}

// Retrieve returns the ranked passages without answer synthesis.
func (e *Engine) Retrieve(ctx context.Context, query string, limit int, threshold float32) ([]rag.Passage, error) {
	return e.strategy.Retrieve(ctx, query, e.collection, limit, threshold)
}

// Engines builds and caches collection-bound retrieval engines. The cache
// is bounded so a long-lived process serving many knowledge bases does
// not hold one engine per collection forever.
type Engines struct {
	deps  rag.Deps
	cache *lru.Cache[string, *Engine]
}

// NewEngines creates an engine cache holding at most size engines.
func NewEngines(deps rag.Deps, size int) (*Engines, error) {
	if size <= 0 {
		size = defaultEngineCacheSize
	}
	cache, err := lru.New[string, *Engine](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine cache: %w", err)
	}
	return &Engines{deps: deps, cache: cache}, nil
}

// Get returns the engine for this strategy/collection pair, building it
// on first use.
func (e *Engines) Get(ragType rag.RAGType, collection string) *Engine {
	key := string(ragType) + ":" + collection
	if engine, ok := e.cache.Get(key); ok {
		return engine
	}
	engine := &Engine{
		strategy:   rag.NewStrategy(ragType, e.deps),
		collection: collection,
	}
	e.cache.Add(key, engine)
	return engine
}

// RetrievalSource describes one knowledge base exposed as a search tool.
type RetrievalSource struct {
	Name           string
	Description    string
	Collection     string
	RAGType        rag.RAGType
	Limit          int
	ScoreThreshold float32
}

// RetrievalToolName derives the tool name from a knowledge base name,
// e.g. "Customer Docs" becomes "search_customer_docs".
func RetrievalToolName(kbName string) string {
	return "search_" + strings.ReplaceAll(strings.ToLower(strings.TrimSpace(kbName)), " ", "_")
}

// NewRetrievalTool builds the search tool for one knowledge base. Each
// knowledge base gets its own tool so the model can pick the right corpus
// by name.
func NewRetrievalTool(engines *Engines, src RetrievalSource) Tool {
	defaultLimit := src.Limit
	if defaultLimit <= 0 {
		defaultLimit = defaultRetrievalLimit
	}

	return Tool{
		Name:        RetrievalToolName(src.Name),
		Description: fmt.Sprintf("Search through the '%s' knowledge base: %s", src.Name, src.Description),
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("missing required argument: query")
			}

			limit := defaultLimit
			if raw, ok := args["limit"]; ok {
				if n := intArg(raw); n > 0 {
					limit = n
				}
			}

			engine := engines.Get(src.RAGType, src.Collection)
			return engine.Search(ctx, query, limit, src.ScoreThreshold)
		},
	}
}

// intArg converts a decoded JSON argument to int. JSON numbers decode as
// float64; models occasionally quote them.
func intArg(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		var parsed int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &parsed); err == nil {
			return parsed
		}
	}
	return 0
}
