package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"
)

// KeywordConfig holds configuration for the Bleve chunk index.
type KeywordConfig struct {
	IndexPath string  // Path to store the Bleve index
	InMemory  bool    // If true, index is stored in memory only
	Fuzziness int     // Levenshtein distance for term matching
	MinScore  float64 // Minimum score for hits, 0 keeps everything
}

// DefaultKeywordConfig returns sensible defaults.
func DefaultKeywordConfig() KeywordConfig {
	return KeywordConfig{
		IndexPath: "./data/chunks.bleve",
		InMemory:  false,
		Fuzziness: 1,
		MinScore:  0,
	}
}

// ChunkIndex provides keyword search over ingested chunk text. It
// complements the vector index: exact identifiers, codes and rare terms
// that embed poorly still match here. The ingestion path feeds it
// best-effort, so a missing entry degrades recall but never correctness.
type ChunkIndex struct {
	index  bleve.Index
	config KeywordConfig
	logger *zap.Logger
	mu     sync.RWMutex
}

// ChunkEntry is one indexed chunk.
type ChunkEntry struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
}

// KeywordHit is one search result with its relevance score.
type KeywordHit struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// NewChunkIndex creates or opens the chunk index.
func NewChunkIndex(cfg KeywordConfig, logger *zap.Logger) (*ChunkIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ci := &ChunkIndex{
		config: cfg,
		logger: logger.Named("keyword"),
	}

	var err error
	if cfg.InMemory {
		ci.index, err = bleve.NewMemOnly(ci.createMapping())
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(cfg.IndexPath), 0755); mkErr != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", mkErr)
		}

		var index bleve.Index
		index, err = bleve.Open(cfg.IndexPath)
		if err == bleve.ErrorIndexPathDoesNotExist {
			index, err = bleve.New(cfg.IndexPath, ci.createMapping())
		}
		ci.index = index
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open bleve index: %w", err)
	}

	ci.logger.Info("Chunk index initialized",
		zap.String("path", cfg.IndexPath),
		zap.Bool("in_memory", cfg.InMemory),
		zap.Uint64("chunks", ci.Count()))

	return ci, nil
}

func (ci *ChunkIndex) createMapping() mapping.IndexMapping {
	chunkMapping := bleve.NewDocumentMapping()

	// Text field carries the searchable chunk content.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Index = true
	textFieldMapping.Store = true
	textFieldMapping.IncludeTermVectors = true
	textFieldMapping.IncludeInAll = true
	chunkMapping.AddFieldMappingsAt("text", textFieldMapping)

	// Document id is an opaque identifier; the keyword analyzer keeps it
	// a single term so delete-by-document can match it exactly.
	docIDFieldMapping := bleve.NewTextFieldMapping()
	docIDFieldMapping.Index = true
	docIDFieldMapping.Store = true
	docIDFieldMapping.IncludeInAll = false
	docIDFieldMapping.Analyzer = keyword.Name
	chunkMapping.AddFieldMappingsAt("document_id", docIDFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("chunk", chunkMapping)
	indexMapping.DefaultAnalyzer = "standard"

	return indexMapping
}

// IndexChunks adds entries to the index in a single batch. Entries are
// keyed by chunk id, so reindexing a document overwrites its chunks.
func (ci *ChunkIndex) IndexChunks(ctx context.Context, entries []ChunkEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ci.mu.Lock()
	defer ci.mu.Unlock()

	startTime := time.Now()
	batch := ci.index.NewBatch()
	for _, entry := range entries {
		if err := batch.Index(entry.ChunkID, entry); err != nil {
			ci.logger.Warn("Failed to add chunk to batch",
				zap.String("chunk_id", entry.ChunkID),
				zap.Error(err))
		}
	}

	if err := ci.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch index: %w", err)
	}

	ci.logger.Debug("Batch indexed chunks",
		zap.Int("count", len(entries)),
		zap.Duration("duration", time.Since(startTime)))

	return nil
}

// Search returns the top limit chunks matching the query terms.
func (ci *ChunkIndex) Search(ctx context.Context, q string, limit int) ([]KeywordHit, error) {
	if limit <= 0 {
		limit = defaultRetrievalLimit
	}

	startTime := time.Now()

	matchQuery := bleve.NewMatchQuery(q)
	matchQuery.SetField("text")
	if ci.config.Fuzziness > 0 {
		matchQuery.SetFuzziness(ci.config.Fuzziness)
	}

	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = limit
	searchRequest.Fields = []string{"text", "document_id"}

	searchResult, err := ci.index.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]KeywordHit, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		if ci.config.MinScore > 0 && hit.Score < ci.config.MinScore {
			continue
		}

		result := KeywordHit{ChunkID: hit.ID, Score: hit.Score}
		if hit.Fields != nil {
			if t, ok := hit.Fields["text"].(string); ok {
				result.Text = t
			}
			if d, ok := hit.Fields["document_id"].(string); ok {
				result.DocumentID = d
			}
		}
		hits = append(hits, result)
	}

	ci.logger.Debug("Keyword search completed",
		zap.String("query", q),
		zap.Int("results", len(hits)),
		zap.Duration("duration", time.Since(startTime)))

	return hits, nil
}

// DeleteDocument removes every chunk of a document from the index.
func (ci *ChunkIndex) DeleteDocument(ctx context.Context, documentID string) error {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	const pageSize = 500
	deleted := 0
	for {
		termQuery := query.NewTermQuery(documentID)
		termQuery.SetField("document_id")

		searchRequest := bleve.NewSearchRequest(termQuery)
		searchRequest.Size = pageSize

		searchResult, err := ci.index.Search(searchRequest)
		if err != nil {
			return fmt.Errorf("failed to find chunks for document %s: %w", documentID, err)
		}
		if len(searchResult.Hits) == 0 {
			break
		}

		batch := ci.index.NewBatch()
		for _, hit := range searchResult.Hits {
			batch.Delete(hit.ID)
		}
		if err := ci.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete chunks for document %s: %w", documentID, err)
		}
		deleted += len(searchResult.Hits)
	}

	ci.logger.Debug("Deleted document chunks from index",
		zap.String("document_id", documentID),
		zap.Int("chunks", deleted))
	return nil
}

// Count returns the number of indexed chunks.
func (ci *ChunkIndex) Count() uint64 {
	searchRequest := bleve.NewSearchRequest(query.NewMatchAllQuery())
	searchRequest.Size = 0

	searchResult, err := ci.index.Search(searchRequest)
	if err != nil {
		return 0
	}
	return searchResult.Total
}

// Close closes the index and releases resources.
func (ci *ChunkIndex) Close() error {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return ci.index.Close()
}

// NewKeywordTool exposes the chunk index as an agent tool.
func NewKeywordTool(idx *ChunkIndex) Tool {
	return Tool{
		Name: "keyword_search",
		Description: "Exact keyword search over indexed document chunks. " +
			"Use when the query contains specific identifiers, codes or phrases that must match literally.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Keywords or phrase to look up",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			q, _ := args["query"].(string)
			if strings.TrimSpace(q) == "" {
				return "", fmt.Errorf("missing required argument: query")
			}

			limit := defaultRetrievalLimit
			if raw, ok := args["limit"]; ok {
				if n := intArg(raw); n > 0 {
					limit = n
				}
			}

			hits, err := idx.Search(ctx, q, limit)
			if err != nil {
				return "", err
			}
			if len(hits) == 0 {
				return "No matching chunks found.", nil
			}

			texts := make([]string, 0, len(hits))
			for _, hit := range hits {
				texts = append(texts, hit.Text)
			}
			return strings.Join(texts, "\n\n"), nil
		},
	}
}
