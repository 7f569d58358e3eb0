// Package config loads service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration.
type Config struct {
	// HTTP server
	HTTPAddr string `yaml:"http_addr"`

	// SQLite metadata store
	DataDir string `yaml:"data_dir"`

	// Qdrant vector index
	QdrantURL string `yaml:"qdrant_url"`

	// Embedding server (Ollama-compatible API)
	EmbeddingURL   string `yaml:"embedding_url"`
	EmbeddingModel string `yaml:"embedding_model"`

	// Redis, optional L2 cache tier. Empty disables the tier.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// NATS, optional lifecycle event publication. Empty disables it.
	NATSURL string `yaml:"nats_url"`

	// LLM provider credentials. Providers without a key are unavailable;
	// Ollama is always available as the local fallback.
	OpenAIKey    string `yaml:"openai_key"`
	GeminiKey    string `yaml:"gemini_key"`
	AnthropicKey string `yaml:"anthropic_key"`
	OllamaURL    string `yaml:"ollama_url"`
	DefaultModel string `yaml:"default_model"`

	// Retrieval defaults applied when a knowledge base does not override them.
	RAGType      string `yaml:"rag_type"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`

	// Indexing pipeline embedding concurrency. 1 means fully sequential.
	EmbedConcurrency int `yaml:"embed_concurrency"`

	// Cache tuning
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CacheMaxCost int64         `yaml:"cache_max_cost"`

	// Upload limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// Default returns the configuration used when nothing is provided.
func Default() *Config {
	return &Config{
		HTTPAddr:         ":8080",
		DataDir:          "./data",
		QdrantURL:        "http://localhost:6333",
		EmbeddingURL:     "http://localhost:11434",
		EmbeddingModel:   "nomic-embed-text",
		RedisAddr:        "",
		RedisDB:          0,
		NATSURL:          "",
		OllamaURL:        "http://localhost:11434",
		DefaultModel:     "llama3.2",
		RAGType:          "hybrid",
		ChunkSize:        512,
		ChunkOverlap:     64,
		EmbedConcurrency: 1,
		CacheTTL:         5 * time.Minute,
		CacheMaxCost:     10000,
		MaxUploadBytes:   32 << 20,
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or missing), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.QdrantURL = getEnv("QDRANT_URL", c.QdrantURL)
	c.EmbeddingURL = getEnv("EMBEDDING_URL", c.EmbeddingURL)
	c.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.EmbeddingModel)
	c.RedisAddr = getEnv("REDIS_URL", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.OpenAIKey = getEnv("OPENAI_API_KEY", c.OpenAIKey)
	c.GeminiKey = getEnv("GEMINI_API_KEY", c.GeminiKey)
	c.AnthropicKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicKey)
	c.OllamaURL = getEnv("OLLAMA_URL", c.OllamaURL)
	c.DefaultModel = getEnv("DEFAULT_MODEL", c.DefaultModel)
	c.RAGType = getEnv("RAG_TYPE", c.RAGType)
	c.ChunkSize = getEnvInt("CHUNK_SIZE", c.ChunkSize)
	c.ChunkOverlap = getEnvInt("CHUNK_OVERLAP", c.ChunkOverlap)
	c.EmbedConcurrency = getEnvInt("EMBED_CONCURRENCY", c.EmbedConcurrency)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
