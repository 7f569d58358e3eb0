// Command core runs the knowledge base and agent chat service as a
// single process: SQLite metadata store, Qdrant vector index, keyword
// index, LLM router and the HTTP/WebSocket API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/cache"
	"github.com/knowledge-agent-core/internal/chat"
	"github.com/knowledge-agent-core/internal/config"
	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/kb"
	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/mcp"
	"github.com/knowledge-agent-core/internal/rag"
	"github.com/knowledge-agent-core/internal/server"
	"github.com/knowledge-agent-core/internal/store"
	"github.com/knowledge-agent-core/internal/tools"
	"github.com/knowledge-agent-core/internal/vectorindex"
)

const appID = "knowledge-agent-core"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Starting knowledge agent core",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("data_dir", cfg.DataDir),
		zap.String("rag_type", cfg.RAGType),
	)

	ctx := context.Background()

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		logger.Fatal("Failed to open metadata store", zap.Error(err))
	}
	defer st.Close()

	index, err := vectorindex.New(ctx, vectorindex.Config{BaseURL: cfg.QdrantURL}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to vector index", zap.Error(err))
	}

	// Redis is the optional L2 tier; without it the cache runs on the
	// in-process ristretto tier alone.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		logger.Info("Redis cache tier enabled", zap.String("addr", cfg.RedisAddr))
	}

	tiers, err := cache.New(cfg.CacheMaxCost, cfg.CacheTTL, redisClient, logger)
	if err != nil {
		logger.Fatal("Failed to initialize cache", zap.Error(err))
	}
	defer tiers.Close()

	dense := embedding.NewDenseClient(embedding.DenseConfig{
		BaseURL: cfg.EmbeddingURL,
		Model:   cfg.EmbeddingModel,
	}, logger)
	embedder := embedding.NewService(dense, tiers, logger)

	llmCfg := &llm.Config{
		OpenAIKey:    cfg.OpenAIKey,
		GeminiKey:    cfg.GeminiKey,
		AnthropicKey: cfg.AnthropicKey,
		OllamaURL:    cfg.OllamaURL,
		DefaultModel: cfg.DefaultModel,
	}
	switch {
	case llmCfg.OpenAIKey != "":
		llmCfg.DefaultProvider = llm.ProviderOpenAI
	case llmCfg.GeminiKey != "":
		llmCfg.DefaultProvider = llm.ProviderGemini
	case llmCfg.AnthropicKey != "":
		llmCfg.DefaultProvider = llm.ProviderAnthropic
	default:
		llmCfg.DefaultProvider = llm.ProviderOllama
	}
	router := llm.NewRouter(llmCfg, logger)

	engines, err := tools.NewEngines(rag.Deps{
		Embedder: embedder,
		Index:    index,
		LLM:      router,
		Logger:   logger,
	}, 0)
	if err != nil {
		logger.Fatal("Failed to initialize retrieval engines", zap.Error(err))
	}

	keywordCfg := tools.DefaultKeywordConfig()
	keywordCfg.IndexPath = filepath.Join(cfg.DataDir, "chunks.bleve")
	keyword, err := tools.NewChunkIndex(keywordCfg, logger)
	if err != nil {
		logger.Fatal("Failed to open keyword index", zap.Error(err))
	}
	defer keyword.Close()

	var events *kb.Events
	if cfg.NATSURL != "" {
		events, err = kb.NewEvents(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("Lifecycle events disabled", zap.Error(err))
			events = nil
		} else {
			defer events.Close()
		}
	}

	kbSvc := kb.NewService(kb.Deps{
		KBs:      st,
		Docs:     st,
		Index:    index,
		Embedder: embedder,
		Engines:  engines,
		Answers:  tiers,
		Keyword:  keyword,
		Events:   events,
		Logger:   logger,
	}, cfg)

	workflow, err := kb.NewWorkflow(appID, kbSvc, logger)
	if err != nil {
		logger.Warn("Async document pipeline disabled, uploads process inline", zap.Error(err))
		workflow = nil
	}

	chatSvc := chat.NewService(chat.Deps{
		Agents:        st,
		Groups:        st,
		Conversations: st,
		KBs:           st,
		LLM:           router,
		Tools:         kbSvc,
		Logger:        logger,
	})

	mcpSrv := mcp.NewServer(mcp.Config{
		Knowledge: kbSvc,
		Chat:      chatSvc,
		Logger:    logger,
	})

	api := server.NewServer(server.Deps{
		KB:       kbSvc,
		Chat:     chatSvc,
		Workflow: workflow,
		MCP:      mcpSrv,
		Logger:   logger,
	})

	corsObj := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)

	srv := &http.Server{
		Handler:      corsObj(handlers.CombinedLoggingHandler(os.Stdout, api.Router())),
		Addr:         cfg.HTTPAddr,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server startup failed", zap.Error(err))
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
}
