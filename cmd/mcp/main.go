// Command mcp serves the knowledge base tool surface over stdio for
// Model Context Protocol clients such as desktop assistants. Logs go
// to stderr; stdout is reserved for protocol frames.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/knowledge-agent-core/internal/chat"
	"github.com/knowledge-agent-core/internal/config"
	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/kb"
	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/mcp"
	"github.com/knowledge-agent-core/internal/rag"
	"github.com/knowledge-agent-core/internal/store"
	"github.com/knowledge-agent-core/internal/tools"
	"github.com/knowledge-agent-core/internal/vectorindex"
)

var version = "1.0.0"

var (
	configPath  = flag.String("config", os.Getenv("CONFIG_PATH"), "Path to the YAML config file")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("knowledge-agent-core MCP server v%s\n", version)
		os.Exit(0)
	}

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer cleanup()

	logger.Info("MCP server initialized", zap.Strings("tools", srv.ToolNames()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- mcp.NewStdioTransport(logger).Serve(ctx, srv)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Error("Transport error", zap.Error(err))
		}
	}

	logger.Info("MCP server stopped")
}

// buildServer wires the retrieval and chat stack behind the tool
// surface. The keyword index and event publication stay out: stdio
// sessions are read-mostly and must not contend for the Bleve lock
// with a running API server on the same data directory.
func buildServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*mcp.Server, func(), error) {
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open metadata store: %w", err)
	}
	cleanup := func() { _ = st.Close() }

	index, err := vectorindex.New(ctx, vectorindex.Config{BaseURL: cfg.QdrantURL}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connect vector index: %w", err)
	}

	dense := embedding.NewDenseClient(embedding.DenseConfig{
		BaseURL: cfg.EmbeddingURL,
		Model:   cfg.EmbeddingModel,
	}, logger)
	embedder := embedding.NewService(dense, nil, logger)

	router := llm.NewRouter(&llm.Config{
		OpenAIKey:    cfg.OpenAIKey,
		GeminiKey:    cfg.GeminiKey,
		AnthropicKey: cfg.AnthropicKey,
		OllamaURL:    cfg.OllamaURL,
		DefaultModel: cfg.DefaultModel,
		DefaultProvider: func() llm.Provider {
			switch {
			case cfg.OpenAIKey != "":
				return llm.ProviderOpenAI
			case cfg.GeminiKey != "":
				return llm.ProviderGemini
			case cfg.AnthropicKey != "":
				return llm.ProviderAnthropic
			default:
				return llm.ProviderOllama
			}
		}(),
	}, logger)

	engines, err := tools.NewEngines(rag.Deps{
		Embedder: embedder,
		Index:    index,
		LLM:      router,
		Logger:   logger,
	}, 0)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("initialize retrieval engines: %w", err)
	}

	kbSvc := kb.NewService(kb.Deps{
		KBs:      st,
		Docs:     st,
		Index:    index,
		Embedder: embedder,
		Engines:  engines,
		Logger:   logger,
	}, cfg)

	chatSvc := chat.NewService(chat.Deps{
		Agents:        st,
		Groups:        st,
		Conversations: st,
		KBs:           st,
		LLM:           router,
		Tools:         kbSvc,
		Logger:        logger,
	})

	srv := mcp.NewServer(mcp.Config{
		Knowledge: kbSvc,
		Chat:      chatSvc,
		Logger:    logger,
		Version:   version,
	})
	return srv, cleanup, nil
}

// setupLogger builds a stderr console logger so protocol frames on
// stdout stay clean.
func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
