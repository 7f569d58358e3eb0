package mcp

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/jsonx"
	"github.com/knowledge-agent-core/internal/kb"
	"github.com/knowledge-agent-core/internal/store"
)

const protocolVersion = "2024-11-05"

// KnowledgeSource is the slice of the knowledge base service the tools
// consume.
type KnowledgeSource interface {
	ListKnowledgeBases(ctx context.Context) ([]store.KnowledgeBase, error)
	ListDocuments(ctx context.Context, kbID string) ([]store.Document, error)
	Query(ctx context.Context, kbID, query string, limit int) (*kb.QueryResult, error)
}

// ChatSource is the slice of the chat service the tools consume.
type ChatSource interface {
	ListAgents(ctx context.Context, includeInactive bool) ([]store.AgentConfig, error)
	CreateConversation(ctx context.Context, title string, agentIDs []string) (*store.Conversation, error)
	Chat(ctx context.Context, conversationID, agentID, text string) (*store.Message, error)
}

// Config assembles a Server.
type Config struct {
	Knowledge KnowledgeSource
	Chat      ChatSource
	Logger    *zap.Logger
	Name      string
	Version   string
}

// Server answers MCP JSON-RPC requests. It is transport-agnostic: the
// stdio transport and the HTTP mount both feed it through HandleRequest.
type Server struct {
	logger   *zap.Logger
	handlers map[string]ToolHandler
	tools    []ToolDefinition
	name     string
	version  string
}

// NewServer builds a server with the full tool set registered.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = "knowledge-agent-core"
	}
	version := cfg.Version
	if version == "" {
		version = "1.0.0"
	}

	s := &Server{
		logger:   logger.Named("mcp"),
		handlers: make(map[string]ToolHandler),
		name:     name,
		version:  version,
	}
	for _, tool := range registerTools(cfg.Knowledge, cfg.Chat) {
		s.handlers[tool.Definition.Name] = tool.Handler
		s.tools = append(s.tools, tool.Definition)
	}
	return s
}

// ToolNames returns the registered tool names in registration order.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.tools))
	for _, t := range s.tools {
		names = append(names, t.Name)
	}
	return names
}

// HandleRequest processes one JSON-RPC request. The response always
// carries either a result or an error object.
func (s *Server) HandleRequest(ctx context.Context, req Request) Response {
	s.logger.Debug("Request received", zap.String("method", req.Method), zap.Any("id", req.ID))

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result = s.initializeResult()
	case "initialized", "notifications/initialized", "notifications/cancelled":
		// Client notifications carry no result.
	case "ping":
		result = map[string]interface{}{"status": "ok"}
	case "tools/list":
		result = ListToolsResult{Tools: s.tools}
	case "tools/call":
		result, err = s.callTool(ctx, req)
	default:
		err = &Error{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}

	if err != nil {
		s.logger.Warn("Request failed", zap.String("method", req.Method), zap.Error(err))
		if rpcErr, ok := err.(*Error); ok {
			return Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		}
		return Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: codeInternal, Message: err.Error()}}
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) initializeResult() InitializeResult {
	return InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: map[string]interface{}{
			"tools": map[string]bool{"listChanged": false},
		},
		ServerInfo: map[string]string{
			"name":    s.name,
			"version": s.version,
		},
	}
}

func (s *Server) callTool(ctx context.Context, req Request) (interface{}, error) {
	if req.Params == nil {
		return nil, &Error{Code: codeInvalidParams, Message: "invalid params: missing call parameters"}
	}

	data, err := jsonx.Marshal(req.Params)
	if err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	var params CallParams
	if err := jsonx.Unmarshal(data, &params); err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}

	handler, ok := s.handlers[params.Name]
	if !ok {
		return nil, &Error{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown tool: %s", params.Name)}
	}

	out, err := handler(ctx, params.Arguments)
	if err != nil {
		// Tool failures go back as a result with isError set, not as a
		// protocol error, so the client model can read them.
		s.logger.Warn("Tool failed", zap.String("tool", params.Name), zap.Error(err))
		return CallResult{
			Content: []ToolContent{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}

	text, err := jsonx.MarshalToString(out)
	if err != nil {
		return nil, &Error{Code: codeInternal, Message: fmt.Sprintf("serialize tool result: %v", err)}
	}
	s.logger.Debug("Tool completed", zap.String("tool", params.Name))
	return CallResult{Content: []ToolContent{{Type: "text", Text: text}}}, nil
}

// ServeHTTP answers one JSON-RPC request per POST body, letting the API
// server mount the MCP surface without a second listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	resp := s.HandleRequest(r.Context(), req)

	w.Header().Set("Content-Type", "application/json")
	if err := jsonx.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}
