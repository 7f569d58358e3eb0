// Package server exposes the knowledge base and chat services over
// HTTP: CRUD for bases, documents, agents, groups and conversations,
// retrieval queries, chat turns, and a websocket for streamed replies.
package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/chat"
	"github.com/knowledge-agent-core/internal/jsonx"
	"github.com/knowledge-agent-core/internal/kb"
	"github.com/knowledge-agent-core/internal/mcp"
	"github.com/knowledge-agent-core/internal/store"
)

// Deps are the services the HTTP layer fronts. Workflow is optional;
// when present its handler is mounted and document processing runs
// through the event queue instead of inline. MCP is optional; when
// present the tool surface is mounted at /api/mcp.
type Deps struct {
	KB       *kb.Service
	Chat     *chat.Service
	Workflow *kb.Workflow
	MCP      *mcp.Server
	Logger   *zap.Logger
}

// Server routes HTTP and websocket traffic to the services.
type Server struct {
	kb       *kb.Service
	chat     *chat.Service
	workflow *kb.Workflow
	mcp      *mcp.Server
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates the HTTP server over the given services.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		kb:       deps.KB,
		chat:     deps.Chat,
		workflow: deps.Workflow,
		mcp:      deps.MCP,
		logger:   logger.Named("server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the routing table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Knowledge bases
	api.HandleFunc("/kb", s.handleCreateKB).Methods("POST")
	api.HandleFunc("/kb", s.handleListKBs).Methods("GET")
	api.HandleFunc("/kb/{id}", s.handleGetKB).Methods("GET")
	api.HandleFunc("/kb/{id}", s.handleUpdateKB).Methods("PUT")
	api.HandleFunc("/kb/{id}", s.handleDeleteKB).Methods("DELETE")
	api.HandleFunc("/kb/{id}/query", s.handleQueryKB).Methods("POST")

	// Documents
	api.HandleFunc("/kb/{id}/documents", s.handleUploadDocument).Methods("POST")
	api.HandleFunc("/kb/{id}/documents", s.handleListDocuments).Methods("GET")
	api.HandleFunc("/kb/{id}/documents/{docID}", s.handleGetDocument).Methods("GET")
	api.HandleFunc("/kb/{id}/documents/{docID}", s.handleDeleteDocument).Methods("DELETE")
	api.HandleFunc("/kb/{id}/documents/{docID}/process", s.handleProcessDocument).Methods("POST")
	api.HandleFunc("/kb/{id}/documents/{docID}/chunks", s.handleGetChunks).Methods("GET")

	// Agents
	api.HandleFunc("/agents", s.handleCreateAgent).Methods("POST")
	api.HandleFunc("/agents", s.handleListAgents).Methods("GET")
	api.HandleFunc("/agents/{id}", s.handleGetAgent).Methods("GET")
	api.HandleFunc("/agents/{id}", s.handleUpdateAgent).Methods("PUT")
	api.HandleFunc("/agents/{id}", s.handleDeleteAgent).Methods("DELETE")

	// Agent groups
	api.HandleFunc("/groups", s.handleCreateGroup).Methods("POST")
	api.HandleFunc("/groups", s.handleListGroups).Methods("GET")
	api.HandleFunc("/groups/{id}", s.handleGetGroup).Methods("GET")
	api.HandleFunc("/groups/{id}", s.handleUpdateGroup).Methods("PUT")
	api.HandleFunc("/groups/{id}", s.handleDeleteGroup).Methods("DELETE")
	api.HandleFunc("/groups/{id}/agents", s.handleGroupAgents).Methods("GET")
	api.HandleFunc("/groups/{id}/chat", s.handleGroupChat).Methods("POST")

	// Conversations
	api.HandleFunc("/conversations", s.handleCreateConversation).Methods("POST")
	api.HandleFunc("/conversations", s.handleListConversations).Methods("GET")
	api.HandleFunc("/conversations/{id}", s.handleGetConversation).Methods("GET")
	api.HandleFunc("/conversations/{id}", s.handleDeleteConversation).Methods("DELETE")
	api.HandleFunc("/conversations/{id}/messages", s.handleListMessages).Methods("GET")

	api.HandleFunc("/chat", s.handleChat).Methods("POST")

	// Event-driven document processing callbacks.
	if s.workflow != nil {
		if h := s.workflow.Handler(); h != nil {
			r.PathPrefix("/api/inngest").Handler(h)
		}
	}

	// Model Context Protocol surface, one JSON-RPC request per POST.
	if s.mcp != nil {
		r.Handle("/api/mcp", s.mcp).Methods("POST")
	}

	ws := r.PathPrefix("/ws").Subrouter()
	ws.HandleFunc("/chat", s.handleWebSocketChat)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonx.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Warn("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// respondError maps service errors onto HTTP statuses: unknown ids are
// 404, refused requests are 400, everything else is a 500.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, kb.ErrInvalid),
		errors.Is(err, kb.ErrUploadRejected),
		errors.Is(err, chat.ErrInvalid),
		errors.Is(err, chat.ErrUnknownAgent),
		errors.Is(err, chat.ErrAgentInactive),
		errors.Is(err, chat.ErrGroupInactive):
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}
