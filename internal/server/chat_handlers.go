package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/knowledge-agent-core/internal/chat"
	"github.com/knowledge-agent-core/internal/jsonx"
)

// CreateAgentRequest describes a new agent definition.
type CreateAgentRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	AgentType    string   `json:"agent_type,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	KBIDs        []string `json:"kb_ids,omitempty"`
}

// UpdateAgentRequest carries a partial update; absent fields keep
// their current values.
type UpdateAgentRequest struct {
	Name         *string   `json:"name"`
	Description  *string   `json:"description"`
	AgentType    *string   `json:"agent_type"`
	Provider     *string   `json:"provider"`
	Model        *string   `json:"model"`
	SystemPrompt *string   `json:"system_prompt"`
	KBIDs        *[]string `json:"kb_ids"`
	IsActive     *bool     `json:"is_active"`
}

// CreateGroupRequest describes a new agent group.
type CreateGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	AgentIDs    []string `json:"agent_ids"`
}

// UpdateGroupRequest carries a partial group update.
type UpdateGroupRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	AgentIDs    *[]string `json:"agent_ids"`
	IsActive    *bool     `json:"is_active"`
}

// CreateConversationRequest starts a new conversation, optionally
// pinned to a set of agents.
type CreateConversationRequest struct {
	Title    string   `json:"title"`
	AgentIDs []string `json:"agent_ids,omitempty"`
}

// ChatRequest is one conversational turn. AgentID may be empty when
// the conversation already names its agents.
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id,omitempty"`
	Message        string `json:"message"`
}

// GroupChatRequest is one conversational turn answered by a group.
type GroupChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// ==================== Agents ====================

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	agent, err := s.chat.CreateAgent(r.Context(), chat.AgentParams{
		Name:         req.Name,
		Description:  req.Description,
		AgentType:    req.AgentType,
		Provider:     req.Provider,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		KBIDs:        req.KBIDs,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	agents, err := s.chat.ListAgents(r.Context(), includeInactive)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.chat.GetAgent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req UpdateAgentRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	agent, err := s.chat.UpdateAgent(r.Context(), mux.Vars(r)["id"], chat.AgentUpdate{
		Name:         req.Name,
		Description:  req.Description,
		AgentType:    req.AgentType,
		Provider:     req.Provider,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		KBIDs:        req.KBIDs,
		IsActive:     req.IsActive,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// handleDeleteAgent deactivates an agent; ?purge=true removes the row.
func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var err error
	if r.URL.Query().Get("purge") == "true" {
		err = s.chat.PurgeAgent(r.Context(), id)
	} else {
		err = s.chat.DeleteAgent(r.Context(), id)
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ==================== Agent groups ====================

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	group, err := s.chat.CreateGroup(r.Context(), chat.GroupParams{
		Name:        req.Name,
		Description: req.Description,
		AgentIDs:    req.AgentIDs,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	groups, err := s.chat.ListGroups(r.Context(), includeInactive)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.chat.GetGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req UpdateGroupRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	group, err := s.chat.UpdateGroup(r.Context(), mux.Vars(r)["id"], chat.GroupUpdate{
		Name:        req.Name,
		Description: req.Description,
		AgentIDs:    req.AgentIDs,
		IsActive:    req.IsActive,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// handleDeleteGroup deactivates a group; ?purge=true removes the row.
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var err error
	if r.URL.Query().Get("purge") == "true" {
		err = s.chat.PurgeGroup(r.Context(), id)
	} else {
		err = s.chat.DeleteGroup(r.Context(), id)
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGroupAgents(w http.ResponseWriter, r *http.Request) {
	members, err := s.chat.GroupAgents(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleGroupChat(w http.ResponseWriter, r *http.Request) {
	var req GroupChatRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	reply, err := s.chat.GroupChat(r.Context(), req.ConversationID, mux.Vars(r)["id"], req.Message)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// ==================== Conversations ====================

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	conv, err := s.chat.CreateConversation(r.Context(), req.Title, req.AgentIDs)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.chat.ListConversations(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.chat.GetConversation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.DeleteConversation(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.chat.Messages(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// ==================== Chat ====================

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	reply, err := s.chat.Chat(r.Context(), req.ConversationID, req.AgentID, req.Message)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
