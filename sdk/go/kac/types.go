// Package kac provides the Go client for the knowledge-agent-core
// HTTP API: knowledge base and document management, retrieval queries,
// agent and group administration, and streamed chat over websocket.
package kac

import "time"

// KnowledgeBase is a named document collection with its retrieval
// settings.
type KnowledgeBase struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	RAGType      string    `json:"rag_type"`
	ChunkSize    int       `json:"chunk_size"`
	ChunkOverlap int       `json:"chunk_overlap"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Document is an uploaded file and its processing state.
type Document struct {
	ID              string                 `json:"id"`
	KnowledgeBaseID string                 `json:"knowledge_base_id"`
	Title           string                 `json:"title"`
	Source          string                 `json:"source"`
	Extension       string                 `json:"extension"`
	Status          string                 `json:"status"`
	Content         string                 `json:"content,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Document processing states.
const (
	StatusUploaded  = "UPLOADED"
	StatusPending   = "PENDING"
	StatusProcessed = "PROCESSED"
	StatusFailed    = "FAILED"
)

// Chunk is one indexed passage of a processed document.
type Chunk struct {
	ID         string                 `json:"chunk_id"`
	DocumentID string                 `json:"document_id"`
	Content    string                 `json:"content"`
	Index      int                    `json:"chunk_index"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Agent is a persisted agent definition.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	AgentType    string    `json:"agent_type"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	KBIDs        []string  `json:"kb_ids"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Group is a roster of agents that answer together.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	AgentIDs    []string  `json:"agent_ids"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Conversation groups messages exchanged with one or more agents.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	AgentIDs  []string  `json:"agent_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	AgentID        string    `json:"agent_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// QueryResult is a grounded answer from one knowledge base.
type QueryResult struct {
	KnowledgeBase string `json:"knowledge_base"`
	Query         string `json:"query"`
	Response      string `json:"response"`
}

// ProcessResult reports a document processing request. For queued
// processing Status is PENDING; for inline processing it is the
// document's terminal state.
type ProcessResult struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// CreateKnowledgeBaseRequest creates a knowledge base. Zero values fall
// back to the server defaults.
type CreateKnowledgeBaseRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	RAGType      string `json:"rag_type,omitempty"`
	ChunkSize    int    `json:"chunk_size,omitempty"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty"`
}

// UpdateKnowledgeBaseRequest updates a knowledge base. Nil fields are
// left unchanged.
type UpdateKnowledgeBaseRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	RAGType     *string `json:"rag_type,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// Upload is a document upload. Title defaults to the filename and
// Metadata is attached to every chunk.
type Upload struct {
	Filename string
	Title    string
	Data     []byte
	Metadata map[string]interface{}
}

// CreateAgentRequest creates an agent.
type CreateAgentRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	AgentType    string   `json:"agent_type,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	KBIDs        []string `json:"kb_ids,omitempty"`
}

// UpdateAgentRequest updates an agent. Nil fields are left unchanged.
type UpdateAgentRequest struct {
	Name         *string   `json:"name,omitempty"`
	Description  *string   `json:"description,omitempty"`
	AgentType    *string   `json:"agent_type,omitempty"`
	Provider     *string   `json:"provider,omitempty"`
	Model        *string   `json:"model,omitempty"`
	SystemPrompt *string   `json:"system_prompt,omitempty"`
	KBIDs        *[]string `json:"kb_ids,omitempty"`
	IsActive     *bool     `json:"is_active,omitempty"`
}

// CreateGroupRequest creates an agent group.
type CreateGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	AgentIDs    []string `json:"agent_ids"`
}

// UpdateGroupRequest updates a group. Nil fields are left unchanged.
type UpdateGroupRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	AgentIDs    *[]string `json:"agent_ids,omitempty"`
	IsActive    *bool     `json:"is_active,omitempty"`
}

// CreateConversationRequest starts a conversation.
type CreateConversationRequest struct {
	Title    string   `json:"title,omitempty"`
	AgentIDs []string `json:"agent_ids,omitempty"`
}

// ChatRequest sends one chat turn to an agent.
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
	Message        string `json:"message"`
}

// StreamRequest opens a streamed chat turn. Set GroupID to route the
// turn through an agent group instead of a single agent.
type StreamRequest struct {
	ConversationID string
	AgentID        string
	GroupID        string
	Message        string
	Detailed       bool
}

// StreamChunk is one increment of a streamed reply. Done marks the end
// of a successful turn; Err reports a failed one. The channel closes
// after either.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}
