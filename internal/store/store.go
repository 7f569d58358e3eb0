// Package store persists the service's metadata: knowledge bases,
// documents with their processing status, chunk records, conversations,
// agent configurations, and agent groups. Consumers depend on the
// narrow per-entity contracts; the sqlite implementation satisfies all
// of them.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// DocumentStatus tracks a document through its processing lifecycle.
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "UPLOADED"
	StatusPending    DocumentStatus = "PENDING"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusProcessed  DocumentStatus = "PROCESSED"
	StatusFailed     DocumentStatus = "FAILED"
)

// KnowledgeBase owns documents and carries the retrieval configuration
// its queries run with. Its vector collection is named "kb-" + ID.
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

// Collection returns the vector collection backing this knowledge base.
func (kb KnowledgeBase) Collection() string {
	return "kb-" + kb.ID
}

// Document is one uploaded file inside a knowledge base. Content holds
// the extracted text; Status is updated at every lifecycle transition.
type Document struct {
	ID              string                 `json:"id"`
	KnowledgeBaseID string                 `json:"knowledge_base_id"`
	Title           string                 `json:"title"`
	Source          string                 `json:"source"`
	Extension       string                 `json:"extension"`
	Status          DocumentStatus         `json:"status"`
	Content         string                 `json:"content,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Chunk is the persisted record of one indexed passage. Embeddings live
// in the vector index; the row keeps the text and its position so the
// document's chunking survives restarts.
type Chunk struct {
	ID         string                 `json:"chunk_id"`
	DocumentID string                 `json:"document_id"`
	Content    string                 `json:"content"`
	Index      int                    `json:"chunk_index"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Conversation groups messages exchanged with one or more agents.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	AgentIDs  []string  `json:"agent_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn in a conversation. AgentID records which agent
// produced an assistant turn; it is empty on user turns.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	AgentID        string    `json:"agent_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AgentConfig is a persisted agent definition: which loop it runs
// (react or reflection), which model serves it, and which knowledge
// bases it may search.
type AgentConfig struct {
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

// AgentGroup is a persisted roster of agents that answer together. A
// manager agent built from the members routes each group chat turn to
// the best-fitting one.
type AgentGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	AgentIDs    []string  `json:"agent_ids"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// KnowledgeBaseStore persists knowledge bases.
type KnowledgeBaseStore interface {
	CreateKnowledgeBase(ctx context.Context, kb *KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error)
	UpdateKnowledgeBase(ctx context.Context, kb *KnowledgeBase) error
	DeleteKnowledgeBase(ctx context.Context, id string) error
}

// DocumentStore persists documents and their chunk records. Deleting a
// document cascades to its chunks.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, knowledgeBaseID string) ([]Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus) error
	DeleteDocument(ctx context.Context, id string) error
	ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error
	GetChunks(ctx context.Context, documentID string) ([]Chunk, error)
}

// ConversationStore persists conversations and their messages. Deleting
// a conversation cascades to its messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// AgentConfigStore persists agent definitions.
type AgentConfigStore interface {
	SaveAgentConfig(ctx context.Context, a *AgentConfig) error
	GetAgentConfig(ctx context.Context, id string) (*AgentConfig, error)
	ListAgentConfigs(ctx context.Context) ([]AgentConfig, error)
	DeleteAgentConfig(ctx context.Context, id string) error
}

// AgentGroupStore persists agent groups.
type AgentGroupStore interface {
	CreateAgentGroup(ctx context.Context, g *AgentGroup) error
	GetAgentGroup(ctx context.Context, id string) (*AgentGroup, error)
	ListAgentGroups(ctx context.Context) ([]AgentGroup, error)
	UpdateAgentGroup(ctx context.Context, g *AgentGroup) error
	DeleteAgentGroup(ctx context.Context, id string) error
}
