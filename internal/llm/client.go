// Package llm provides the language model client used by retrieval
// strategies and agents. The concrete Router speaks the chat/completions
// wire formats of several hosted providers plus local Ollama; callers
// depend only on the Client interface.
package llm

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call. History, Provider and Model are
// optional; an empty provider selects the router default.
type Request struct {
	System   string
	Prompt   string
	History  []Message
	Provider Provider
	Model    string
}

// StreamChunk is one increment of a streamed completion. Err is set on
// the final chunk when the stream failed; Done marks normal completion.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// Client is the capability the rest of the system programs against:
// one-shot completion and incremental token-chunk delivery.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}
