package agent

import (
	"github.com/knowledge-agent-core/internal/llm"
)

const defaultHistoryLimit = 10

// ChatHistory is a bounded conversation transcript. On overflow the head
// message is retained together with the most recent max-1 entries; the
// head usually carries the system prompt, so it must survive eviction.
type ChatHistory struct {
	max      int
	messages []llm.Message
}

// NewChatHistory creates a transcript seeded with initial messages.
// max <= 0 selects the default limit.
func NewChatHistory(max int, initial ...llm.Message) *ChatHistory {
	if max <= 0 {
		max = defaultHistoryLimit
	}
	h := &ChatHistory{
		max:      max,
		messages: append([]llm.Message(nil), initial...),
	}
	h.trim()
	return h
}

// Add appends one message and evicts if the transcript overflows.
func (h *ChatHistory) Add(role llm.Role, content string) {
	h.messages = append(h.messages, llm.Message{Role: role, Content: content})
	h.trim()
}

func (h *ChatHistory) trim() {
	if len(h.messages) <= h.max {
		return
	}
	head := h.messages[0]
	tail := h.messages[len(h.messages)-(h.max-1):]
	kept := make([]llm.Message, 0, h.max)
	kept = append(kept, head)
	h.messages = append(kept, tail...)
}

// Messages returns a copy of the transcript.
func (h *ChatHistory) Messages() []llm.Message {
	return append([]llm.Message(nil), h.messages...)
}

// Len returns the number of messages held.
func (h *ChatHistory) Len() int {
	return len(h.messages)
}

// ToRequest maps the transcript onto one completion request: the head
// system message (when present), the middle turns as history, and the
// most recent message as the prompt.
func (h *ChatHistory) ToRequest() llm.Request {
	var req llm.Request
	msgs := h.messages
	if len(msgs) == 0 {
		return req
	}

	start := 0
	if msgs[0].Role == llm.RoleSystem {
		req.System = msgs[0].Content
		start = 1
	}
	if len(msgs) > start {
		req.Prompt = msgs[len(msgs)-1].Content
		req.History = append([]llm.Message(nil), msgs[start:len(msgs)-1]...)
	}
	return req
}
