package agent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-agent-core/internal/llm"
)

func TestChatHistoryKeepsAllUnderLimit(t *testing.T) {
	h := NewChatHistory(5)
	h.Add(llm.RoleSystem, "sys")
	h.Add(llm.RoleUser, "hello")
	h.Add(llm.RoleAssistant, "hi")

	assert.Equal(t, 3, h.Len())
	msgs := h.Messages()
	assert.Equal(t, "sys", msgs[0].Content)
	assert.Equal(t, "hi", msgs[2].Content)
}

func TestChatHistoryEvictsButKeepsHead(t *testing.T) {
	h := NewChatHistory(4)
	h.Add(llm.RoleSystem, "sys")
	h.Add(llm.RoleUser, "u1")
	h.Add(llm.RoleAssistant, "a1")
	h.Add(llm.RoleUser, "u2")
	h.Add(llm.RoleAssistant, "a2")
	h.Add(llm.RoleUser, "u3")

	require.Equal(t, 4, h.Len())
	msgs := h.Messages()
	assert.Equal(t, "sys", msgs[0].Content)
	assert.Equal(t, "a2", msgs[2].Content)
	assert.Equal(t, "u3", msgs[3].Content)
}

func TestChatHistoryTrimsInitialMessages(t *testing.T) {
	initial := make([]llm.Message, 12)
	for i := range initial {
		initial[i] = llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("m%d", i)}
	}

	h := NewChatHistory(10, initial...)
	require.Equal(t, 10, h.Len())
	msgs := h.Messages()
	assert.Equal(t, "m0", msgs[0].Content)
	assert.Equal(t, "m11", msgs[9].Content)
}

func TestChatHistoryMessagesReturnsCopy(t *testing.T) {
	h := NewChatHistory(5)
	h.Add(llm.RoleUser, "original")

	msgs := h.Messages()
	msgs[0].Content = "mutated"
	assert.Equal(t, "original", h.Messages()[0].Content)
}

func TestToRequestSplitsTranscript(t *testing.T) {
	h := NewChatHistory(10)
	h.Add(llm.RoleSystem, "be helpful")
	h.Add(llm.RoleUser, "u1")
	h.Add(llm.RoleAssistant, "a1")
	h.Add(llm.RoleUser, "u2")

	req := h.ToRequest()
	assert.Equal(t, "be helpful", req.System)
	require.Len(t, req.History, 2)
	assert.Equal(t, "u1", req.History[0].Content)
	assert.Equal(t, "a1", req.History[1].Content)
	assert.Equal(t, "u2", req.Prompt)
}

func TestToRequestWithoutSystemHead(t *testing.T) {
	h := NewChatHistory(10)
	h.Add(llm.RoleUser, "u1")
	h.Add(llm.RoleAssistant, "a1")
	h.Add(llm.RoleUser, "u2")

	req := h.ToRequest()
	assert.Empty(t, req.System)
	require.Len(t, req.History, 2)
	assert.Equal(t, "u2", req.Prompt)
}

func TestToRequestEdgeCases(t *testing.T) {
	assert.Equal(t, llm.Request{}, NewChatHistory(10).ToRequest())

	h := NewChatHistory(10)
	h.Add(llm.RoleSystem, "sys only")
	req := h.ToRequest()
	assert.Equal(t, "sys only", req.System)
	assert.Empty(t, req.Prompt)
	assert.Empty(t, req.History)
}
