package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const defaultQueryLimit = 5

// registerTools binds the tool set to the backing services. A nil
// service leaves its tools registered but failing with a clear message,
// so partial deployments still answer tools/list consistently.
func registerTools(knowledge KnowledgeSource, chat ChatSource) []Tool {
	return []Tool{
		{
			Definition: ToolDefinition{
				Name:        "kb_list",
				Description: "List all knowledge bases with their document counts and retrieval settings",
				InputSchema: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				if knowledge == nil {
					return nil, errors.New("knowledge base service not available")
				}
				return knowledge.ListKnowledgeBases(ctx)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "kb_query",
				Description: "Ask a question against one knowledge base and get a grounded answer",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"knowledge_base_id": map[string]interface{}{
							"type":        "string",
							"description": "ID of the knowledge base to query",
						},
						"query": map[string]interface{}{
							"type":        "string",
							"description": "Question to answer from the indexed documents",
						},
						"limit": map[string]interface{}{
							"type":        "integer",
							"description": "Maximum number of passages to retrieve",
						},
					},
					"required": []string{"knowledge_base_id", "query"},
				},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				if knowledge == nil {
					return nil, errors.New("knowledge base service not available")
				}
				kbID := getString(args, "knowledge_base_id")
				query := getString(args, "query")
				if kbID == "" || query == "" {
					return nil, errors.New("knowledge_base_id and query are required")
				}
				limit := getInt(args, "limit")
				if limit <= 0 {
					limit = defaultQueryLimit
				}
				return knowledge.Query(ctx, kbID, query, limit)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "document_list",
				Description: "List the documents in a knowledge base with their processing status",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"knowledge_base_id": map[string]interface{}{
							"type":        "string",
							"description": "ID of the knowledge base",
						},
					},
					"required": []string{"knowledge_base_id"},
				},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				if knowledge == nil {
					return nil, errors.New("knowledge base service not available")
				}
				kbID := getString(args, "knowledge_base_id")
				if kbID == "" {
					return nil, errors.New("knowledge_base_id is required")
				}
				return knowledge.ListDocuments(ctx, kbID)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "agent_list",
				Description: "List the active conversational agents and their attached knowledge bases",
				InputSchema: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				if chat == nil {
					return nil, errors.New("chat service not available")
				}
				return chat.ListAgents(ctx, false)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "agent_chat",
				Description: "Send a message to an agent. Omit conversation_id to start a new conversation; reuse the returned one to continue it",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"agent_id": map[string]interface{}{
							"type":        "string",
							"description": "ID of the agent to talk to",
						},
						"message": map[string]interface{}{
							"type":        "string",
							"description": "Message text",
						},
						"conversation_id": map[string]interface{}{
							"type":        "string",
							"description": "Existing conversation to continue, empty for a new one",
						},
					},
					"required": []string{"agent_id", "message"},
				},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				if chat == nil {
					return nil, errors.New("chat service not available")
				}
				agentID := getString(args, "agent_id")
				message := getString(args, "message")
				if agentID == "" || message == "" {
					return nil, errors.New("agent_id and message are required")
				}

				convID := getString(args, "conversation_id")
				if convID == "" {
					conv, err := chat.CreateConversation(ctx, conversationTitle(message), []string{agentID})
					if err != nil {
						return nil, fmt.Errorf("create conversation: %w", err)
					}
					convID = conv.ID
				}

				reply, err := chat.Chat(ctx, convID, agentID, message)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"conversation_id": convID,
					"agent_id":        reply.AgentID,
					"reply":           reply.Content,
				}, nil
			},
		},
	}
}

// conversationTitle derives a short title from the opening message.
func conversationTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if len(title) > 48 {
		title = strings.TrimSpace(title[:48])
	}
	if title == "" {
		title = "mcp conversation"
	}
	return title
}

func getString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func getInt(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
