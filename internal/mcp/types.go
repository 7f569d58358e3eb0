// Package mcp exposes knowledge base retrieval and agent chat as Model
// Context Protocol tools, over stdio for desktop clients or mounted as
// an HTTP endpoint on the API server.
package mcp

import (
	"context"
)

// Request is a JSON-RPC 2.0 request from an MCP client.
type Request struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      interface{}            `json:"id,omitempty"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// JSON-RPC error codes used by the server.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

// InitializeResult answers the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      map[string]string      `json:"serverInfo"`
}

// ListToolsResult returns the available tools.
type ListToolsResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ToolDefinition describes one tool and its argument schema.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// CallParams carries a tools/call invocation.
type CallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// CallResult is the outcome of a tool call. Content holds the payload
// serialized as text blocks, the shape MCP clients expect.
type CallResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ToolContent is one content block in a tool result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolHandler executes one tool. The returned value is serialized into
// the result's text content.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition ToolDefinition
	Handler    ToolHandler
}
