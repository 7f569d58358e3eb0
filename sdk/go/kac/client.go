package kac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: HTTP %d: %s", e.Status, e.Message)
}

// Config configures the client.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the default client; Timeout is ignored when
	// it is set.
	HTTPClient *http.Client
}

// Client talks to a knowledge-agent-core server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	dialer     *websocket.Dialer
}

// NewClient creates a client for the server at cfg.BaseURL.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		dialer:     websocket.DefaultDialer,
	}
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// CreateKnowledgeBase creates a knowledge base.
func (c *Client) CreateKnowledgeBase(ctx context.Context, req CreateKnowledgeBaseRequest) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	if err := c.do(ctx, http.MethodPost, "/api/v1/kb", req, &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

// ListKnowledgeBases lists all knowledge bases.
func (c *Client) ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error) {
	var kbs []KnowledgeBase
	if err := c.do(ctx, http.MethodGet, "/api/v1/kb", nil, &kbs); err != nil {
		return nil, err
	}
	return kbs, nil
}

// GetKnowledgeBase fetches one knowledge base.
func (c *Client) GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	if err := c.do(ctx, http.MethodGet, "/api/v1/kb/"+url.PathEscape(id), nil, &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

// UpdateKnowledgeBase updates a knowledge base.
func (c *Client) UpdateKnowledgeBase(ctx context.Context, id string, req UpdateKnowledgeBaseRequest) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	if err := c.do(ctx, http.MethodPut, "/api/v1/kb/"+url.PathEscape(id), req, &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

// DeleteKnowledgeBase deletes a knowledge base and its indexed data.
func (c *Client) DeleteKnowledgeBase(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/kb/"+url.PathEscape(id), nil, nil)
}

// Query asks a question against one knowledge base.
func (c *Client) Query(ctx context.Context, kbID, query string, limit int) (*QueryResult, error) {
	body := map[string]interface{}{"query": query}
	if limit > 0 {
		body["limit"] = limit
	}
	var result QueryResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/kb/"+url.PathEscape(kbID)+"/query", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadDocument uploads a document into a knowledge base.
func (c *Client) UploadDocument(ctx context.Context, kbID string, up Upload) (*Document, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", up.Filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(up.Data); err != nil {
		return nil, err
	}
	if up.Title != "" {
		if err := mw.WriteField("title", up.Title); err != nil {
			return nil, err
		}
	}
	if len(up.Metadata) > 0 {
		meta, err := json.Marshal(up.Metadata)
		if err != nil {
			return nil, err
		}
		if err := mw.WriteField("metadata", string(meta)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/kb/"+url.PathEscape(kbID)+"/documents", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var doc Document
	if err := c.send(req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments lists the documents in a knowledge base.
func (c *Client) ListDocuments(ctx context.Context, kbID string) ([]Document, error) {
	var docs []Document
	if err := c.do(ctx, http.MethodGet, "/api/v1/kb/"+url.PathEscape(kbID)+"/documents", nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// GetDocument fetches one document.
func (c *Client) GetDocument(ctx context.Context, kbID, docID string) (*Document, error) {
	var doc Document
	if err := c.do(ctx, http.MethodGet, c.documentPath(kbID, docID), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document and its indexed chunks.
func (c *Client) DeleteDocument(ctx context.Context, kbID, docID string) error {
	return c.do(ctx, http.MethodDelete, c.documentPath(kbID, docID), nil, nil)
}

// ProcessDocument chunks, embeds and indexes an uploaded document. On
// servers with the event queue enabled the work runs asynchronously and
// the returned status is PENDING.
func (c *Client) ProcessDocument(ctx context.Context, kbID, docID string) (*ProcessResult, error) {
	// The queued path answers {document_id, status}; the inline path
	// answers the full document.
	var raw struct {
		ID         string `json:"id"`
		DocumentID string `json:"document_id"`
		Status     string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, c.documentPath(kbID, docID)+"/process", nil, &raw); err != nil {
		return nil, err
	}
	result := ProcessResult{DocumentID: raw.DocumentID, Status: raw.Status}
	if result.DocumentID == "" {
		result.DocumentID = raw.ID
	}
	return &result, nil
}

// GetChunks lists the indexed chunks of a processed document.
func (c *Client) GetChunks(ctx context.Context, kbID, docID string) ([]Chunk, error) {
	var chunks []Chunk
	if err := c.do(ctx, http.MethodGet, c.documentPath(kbID, docID)+"/chunks", nil, &chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// CreateAgent creates an agent.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*Agent, error) {
	var agent Agent
	if err := c.do(ctx, http.MethodPost, "/api/v1/agents", req, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListAgents lists agents. Soft-deleted agents are included only when
// includeInactive is set.
func (c *Client) ListAgents(ctx context.Context, includeInactive bool) ([]Agent, error) {
	path := "/api/v1/agents"
	if includeInactive {
		path += "?include_inactive=true"
	}
	var agents []Agent
	if err := c.do(ctx, http.MethodGet, path, nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// GetAgent fetches one agent.
func (c *Client) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents/"+url.PathEscape(id), nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// UpdateAgent updates an agent.
func (c *Client) UpdateAgent(ctx context.Context, id string, req UpdateAgentRequest) (*Agent, error) {
	var agent Agent
	if err := c.do(ctx, http.MethodPut, "/api/v1/agents/"+url.PathEscape(id), req, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// DeleteAgent soft-deletes an agent; purge removes it permanently.
func (c *Client) DeleteAgent(ctx context.Context, id string, purge bool) error {
	path := "/api/v1/agents/" + url.PathEscape(id)
	if purge {
		path += "?purge=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// CreateGroup creates an agent group.
func (c *Client) CreateGroup(ctx context.Context, req CreateGroupRequest) (*Group, error) {
	var group Group
	if err := c.do(ctx, http.MethodPost, "/api/v1/groups", req, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// ListGroups lists agent groups.
func (c *Client) ListGroups(ctx context.Context, includeInactive bool) ([]Group, error) {
	path := "/api/v1/groups"
	if includeInactive {
		path += "?include_inactive=true"
	}
	var groups []Group
	if err := c.do(ctx, http.MethodGet, path, nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// GetGroup fetches one group.
func (c *Client) GetGroup(ctx context.Context, id string) (*Group, error) {
	var group Group
	if err := c.do(ctx, http.MethodGet, "/api/v1/groups/"+url.PathEscape(id), nil, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// UpdateGroup updates a group.
func (c *Client) UpdateGroup(ctx context.Context, id string, req UpdateGroupRequest) (*Group, error) {
	var group Group
	if err := c.do(ctx, http.MethodPut, "/api/v1/groups/"+url.PathEscape(id), req, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// DeleteGroup soft-deletes a group; purge removes it permanently.
func (c *Client) DeleteGroup(ctx context.Context, id string, purge bool) error {
	path := "/api/v1/groups/" + url.PathEscape(id)
	if purge {
		path += "?purge=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// GroupAgents lists the active member agents of a group.
func (c *Client) GroupAgents(ctx context.Context, id string) ([]Agent, error) {
	var agents []Agent
	if err := c.do(ctx, http.MethodGet, "/api/v1/groups/"+url.PathEscape(id)+"/agents", nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// GroupChat sends one chat turn to a group; the group's manager routes
// it to the best-fitting member.
func (c *Client) GroupChat(ctx context.Context, groupID, conversationID, message string) (*Message, error) {
	body := map[string]string{"conversation_id": conversationID, "message": message}
	var msg Message
	if err := c.do(ctx, http.MethodPost, "/api/v1/groups/"+url.PathEscape(groupID)+"/chat", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateConversation starts a conversation.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations", req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations lists conversations.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// GetConversation fetches one conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation deletes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/conversations/"+url.PathEscape(id), nil, nil)
}

// Messages lists the transcript of a conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Chat sends one chat turn and waits for the full reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*Message, error) {
	var msg Message
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// StreamChat opens a websocket and streams one chat turn. The returned
// channel delivers content chunks, then a Done chunk, and closes.
// Cancelling the context tears the connection down.
func (c *Client) StreamChat(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error) {
	wsURL, err := websocketURL(c.baseURL)
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	frame := map[string]interface{}{
		"type":            "chat",
		"conversation_id": req.ConversationID,
		"message":         req.Message,
	}
	if req.GroupID != "" {
		frame["group_id"] = req.GroupID
	} else {
		frame["agent_id"] = req.AgentID
	}
	if req.Detailed {
		frame["detailed"] = true
	}
	if err := conn.WriteJSON(frame); err != nil {
		conn.Close()
		return nil, err
	}

	out := make(chan StreamChunk)
	finished := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-finished:
		}
	}()

	go func() {
		defer close(out)
		defer close(finished)
		defer conn.Close()

		for {
			var reply struct {
				Type    string `json:"type"`
				Content string `json:"content"`
				Error   string `json:"error"`
			}
			if err := conn.ReadJSON(&reply); err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				deliver(ctx, out, StreamChunk{Err: err})
				return
			}

			switch reply.Type {
			case "chunk":
				select {
				case out <- StreamChunk{Content: reply.Content}:
				case <-ctx.Done():
					deliver(ctx, out, StreamChunk{Err: ctx.Err()})
					return
				}
			case "done":
				deliver(ctx, out, StreamChunk{Done: true})
				return
			case "error":
				deliver(ctx, out, StreamChunk{Err: errors.New(reply.Error)})
				return
			}
		}
	}()

	return out, nil
}

// deliver sends the terminal chunk without blocking past cancellation,
// so an abandoned stream never strands the reader goroutine.
func deliver(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) {
	select {
	case out <- chunk:
	case <-ctx.Done():
	}
}

func (c *Client) documentPath(kbID, docID string) string {
	return "/api/v1/kb/" + url.PathEscape(kbID) + "/documents/" + url.PathEscape(docID)
}

// do runs one JSON request. A nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns an error response into an APIError, preferring the
// server's {"error": ...} body over the raw text.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}

// websocketURL maps the configured base URL onto the chat websocket.
func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat"
	return u.String(), nil
}
