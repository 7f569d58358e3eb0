package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/llm"
)

// WSRequest is one inbound websocket frame. Type selects the action:
// "chat" runs a streamed turn, "ping" answers with a pong. A set
// GroupID routes the turn through an agent group.
type WSRequest struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
	GroupID        string `json:"group_id,omitempty"`
	Message        string `json:"message,omitempty"`
	Detailed       bool   `json:"detailed,omitempty"`
}

// WSReply is one outbound websocket frame. Chunks carry reply content
// incrementally, "done" closes a turn, "error" reports a failed one.
type WSReply struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleWebSocketChat(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	s.logger.Info("WebSocket connected", zap.String("remote", conn.RemoteAddr().String()))
	go s.serveWSConnection(conn)
}

func (s *Server) serveWSConnection(conn *websocket.Conn) {
	defer conn.Close()

	var wsMu sync.Mutex

	for {
		var req WSRequest
		if err := conn.ReadJSON(&req); err != nil {
			s.logger.Debug("WebSocket read error", zap.Error(err))
			return
		}

		switch req.Type {
		case "chat":
			go s.streamTurnToSocket(conn, &wsMu, req)
		case "ping":
			wsMu.Lock()
			_ = conn.WriteJSON(WSReply{Type: "pong"})
			wsMu.Unlock()
		}
	}
}

// streamTurnToSocket runs one streamed turn and relays its chunks. The
// turn runs on context.Background(); the request context died when the
// upgrade handler returned.
func (s *Server) streamTurnToSocket(conn *websocket.Conn, mu *sync.Mutex, req WSRequest) {
	ctx := context.Background()

	var (
		stream <-chan llm.StreamChunk
		err    error
	)
	if req.GroupID != "" {
		stream, err = s.chat.GroupChatStream(ctx, req.ConversationID, req.GroupID, req.Message)
	} else {
		stream, err = s.chat.ChatStream(ctx, req.ConversationID, req.AgentID, req.Message, req.Detailed)
	}
	if err != nil {
		s.writeWS(conn, mu, WSReply{Type: "error", Error: err.Error()})
		return
	}

	for chunk := range stream {
		switch {
		case chunk.Err != nil:
			s.writeWS(conn, mu, WSReply{Type: "error", Error: chunk.Err.Error()})
		case chunk.Done:
			s.writeWS(conn, mu, WSReply{Type: "done"})
		default:
			s.writeWS(conn, mu, WSReply{Type: "chunk", Content: chunk.Content})
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, mu *sync.Mutex, reply WSReply) {
	mu.Lock()
	defer mu.Unlock()
	if err := conn.WriteJSON(reply); err != nil {
		s.logger.Debug("WebSocket write failed", zap.Error(err))
	}
}
