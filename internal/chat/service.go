// Package chat manages conversations and the agents that answer them.
// Agent definitions and groups are persisted records; each turn builds
// the configured agent, arms it with retrieval tools for its knowledge
// bases, runs it over the transcript, and persists both sides of the
// exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/agent"
	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/store"
	"github.com/knowledge-agent-core/internal/tools"
)

// Agent loop kinds accepted by CreateAgent.
const (
	AgentTypeReAct      = "react"
	AgentTypeReflection = "reflection"
)

// historyWindow bounds how many trailing transcript messages feed an
// agent run.
const historyWindow = 20

var (
	// ErrInvalid marks malformed requests the service refuses outright.
	ErrInvalid = errors.New("chat: invalid request")
	// ErrUnknownAgent reports a reference to an agent id that does not
	// exist.
	ErrUnknownAgent = errors.New("chat: unknown agent")
	// ErrAgentInactive reports an attempt to use a deactivated agent.
	ErrAgentInactive = errors.New("chat: agent is inactive")
	// ErrGroupInactive reports an attempt to chat through a deactivated
	// agent group.
	ErrGroupInactive = errors.New("chat: agent group is inactive")
)

// ToolSource supplies retrieval tools scoped to knowledge bases. The
// knowledge base service satisfies it.
type ToolSource interface {
	RetrievalTools(ctx context.Context, kbIDs []string) ([]tools.Tool, error)
}

// Deps are the collaborators the chat service is wired with.
type Deps struct {
	Agents        store.AgentConfigStore
	Groups        store.AgentGroupStore
	Conversations store.ConversationStore
	KBs           store.KnowledgeBaseStore
	LLM           llm.Client
	Tools         ToolSource
	Logger        *zap.Logger
}

// Service runs conversations over persisted agent definitions.
type Service struct {
	agents     store.AgentConfigStore
	groups     store.AgentGroupStore
	convs      store.ConversationStore
	kbs        store.KnowledgeBaseStore
	client     llm.Client
	toolSource ToolSource
	logger     *zap.Logger
}

// NewService wires the chat service. A nil logger is replaced with a
// nop logger.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		agents:     deps.Agents,
		groups:     deps.Groups,
		convs:      deps.Conversations,
		kbs:        deps.KBs,
		client:     deps.LLM,
		toolSource: deps.Tools,
		logger:     logger.Named("chat"),
	}
}

// ==================== Agents ====================

// AgentParams are the caller-supplied fields for a new agent.
type AgentParams struct {
	Name         string
	Description  string
	AgentType    string
	Provider     string
	Model        string
	SystemPrompt string
	KBIDs        []string
}

// CreateAgent persists a new agent definition. The agent type must be a
// known loop and every referenced knowledge base must exist and be
// active.
func (s *Service) CreateAgent(ctx context.Context, p AgentParams) (*store.AgentConfig, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: agent name is required", ErrInvalid)
	}
	agentType, err := normalizeAgentType(p.AgentType)
	if err != nil {
		return nil, err
	}
	if err := s.requireKnowledgeBases(ctx, p.KBIDs); err != nil {
		return nil, err
	}

	cfg := &store.AgentConfig{
		ID:           uuid.New().String(),
		Name:         name,
		Description:  strings.TrimSpace(p.Description),
		AgentType:    agentType,
		Provider:     p.Provider,
		Model:        p.Model,
		SystemPrompt: p.SystemPrompt,
		KBIDs:        p.KBIDs,
		IsActive:     true,
	}
	if err := s.agents.SaveAgentConfig(ctx, cfg); err != nil {
		return nil, err
	}

	s.logger.Info("Agent created",
		zap.String("agent_id", cfg.ID),
		zap.String("agent_type", cfg.AgentType),
		zap.Int("knowledge_bases", len(cfg.KBIDs)))
	return cfg, nil
}

// GetAgent returns one agent definition, active or not.
func (s *Service) GetAgent(ctx context.Context, id string) (*store.AgentConfig, error) {
	return s.agents.GetAgentConfig(ctx, id)
}

// ListAgents returns agent definitions, hiding deactivated ones unless
// includeInactive is set.
func (s *Service) ListAgents(ctx context.Context, includeInactive bool) ([]store.AgentConfig, error) {
	configs, err := s.agents.ListAgentConfigs(ctx)
	if err != nil {
		return nil, err
	}
	if includeInactive {
		return configs, nil
	}
	active := make([]store.AgentConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg.IsActive {
			active = append(active, cfg)
		}
	}
	return active, nil
}

// AgentUpdate carries partial changes; nil fields keep current values.
type AgentUpdate struct {
	Name         *string
	Description  *string
	AgentType    *string
	Provider     *string
	Model        *string
	SystemPrompt *string
	KBIDs        *[]string
	IsActive     *bool
}

// UpdateAgent applies a partial update to an agent definition.
func (s *Service) UpdateAgent(ctx context.Context, id string, u AgentUpdate) (*store.AgentConfig, error) {
	cfg, err := s.agents.GetAgentConfig(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: agent name is required", ErrInvalid)
		}
		cfg.Name = name
	}
	if u.Description != nil {
		cfg.Description = strings.TrimSpace(*u.Description)
	}
	if u.AgentType != nil {
		agentType, err := normalizeAgentType(*u.AgentType)
		if err != nil {
			return nil, err
		}
		cfg.AgentType = agentType
	}
	if u.Provider != nil {
		cfg.Provider = *u.Provider
	}
	if u.Model != nil {
		cfg.Model = *u.Model
	}
	if u.SystemPrompt != nil {
		cfg.SystemPrompt = *u.SystemPrompt
	}
	if u.KBIDs != nil {
		if err := s.requireKnowledgeBases(ctx, *u.KBIDs); err != nil {
			return nil, err
		}
		cfg.KBIDs = *u.KBIDs
	}
	if u.IsActive != nil {
		cfg.IsActive = *u.IsActive
	}

	if err := s.agents.SaveAgentConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DeleteAgent deactivates an agent. The definition is kept so past
// conversations stay attributable; PurgeAgent removes it outright.
func (s *Service) DeleteAgent(ctx context.Context, id string) error {
	cfg, err := s.agents.GetAgentConfig(ctx, id)
	if err != nil {
		return err
	}
	if !cfg.IsActive {
		return nil
	}
	cfg.IsActive = false
	if err := s.agents.SaveAgentConfig(ctx, cfg); err != nil {
		return err
	}
	s.logger.Info("Agent deactivated", zap.String("agent_id", id))
	return nil
}

// PurgeAgent removes an agent definition outright.
func (s *Service) PurgeAgent(ctx context.Context, id string) error {
	if err := s.agents.DeleteAgentConfig(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Agent removed", zap.String("agent_id", id))
	return nil
}

// ==================== Conversations ====================

// CreateConversation starts a conversation. Every listed agent must
// exist and be active.
func (s *Service) CreateConversation(ctx context.Context, title string, agentIDs []string) (*store.Conversation, error) {
	if err := s.requireAgents(ctx, agentIDs); err != nil {
		return nil, err
	}
	conv := &store.Conversation{
		ID:       uuid.New().String(),
		Title:    strings.TrimSpace(title),
		AgentIDs: agentIDs,
	}
	if err := s.convs.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	s.logger.Info("Conversation created",
		zap.String("conversation_id", conv.ID),
		zap.Int("agents", len(conv.AgentIDs)))
	return conv, nil
}

// GetConversation returns one conversation.
func (s *Service) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return s.convs.GetConversation(ctx, id)
}

// ListConversations returns all conversations.
func (s *Service) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	return s.convs.ListConversations(ctx)
}

// DeleteConversation removes a conversation and its messages.
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	return s.convs.DeleteConversation(ctx, id)
}

// Messages returns a conversation's transcript in order. A missing
// conversation is store.ErrNotFound rather than an empty transcript.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]store.Message, error) {
	if _, err := s.convs.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.convs.ListMessages(ctx, conversationID)
}

// ==================== Turns ====================

// Chat runs one conversational turn: the user's text is persisted, the
// agent answers over the prior transcript, and the reply is persisted
// with the agent's attribution. An empty agentID falls back to the
// conversation's first agent.
func (s *Service) Chat(ctx context.Context, conversationID, agentID, text string) (*store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is required", ErrInvalid)
	}
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	id, err := pickAgentID(conv, agentID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.activeAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	runner, err := s.buildAgent(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reply, err := s.runTurn(ctx, conv, runner, text)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Chat turn completed",
		zap.String("conversation_id", conv.ID),
		zap.String("agent_id", cfg.ID))
	return reply, nil
}

// ChatStream is the streaming variant of Chat. The reply is persisted
// once the stream completes cleanly; detailed streams narrate planning
// progress and are not recorded in the transcript.
func (s *Service) ChatStream(ctx context.Context, conversationID, agentID, text string, detailed bool) (<-chan llm.StreamChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is required", ErrInvalid)
	}
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	id, err := pickAgentID(conv, agentID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.activeAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	runner, err := s.buildAgent(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s.streamTurn(ctx, conv, runner, cfg.ID, text, detailed)
}

// runTurn persists the user's message, runs the agent over the prior
// transcript, and persists the attributed reply.
func (s *Service) runTurn(ctx context.Context, conv *store.Conversation, runner agent.Agent, text string) (*store.Message, error) {
	history, err := s.history(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.appendTurn(ctx, conv.ID, llm.RoleUser, text, ""); err != nil {
		return nil, err
	}

	resp, err := runner.Chat(ctx, agent.Request{Query: text, History: history})
	if err != nil {
		return nil, fmt.Errorf("agent run failed: %w", err)
	}
	return s.appendTurn(ctx, conv.ID, llm.RoleAssistant, resp.Content, resp.AgentID)
}

// streamTurn persists the user's message, relays the agent's stream,
// and persists the assembled reply just before the Done chunk is
// forwarded so a client that saw Done can immediately re-read the
// transcript.
func (s *Service) streamTurn(ctx context.Context, conv *store.Conversation, runner agent.Agent, agentID, text string, detailed bool) (<-chan llm.StreamChunk, error) {
	history, err := s.history(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.appendTurn(ctx, conv.ID, llm.RoleUser, text, ""); err != nil {
		return nil, err
	}

	stream, err := runner.ChatStream(ctx, agent.Request{Query: text, History: history, DetailedStream: detailed})
	if err != nil {
		return nil, fmt.Errorf("agent stream failed: %w", err)
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		var reply strings.Builder
		failed := false
		persisted := false
		for chunk := range stream {
			if chunk.Err != nil {
				failed = true
			} else if !chunk.Done {
				reply.WriteString(chunk.Content)
			}
			if chunk.Done && !failed && !persisted && !detailed && reply.Len() > 0 {
				persisted = true
				if _, err := s.appendTurn(context.Background(), conv.ID, llm.RoleAssistant, reply.String(), agentID); err != nil {
					s.logger.Error("Failed to persist streamed reply",
						zap.String("conversation_id", conv.ID),
						zap.Error(err))
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// appendTurn writes one transcript message.
func (s *Service) appendTurn(ctx context.Context, conversationID string, role llm.Role, content, agentID string) (*store.Message, error) {
	m := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           string(role),
		Content:        content,
		AgentID:        agentID,
	}
	if err := s.convs.AppendMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to persist %s message: %w", role, err)
	}
	return m, nil
}

// history maps the stored transcript into model messages, bounded to
// the trailing window.
func (s *Service) history(ctx context.Context, conversationID string) ([]llm.Message, error) {
	msgs, err := s.convs.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(msgs) > historyWindow {
		msgs = msgs[len(msgs)-historyWindow:]
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return out, nil
}

// buildAgent constructs the runnable agent for a stored definition,
// wiring in retrieval tools for its knowledge bases.
func (s *Service) buildAgent(ctx context.Context, cfg *store.AgentConfig) (agent.Agent, error) {
	registry := tools.NewRegistry(s.logger)
	if len(cfg.KBIDs) > 0 && s.toolSource != nil {
		kbTools, err := s.toolSource.RetrievalTools(ctx, cfg.KBIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to build retrieval tools: %w", err)
		}
		for _, tool := range kbTools {
			if err := registry.Register(tool); err != nil {
				return nil, fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
			}
		}
	}

	opts := agent.Options{
		ID:           cfg.ID,
		Name:         cfg.Name,
		Description:  cfg.Description,
		SystemPrompt: cfg.SystemPrompt,
		Provider:     llm.Provider(cfg.Provider),
		Model:        cfg.Model,
	}

	switch cfg.AgentType {
	case AgentTypeReAct:
		return agent.NewReAct(s.client, opts, registry, 0, s.logger), nil
	case AgentTypeReflection:
		return agent.NewReflection(s.client, opts, registry, 0, s.logger), nil
	default:
		return nil, fmt.Errorf("unknown agent type %q", cfg.AgentType)
	}
}

// activeAgent loads an agent definition and refuses inactive ones.
func (s *Service) activeAgent(ctx context.Context, id string) (*store.AgentConfig, error) {
	cfg, err := s.agents.GetAgentConfig(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	if err != nil {
		return nil, err
	}
	if !cfg.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrAgentInactive, id)
	}
	return cfg, nil
}

// requireAgents verifies every id names an existing active agent.
func (s *Service) requireAgents(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.activeAgent(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// requireKnowledgeBases verifies every id names an existing active
// knowledge base.
func (s *Service) requireKnowledgeBases(ctx context.Context, ids []string) error {
	for _, id := range ids {
		kb, err := s.kbs.GetKnowledgeBase(ctx, id)
		if err != nil {
			return fmt.Errorf("knowledge base %s: %w", id, err)
		}
		if !kb.IsActive {
			return fmt.Errorf("%w: knowledge base %s is inactive", ErrInvalid, id)
		}
	}
	return nil
}

// pickAgentID resolves which agent answers: the explicit id when given,
// else the conversation's first agent.
func pickAgentID(conv *store.Conversation, agentID string) (string, error) {
	if agentID != "" {
		return agentID, nil
	}
	if len(conv.AgentIDs) > 0 {
		return conv.AgentIDs[0], nil
	}
	return "", fmt.Errorf("%w: conversation %s has no agents and none was specified", ErrUnknownAgent, conv.ID)
}

// normalizeAgentType validates the loop kind; empty selects react.
func normalizeAgentType(raw string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(raw))
	switch t {
	case "":
		return AgentTypeReAct, nil
	case AgentTypeReAct, AgentTypeReflection:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown agent type %q", ErrInvalid, raw)
	}
}
