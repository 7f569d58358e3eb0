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
)

// GroupParams are the caller-supplied fields for a new agent group.
type GroupParams struct {
	Name        string
	Description string
	AgentIDs    []string
}

// CreateGroup persists an agent group. Every member must exist and be
// active, and a group needs at least one member to route to.
func (s *Service) CreateGroup(ctx context.Context, p GroupParams) (*store.AgentGroup, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalid)
	}
	if len(p.AgentIDs) == 0 {
		return nil, fmt.Errorf("%w: group needs at least one agent", ErrInvalid)
	}
	if err := s.requireAgents(ctx, p.AgentIDs); err != nil {
		return nil, err
	}

	group := &store.AgentGroup{
		ID:          uuid.New().String(),
		Name:        name,
		Description: strings.TrimSpace(p.Description),
		AgentIDs:    p.AgentIDs,
		IsActive:    true,
	}
	if err := s.groups.CreateAgentGroup(ctx, group); err != nil {
		return nil, err
	}

	s.logger.Info("Agent group created",
		zap.String("group_id", group.ID),
		zap.Int("agents", len(group.AgentIDs)))
	return group, nil
}

// GetGroup returns one agent group, active or not.
func (s *Service) GetGroup(ctx context.Context, id string) (*store.AgentGroup, error) {
	return s.groups.GetAgentGroup(ctx, id)
}

// ListGroups returns agent groups, hiding deactivated ones unless
// includeInactive is set.
func (s *Service) ListGroups(ctx context.Context, includeInactive bool) ([]store.AgentGroup, error) {
	groups, err := s.groups.ListAgentGroups(ctx)
	if err != nil {
		return nil, err
	}
	if includeInactive {
		return groups, nil
	}
	active := make([]store.AgentGroup, 0, len(groups))
	for _, g := range groups {
		if g.IsActive {
			active = append(active, g)
		}
	}
	return active, nil
}

// GroupUpdate carries partial changes; nil fields keep current values.
type GroupUpdate struct {
	Name        *string
	Description *string
	AgentIDs    *[]string
	IsActive    *bool
}

// UpdateGroup applies a partial update to an agent group.
func (s *Service) UpdateGroup(ctx context.Context, id string, u GroupUpdate) (*store.AgentGroup, error) {
	group, err := s.groups.GetAgentGroup(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: group name is required", ErrInvalid)
		}
		group.Name = name
	}
	if u.Description != nil {
		group.Description = strings.TrimSpace(*u.Description)
	}
	if u.AgentIDs != nil {
		if len(*u.AgentIDs) == 0 {
			return nil, fmt.Errorf("%w: group needs at least one agent", ErrInvalid)
		}
		if err := s.requireAgents(ctx, *u.AgentIDs); err != nil {
			return nil, err
		}
		group.AgentIDs = *u.AgentIDs
	}
	if u.IsActive != nil {
		group.IsActive = *u.IsActive
	}

	if err := s.groups.UpdateAgentGroup(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// DeleteGroup deactivates a group; PurgeGroup removes it outright.
func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	group, err := s.groups.GetAgentGroup(ctx, id)
	if err != nil {
		return err
	}
	if !group.IsActive {
		return nil
	}
	group.IsActive = false
	if err := s.groups.UpdateAgentGroup(ctx, group); err != nil {
		return err
	}
	s.logger.Info("Agent group deactivated", zap.String("group_id", id))
	return nil
}

// PurgeGroup removes an agent group outright.
func (s *Service) PurgeGroup(ctx context.Context, id string) error {
	if err := s.groups.DeleteAgentGroup(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Agent group removed", zap.String("group_id", id))
	return nil
}

// GroupAgents expands a group's roster into its member definitions.
// Members whose definitions have since been purged are skipped.
func (s *Service) GroupAgents(ctx context.Context, groupID string) ([]store.AgentConfig, error) {
	group, err := s.groups.GetAgentGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	members := make([]store.AgentConfig, 0, len(group.AgentIDs))
	for _, id := range group.AgentIDs {
		cfg, err := s.agents.GetAgentConfig(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("Skipping purged group member",
				zap.String("group_id", groupID),
				zap.String("agent_id", id))
			continue
		}
		if err != nil {
			return nil, err
		}
		members = append(members, *cfg)
	}
	return members, nil
}

// GroupChat runs one conversational turn through a group: a manager
// agent built from the members routes the query to the best-fitting
// one, and the reply is persisted with that member's attribution.
func (s *Service) GroupChat(ctx context.Context, conversationID, groupID, text string) (*store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is required", ErrInvalid)
	}
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	group, err := s.activeGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	manager, err := s.buildManager(ctx, group)
	if err != nil {
		return nil, err
	}

	reply, err := s.runTurn(ctx, conv, manager, text)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Group chat turn completed",
		zap.String("conversation_id", conv.ID),
		zap.String("group_id", group.ID),
		zap.String("agent_id", reply.AgentID))
	return reply, nil
}

// GroupChatStream is the streaming variant of GroupChat. The persisted
// reply is attributed to the group since member attribution is not
// visible through the stream.
func (s *Service) GroupChatStream(ctx context.Context, conversationID, groupID, text string) (<-chan llm.StreamChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is required", ErrInvalid)
	}
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	group, err := s.activeGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	manager, err := s.buildManager(ctx, group)
	if err != nil {
		return nil, err
	}
	return s.streamTurn(ctx, conv, manager, group.ID, text, false)
}

// buildManager assembles the routing manager for a group: each usable
// member becomes a registered sub-agent. Members that no longer resolve
// are skipped so a stale roster degrades instead of failing, but a
// group with no usable members at all is an error.
func (s *Service) buildManager(ctx context.Context, group *store.AgentGroup) (*agent.Manager, error) {
	opts := agent.Options{
		ID:          group.ID,
		Name:        group.Name,
		Description: group.Description,
	}
	manager := agent.NewManager(s.client, opts, 0, s.logger)

	registered := 0
	for _, id := range group.AgentIDs {
		cfg, err := s.activeAgent(ctx, id)
		if err != nil {
			s.logger.Warn("Skipping unavailable group member",
				zap.String("group_id", group.ID),
				zap.String("agent_id", id),
				zap.Error(err))
			continue
		}
		member, err := s.buildAgent(ctx, cfg)
		if err != nil {
			return nil, err
		}
		manager.RegisterAgent(member)
		registered++
	}
	if registered == 0 {
		return nil, fmt.Errorf("%w: group %s has no usable agents", ErrInvalid, group.ID)
	}
	return manager, nil
}

// activeGroup loads an agent group and refuses inactive ones.
func (s *Service) activeGroup(ctx context.Context, id string) (*store.AgentGroup, error) {
	group, err := s.groups.GetAgentGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !group.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrGroupInactive, id)
	}
	return group, nil
}
