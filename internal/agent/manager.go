package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/llm"
)

const (
	// confidenceCutoff gates delegation: below it the manager answers
	// directly instead of handing the query to a sub-agent.
	confidenceCutoff = 0.6

	defaultValidationThreshold = 0.7

	// classifyHistoryWindow bounds how many trailing messages feed the
	// classification prompt.
	classifyHistoryWindow = 3
)

const classifyPrompt = `You are AgentMatcher, an intelligent assistant designed to analyze user queries and match them with
the most suitable agent or department. Your task is to understand the user request,
identify key entities and intents, and determine which agent or department would be best equipped
to handle the query.

Important: The user input may be a follow-up response to a previous interaction.
The conversation history, including the name of the previously selected agent, is provided.
If the user's input appears to be a continuation of the previous conversation
(e.g., 'yes', 'ok', 'I want to know more', '1'), select the same agent as before.

Available agents and their capabilities: %s

Based on the user input and chat history, determine the most appropriate agent and provide a confidence score (0-1).

Respond in JSON format:
{
    "selected_agent": "agent_id",
    "confidence": 0.0,
    "reasoning": "brief explanation"
}

User input: %s
Recent chat history: %s
`

const validatePrompt = `You are a response validator. Assess whether the generated response answers
the user's query with relevant and correct information.

User query: %s

Generated response: %s

Respond in JSON format:
{
    "is_valid": true/false,
    "score": 0.0,
    "needs_refinement": true/false,
    "refinement_suggestions": "brief notes or empty"
}
`

const refinePrompt = `Rewrite the response below so it fully addresses the user's query. Keep the
original tone and voice; fix only what the validation feedback calls out.

User query: %s

Original response: %s

Validation feedback: %s

Return only the rewritten response.
`

// directAnswerPrefix frames the fallback completion when no sub-agent
// handles the query.
const directAnswerPrefix = "Answer this question: "

// classification is the model's routing decision.
type classification struct {
	SelectedAgent string  `json:"selected_agent"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
}

// validation is the model's quality judgment of a delegated response.
type validation struct {
	IsValid               bool    `json:"is_valid"`
	Score                 float64 `json:"score"`
	NeedsRefinement       bool    `json:"needs_refinement"`
	RefinementSuggestions string  `json:"refinement_suggestions"`
}

// AgentInfo describes one registered sub-agent.
type AgentInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Manager routes conversational requests across registered sub-agents:
// classify the query, delegate when confident, validate the delegated
// response, and refine it when validation asks for it. Low confidence
// or an empty registry falls back to a direct model answer.
type Manager struct {
	base
	mu                  sync.RWMutex
	agents              map[string]Agent
	order               []string
	validationThreshold float64
}

// NewManager creates a manager with an empty sub-agent registry.
// validationThreshold <= 0 selects the default of 0.7.
func NewManager(client llm.Client, opts Options, validationThreshold float64, logger *zap.Logger) *Manager {
	if validationThreshold <= 0 {
		validationThreshold = defaultValidationThreshold
	}
	return &Manager{
		base:                newBase(client, opts, nil, logger, "agent.manager"),
		agents:              make(map[string]Agent),
		validationThreshold: validationThreshold,
	}
}

// RegisterAgent adds a sub-agent to the routing registry. Registering
// an existing id replaces the previous agent.
func (m *Manager) RegisterAgent(a Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[a.ID()]; !exists {
		m.order = append(m.order, a.ID())
	}
	m.agents[a.ID()] = a

	m.logger.Info("Registered agent",
		zap.String("agent_id", a.ID()),
		zap.String("agent_name", a.Name()))
}

// Agents describes the registered sub-agents in registration order.
func (m *Manager) Agents() []AgentInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]AgentInfo, 0, len(m.order))
	for _, id := range m.order {
		a := m.agents[id]
		infos = append(infos, AgentInfo{ID: a.ID(), Name: a.Name(), Description: a.Description()})
	}
	return infos
}

// agentDescriptions renders the roster for the classification prompt.
func (m *Manager) agentDescriptions() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lines := make([]string, 0, len(m.order))
	for _, id := range m.order {
		a := m.agents[id]
		lines = append(lines, fmt.Sprintf("- %s (ID: %s): %s", a.Name(), id, a.Description()))
	}
	return strings.Join(lines, "\n")
}

// formatHistory renders the trailing window of chat history.
func formatHistory(history []llm.Message) string {
	if len(history) == 0 {
		return "No recent chat history"
	}
	if len(history) > classifyHistoryWindow {
		history = history[len(history)-classifyHistoryWindow:]
	}
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	return strings.Join(lines, "\n")
}

// fallbackAgent picks the agent classification falls back to when the
// model's choice cannot be honored: the one registered under "default",
// else the first registered.
func (m *Manager) fallbackAgent() Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if a, ok := m.agents["default"]; ok {
		return a
	}
	if len(m.order) > 0 {
		return m.agents[m.order[0]]
	}
	return nil
}

// classify picks the sub-agent for a query. It never fails: an empty
// registry yields no agent at confidence 0, and unparseable or unknown
// selections fall back to a registered agent at confidence 0.5.
func (m *Manager) classify(ctx context.Context, query string, history []llm.Message) (Agent, float64) {
	m.mu.RLock()
	registered := len(m.agents)
	m.mu.RUnlock()
	if registered == 0 {
		m.logger.Warn("No agents registered, skipping classification")
		return nil, 0
	}

	prompt := fmt.Sprintf(classifyPrompt, m.agentDescriptions(), query, formatHistory(history))

	response, err := m.complete(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		m.logger.Error("Classification request failed, using fallback agent", zap.Error(err))
		return m.fallbackAgent(), 0.5
	}

	var result classification
	if err := llm.DecodeJSONObject(response, &result); err != nil {
		m.logger.Error("Failed to parse classification response, using fallback agent",
			zap.Error(err))
		return m.fallbackAgent(), 0.5
	}

	m.mu.RLock()
	selected := m.agents[result.SelectedAgent]
	m.mu.RUnlock()
	if selected == nil {
		m.logger.Warn("Selected agent not found in registry, using fallback agent",
			zap.String("selected_agent", result.SelectedAgent))
		return m.fallbackAgent(), 0.5
	}

	m.logger.Info("Request classified",
		zap.String("agent_id", selected.ID()),
		zap.String("agent_name", selected.Name()),
		zap.Float64("confidence", result.Confidence),
		zap.String("reasoning", result.Reasoning))
	return selected, result.Confidence
}

// answerDirectly is the no-delegation path: one plain model completion
// over the query and history.
func (m *Manager) answerDirectly(ctx context.Context, req Request) (*Response, error) {
	answer, err := m.complete(ctx, llm.Request{
		Prompt:  directAnswerPrefix + req.Query,
		History: req.History,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to answer directly: %w", err)
	}
	return &Response{AgentID: m.ID(), AgentName: m.Name(), Content: answer}, nil
}

// validate scores a delegated response against the query. Any failure
// accepts the response by default rather than blocking it.
func (m *Manager) validate(ctx context.Context, query, response string) validation {
	accepted := validation{IsValid: true, Score: 0.75}

	reply, err := m.complete(ctx, llm.Request{
		Prompt: fmt.Sprintf(validatePrompt, query, response),
	})
	if err != nil {
		m.logger.Warn("Validation request failed, accepting response", zap.Error(err))
		return accepted
	}

	var result validation
	if err := llm.DecodeJSONObject(reply, &result); err != nil {
		m.logger.Warn("Failed to parse validation response, accepting response",
			zap.Error(err))
		return accepted
	}

	m.logger.Debug("Response validated",
		zap.Bool("is_valid", result.IsValid),
		zap.Float64("score", result.Score),
		zap.Bool("needs_refinement", result.NeedsRefinement))
	return result
}

// refine rewrites a delegated response using the validation feedback.
// A refinement failure returns the unrefined response.
func (m *Manager) refine(ctx context.Context, query, response string, v validation) string {
	feedback := v.RefinementSuggestions
	if feedback == "" {
		feedback = "The response does not fully address the query."
	}

	refined, err := m.complete(ctx, llm.Request{
		Prompt: fmt.Sprintf(refinePrompt, query, response, feedback),
	})
	if err != nil {
		m.logger.Warn("Refinement failed, returning unrefined response", zap.Error(err))
		return response
	}
	return refined
}

// Chat classifies the query, delegates when confidence clears the
// cutoff, validates the delegated response, and refines it when the
// validation asks for it.
func (m *Manager) Chat(ctx context.Context, req Request) (*Response, error) {
	selected, confidence := m.classify(ctx, req.Query, req.History)

	if selected == nil {
		return m.answerDirectly(ctx, req)
	}
	if confidence < confidenceCutoff {
		m.logger.Info("Classification confidence below cutoff, answering directly",
			zap.String("agent_id", selected.ID()),
			zap.Float64("confidence", confidence))
		return m.answerDirectly(ctx, req)
	}

	resp, err := selected.Chat(ctx, req)
	if err != nil {
		m.logger.Error("Delegated agent failed, answering directly",
			zap.String("agent_id", selected.ID()),
			zap.Error(err))
		return m.answerDirectly(ctx, req)
	}

	v := m.validate(ctx, req.Query, resp.Content)
	if v.NeedsRefinement || v.Score < m.validationThreshold {
		resp.Content = m.refine(ctx, req.Query, resp.Content, v)
	}

	return resp, nil
}

// ChatStream runs the routed flow and chunks the final answer.
func (m *Manager) ChatStream(ctx context.Context, req Request) (<-chan llm.StreamChunk, error) {
	resp, err := m.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.SimulateStream(ctx, resp.Content, llm.DefaultStreamChunkSize), nil
}
