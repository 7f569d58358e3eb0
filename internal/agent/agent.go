// Package agent implements the conversational agents: a planning agent
// that executes tool-backed steps, a reflection agent that iterates
// generate/critique cycles, and a manager that classifies requests and
// routes them across a registry of sub-agents.
package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/jsonx"
	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/tools"
)

// Options identifies an agent and carries its model selection. ID is
// derived from Name when empty.
type Options struct {
	ID           string
	Name         string
	Description  string
	SystemPrompt string
	Provider     llm.Provider
	Model        string
}

// Request is one conversational turn handed to an agent.
type Request struct {
	Query   string
	History []llm.Message

	// DetailedStream switches streaming replies from the final answer
	// only to step-by-step progress updates.
	DetailedStream bool
}

// Response is the agent's answer, tagged with the agent that produced
// it so routed conversations can attribute replies.
type Response struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Content   string `json:"content"`
}

// Agent is the shared contract across the planning, reflection and
// manager variants. Streaming may be simulated by chunking a fully
// computed response.
type Agent interface {
	ID() string
	Name() string
	Description() string
	Chat(ctx context.Context, req Request) (*Response, error)
	ChatStream(ctx context.Context, req Request) (<-chan llm.StreamChunk, error)
}

var (
	nonNameChars = regexp.MustCompile(`[^a-zA-Z\s-]`)
	nameSpaces   = regexp.MustCompile(`\s+`)
)

// generateKeyFromName derives a stable agent id from a display name:
// "Support Agent" becomes "support-agent".
func generateKeyFromName(name string) string {
	key := nonNameChars.ReplaceAllString(name, "")
	key = nameSpaces.ReplaceAllString(strings.TrimSpace(key), "-")
	key = strings.ToLower(key)
	if key == "" {
		return uuid.NewString()
	}
	return key
}

// base carries the state and behavior shared by every agent: identity,
// the model client, the tool registry, and the tool-execution protocol.
type base struct {
	opts   Options
	llm    llm.Client
	tools  *tools.Registry
	logger *zap.Logger
}

func newBase(client llm.Client, opts Options, registry *tools.Registry, logger *zap.Logger, loggerName string) base {
	if opts.ID == "" {
		opts.ID = generateKeyFromName(opts.Name)
	}
	if registry == nil {
		registry = tools.NewRegistry(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		opts:   opts,
		llm:    client,
		tools:  registry,
		logger: logger.Named(loggerName),
	}
}

func (b *base) ID() string          { return b.opts.ID }
func (b *base) Name() string        { return b.opts.Name }
func (b *base) Description() string { return b.opts.Description }

// complete runs one completion with the agent's provider and model.
func (b *base) complete(ctx context.Context, req llm.Request) (string, error) {
	req.Provider = b.opts.Provider
	req.Model = b.opts.Model
	return b.llm.Complete(ctx, req)
}

// Prompting the model for tool arguments. The response format block is
// sent verbatim, comment included, so the model fills the object in.
const toolArgsPrompt = "Generate parameters to call this tool:\n" +
	"%s: %s\n" +
	"Tool: %s\n" +
	"\n" +
	"Tool specification:\n" +
	"%s\n" +
	"\n" +
	"Response format:\n" +
	"{\n" +
	"    \"arguments\": {\n" +
	"        // parameter names and values matching the specification exactly\n" +
	"    }\n" +
	"}\n" +
	"Remove the ```json and ```"

// executeTool asks the model for JSON arguments matching the tool's
// declared schema, parses them, and invokes the tool. purposeLabel names
// the context line ("Step" for plan steps, "Purpose" for critique
// directives). Callers decide whether a failure propagates.
func (b *base) executeTool(ctx context.Context, toolName, purposeLabel, purpose string) (string, error) {
	tool, ok := b.tools.Get(toolName)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", toolName)
	}

	params, err := jsonIndent(tool.Parameters)
	if err != nil {
		return "", fmt.Errorf("failed to render tool specification for %s: %w", toolName, err)
	}

	prompt := fmt.Sprintf(toolArgsPrompt, purposeLabel, purpose, toolName, params)
	response, err := b.complete(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to generate arguments for tool %s: %w", toolName, err)
	}

	var call struct {
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := llm.DecodeJSONObject(response, &call); err != nil {
		return "", fmt.Errorf("failed to parse arguments for tool %s: %w", toolName, err)
	}

	b.logger.Debug("Executing tool",
		zap.String("tool", toolName),
		zap.Int("arguments", len(call.Arguments)))

	result, err := tool.Call(ctx, call.Arguments)
	if err != nil {
		return "", fmt.Errorf("tool %s failed: %w", toolName, err)
	}
	return result, nil
}

func jsonIndent(v interface{}) (string, error) {
	data, err := jsonx.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
