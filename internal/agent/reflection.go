package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/tools"
)

const (
	defaultReflectionSteps = 3
	defaultMaxToolSteps    = 2

	// okToken in a critique means the content needs no further revision.
	okToken = "<OK>"
)

const baseGenerationSystemPrompt = `Your task is to Generate the best content possible for the user's request.
If the user provides critique, respond with a revised version of your previous attempt.
You must always output the revised content.`

const baseReflectionSystemPrompt = `You are tasked with generating critique and recommendations to the user's generated content.
If the user content has something wrong or something to be improved, output a list of recommendations and critiques.
If the user content is ok and there's nothing to change, output this: <OK>
Utilize available tools if necessary to improve or validate the content.`

// Reflection iterates generate/critique cycles over two bounded
// transcripts, optionally enriching critiques with tool results, until
// the critique approves the content or the step budget runs out. The
// latest generation is always the answer.
type Reflection struct {
	base
	nSteps       int
	maxToolSteps int
}

// NewReflection creates a reflection agent. nSteps <= 0 selects the
// default of 3 generate/critique cycles.
func NewReflection(client llm.Client, opts Options, registry *tools.Registry, nSteps int, logger *zap.Logger) *Reflection {
	if nSteps <= 0 {
		nSteps = defaultReflectionSteps
	}
	return &Reflection{
		base:         newBase(client, opts, registry, logger, "agent.reflection"),
		nSteps:       nSteps,
		maxToolSteps: defaultMaxToolSteps,
	}
}

// withBase prefixes the agent's own system prompt onto a base prompt.
func withBase(custom, basePrompt string) string {
	if strings.TrimSpace(custom) == "" {
		return basePrompt
	}
	return custom + "\n" + basePrompt
}

// Chat runs the reflection loop and returns the latest generation.
func (r *Reflection) Chat(ctx context.Context, req Request) (*Response, error) {
	generationHistory := NewChatHistory(defaultHistoryLimit, req.History...)
	generationHistory.Add(llm.RoleSystem, withBase(r.opts.SystemPrompt, baseGenerationSystemPrompt))
	generationHistory.Add(llm.RoleUser, req.Query)

	reflectionHistory := NewChatHistory(defaultHistoryLimit, req.History...)
	reflectionHistory.Add(llm.RoleSystem, baseReflectionSystemPrompt)

	toolSteps := 0
	var generation string

	for step := 1; step <= r.nSteps; step++ {
		var err error
		generation, err = r.complete(ctx, generationHistory.ToRequest())
		if err != nil {
			return nil, fmt.Errorf("generation step %d failed: %w", step, err)
		}
		generationHistory.Add(llm.RoleAssistant, generation)
		reflectionHistory.Add(llm.RoleUser, generation)

		critique, err := r.critique(ctx, reflectionHistory)
		if err != nil {
			return nil, fmt.Errorf("critique step %d failed: %w", step, err)
		}

		if strings.Contains(critique, okToken) {
			r.logger.Info("Reflection complete, content is satisfactory",
				zap.Int("steps", step))
			break
		}

		critique = r.enrichCritique(ctx, critique, &toolSteps)

		generationHistory.Add(llm.RoleUser, critique)
		reflectionHistory.Add(llm.RoleAssistant, critique)
	}

	return &Response{AgentID: r.ID(), AgentName: r.Name(), Content: generation}, nil
}

// ChatStream runs the full loop and chunks the final generation.
func (r *Reflection) ChatStream(ctx context.Context, req Request) (<-chan llm.StreamChunk, error) {
	resp, err := r.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.SimulateStream(ctx, resp.Content, llm.DefaultStreamChunkSize), nil
}

// critique asks the model to critique the latest generation; the prompt
// gains the tool signatures when tools are registered so the critique
// can recommend them.
func (r *Reflection) critique(ctx context.Context, history *ChatHistory) (string, error) {
	req := history.ToRequest()
	if r.tools.Len() > 0 {
		req.Prompt += fmt.Sprintf("\nAvailable tools:\n%s", r.tools.Signatures())
	}
	return r.complete(ctx, req)
}

// toolDirective is one tool invocation suggested by a critique.
type toolDirective struct {
	tool    string
	purpose string
}

// extractToolDirectives scans the critique for registered tool names.
// A mention like "use search_docs to verify the dates" yields that
// purpose; a bare mention falls back to a generic one.
func (r *Reflection) extractToolDirectives(critique string) []toolDirective {
	var directives []toolDirective
	lowered := strings.ToLower(critique)

	for _, name := range r.tools.Names() {
		if !strings.Contains(lowered, strings.ToLower(name)) {
			continue
		}

		pattern := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(name) + `\s+to\s+(.+)`)
		if m := pattern.FindStringSubmatch(critique); m != nil {
			directives = append(directives, toolDirective{tool: name, purpose: m[1]})
		} else {
			directives = append(directives, toolDirective{tool: name, purpose: "Improve the content"})
		}
	}
	return directives
}

// enrichCritique executes the tools the critique recommends, up to the
// tool budget, appending each result or failure note. Failed calls do
// not consume budget.
func (r *Reflection) enrichCritique(ctx context.Context, critique string, toolSteps *int) string {
	for _, d := range r.extractToolDirectives(critique) {
		if *toolSteps >= r.maxToolSteps {
			break
		}

		result, err := r.executeTool(ctx, d.tool, "Purpose", d.purpose)
		if err != nil {
			r.logger.Warn("Critique tool failed",
				zap.String("tool", d.tool),
				zap.Error(err))
			critique += fmt.Sprintf("\nTool %s execution failed: %s", d.tool, err)
			continue
		}

		critique += fmt.Sprintf("\nTool %s result: %s", d.tool, result)
		*toolSteps++
	}
	return critique
}
