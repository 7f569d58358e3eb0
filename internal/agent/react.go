package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/tools"
)

const defaultMaxSteps = 3

const planPrompt = `You are a planning assistant with access to specific tools. Create a focused plan using ONLY the tools listed below.

Task to accomplish: %s

Available tools and specifications:
%s

Important rules:
1. ONLY use the tools listed above - do not assume any other tools exist
2. If a tool doesn't exist for a specific need, use your general knowledge to provide information
3. For information retrieval tasks, immediately use the RAG search tool if available
4. Keep the plan simple and focused - avoid unnecessary steps
5. Never include web searches or external tool usage in the plan

Format your response as JSON:
{
    "steps": [
        {
            "description": "step description",
            "requires_tool": true/false,
            "tool_name": "tool_name or null"
        },
        ...
    ]
}`

const summaryPrompt = `Create a clear and concise summary based on the following:

Original task: %s
Results from execution: %s

Rules:
1. If no relevant information was found, clearly state that
2. Don't mention the internal steps or tools used
3. Focus on providing a direct, informative answer
4. If the information seems insufficient, acknowledge that`

// planStep is one entry of a model-produced execution plan.
type planStep struct {
	Description  string `json:"description"`
	RequiresTool bool   `json:"requires_tool"`
	ToolName     string `json:"tool_name"`
}

type executionPlan struct {
	Steps []planStep `json:"steps"`
}

// ReAct plans a task into ordered steps, executes them sequentially
// (tool-backed or general knowledge), and summarizes the collected
// results into one answer.
type ReAct struct {
	base
	maxSteps int
}

// NewReAct creates a planning agent. maxSteps <= 0 selects the default
// budget of 3 executed steps.
func NewReAct(client llm.Client, opts Options, registry *tools.Registry, maxSteps int, logger *zap.Logger) *ReAct {
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	return &ReAct{
		base:     newBase(client, opts, registry, logger, "agent.react"),
		maxSteps: maxSteps,
	}
}

// plan asks the model for an execution plan. A malformed reply falls
// back to a single general-knowledge step so the request still answers;
// steps naming unregistered tools are dropped before execution.
func (r *ReAct) plan(ctx context.Context, task string) (*executionPlan, error) {
	prompt := fmt.Sprintf(planPrompt, task, r.tools.Signatures())

	response, err := r.complete(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}

	var plan executionPlan
	if err := llm.DecodeJSONObject(response, &plan); err != nil {
		r.logger.Warn("Malformed plan, falling back to a single general step",
			zap.Error(err))
		return &executionPlan{Steps: []planStep{{Description: task}}}, nil
	}

	kept := make([]planStep, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		if step.RequiresTool {
			if _, ok := r.tools.Get(step.ToolName); !ok {
				r.logger.Warn("Dropping plan step naming unregistered tool",
					zap.String("tool", step.ToolName),
					zap.String("step", step.Description))
				continue
			}
		}
		kept = append(kept, step)
	}
	plan.Steps = kept

	r.logger.Info("Plan generated", zap.Int("steps", len(plan.Steps)))
	return &plan, nil
}

// execute runs plan steps in order, bounded by maxSteps. A required
// tool-step failure aborts the run; a general-knowledge step failure is
// recorded and execution continues.
func (r *ReAct) execute(ctx context.Context, plan *executionPlan) ([]string, error) {
	var results []string
	for i, step := range plan.Steps {
		stepNum := i + 1
		if stepNum > r.maxSteps {
			break
		}

		if step.RequiresTool {
			result, err := r.executeTool(ctx, step.ToolName, "Step", step.Description)
			if err != nil {
				r.logger.Error("Tool step failed",
					zap.Int("step", stepNum),
					zap.String("tool", step.ToolName),
					zap.Error(err))
				return nil, fmt.Errorf("step %d: %w", stepNum, err)
			}
			results = append(results, result)
			continue
		}

		result, err := r.complete(ctx, llm.Request{Prompt: step.Description})
		if err != nil {
			r.logger.Warn("General knowledge step failed, continuing",
				zap.Int("step", stepNum),
				zap.Error(err))
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// summarize produces the final answer over the task and step results.
func (r *ReAct) summarize(ctx context.Context, task string, results []string) (string, error) {
	prompt := fmt.Sprintf(summaryPrompt, task, strings.Join(results, "\n"))
	answer, err := r.complete(ctx, llm.Request{
		System: r.opts.SystemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}
	return answer, nil
}

// Chat runs the full plan/execute/summarize flow.
func (r *ReAct) Chat(ctx context.Context, req Request) (*Response, error) {
	plan, err := r.plan(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	results, err := r.execute(ctx, plan)
	if err != nil {
		return nil, err
	}

	answer, err := r.summarize(ctx, req.Query, results)
	if err != nil {
		return nil, err
	}

	return &Response{AgentID: r.ID(), AgentName: r.Name(), Content: answer}, nil
}

// ChatStream streams the reply. With DetailedStream set it narrates
// planning and each step as it executes; otherwise it runs the full
// flow and chunks the final answer.
func (r *ReAct) ChatStream(ctx context.Context, req Request) (<-chan llm.StreamChunk, error) {
	out := make(chan llm.StreamChunk)

	go func() {
		defer close(out)
		if req.DetailedStream {
			r.streamPlanExecution(ctx, req.Query, out)
			return
		}

		resp, err := r.Chat(ctx, req)
		if err != nil {
			send(ctx, out, llm.StreamChunk{Err: err, Done: true})
			return
		}
		relay(ctx, out, resp.Content, llm.FineStreamChunkSize)
		send(ctx, out, llm.StreamChunk{Done: true})
	}()

	return out, nil
}

// streamPlanExecution narrates the run with status lines, then streams
// the summary. Failures surface as stream text and end the stream, so
// the caller always sees a complete narration.
func (r *ReAct) streamPlanExecution(ctx context.Context, task string, out chan<- llm.StreamChunk) {
	fail := func(err error) {
		r.logger.Error("Plan execution failed", zap.Error(err))
		send(ctx, out, llm.StreamChunk{Content: fmt.Sprintf("\nError during plan execution: %s\n", err)})
		send(ctx, out, llm.StreamChunk{Done: true})
	}

	send(ctx, out, llm.StreamChunk{Content: "Planning your request...\n"})

	plan, err := r.plan(ctx, task)
	if err != nil {
		fail(err)
		return
	}
	send(ctx, out, llm.StreamChunk{Content: fmt.Sprintf("Created plan with %d steps.\n", len(plan.Steps))})

	var results []string
	for i, step := range plan.Steps {
		stepNum := i + 1
		if stepNum > r.maxSteps {
			send(ctx, out, llm.StreamChunk{Content: "\nReached maximum number of steps. Finalizing results...\n"})
			break
		}

		send(ctx, out, llm.StreamChunk{Content: fmt.Sprintf("\nExecuting step %d: %s\n", stepNum, step.Description)})

		if step.RequiresTool {
			send(ctx, out, llm.StreamChunk{Content: fmt.Sprintf("Using tool: %s\n", step.ToolName)})
			result, err := r.executeTool(ctx, step.ToolName, "Step", step.Description)
			if err != nil {
				send(ctx, out, llm.StreamChunk{Content: fmt.Sprintf("Error in step %d: %s\n", stepNum, err)})
				fail(err)
				return
			}
			send(ctx, out, llm.StreamChunk{Content: "Tool execution complete.\n"})
			results = append(results, result)
			continue
		}

		send(ctx, out, llm.StreamChunk{Content: "Processing with general knowledge...\n"})
		result, err := r.complete(ctx, llm.Request{Prompt: step.Description})
		if err != nil {
			send(ctx, out, llm.StreamChunk{Content: fmt.Sprintf("Error in step %d: %s\n", stepNum, err)})
			r.logger.Warn("General knowledge step failed, continuing",
				zap.Int("step", stepNum),
				zap.Error(err))
			continue
		}
		results = append(results, result)
	}

	send(ctx, out, llm.StreamChunk{Content: "\nGenerating final response based on collected information...\n\n"})

	summary, err := r.summarize(ctx, task, results)
	if err != nil {
		fail(err)
		return
	}
	relay(ctx, out, summary, llm.DefaultStreamChunkSize)
	send(ctx, out, llm.StreamChunk{Done: true})
}

// send delivers one chunk unless the context is gone.
func send(ctx context.Context, out chan<- llm.StreamChunk, chunk llm.StreamChunk) {
	select {
	case out <- chunk:
	case <-ctx.Done():
	}
}

// relay chunks content through out at the simulated-stream pace,
// dropping the terminal Done marker so the caller controls it.
func relay(ctx context.Context, out chan<- llm.StreamChunk, content string, chunkSize int) {
	for chunk := range llm.SimulateStream(ctx, content, chunkSize) {
		if chunk.Done {
			return
		}
		send(ctx, out, chunk)
	}
}
