package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/tools"
)

// scriptStep is one scripted model reply.
type scriptStep struct {
	resp string
	err  error
}

func respond(s string) scriptStep    { return scriptStep{resp: s} }
func failWith(msg string) scriptStep { return scriptStep{err: errors.New(msg)} }

// scriptedClient replays scripted replies in call order and records
// every request. When the script runs out the last reply repeats.
type scriptedClient struct {
	mu     sync.Mutex
	calls  []llm.Request
	script []scriptStep
	last   scriptStep
}

func newScripted(steps ...scriptStep) *scriptedClient {
	return &scriptedClient{script: steps}
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, req)
	step := c.last
	if len(c.script) > 0 {
		step = c.script[0]
		c.script = c.script[1:]
		c.last = step
	}
	return step.resp, step.err
}

func (c *scriptedClient) CompleteStream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	content, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.SimulateStream(ctx, content, llm.DefaultStreamChunkSize), nil
}

func (c *scriptedClient) requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.calls...)
}

// fakeAgent is a sub-agent with a canned reply.
type fakeAgent struct {
	id    string
	name  string
	desc  string
	reply string
	err   error
	calls []Request
}

func (a *fakeAgent) ID() string          { return a.id }
func (a *fakeAgent) Name() string        { return a.name }
func (a *fakeAgent) Description() string { return a.desc }

func (a *fakeAgent) Chat(ctx context.Context, req Request) (*Response, error) {
	a.calls = append(a.calls, req)
	if a.err != nil {
		return nil, a.err
	}
	return &Response{AgentID: a.id, AgentName: a.name, Content: a.reply}, nil
}

func (a *fakeAgent) ChatStream(ctx context.Context, req Request) (<-chan llm.StreamChunk, error) {
	resp, err := a.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.SimulateStream(ctx, resp.Content, llm.DefaultStreamChunkSize), nil
}

// capturingTool records the arguments of each invocation.
type capturingTool struct {
	mu     sync.Mutex
	name   string
	result string
	err    error
	args   []map[string]interface{}
}

func (c *capturingTool) tool() tools.Tool {
	return tools.Tool{
		Name:        c.name,
		Description: c.name + " description",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			c.mu.Lock()
			c.args = append(c.args, args)
			c.mu.Unlock()
			if c.err != nil {
				return "", c.err
			}
			return c.result, nil
		},
	}
}

func (c *capturingTool) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.args)
}

func newTestRegistry(t *testing.T, capturing ...*capturingTool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(zaptest.NewLogger(t))
	for _, c := range capturing {
		require.NoError(t, reg.Register(c.tool()))
	}
	return reg
}

// toolArgsReply is a canned model reply carrying tool arguments, fenced
// the way models tend to fence them.
const toolArgsReply = "```json\n{\"arguments\": {\"query\": \"refund policy\"}}\n```"

// collectStream drains a stream and returns the concatenated content
// plus whether a Done marker was observed.
func collectStream(t *testing.T, ch <-chan llm.StreamChunk) (string, bool) {
	t.Helper()
	var content string
	done := false
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		content += chunk.Content
		if chunk.Done {
			done = true
		}
	}
	return content, done
}
