// Package tools defines the callables agents can invoke and the registry
// that holds them. A registry is constructed explicitly and handed to each
// agent; there is no process-wide tool state.
package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/jsonx"
)

// Handler executes one tool call with model-provided arguments. Arguments
// arrive as decoded JSON, so numbers are float64 and nested values are
// maps and slices.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool is a named callable with a declared parameter schema. Parameters
// follows the JSON-schema object convention ({"type": "object", ...}) and
// is rendered verbatim into prompts so the model can fill arguments in.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Handler     Handler
}

// Call invokes the tool's handler.
func (t Tool) Call(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.Handler == nil {
		return "", fmt.Errorf("tool %s has no handler", t.Name)
	}
	return t.Handler(ctx, args)
}

// Registry holds the tools available to one agent, keyed by name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *zap.Logger
}

// NewRegistry creates an empty registry. A nil logger is replaced with a
// nop logger.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger.Named("tools"),
	}
}

// Register adds a tool. Re-registering an existing name replaces the
// previous tool and keeps its original position.
func (r *Registry) Register(t Tool) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		r.logger.Warn("Replacing registered tool", zap.String("tool", t.Name))
	} else {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t

	r.logger.Info("Registered tool", zap.String("tool", t.Name))
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns the tools in registration order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Signatures renders every tool into the model-readable block agents
// embed in planning and critique prompts.
func (r *Registry) Signatures() string {
	blocks := make([]string, 0, r.Len())
	for _, t := range r.All() {
		blocks = append(blocks, Signature(t))
	}
	return strings.Join(blocks, "\n")
}

// Signature renders one tool's name, description and parameter schema.
func Signature(t Tool) string {
	params, err := jsonx.MarshalIndent(t.Parameters, "", "  ")
	if err != nil {
		params = []byte("{}")
	}
	return fmt.Sprintf("Function: %s\nDescription: %s\nParameters: %s\n", t.Name, t.Description, params)
}
