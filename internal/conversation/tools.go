package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/wolfman30/dealership-ai-platform/internal/llm"
)

// ToolCall is what a server-side tool receives.
type ToolCall struct {
	LeadID string
	CallID string
	Args   json.RawMessage
}

// ToolFunc executes a server-side tool. The returned value is encoded as the
// tool result.
type ToolFunc func(ctx context.Context, call ToolCall) (any, error)

// Tool is a callable the model may request. Tools without Execute are
// client-side: they stay pending until a client posts the result.
type Tool struct {
	Name        string
	Description string
	Parameters  *llm.Schema
	Execute     ToolFunc
}

// ServerSide reports whether the orchestrator runs the tool itself.
func (t Tool) ServerSide() bool { return t.Execute != nil }

// ToolRegistry holds the tools offered to the model.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewToolRegistry registers tools in order. It panics on an invalid tool.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a tool. Names must be unique.
func (r *ToolRegistry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("conversation: tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("conversation: tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Lookup returns the tool registered under name.
func (r *ToolRegistry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Declarations lists the tools for a model request.
func (r *ToolRegistry) Declarations() []llm.ToolDeclaration {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, llm.ToolDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return out
}

// toolError is the result recorded when a server-side tool fails.
type toolError struct {
	Error string `json:"error"`
}

func encodeResult(v any) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok {
		if json.Valid(raw) {
			return raw
		}
		v = string(raw)
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(toolError{Error: "resultado no serializable"})
	}
	return data
}
