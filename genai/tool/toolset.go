// Package tool provides the per-pass tool set: schema-described capabilities
// the model can invoke mid-conversation, plus the built-in discovery tools
// used to find and expose app tools dynamically.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/membranehq/ai-agent-example/genai/llm"
)

// Handler is a function that executes a tool call with given arguments.
// It returns the tool's result as a string (JSON for structured payloads).
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Set is an explicit tool-set value object computed fresh per generation
// pass. It is never mutated while a pass runs; reshaping the tool surface
// between passes means building a new Set.
type Set struct {
	definitions map[string]llm.ToolDefinition
	handlers    map[string]Handler
	order       []string
}

// NewSet creates a new empty tool set.
func NewSet() *Set {
	return &Set{
		definitions: make(map[string]llm.ToolDefinition),
		handlers:    make(map[string]Handler),
	}
}

// Add registers a tool definition and handler, replacing any previous entry
// with the same name.
func (s *Set) Add(def llm.ToolDefinition, handler Handler) {
	if _, exists := s.definitions[def.Name]; !exists {
		s.order = append(s.order, def.Name)
	}
	def.Normalize()
	s.definitions[def.Name] = def
	s.handlers[def.Name] = handler
}

// Merge copies every tool of other into s.
func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for _, name := range other.order {
		s.Add(other.definitions[name], other.handlers[name])
	}
}

// Len returns the number of registered tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.definitions)
}

// Names lists registered tool names in registration order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// Tools returns llm.Tool values for every registered definition, in
// registration order.
func (s *Set) Tools() []llm.Tool {
	if s == nil {
		return nil
	}
	tools := make([]llm.Tool, 0, len(s.order))
	for _, name := range s.order {
		tools = append(tools, llm.Tool{Type: "function", Definition: s.definitions[name]})
	}
	return tools
}

// Execute invokes a registered tool handler by name with given args.
// Returns an error if the tool is not registered or handler execution fails.
func (s *Set) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	handler, ok := s.handlers[name]
	if !ok {
		return "", fmt.Errorf("tool %q not registered", name)
	}
	return handler(ctx, args)
}

// SortedNames returns tool names sorted lexically; useful for stable logs.
func (s *Set) SortedNames() []string {
	names := s.Names()
	sort.Strings(names)
	return names
}

// UnmarshalArguments helps parse JSON-encoded arguments into a map.
func UnmarshalArguments(raw json.RawMessage) (map[string]interface{}, error) {
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}
