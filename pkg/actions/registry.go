// Package actions provides the typed catalog of atomic page actions: their
// schemas, validation of model-produced calls, and dispatch handlers.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"webpilot/pkg/llm"
)

// Action is one callable page operation.
type Action struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  *JSONSchema `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// JSONSchema is the structural description of an action's parameters. It is
// rich enough to drive LLM tool-calling and to validate inbound calls.
type JSONSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one parameter.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// Handler executes an action with validated arguments.
type Handler func(ctx context.Context, args map[string]any) (ActionResult, error)

// ActionResult is the outcome of one action.
type ActionResult struct {
	Success          bool   `json:"success"`
	ExtractedContent string `json:"extractedContent,omitempty"`
	Error            string `json:"error,omitempty"`
	// IsDone marks the done action: the task is complete and Success carries
	// the task-level verdict.
	IsDone bool `json:"isDone,omitempty"`
}

// Call is one action invocation produced by the navigator. Its JSON wire
// form is a single-key object: {"click_element": {"index": 3}}.
type Call struct {
	Name string
	Args map[string]any
}

// UnmarshalJSON decodes the single-key object form.
func (c *Call) UnmarshalJSON(data []byte) error {
	var m map[string]map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("action call must have exactly one key, got %d", len(m))
	}
	for name, args := range m {
		c.Name = name
		c.Args = args
		if c.Args == nil {
			c.Args = map[string]any{}
		}
	}
	return nil
}

// MarshalJSON encodes the single-key object form.
func (c Call) MarshalJSON() ([]byte, error) {
	args := c.Args
	if args == nil {
		args = map[string]any{}
	}
	return json.Marshal(map[string]map[string]any{c.Name: args})
}

// InvalidActionError reports a call that failed schema validation. The page
// is never touched for an invalid call.
type InvalidActionError struct {
	Action string
	Reason string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid action %q: %s", e.Action, e.Reason)
}

// Registry maps action names to schemas and handlers.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Action)}
}

// Register adds an action.
func (r *Registry) Register(a *Action) error {
	if a.Name == "" {
		return fmt.Errorf("action name is required")
	}
	if a.Handler == nil {
		return fmt.Errorf("action handler is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name] = a
	return nil
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (*Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Names returns all registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks a call against its action's schema without executing it.
func (r *Registry) Validate(call Call) error {
	a, ok := r.Get(call.Name)
	if !ok {
		return &InvalidActionError{Action: call.Name, Reason: "unknown action"}
	}
	schema := a.Parameters
	if schema == nil {
		return nil
	}

	for name := range call.Args {
		if _, ok := schema.Properties[name]; !ok {
			return &InvalidActionError{Action: call.Name, Reason: fmt.Sprintf("unknown parameter %q", name)}
		}
	}
	for _, req := range schema.Required {
		if _, ok := call.Args[req]; !ok {
			return &InvalidActionError{Action: call.Name, Reason: fmt.Sprintf("missing required parameter %q", req)}
		}
	}
	for name, prop := range schema.Properties {
		v, ok := call.Args[name]
		if !ok {
			continue
		}
		if err := validateValue(v, prop); err != nil {
			return &InvalidActionError{Action: call.Name, Reason: fmt.Sprintf("parameter %q %s", name, err)}
		}
	}
	return nil
}

func validateValue(v any, prop Property) error {
	switch prop.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("must be a string")
		}
		if len(prop.Enum) > 0 {
			for _, e := range prop.Enum {
				if s == e {
					return nil
				}
			}
			return fmt.Errorf("must be one of %v", prop.Enum)
		}
	case "integer", "number":
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("must be a number")
		}
		if prop.Type == "integer" && f != float64(int64(f)) {
			return fmt.Errorf("must be an integer")
		}
		if prop.Minimum != nil && f < *prop.Minimum {
			return fmt.Errorf("must be >= %v", *prop.Minimum)
		}
		if prop.Maximum != nil && f > *prop.Maximum {
			return fmt.Errorf("must be <= %v", *prop.Maximum)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("must be a boolean")
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Execute validates and runs a call. Validation failures return an
// InvalidActionError without invoking the handler; handler panics are
// captured as failed results.
func (r *Registry) Execute(ctx context.Context, call Call) (result ActionResult, err error) {
	if err := r.Validate(call); err != nil {
		return ActionResult{Success: false, Error: err.Error()}, err
	}
	a, _ := r.Get(call.Name)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during action %s: %v", call.Name, rec)
			result = ActionResult{Success: false, Error: err.Error()}
		}
	}()

	return a.Handler(ctx, call.Args)
}

// ToolDefinitions exposes the action catalog as a tool-schema document for
// the navigator model.
func (r *Registry) ToolDefinitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, n := range names {
		a := r.actions[n]
		defs = append(defs, llm.ToolDefinition{
			Type: "function",
			Function: llm.FunctionSchema{
				Name:        a.Name,
				Description: a.Description,
				Parameters:  a.Parameters,
			},
		})
	}
	return defs
}

// PromptDescription renders the catalog as text for inclusion in the
// navigator system prompt.
func (r *Registry) PromptDescription() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)

	out := ""
	for _, n := range names {
		a := r.actions[n]
		out += fmt.Sprintf("- %s: %s", a.Name, a.Description)
		if a.Parameters != nil && len(a.Parameters.Properties) > 0 {
			params, _ := json.Marshal(a.Parameters)
			out += fmt.Sprintf(" Parameters: %s", params)
		}
		out += "\n"
	}
	return out
}

// Helpers for handler argument extraction. JSON numbers arrive as float64.

// IntArg reads an integer argument.
func IntArg(args map[string]any, name string) (int, bool) {
	f, ok := toFloat(args[name])
	if !ok {
		return 0, false
	}
	return int(f), true
}

// StringArg reads a string argument.
func StringArg(args map[string]any, name string) (string, bool) {
	s, ok := args[name].(string)
	return s, ok
}

// BoolArg reads a boolean argument.
func BoolArg(args map[string]any, name string) (bool, bool) {
	b, ok := args[name].(bool)
	return b, ok
}
