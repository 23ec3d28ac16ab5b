package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/laynepenney/codi/unifiedllm"
)

// ToolExecutor is the function signature for tool execution. It receives
// the turn's context, parsed arguments, and the execution environment.
// Executors that spawn subprocesses (bash) must honor ctx cancellation so
// a user abort reaches the running process.
type ToolExecutor func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error)

// ApprovalClass controls how the Approval Gate treats a tool call before it
// reaches the Tool Registry.
type ApprovalClass string

const (
	ApprovalAutoSafe           ApprovalClass = "auto_safe"
	ApprovalPrompt             ApprovalClass = "prompt"
	ApprovalForbiddenByDefault ApprovalClass = "forbidden_by_default"
)

// ToolCategory groups tools by the kind of side effect they have.
type ToolCategory string

const (
	CategoryReadOnly ToolCategory = "read_only"
	CategoryMutating ToolCategory = "mutating"
	CategoryExecute  ToolCategory = "execute"
)

// ToolDefinition describes a tool for the LLM (serializable metadata).
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	Approval    ApprovalClass          `json:"approval_class,omitempty"`
	Category    ToolCategory           `json:"category,omitempty"`
}

// RegisteredTool pairs a tool definition with its executor.
type RegisteredTool struct {
	Definition ToolDefinition
	Executor   ToolExecutor
}

// ToolRegistry manages tool registration and lookup.
type ToolRegistry struct {
	tools map[string]*RegisteredTool
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*RegisteredTool),
	}
}

// Register adds or replaces a tool in the registry.
func (r *ToolRegistry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
}

// Unregister removes a tool from the registry.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions (for sending to the LLM).
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	return defs
}

// Names returns the names of all registered tools.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clone returns a copy of the registry. Each tool entry is copied; the
// Parameters maps inside the definitions are shared with the original.
func (r *ToolRegistry) Clone() *ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewToolRegistry()
	for name, tool := range r.tools {
		cloned := *tool
		clone.tools[name] = &cloned
	}
	return clone
}

// MergeFrom copies all tools from other into this registry.
// Existing tools with the same name are overwritten (latest-wins).
func (r *ToolRegistry) MergeFrom(other *ToolRegistry) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, tool := range other.tools {
		cloned := *tool
		r.tools[name] = &cloned
	}
}

// ToUnifiedLLMToolDefs converts registry definitions to anonymous
// name/description/parameters records for the SDK.
func (r *ToolRegistry) ToUnifiedLLMToolDefs() []struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
} {
	defs := r.Definitions()
	result := make([]struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	}, len(defs))
	for i, d := range defs {
		result[i].Name = d.Name
		result[i].Description = d.Description
		result[i].Parameters = d.Parameters
	}
	return result
}

// ValidateArguments checks parsed tool call arguments against the tool's
// declared JSON-Schema-style Parameters (required fields and a property's
// declared "type") before the call reaches its executor. This gives every
// tool a uniform "invalid arguments: ..." failure for a malformed call
// instead of whatever ad-hoc message the first helper the handler happens
// to call produces.
func (d *ToolDefinition) ValidateArguments(args map[string]interface{}) error {
	if d.Parameters == nil {
		return nil
	}
	for _, key := range requiredKeys(d.Parameters["required"]) {
		if _, present := args[key]; !present {
			return &unifiedllm.ToolArgumentError{SDKError: unifiedllm.SDKError{
				Message: fmt.Sprintf("invalid arguments: %s is required", key),
			}, ToolName: d.Name}
		}
	}
	props, _ := d.Parameters["properties"].(map[string]interface{})
	for key, value := range args {
		propSchema, ok := props[key].(map[string]interface{})
		if !ok {
			continue
		}
		wantType, ok := propSchema["type"].(string)
		if !ok {
			continue
		}
		if !jsonSchemaTypeMatches(wantType, value) {
			return &unifiedllm.ToolArgumentError{SDKError: unifiedllm.SDKError{
				Message: fmt.Sprintf("invalid arguments: %s must be of type %s", key, wantType),
			}, ToolName: d.Name}
		}
	}
	return nil
}

// requiredKeys normalizes a schema's "required" entry. Tool definitions in
// this package write it as []string; decoding arbitrary JSON (e.g. a
// registry merged from an external source) could also produce []interface{}.
func requiredKeys(v interface{}) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []interface{}:
		keys := make([]string, 0, len(r))
		for _, item := range r {
			if s, ok := item.(string); ok {
				keys = append(keys, s)
			}
		}
		return keys
	default:
		return nil
	}
}

// jsonSchemaTypeMatches reports whether a decoded JSON value satisfies a
// JSON-Schema primitive type name. It only covers the handful of types the
// registry's tool definitions actually declare.
func jsonSchemaTypeMatches(want string, value interface{}) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch n := value.(type) {
		case float64:
			return n == float64(int64(n))
		case int, int64, json.Number:
			return true
		}
		return false
	case "number":
		switch value.(type) {
		case float64, int, int64, json.Number:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return true
	}
}

// Execute looks up name, validates raw against the tool's declared
// Parameters schema, and only then invokes its executor. This is the
// single dispatch path a caller should use to run a tool call end to end;
// session.go's approval-gated pipeline calls it after the call has cleared
// the Approval Gate.
func (r *ToolRegistry) Execute(ctx context.Context, name string, raw json.RawMessage, env ExecutionEnvironment) (string, error) {
	registered := r.Get(name)
	if registered == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	args, err := ParseToolArguments(raw)
	if err != nil {
		return "", err
	}
	if err := registered.Definition.ValidateArguments(args); err != nil {
		return "", err
	}
	return registered.Executor(ctx, raw, env)
}

// ParseToolArguments is a helper that unmarshals tool call arguments into a
// map for validation and access. A malformed payload is a ToolArgumentError,
// matching the provider adapters' own typed-error convention, so a caller
// can tell "the model sent bad JSON" apart from a tool's own failure.
func ParseToolArguments(raw json.RawMessage) (map[string]interface{}, error) {
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &unifiedllm.ToolArgumentError{SDKError: unifiedllm.SDKError{
			Message: "invalid tool arguments", Cause: err,
		}}
	}
	return args, nil
}

// RequireStringArg extracts a required string argument, returning a
// ToolArgumentError when it is missing or empty.
func RequireStringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := GetStringArg(args, key)
	if !ok || v == "" {
		return "", &unifiedllm.ToolArgumentError{SDKError: unifiedllm.SDKError{
			Message: fmt.Sprintf("%s is required", key),
		}}
	}
	return v, nil
}

// GetStringArg extracts a string argument from parsed tool arguments.
func GetStringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetIntArg extracts an integer argument from parsed tool arguments.
func GetIntArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// GetBoolArg extracts a boolean argument from parsed tool arguments.
func GetBoolArg(args map[string]interface{}, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
