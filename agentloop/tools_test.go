package agentloop

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/laynepenney/codi/unifiedllm"
)

func echoTool(name string, required ...string) RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name: name,
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":  map[string]interface{}{"type": "string"},
					"count": map[string]interface{}{"type": "integer"},
				},
				"required": required,
			},
		},
		Executor: func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
			return "ok", nil
		},
	}
}

func TestValidateArgumentsRejectsMissingRequiredField(t *testing.T) {
	def := echoTool("read_file", "path").Definition

	err := def.ValidateArguments(map[string]interface{}{})
	if err == nil {
		t.Fatalf("expected an error for a missing required field")
	}
	argErr, ok := err.(*unifiedllm.ToolArgumentError)
	if !ok {
		t.Fatalf("err = %T, want *unifiedllm.ToolArgumentError", err)
	}
	if !strings.Contains(argErr.Error(), "invalid arguments") {
		t.Errorf("error %q missing expected prefix", argErr.Error())
	}
}

func TestValidateArgumentsRejectsWrongType(t *testing.T) {
	def := echoTool("read_file", "path").Definition

	err := def.ValidateArguments(map[string]interface{}{"path": "main.go", "count": "not a number"})
	if err == nil {
		t.Fatalf("expected an error for a field with the wrong type")
	}
}

func TestValidateArgumentsAcceptsWellFormedArgs(t *testing.T) {
	def := echoTool("read_file", "path").Definition

	err := def.ValidateArguments(map[string]interface{}{"path": "main.go", "count": float64(3)})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestToolRegistryExecuteRejectsUnknownTool(t *testing.T) {
	reg := NewToolRegistry()

	_, err := reg.Execute(context.Background(), "nonexistent", json.RawMessage(`{}`), nil)
	if err == nil {
		t.Fatalf("expected an error for an unregistered tool")
	}
}

func TestToolRegistryExecuteRejectsInvalidArgsBeforeRunningExecutor(t *testing.T) {
	reg := NewToolRegistry()
	ran := false
	tool := echoTool("read_file", "path")
	tool.Executor = func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
		ran = true
		return "ok", nil
	}
	reg.Register(tool)

	_, err := reg.Execute(context.Background(), "read_file", json.RawMessage(`{}`), nil)
	if err == nil {
		t.Fatalf("expected an error for missing required argument")
	}
	if ran {
		t.Errorf("executor ran despite failing schema validation")
	}
}

func TestToolRegistryExecuteRunsExecutorOnValidArgs(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(echoTool("read_file", "path"))

	out, err := reg.Execute(context.Background(), "read_file", json.RawMessage(`{"path": "main.go"}`), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Errorf("out = %q, want %q", out, "ok")
	}
}
