package approval

import (
	"context"
	"errors"
	"testing"
)

func alwaysPrompt(decision Decision, err error) PromptFunc {
	return func(ctx context.Context, p Prompt) (Decision, error) {
		return decision, err
	}
}

func TestGateAutoApproveReadOnly(t *testing.T) {
	g := NewGate(NewFilter(nil), alwaysPrompt(DecisionNo, nil), []string{"read_file"})

	outcome, err := g.Decide(context.Background(), Request{
		ToolCallID: "call_1", ToolName: "read_file", Category: CategoryReadOnly,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Approved {
		t.Errorf("expected auto-approved read_only tool to be approved without prompting")
	}
}

func TestGateExecuteCategoryAlwaysChecksPattern(t *testing.T) {
	// Even with bash auto-approved, a dangerous command must still be
	// intercepted by the filter: execute-category tools never take the
	// silent-approval shortcut.
	g := NewGate(NewFilter(nil), alwaysPrompt(DecisionNo, nil), []string{"bash"})

	outcome, err := g.Decide(context.Background(), Request{
		ToolCallID: "call_1", ToolName: "bash", Category: CategoryExecute, Command: "rm -rf /",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Denied {
		t.Errorf("expected hard-forbidden command to be denied despite tool auto-approve")
	}
}

func TestGateHardForbiddenDeniesWithoutPrompting(t *testing.T) {
	calls := 0
	prompt := func(ctx context.Context, p Prompt) (Decision, error) {
		calls++
		return DecisionYes, nil
	}
	g := NewGate(NewFilter(nil), prompt, nil)

	outcome, err := g.Decide(context.Background(), Request{
		ToolCallID: "call_1", ToolName: "bash", Category: CategoryExecute, Command: "mkfs.ext4 /dev/sda1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Denied {
		t.Error("expected deny")
	}
	if calls != 0 {
		t.Errorf("expected no prompt for hard-forbidden command, got %d calls", calls)
	}
}

func TestGateWarnPatternEscalatesToBlockingPrompt(t *testing.T) {
	var seenKind PromptKind
	prompt := func(ctx context.Context, p Prompt) (Decision, error) {
		seenKind = p.Kind
		return DecisionYes, nil
	}
	g := NewGate(NewFilter(nil), prompt, nil)

	outcome, err := g.Decide(context.Background(), Request{
		ToolCallID: "call_1", ToolName: "bash", Category: CategoryExecute, Command: "git reset --hard HEAD~1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Approved {
		t.Error("expected approval after yes decision")
	}
	if seenKind != PromptBlockingWarning {
		t.Errorf("expected blocking warning prompt, got %v", seenKind)
	}
}

func TestGateDenyIsTerminal(t *testing.T) {
	g := NewGate(NewFilter(nil), alwaysPrompt(DecisionNo, nil), nil)

	outcome, err := g.Decide(context.Background(), Request{
		ToolCallID: "call_1", ToolName: "write_file", Category: CategoryMutating,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Denied || outcome.DenyReason != "denied by user" {
		t.Errorf("expected terminal deny with standard reason, got %+v", outcome)
	}
}

func TestGateAlwaysThisToolPersists(t *testing.T) {
	var persisted []string
	g := NewGate(NewFilter(nil), alwaysPrompt(DecisionAlwaysTool, nil), nil)
	g.OnPersist = func(toolName, pattern string) {
		persisted = append(persisted, toolName)
	}

	first, err := g.Decide(context.Background(), Request{
		ToolCallID: "call_1", ToolName: "write_file", Category: CategoryMutating,
	})
	if err != nil || !first.Approved {
		t.Fatalf("expected first call approved, got %+v err=%v", first, err)
	}
	if len(persisted) != 1 || persisted[0] != "write_file" {
		t.Errorf("expected OnPersist callback for write_file, got %v", persisted)
	}

	// Second call for the same tool should now auto-approve without prompting.
	g.prompt = func(ctx context.Context, p Prompt) (Decision, error) {
		t.Fatal("should not prompt again after always-this-tool")
		return DecisionNo, nil
	}
	second, err := g.Decide(context.Background(), Request{
		ToolCallID: "call_2", ToolName: "write_file", Category: CategoryMutating,
	})
	if err != nil || !second.Approved {
		t.Fatalf("expected second call auto-approved, got %+v err=%v", second, err)
	}
}

func TestGateAbortPropagates(t *testing.T) {
	g := NewGate(NewFilter(nil), alwaysPrompt(DecisionAbort, nil), nil)

	outcome, err := g.Decide(context.Background(), Request{
		ToolCallID: "call_1", ToolName: "edit_file", Category: CategoryMutating,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Aborted {
		t.Error("expected aborted outcome")
	}
}

func TestGatePromptErrorWraps(t *testing.T) {
	g := NewGate(NewFilter(nil), alwaysPrompt(DecisionNo, errors.New("stdin closed")), nil)

	_, err := g.Decide(context.Background(), Request{
		ToolCallID: "call_1", ToolName: "edit_file", Category: CategoryMutating,
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
