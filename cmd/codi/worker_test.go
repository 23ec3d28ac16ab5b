package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/laynepenney/codi/agentloop"
	"github.com/laynepenney/codi/approval"
	"github.com/laynepenney/codi/internal/orchestrate"
	"github.com/laynepenney/codi/unifiedllm"
)

func TestWorkerPromptFuncForwardsDecisionOverIPC(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "cmd.sock")

	gate := approval.NewGate(approval.NewFilter(nil), func(ctx context.Context, p approval.Prompt) (approval.Decision, error) {
		return approval.DecisionAlwaysTool, nil
	}, nil)

	cmd, err := orchestrate.NewCommander(socketPath, gate)
	if err != nil {
		t.Fatalf("NewCommander: %v", err)
	}
	defer cmd.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cmd.Serve(ctx)

	cmd.SpawnWorker("worker-1", nil, time.Minute)

	client, err := orchestrate.Connect(ctx, socketPath, "worker-1", "/tmp/worktree")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	promptFunc := workerPromptFunc(client)
	decision, err := promptFunc(ctx, approval.Prompt{
		Request: approval.Request{
			ToolCallID: "call_1",
			ToolName:   "write_file",
			Category:   approval.CategoryMutating,
		},
		Kind: approval.PromptStandard,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != approval.DecisionAlwaysTool {
		t.Errorf("decision = %q, want %q", decision, approval.DecisionAlwaysTool)
	}
}

func TestDiffSummaryCountsNewTurnsAndToolCalls(t *testing.T) {
	history := []agentloop.Turn{
		{Kind: agentloop.TurnUser},
		{
			Kind: agentloop.TurnAssistant,
			Assistant: &agentloop.AssistantTurn{
				ToolCalls: []unifiedllm.ToolCall{
					{ID: "call_1", Name: "write_file"},
					{ID: "call_2", Name: "bash"},
				},
			},
		},
	}
	got := diffSummary(history, 0)
	if got != "2 new turn(s), 2 tool call(s)" {
		t.Errorf("diffSummary = %q, want %q", got, "2 new turn(s), 2 tool call(s)")
	}
}

func TestDiffSummaryOnlyCountsTurnsFromOffset(t *testing.T) {
	history := []agentloop.Turn{
		{Kind: agentloop.TurnUser},
		{Kind: agentloop.TurnAssistant, Assistant: &agentloop.AssistantTurn{}},
		{Kind: agentloop.TurnUser},
	}
	got := diffSummary(history, 2)
	if got != "1 new turn(s), 0 tool call(s)" {
		t.Errorf("diffSummary = %q, want %q", got, "1 new turn(s), 0 tool call(s)")
	}
}
