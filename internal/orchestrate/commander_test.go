package orchestrate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/laynepenney/codi/approval"
)

func TestWorkerHandshakeAndPermissionRoundTrip(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "cmd.sock")

	gate := approval.NewGate(approval.NewFilter(nil), func(ctx context.Context, p approval.Prompt) (approval.Decision, error) {
		return approval.DecisionYes, nil
	}, nil)

	cmd, err := NewCommander(socketPath, gate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cmd.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cmd.Serve(ctx)

	cmd.SpawnWorker("worker-1", nil, time.Minute)

	worker, err := Connect(ctx, socketPath, "worker-1", "/tmp/worktree")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer worker.Close()

	decision, err := worker.RequestPermission(PermissionRequestPayload{
		ToolCallID: "call_1", ToolName: "write_file", Category: "mutating",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != "yes" {
		t.Errorf("expected yes decision, got %q", decision)
	}

	if err := worker.ReportComplete("changed 2 files"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case result := <-cmd.Results():
		if result.WorkerID != "worker-1" || result.DiffSummary != "changed 2 files" {
			t.Errorf("unexpected result: %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task result")
	}
}

func TestCommanderFailsWorkerOnDisconnect(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "cmd.sock")
	gate := approval.NewGate(approval.NewFilter(nil), func(ctx context.Context, p approval.Prompt) (approval.Decision, error) {
		return approval.DecisionYes, nil
	}, nil)

	cmd, err := NewCommander(socketPath, gate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cmd.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cmd.Serve(ctx)

	cmd.SpawnWorker("worker-2", nil, time.Minute)
	worker, err := Connect(ctx, socketPath, "worker-2", "/tmp/worktree")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	worker.Close() // simulate an unexpected disconnect

	select {
	case result := <-cmd.Results():
		if result.Err == nil {
			t.Error("expected a failure result for the disconnected worker")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect to surface")
	}
}
