package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/laynepenney/codi/agentloop"
	"github.com/laynepenney/codi/approval"
	"github.com/laynepenney/codi/internal/orchestrate"
)

// newWorkerCommand builds the "codi worker" subcommand: the commander side
// of the multi-agent protocol spawns this as a subprocess (per worktree),
// and it connects back over the commander's IPC endpoint instead of
// running its own REPL or prompting a human for approval locally.
func newWorkerCommand() *cobra.Command {
	var (
		socketPath   string
		workerID     string
		worktree     string
		providerFlag string
		modelFlag    string
	)

	cmd := &cobra.Command{
		Use:   "worker [task]",
		Short: "Run as a commander-spawned worker, forwarding approvals over IPC",
		Args:  cobra.ArbitraryArgs,
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return runWorker(c.Context(), workerOptions{
			socketPath: socketPath,
			workerID:   workerID,
			worktree:   worktree,
			provider:   providerFlag,
			model:      modelFlag,
			task:       strings.Join(args, " "),
		})
	}

	flags := cmd.Flags()
	flags.StringVar(&socketPath, "socket", "", "commander IPC endpoint to connect to")
	flags.StringVar(&workerID, "id", "", "this worker's id")
	flags.StringVar(&worktree, "worktree", "", "working tree this worker operates in")
	flags.StringVar(&providerFlag, "provider", "", "model provider (anthropic, openai, gemini)")
	flags.StringVar(&modelFlag, "model", "", "model identifier")
	for _, name := range []string{"socket", "id", "worktree"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

type workerOptions struct {
	socketPath string
	workerID   string
	worktree   string
	provider   string
	model      string
	task       string
}

func runWorker(ctx context.Context, opts workerOptions) error {
	client, err := orchestrate.Connect(ctx, opts.socketPath, opts.workerID, opts.worktree)
	if err != nil {
		return fmt.Errorf("connecting to commander: %w", err)
	}
	defer client.Close()

	profile, err := buildProfile(opts.provider, opts.model)
	if err != nil {
		return err
	}

	env := agentloop.NewLocalExecutionEnvironment(opts.worktree)
	sessionConfig := agentloop.DefaultSessionConfig()
	session := agentloop.NewSession(profile, env, &sessionConfig)
	defer session.Close()

	gate := approval.NewGate(approval.NewFilter(nil), workerPromptFunc(client), nil)
	session.SetApprovalGate(gate)

	before := len(session.History())
	if err := session.Submit(ctx, opts.task); err != nil {
		_ = client.ReportError(err.Error())
		return err
	}

	return client.ReportComplete(diffSummary(session.History(), before))
}

// workerPromptFunc adapts the Approval Gate's PromptFunc to forward each
// pending decision to the commander over IPC instead of rendering a
// terminal prompt, per spec.md's worker side of the approval protocol: a
// worker's Approval Gate is the same *approval.Gate type the main loop
// uses, just fed a PromptFunc that round-trips through the commander
// rather than os.Stdin.
func workerPromptFunc(client *orchestrate.WorkerClient) approval.PromptFunc {
	return func(ctx context.Context, p approval.Prompt) (approval.Decision, error) {
		decision, err := client.RequestPermission(orchestrate.PermissionRequestPayload{
			ToolCallID: p.Request.ToolCallID,
			ToolName:   p.Request.ToolName,
			Category:   string(p.Request.Category),
			Command:    p.Request.Command,
			Arguments:  p.Request.Arguments,
		})
		if err != nil {
			return "", err
		}
		return approval.Decision(decision), nil
	}
}

// diffSummary renders a short human-readable account of what the worker
// did, for the commander's TaskComplete record. It reports the number of
// new history turns and of tool calls (of every category) the worker's
// assistant turns issued, rather than a real diff —
// computing an actual patch is the commander's job once it has access to
// the worktree, not something worth duplicating here.
func diffSummary(history []agentloop.Turn, from int) string {
	toolCalls := 0
	for i := from; i < len(history); i++ {
		if history[i].Assistant != nil {
			toolCalls += len(history[i].Assistant.ToolCalls)
		}
	}
	return fmt.Sprintf("%d new turn(s), %d tool call(s)", len(history)-from, toolCalls)
}
