package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/laynepenney/codi/approval"
)

// terminalPrompt renders a pending Approval Gate prompt to the terminal and
// blocks for a typed answer. blocking_warning prompts require the full word
// "yes", never a bare "y", matching the gate's "never single-key yes for a
// flagged command" contract.
func terminalPrompt(out *renderer) approval.PromptFunc {
	return terminalPromptFromReader(out, os.Stdin)
}

// terminalPromptFromReader is terminalPrompt with its input source
// injectable, so tests can drive it without touching os.Stdin.
func terminalPromptFromReader(out *renderer, in io.Reader) approval.PromptFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, p approval.Prompt) (approval.Decision, error) {
		out.mu.Lock()
		fmt.Fprintf(out.out, "\nrequesting permission to run %s", p.Request.ToolName)
		if p.Request.Command != "" {
			fmt.Fprintf(out.out, ": %s", p.Request.Command)
		}
		fmt.Fprintln(out.out)
		if p.Match != nil {
			fmt.Fprintf(out.out, "  flagged: %s (%s)\n", p.Match.Reason, p.Match.Verdict)
		}
		switch p.Kind {
		case approval.PromptBlockingWarning:
			fmt.Fprint(out.out, "  type \"yes\" to proceed, anything else to deny: ")
		default:
			fmt.Fprint(out.out, "  [y]es / [n]o / always this [t]ool / always this [p]attern / [x] abort: ")
		}
		out.mu.Unlock()

		line, err := reader.ReadString('\n')
		if err != nil {
			return approval.DecisionNo, fmt.Errorf("reading approval answer: %w", err)
		}
		return decideFromAnswer(p.Kind, strings.ToLower(strings.TrimSpace(line))), nil
	}
}

// decideFromAnswer maps a typed answer to a Decision. blocking_warning
// prompts require the literal word "yes"; anything else denies.
func decideFromAnswer(kind approval.PromptKind, answer string) approval.Decision {
	if kind == approval.PromptBlockingWarning {
		if answer == "yes" {
			return approval.DecisionYes
		}
		return approval.DecisionNo
	}

	switch answer {
	case "y", "yes", "":
		return approval.DecisionYes
	case "t":
		return approval.DecisionAlwaysTool
	case "p":
		return approval.DecisionAlwaysPattern
	case "x", "abort":
		return approval.DecisionAbort
	default:
		return approval.DecisionNo
	}
}
