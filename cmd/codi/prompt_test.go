package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/laynepenney/codi/approval"
)

func TestDecideFromAnswerStandardPrompt(t *testing.T) {
	cases := []struct {
		answer string
		want   approval.Decision
	}{
		{"y", approval.DecisionYes},
		{"yes", approval.DecisionYes},
		{"", approval.DecisionYes},
		{"t", approval.DecisionAlwaysTool},
		{"p", approval.DecisionAlwaysPattern},
		{"x", approval.DecisionAbort},
		{"abort", approval.DecisionAbort},
		{"n", approval.DecisionNo},
		{"garbage", approval.DecisionNo},
	}
	for _, c := range cases {
		got := decideFromAnswer(approval.PromptStandard, c.answer)
		if got != c.want {
			t.Errorf("decideFromAnswer(standard, %q) = %q, want %q", c.answer, got, c.want)
		}
	}
}

func TestDecideFromAnswerBlockingWarningRequiresFullYes(t *testing.T) {
	cases := []struct {
		answer string
		want   approval.Decision
	}{
		{"yes", approval.DecisionYes},
		{"y", approval.DecisionNo},
		{"t", approval.DecisionNo},
		{"", approval.DecisionNo},
	}
	for _, c := range cases {
		got := decideFromAnswer(approval.PromptBlockingWarning, c.answer)
		if got != c.want {
			t.Errorf("decideFromAnswer(blocking_warning, %q) = %q, want %q", c.answer, got, c.want)
		}
	}
}

func TestTerminalPromptRendersFlaggedCommand(t *testing.T) {
	var buf bytes.Buffer
	out := newRenderer(&buf, true)
	pf := terminalPromptFromReader(out, strings.NewReader("y\n"))

	decision, err := pf(context.Background(), approval.Prompt{
		Request: approval.Request{ToolName: "bash", Command: "rm file.txt"},
		Kind:    approval.PromptStandard,
		Match:   &approval.PatternMatch{Verdict: approval.VerdictWarn, Reason: "destructive rm"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != approval.DecisionYes {
		t.Errorf("decision = %q, want yes", decision)
	}
	rendered := buf.String()
	if !strings.Contains(rendered, "bash") || !strings.Contains(rendered, "rm file.txt") {
		t.Errorf("prompt output missing tool/command: %q", rendered)
	}
	if !strings.Contains(rendered, "destructive rm") {
		t.Errorf("prompt output missing flagged reason: %q", rendered)
	}
}

func TestTerminalPromptReadErrorReturnsDenyNo(t *testing.T) {
	var buf bytes.Buffer
	out := newRenderer(&buf, true)
	pf := terminalPromptFromReader(out, io.LimitReader(strings.NewReader(""), 0))

	decision, err := pf(context.Background(), approval.Prompt{
		Request: approval.Request{ToolName: "write_file"},
		Kind:    approval.PromptStandard,
	})
	if err == nil {
		t.Fatalf("expected error reading from exhausted input")
	}
	if decision != approval.DecisionNo {
		t.Errorf("decision on read error = %q, want no", decision)
	}
}
