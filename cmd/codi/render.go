package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/laynepenney/codi/agentloop"
	"github.com/laynepenney/codi/internal/audit"
)

// renderer writes session events to a terminal, optionally with ANSI color.
type renderer struct {
	out     io.Writer
	noColor bool
	mu      sync.Mutex
}

func newRenderer(out io.Writer, noColor bool) *renderer {
	return &renderer{out: out, noColor: noColor}
}

func (r *renderer) color(code, s string) string {
	if r.noColor {
		return s
	}
	return fmt.Sprintf("\x1b[%sm%s\x1b[0m", code, s)
}

func (r *renderer) prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.out, r.color("1;36", "> "))
}

func (r *renderer) info(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, r.color("2", fmt.Sprintf(format, args...)))
}

func (r *renderer) errorf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, r.color("31", "error: "+fmt.Sprintf(format, args...)))
}

func (r *renderer) assistantText(delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.out, delta)
}

func (r *renderer) toolStart(name, callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, r.color("33", fmt.Sprintf("\n[tool] %s (%s)", name, callID)))
}

func (r *renderer) toolEnd(callID string, isError bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isError {
		fmt.Fprintln(r.out, r.color("31", fmt.Sprintf("[tool] %s failed", callID)))
		return
	}
	fmt.Fprintln(r.out, r.color("2", fmt.Sprintf("[tool] %s done", callID)))
}

func (r *renderer) compaction(evicted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, r.color("35", fmt.Sprintf("[context] compacted %d turns", evicted)))
}

// relayEvents drains a session's event stream to the renderer and, when
// auditSink is non-nil, to the audit log, until the channel closes.
func relayEvents(session *agentloop.Session, out *renderer, auditSink *audit.Sink) {
	for ev := range session.Events() {
		recordAudit(auditSink, ev)
		switch ev.Kind {
		case agentloop.EventAssistantTextStart:
			out.assistantText("\n")
		case agentloop.EventAssistantTextEnd:
			if text, ok := ev.Data["text"].(string); ok {
				_ = text // full text already streamed via deltas when the provider supports them
			}
			out.assistantText("\n")
		case agentloop.EventAssistantTextDelta:
			if delta, ok := ev.Data["delta"].(string); ok {
				out.assistantText(delta)
			}
		case agentloop.EventToolCallStart:
			name, _ := ev.Data["tool_name"].(string)
			callID, _ := ev.Data["call_id"].(string)
			out.toolStart(name, callID)
		case agentloop.EventToolCallEnd:
			callID, _ := ev.Data["call_id"].(string)
			_, isError := ev.Data["error"]
			out.toolEnd(callID, isError)
		case agentloop.EventContextCompaction:
			evicted, _ := ev.Data["evicted_turns"].(int)
			out.compaction(evicted)
		case agentloop.EventWarning:
			if msg, ok := ev.Data["message"].(string); ok {
				out.info("warning: %s", msg)
			}
		case agentloop.EventError:
			if msg, ok := ev.Data["error"].(string); ok {
				out.errorf("%s", msg)
			}
		}
	}
}

func recordAudit(sink *audit.Sink, ev agentloop.SessionEvent) {
	switch ev.Kind {
	case agentloop.EventToolCallStart:
		_ = sink.Record(audit.KindToolCall, ev.Data)
	case agentloop.EventToolCallEnd:
		_ = sink.Record(audit.KindToolResult, ev.Data)
	case agentloop.EventApprovalRequested, agentloop.EventApprovalResolved:
		_ = sink.Record(audit.KindApproval, ev.Data)
	case agentloop.EventError:
		_ = sink.Record(audit.KindError, ev.Data)
	}
}
