package agentloop

import (
	"context"
	"fmt"
	"strconv"

	"github.com/laynepenney/codi/contextmgr"
	"github.com/laynepenney/codi/unifiedllm"
)

// ConvertHistoryToEntries maps the turn-based history onto contextmgr
// entries, one per Turn. Tool-call and tool-result linkage is carried
// through ToolCallIDs/ResolvesToolCallIDs so the Context Manager can keep a
// call and its result together. The system prompt and the most recent user
// turn are pinned; everything else is eviction-eligible.
func ConvertHistoryToEntries(history []Turn) []contextmgr.Entry {
	lastUserIdx := -1
	for i, t := range history {
		if t.Kind == TurnUser {
			lastUserIdx = i
		}
	}

	entries := make([]contextmgr.Entry, 0, len(history))
	for i, t := range history {
		e := contextmgr.Entry{
			ID:   strconv.Itoa(i),
			Text: t.TextContent(),
		}
		switch t.Kind {
		case TurnUser:
			e.Role = contextmgr.RoleUser
			e.Pinned = i == lastUserIdx
		case TurnAssistant:
			e.Role = contextmgr.RoleAssistant
			if t.Assistant != nil {
				for _, tc := range t.Assistant.ToolCalls {
					e.ToolCallIDs = append(e.ToolCallIDs, tc.ID)
				}
				reported := t.Assistant.Usage.TotalTokens
				if reported > 0 {
					e.ReportedTokens = &reported
				}
			}
		case TurnToolResults:
			e.Role = contextmgr.RoleTool
			if t.ToolResults != nil {
				for _, r := range t.ToolResults.Results {
					e.ResolvesToolCallIDs = append(e.ResolvesToolCallIDs, r.ToolCallID)
					if s, ok := r.Content.(string); ok {
						e.Text += s
					}
				}
			}
		case TurnSystem:
			e.Role = contextmgr.RoleSystem
			e.Pinned = true
		case TurnSteering:
			e.Role = contextmgr.RoleUser
		}
		if e.ReportedTokens == nil {
			e.EstimatedTokens = contextmgr.EstimateTokens(e.Text)
		}
		entries = append(entries, e)
	}
	return entries
}

// SelectHistory filters history down to the turns named by the working set,
// preserving original order.
func SelectHistory(history []Turn, workingSet []contextmgr.Entry) []Turn {
	keep := make(map[int]bool, len(workingSet))
	for _, e := range workingSet {
		if idx, err := strconv.Atoi(e.ID); err == nil {
			keep[idx] = true
		}
	}
	out := make([]Turn, 0, len(keep))
	for i, t := range history {
		if keep[i] {
			out = append(out, t)
		}
	}
	return out
}

// CompactionSummarizer builds a contextmgr.Summarizer backed by a dedicated
// provider call, per the compaction contract: a plain completion request
// carrying the fixed compaction instruction and the evicted transcript.
// Routed through Generate rather than a bare client.Complete so a
// compaction call gets the same retry policy as any other generation —
// a dropped compaction call is worse than a slow one, since the caller has
// already committed to evicting the summarized turns.
func CompactionSummarizer(client *unifiedllm.Client, model, provider string) contextmgr.Summarizer {
	return func(ctx context.Context, transcript string) (string, error) {
		result, err := unifiedllm.Generate(ctx, unifiedllm.GenerateOptions{
			Model:    model,
			Provider: provider,
			System:   contextmgr.CompactionPrompt,
			Prompt:   transcript,
			Client:   client,
		})
		if err != nil {
			return "", fmt.Errorf("compaction call: %w", err)
		}
		return result.Text, nil
	}
}
