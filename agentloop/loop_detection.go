package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// maxLoopPatternLen bounds the repeat-period search in DetectLoop. A worker
// stuck alternating between two tools (edit/read, edit/read, ...) is the
// common case; three-step cycles cover the rest seen in practice.
const maxLoopPatternLen = 3

// toolCallSignature computes a deterministic signature for a tool call:
// its name plus a short hash of its arguments, so two calls with the same
// name but different arguments never collide.
func toolCallSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentToolCallSignatures walks history backwards collecting up to count
// tool-call signatures, then returns them in chronological order.
func recentToolCallSignatures(history []Turn, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		turn := history[i]
		if turn.Kind != TurnAssistant || turn.Assistant == nil {
			continue
		}
		calls := turn.Assistant.ToolCalls
		for j := len(calls) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, toolCallSignature(calls[j].Name, calls[j].Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last windowSize tool calls form a
// repeating cycle of period 1..maxLoopPatternLen, the steering trigger the
// Agent Loop uses to interrupt a stuck run before it burns its turn budget.
func DetectLoop(history []Turn, windowSize int) bool {
	sigs := recentToolCallSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for period := 1; period <= maxLoopPatternLen; period++ {
		if windowSize%period != 0 {
			continue
		}
		if hasRepeatingPeriod(sigs, windowSize, period) {
			return true
		}
	}
	return false
}

func hasRepeatingPeriod(sigs []string, windowSize, period int) bool {
	pattern := sigs[:period]
	for i := period; i < windowSize; i += period {
		for j := 0; j < period; j++ {
			if sigs[i+j] != pattern[j] {
				return false
			}
		}
	}
	return true
}
