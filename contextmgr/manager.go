package contextmgr

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// CompactionPrompt is the exact instruction sent to the provider for the
// dedicated summarization call.
const CompactionPrompt = "summarize the following conversation preserving all file paths, decisions, and open tasks"

// Summarizer performs the dedicated provider call a compaction step needs:
// given the rendered transcript of the entries being evicted, return a
// summary paragraph.
type Summarizer func(ctx context.Context, transcript string) (string, error)

// Manager estimates token counts, selects the working set that fits a
// model's context window, and triggers compaction when even the tail turn
// doesn't fit.
type Manager struct {
	windowTokens int
	headroomPct  float64
	usedTokens   int // running total; provider-reported usage overwrites this, last write wins
}

// NewManager creates a Manager for a model with the given context window
// size in tokens, using the default 20% safety headroom.
func NewManager(windowTokens int) *Manager {
	return &Manager{windowTokens: windowTokens, headroomPct: DefaultHeadroomPct}
}

// WithHeadroom overrides the default safety headroom fraction.
func (m *Manager) WithHeadroom(pct float64) *Manager {
	m.headroomPct = pct
	return m
}

// Budget is the token budget the working set must fit within: window minus
// safety headroom.
func (m *Manager) Budget() int {
	return int(float64(m.windowTokens) * (1 - m.headroomPct))
}

// UpdateUsage records the provider's authoritative reported usage for the
// most recent turn. Provider-reported usage always overwrites the running
// estimate — last write wins.
func (m *Manager) UpdateUsage(reportedTokens int) {
	m.usedTokens = reportedTokens
}

// UsedTokens returns the current running token total.
func (m *Manager) UsedTokens() int { return m.usedTokens }

// UsagePercent returns the current usage as a percentage of the full window
// (not the headroom-adjusted budget), for warning thresholds.
func (m *Manager) UsagePercent() float64 {
	if m.windowTokens == 0 {
		return 0
	}
	return float64(m.usedTokens) / float64(m.windowTokens) * 100
}

// EstimateEntries fills in EstimatedTokens for every entry that doesn't
// already carry a provider-reported figure, fanning the estimation work out
// across goroutines — useful when re-estimating a long history after a
// tokenizer change or a cache miss, where entry count can be large.
func EstimateEntries(ctx context.Context, entries []Entry) error {
	g, _ := errgroup.WithContext(ctx)
	for i := range entries {
		i := i
		if entries[i].ReportedTokens != nil {
			continue
		}
		g.Go(func() error {
			entries[i].EstimatedTokens = EstimateTokens(entries[i].Text)
			return nil
		})
	}
	return g.Wait()
}

// SelectionResult is the outcome of a working-set selection pass.
type SelectionResult struct {
	WorkingSet      []Entry
	NeedsCompaction bool
	// Evicted holds the entries dropped from the working set, oldest first,
	// in case the caller wants to build a compaction transcript from them.
	Evicted []Entry
}

// SelectWorkingSet walks entries from the tail backward, including whole
// entries while the running token estimate stays under budget. Pinned
// entries are always included. An assistant entry that issued tool calls
// and the tool-result entry that resolves them are included or excluded
// together, never split.
func (m *Manager) SelectWorkingSet(entries []Entry) SelectionResult {
	budget := m.Budget()

	pinnedTokens := 0
	for _, e := range entries {
		if e.Pinned {
			pinnedTokens += e.Tokens()
		}
	}

	groups := groupAtomically(entries)

	included := make(map[int]bool, len(entries))
	running := pinnedTokens

	// Always include pinned entries regardless of order.
	for i, e := range entries {
		if e.Pinned {
			included[i] = true
		}
	}

	for gi := len(groups) - 1; gi >= 0; gi-- {
		grp := groups[gi]
		if allIncluded(grp, included) {
			continue
		}
		groupTokens := 0
		for _, idx := range grp {
			if !included[idx] {
				groupTokens += entries[idx].Tokens()
			}
		}
		if running+groupTokens > budget {
			continue
		}
		running += groupTokens
		for _, idx := range grp {
			included[idx] = true
		}
	}

	result := SelectionResult{}
	for i, e := range entries {
		if included[i] {
			result.WorkingSet = append(result.WorkingSet, e)
		} else {
			result.Evicted = append(result.Evicted, e)
		}
	}

	// Compaction is needed when the tail turn (the most recent user message
	// plus its resolving tool results) alone, together with pinned entries,
	// still exceeds budget even before older history is considered.
	result.NeedsCompaction = running > budget || tailAloneExceeds(entries, budget)

	return result
}

// tailAloneExceeds checks whether the last non-pinned atomic group by
// itself, added to the pinned token total, would bust budget — the
// "even the last user turn plus its tool results" compaction trigger.
func tailAloneExceeds(entries []Entry, budget int) bool {
	if len(entries) == 0 {
		return false
	}
	pinnedTokens := 0
	for _, e := range entries {
		if e.Pinned {
			pinnedTokens += e.Tokens()
		}
	}
	groups := groupAtomically(entries)
	if len(groups) == 0 {
		return false
	}
	tail := groups[len(groups)-1]
	tailTokens := 0
	for _, idx := range tail {
		if !entries[idx].Pinned {
			tailTokens += entries[idx].Tokens()
		}
	}
	return pinnedTokens+tailTokens > budget
}

func allIncluded(group []int, included map[int]bool) bool {
	for _, idx := range group {
		if !included[idx] {
			return false
		}
	}
	return true
}

// groupAtomically partitions entry indices into atomic units: an assistant
// entry issuing tool calls is grouped with the tool-result entry(ies) that
// resolve those call IDs, so the working set never splits a call from its
// result. Entries that are neither are singleton groups.
func groupAtomically(entries []Entry) [][]int {
	callIDToGroup := make(map[string]int)
	var groups [][]int

	for i, e := range entries {
		if len(e.ResolvesToolCallIDs) > 0 {
			assigned := -1
			for _, id := range e.ResolvesToolCallIDs {
				if gi, ok := callIDToGroup[id]; ok {
					assigned = gi
					break
				}
			}
			if assigned >= 0 {
				groups[assigned] = append(groups[assigned], i)
				continue
			}
		}
		gi := len(groups)
		groups = append(groups, []int{i})
		for _, id := range e.ToolCallIDs {
			callIDToGroup[id] = gi
		}
	}
	return groups
}

// Compact runs the dedicated summarization call over the evicted entries and
// returns a synthetic system Entry to prepend to the working set: summarize
// preserving file paths, decisions, and open tasks, then retain only the
// summary plus the tail turn.
func Compact(ctx context.Context, summarize Summarizer, evicted []Entry) (Entry, error) {
	transcript := renderTranscript(evicted)
	summary, err := summarize(ctx, transcript)
	if err != nil {
		return Entry{}, fmt.Errorf("contextmgr: compaction call failed: %w", err)
	}
	return Entry{
		ID:              "compaction-summary",
		Role:            RoleSystem,
		Text:            summary,
		Pinned:          true,
		EstimatedTokens: EstimateTokens(summary),
	}, nil
}

func renderTranscript(entries []Entry) string {
	out := ""
	for _, e := range entries {
		out += fmt.Sprintf("[%s] %s\n", e.Role, e.Text)
	}
	return out
}
