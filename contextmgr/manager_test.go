package contextmgr

import (
	"context"
	"strings"
	"testing"
)

func TestEstimateTokensAppliesMultiplier(t *testing.T) {
	text := "the quick brown fox"
	got := EstimateTokens(text)
	words := 4.0
	want := int(words * TokenMultiplier)
	if got != want {
		t.Errorf("EstimateTokens(%q) = %d, want %d", text, got, want)
	}
}

func TestEstimateTokensCountsPunctuationSeparately(t *testing.T) {
	withPunct := EstimateTokens("hello, world!")
	without := EstimateTokens("hello world")
	if withPunct <= without {
		t.Errorf("expected punctuation to add tokens: %d vs %d", withPunct, without)
	}
}

func TestEntryTokensPrefersReported(t *testing.T) {
	reported := 42
	e := Entry{EstimatedTokens: 10, ReportedTokens: &reported}
	if e.Tokens() != 42 {
		t.Errorf("expected reported tokens to win, got %d", e.Tokens())
	}
}

func TestSelectWorkingSetIncludesTailFirst(t *testing.T) {
	m := NewManager(1000).WithHeadroom(0)
	entries := []Entry{
		{ID: "sys", Role: RoleSystem, Pinned: true, EstimatedTokens: 50},
		{ID: "old1", Role: RoleUser, EstimatedTokens: 950},
		{ID: "recent", Role: RoleUser, EstimatedTokens: 40},
	}
	result := m.SelectWorkingSet(entries)

	var ids []string
	for _, e := range result.WorkingSet {
		ids = append(ids, e.ID)
	}
	if !contains(ids, "sys") || !contains(ids, "recent") {
		t.Errorf("expected pinned and tail entries included, got %v", ids)
	}
	if contains(ids, "old1") {
		t.Errorf("expected old entry evicted under tight budget, got %v", ids)
	}
}

func TestSelectWorkingSetKeepsToolCallGroupAtomic(t *testing.T) {
	m := NewManager(1000).WithHeadroom(0)
	entries := []Entry{
		{ID: "sys", Role: RoleSystem, Pinned: true, EstimatedTokens: 10},
		{ID: "assistant", Role: RoleAssistant, ToolCallIDs: []string{"call_1"}, EstimatedTokens: 400},
		{ID: "tool_result", Role: RoleTool, ResolvesToolCallIDs: []string{"call_1"}, EstimatedTokens: 400},
	}
	result := m.SelectWorkingSet(entries)

	has := func(id string) bool {
		for _, e := range result.WorkingSet {
			if e.ID == id {
				return true
			}
		}
		return false
	}
	// 10 + 400 + 400 = 810 < 1000, both members of the group fit together.
	if !has("assistant") || !has("tool_result") {
		t.Errorf("expected tool call and its result included atomically, got %+v", result.WorkingSet)
	}
}

func TestSelectWorkingSetTriggersCompactionWhenTailAloneExceedsBudget(t *testing.T) {
	m := NewManager(500).WithHeadroom(0)
	entries := []Entry{
		{ID: "sys", Role: RoleSystem, Pinned: true, EstimatedTokens: 50},
		{ID: "huge_user_turn", Role: RoleUser, EstimatedTokens: 600},
	}
	result := m.SelectWorkingSet(entries)
	if !result.NeedsCompaction {
		t.Error("expected compaction to be triggered when tail alone exceeds budget")
	}
}

func TestCompactRendersEvictedAndReturnsSyntheticSystemEntry(t *testing.T) {
	evicted := []Entry{
		{Role: RoleUser, Text: "please read foo.go"},
		{Role: RoleAssistant, Text: "done, foo.go handles X"},
	}
	var sawTranscript string
	summarizer := func(ctx context.Context, transcript string) (string, error) {
		sawTranscript = transcript
		return "summary: read foo.go, it handles X", nil
	}
	entry, err := Compact(context.Background(), summarizer, evicted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !entry.Pinned || entry.Role != RoleSystem {
		t.Errorf("expected pinned system entry, got %+v", entry)
	}
	if !strings.Contains(sawTranscript, "foo.go") {
		t.Errorf("expected transcript to include evicted content, got %q", sawTranscript)
	}
}

func TestUpdateUsageLastWriteWins(t *testing.T) {
	m := NewManager(1000)
	m.UpdateUsage(100)
	m.UpdateUsage(250)
	if m.UsedTokens() != 250 {
		t.Errorf("expected last reported usage to win, got %d", m.UsedTokens())
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
