package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestRecordAppendsOneJSONLinePerEntry(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sink.Close()

	if err := sink.Record(KindToolCall, map[string]string{"tool": "bash"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Record(KindApproval, map[string]string{"decision": "yes"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "session-1.jsonl"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %d: invalid JSON: %v", count, err)
		}
		count++
	}
	if count != 2 {
		t.Errorf("expected 2 lines, got %d", count)
	}
}

func TestNilSinkRecordIsNoOp(t *testing.T) {
	var sink *Sink
	if err := sink.Record(KindError, "boom"); err != nil {
		t.Errorf("expected nil-sink Record to be a no-op, got %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("expected nil-sink Close to be a no-op, got %v", err)
	}
}
