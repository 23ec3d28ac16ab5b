// Package audit implements the audit log sink: one JSON object per line
// under ~/.codi/audit/<session_id>.jsonl. It is one of the two
// process-wide singletons the design allows (the other being metrics),
// internally thread-safe, and append-only.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Kind enumerates the audit event taxonomy.
type Kind string

const (
	KindToolCall         Kind = "tool_call"
	KindToolResult       Kind = "tool_result"
	KindApproval         Kind = "approval"
	KindProviderRequest  Kind = "provider_request"
	KindProviderResponse Kind = "provider_response"
	KindError            Kind = "error"
)

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time   `json:"ts"`
	Kind      Kind        `json:"kind"`
	Payload   interface{} `json:"payload"`
}

// Sink appends audit entries to a session's log file. A nil *Sink is valid
// and silently drops every Record call, so the agent loop can hold one
// unconditionally and only construct a real Sink when auditing is enabled.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// Open creates (or appends to) the audit log file for sessionID under dir,
// creating dir if necessary.
func Open(dir, sessionID string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", path, err)
	}
	return &Sink{file: f, enc: json.NewEncoder(f)}, nil
}

// Record appends one audit entry. Safe for concurrent use; a nil Sink is a
// documented no-op.
func (s *Sink) Record(kind Kind, payload interface{}) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(Entry{Timestamp: time.Now(), Kind: kind, Payload: payload})
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	return s.file.Close()
}
