package orchestrate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// WorkerState is the worker lifecycle:
// spawning -> handshake -> ready -> working -> draining -> terminated.
type WorkerState string

const (
	WorkerSpawning   WorkerState = "spawning"
	WorkerHandshake  WorkerState = "handshake"
	WorkerReady      WorkerState = "ready"
	WorkerWorking    WorkerState = "working"
	WorkerDraining   WorkerState = "draining"
	WorkerTerminated WorkerState = "terminated"
)

// HandshakePayload is exchanged once a worker connects: a worker id, a
// cryptographically random 128-bit session token, and the working tree
// path the worker should operate in.
type HandshakePayload struct {
	WorkerID     string `json:"worker_id"`
	SessionToken string `json:"session_token"`
	WorktreePath string `json:"worktree_path"`
}

// NewSessionToken generates the random 128-bit token a handshake carries.
func NewSessionToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("orchestrate: generating session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// PermissionRequestPayload is what a worker forwards to the commander in
// place of prompting locally.
type PermissionRequestPayload struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Category   string `json:"category"`
	Command    string `json:"command,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
}

// PermissionResponsePayload carries the commander's resolved decision back.
type PermissionResponsePayload struct {
	ToolCallID string `json:"tool_call_id"`
	Decision   string `json:"decision"`
}

// TaskCompletePayload reports a worker's successful completion.
type TaskCompletePayload struct {
	DiffSummary string `json:"diff_summary"`
}

// TaskErrorPayload reports a worker's failure.
type TaskErrorPayload struct {
	Message string `json:"message"`
}

// WorkerHandle is the commander's view of one connected worker.
type WorkerHandle struct {
	ID        string
	Token     string
	Worktree  *Worktree
	State     WorkerState
	Conn      *Conn
	StartedAt time.Time
	Deadline  time.Time
}

// WorkerClient drives the worker side of the protocol: dial the
// commander's endpoint, perform the handshake, and forward permission
// requests while the local Approval Gate is bypassed in favor of the IPC
// round trip.
type WorkerClient struct {
	conn     *Conn
	workerID string
	token    string
}

// Connect dials the commander and completes the handshake.
func Connect(ctx context.Context, socketPath, workerID, worktreePath string) (*WorkerClient, error) {
	conn, err := Dial(socketPath)
	if err != nil {
		return nil, err
	}

	token, err := NewSessionToken()
	if err != nil {
		conn.Close()
		return nil, err
	}

	payload, _ := json.Marshal(HandshakePayload{WorkerID: workerID, SessionToken: token, WorktreePath: worktreePath})
	if err := conn.WriteMessage(Message{Type: MsgHandshake, Payload: payload}); err != nil {
		conn.Close()
		return nil, err
	}

	ack, err := conn.ReadMessage(DefaultReadTimeout)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("orchestrate: handshake ack: %w", err)
	}
	if ack.Type != MsgHandshakeAck {
		conn.Close()
		return nil, fmt.Errorf("orchestrate: expected HandshakeAck, got %s", ack.Type)
	}

	if err := conn.WriteMessage(Message{Type: MsgReady}); err != nil {
		conn.Close()
		return nil, err
	}

	return &WorkerClient{conn: conn, workerID: workerID, token: token}, nil
}

// RequestPermission forwards a tool-call approval request to the commander
// and blocks until a PermissionResponse arrives — an unbounded wait, since
// the user may take an arbitrary amount of time to answer.
func (w *WorkerClient) RequestPermission(req PermissionRequestPayload) (string, error) {
	payload, _ := json.Marshal(req)
	if err := w.conn.WriteMessage(Message{Type: MsgPermissionRequest, ID: req.ToolCallID, Payload: payload}); err != nil {
		return "", err
	}

	for {
		msg, err := w.conn.ReadMessage(readTimeoutFor(MsgPermissionResponse))
		if err != nil {
			return "", fmt.Errorf("orchestrate: awaiting permission response: %w", err)
		}
		if msg.Type == MsgCancel {
			return "abort", nil
		}
		if msg.Type != MsgPermissionResponse {
			continue // Status/Log/Ping may interleave; keep waiting for the matching response.
		}
		var resp PermissionResponsePayload
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			return "", fmt.Errorf("orchestrate: malformed permission response: %w", err)
		}
		if resp.ToolCallID != req.ToolCallID {
			continue
		}
		return resp.Decision, nil
	}
}

// ReportComplete sends TaskComplete to the commander.
func (w *WorkerClient) ReportComplete(diffSummary string) error {
	payload, _ := json.Marshal(TaskCompletePayload{DiffSummary: diffSummary})
	return w.conn.WriteMessage(Message{Type: MsgTaskComplete, Payload: payload})
}

// ReportError sends TaskError to the commander.
func (w *WorkerClient) ReportError(message string) error {
	payload, _ := json.Marshal(TaskErrorPayload{Message: message})
	return w.conn.WriteMessage(Message{Type: MsgTaskError, Payload: payload})
}

// Close closes the worker's connection to the commander.
func (w *WorkerClient) Close() error { return w.conn.Close() }
