package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/laynepenney/codi/approval"
)

// TaskResult is what the commander surfaces to its own caller once a
// worker finishes, fails, or disconnects unexpectedly.
type TaskResult struct {
	WorkerID    string
	DiffSummary string
	Err         error
}

// Commander accepts worker connections, routes their permission requests
// to the local Approval Gate, and aggregates their results. Merging worker
// results into the parent session is serialized through resultsMu — a
// single writer, so cross-worker merges land in a deterministic order.
type Commander struct {
	listener net.Listener
	gate     *approval.Gate

	mu      sync.Mutex
	workers map[string]*WorkerHandle

	resultsMu sync.Mutex
	results   chan TaskResult
}

// NewCommander starts listening on socketPath and returns a Commander
// ready to accept workers. gate is the local Approval Gate every forwarded
// PermissionRequest is resolved against.
func NewCommander(socketPath string, gate *approval.Gate) (*Commander, error) {
	l, err := Listen(socketPath)
	if err != nil {
		return nil, err
	}
	return &Commander{
		listener: l,
		gate:     gate,
		workers:  make(map[string]*WorkerHandle),
		results:  make(chan TaskResult, 16),
	}, nil
}

// Results returns the channel TaskComplete/TaskError/disconnect outcomes
// are published on.
func (c *Commander) Results() <-chan TaskResult { return c.results }

// Serve accepts worker connections until ctx is cancelled or Close is
// called. Each connection is handled on its own goroutine; the single
// listener Accept loop is itself the one suspension point.
func (c *Commander) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.listener.Close()
	}()

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("orchestrate: accept: %w", err)
			}
		}
		go c.handleWorker(ctx, NewConn(conn))
	}
}

// Close stops accepting new workers.
func (c *Commander) Close() error { return c.listener.Close() }

// SpawnWorker records a worker's time budget and worktree before the
// worker process is actually started; the per-worker deadline is enforced
// against this record once the handshake completes.
func (c *Commander) SpawnWorker(id string, wt *Worktree, budget time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers[id] = &WorkerHandle{
		ID:        id,
		Worktree:  wt,
		State:     WorkerSpawning,
		StartedAt: time.Now(),
		Deadline:  time.Now().Add(budget),
	}
}

func (c *Commander) handleWorker(ctx context.Context, conn *Conn) {
	handshake, err := conn.ReadMessage(DefaultReadTimeout)
	if err != nil || handshake.Type != MsgHandshake {
		conn.Close()
		return
	}
	var hs HandshakePayload
	if err := json.Unmarshal(handshake.Payload, &hs); err != nil {
		conn.Close()
		return
	}

	c.mu.Lock()
	handle, known := c.workers[hs.WorkerID]
	if !known {
		handle = &WorkerHandle{ID: hs.WorkerID, StartedAt: time.Now()}
		c.workers[hs.WorkerID] = handle
	}
	handle.Token = hs.SessionToken
	handle.Conn = conn
	handle.State = WorkerHandshake
	c.mu.Unlock()

	if err := conn.WriteMessage(Message{Type: MsgHandshakeAck}); err != nil {
		c.failWorker(handle, fmt.Errorf("sending handshake ack: %w", err))
		return
	}

	ready, err := conn.ReadMessage(DefaultReadTimeout)
	if err != nil || ready.Type != MsgReady {
		c.failWorker(handle, fmt.Errorf("worker did not report ready: %w", err))
		return
	}

	c.mu.Lock()
	handle.State = WorkerReady
	c.mu.Unlock()

	var budgetTimer <-chan time.Time
	if !handle.Deadline.IsZero() {
		timer := time.NewTimer(time.Until(handle.Deadline))
		defer timer.Stop()
		budgetTimer = timer.C
	}

	msgCh := make(chan Message)
	errCh := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.ReadMessage(DefaultReadTimeout)
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- msg
		}
	}()

	c.mu.Lock()
	handle.State = WorkerWorking
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(Message{Type: MsgCancel})
			c.failWorker(handle, fmt.Errorf("commander cancelled"))
			return
		case <-budgetTimer:
			conn.WriteMessage(Message{Type: MsgCancel})
			c.failWorker(handle, fmt.Errorf("worker %s exceeded its time budget", handle.ID))
			return
		case err := <-errCh:
			// Unexpected disconnect: mark the worker's task failed and surface.
			c.failWorker(handle, fmt.Errorf("worker %s disconnected: %w", handle.ID, err))
			return
		case msg := <-msgCh:
			if done := c.dispatch(handle, msg); done {
				return
			}
		}
	}
}

// dispatch handles one inbound message from a worker. Returns true once
// the worker's task has reached a terminal state.
func (c *Commander) dispatch(handle *WorkerHandle, msg Message) bool {
	switch msg.Type {
	case MsgPermissionRequest:
		c.routePermissionRequest(handle, msg)
		return false
	case MsgStatus, MsgLog, MsgPing:
		if msg.Type == MsgPing {
			handle.Conn.WriteMessage(Message{Type: MsgPong})
		}
		return false
	case MsgTaskComplete:
		var payload TaskCompletePayload
		json.Unmarshal(msg.Payload, &payload)
		c.mu.Lock()
		handle.State = WorkerTerminated
		c.mu.Unlock()
		c.publish(TaskResult{WorkerID: handle.ID, DiffSummary: payload.DiffSummary})
		return true
	case MsgTaskError:
		var payload TaskErrorPayload
		json.Unmarshal(msg.Payload, &payload)
		c.failWorker(handle, fmt.Errorf("%s", payload.Message))
		return true
	default:
		return false
	}
}

// routePermissionRequest resolves a forwarded request against the local
// Approval Gate and answers the worker — the gate's single prompt queue is
// shared between the local loop and every IPC-forwarded worker request,
// the gate treats a forwarded request exactly like a local one.
func (c *Commander) routePermissionRequest(handle *WorkerHandle, msg Message) {
	var req PermissionRequestPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return
	}

	outcome, err := c.gate.Decide(context.Background(), approval.Request{
		ToolCallID: req.ToolCallID,
		ToolName:   req.ToolName,
		Category:   approval.Category(req.Category),
		Command:    req.Command,
		Arguments:  req.Arguments,
	})

	decision := "no"
	switch {
	case err != nil:
		decision = "no"
	case outcome.Approved:
		decision = "yes"
	case outcome.Aborted:
		decision = "abort"
	}

	payload, _ := json.Marshal(PermissionResponsePayload{ToolCallID: req.ToolCallID, Decision: decision})
	handle.Conn.WriteMessage(Message{Type: MsgPermissionResponse, ID: msg.ID, Payload: payload})
}

func (c *Commander) failWorker(handle *WorkerHandle, err error) {
	c.mu.Lock()
	handle.State = WorkerTerminated
	c.mu.Unlock()
	if handle.Conn != nil {
		handle.Conn.Close()
	}
	c.publish(TaskResult{WorkerID: handle.ID, Err: err})
}

func (c *Commander) publish(r TaskResult) {
	c.resultsMu.Lock()
	defer c.resultsMu.Unlock()
	c.results <- r
}

// ReadySet returns the ids of workers currently in the Ready state.
func (c *Commander) ReadySet() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, h := range c.workers {
		if h.State == WorkerReady || h.State == WorkerWorking {
			ids = append(ids, id)
		}
	}
	return ids
}
