package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/laynepenney/codi/approval"
	"github.com/laynepenney/codi/contextmgr"
	"github.com/laynepenney/codi/unifiedllm"
)

// SessionState represents the current lifecycle state of a session.
type SessionState string

const (
	StateIdle          SessionState = "idle"
	StateProcessing    SessionState = "processing"
	StateAwaitingInput SessionState = "awaiting_input"
	StateClosed        SessionState = "closed"
)

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	MaxTurns                int            `json:"max_turns"`                   // 0 = unlimited
	MaxToolRoundsPerInput   int            `json:"max_tool_rounds_per_input"`   // per user input
	DefaultCommandTimeoutMs int            `json:"default_command_timeout_ms"`
	MaxCommandTimeoutMs     int            `json:"max_command_timeout_ms"`
	ReasoningEffort         string         `json:"reasoning_effort,omitempty"`  // "low", "medium", "high", or ""
	ToolOutputLimits        map[string]int `json:"tool_output_limits,omitempty"`
	ToolLineLimits          map[string]int `json:"tool_line_limits,omitempty"`
	EnableLoopDetection     bool           `json:"enable_loop_detection"`
	LoopDetectionWindow     int            `json:"loop_detection_window"`
	MaxSubagentDepth        int            `json:"max_subagent_depth"`
	UserInstructions        string         `json:"user_instructions,omitempty"` // appended last to system prompt
	ContextHeadroomPct      float64        `json:"context_headroom_pct,omitempty"` // 0 = use contextmgr's default
	subagentDepth           int            // internal: current nesting depth
}

// DefaultSessionConfig returns the default configuration for a new session.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxTurns:                0,   // unlimited
		MaxToolRoundsPerInput:   200,
		DefaultCommandTimeoutMs: 120000, // 2 minutes, matching the bash tool's default in its own description
		MaxCommandTimeoutMs:     600000, // 10 minutes
		EnableLoopDetection:     true,
		LoopDetectionWindow:     10,
		MaxSubagentDepth:        1,
	}
}

// Session is the central orchestrator for the agentic loop.
type Session struct {
	id             string
	profile        ProviderProfile
	env            ExecutionEnvironment
	history        []Turn
	emitter        *EventEmitter
	config         SessionConfig
	state          SessionState
	llmClient      *unifiedllm.Client
	steeringQueue  []string
	followupQueue  []string
	subagents      *SubAgentManager
	abortSignaled  bool
	mu             sync.Mutex

	contextMgr    *contextmgr.Manager
	approvalGate  *approval.Gate
}

// NewSession creates a new session with the given profile, execution
// environment, and optional configuration.
func NewSession(profile ProviderProfile, env ExecutionEnvironment, config *SessionConfig) *Session {
	sessionID := uuid.New().String()

	cfg := DefaultSessionConfig()
	if config != nil {
		cfg = *config
	}

	s := &Session{
		id:        sessionID,
		profile:   profile,
		env:       env,
		history:   make([]Turn, 0),
		emitter:   NewEventEmitter(sessionID, 256),
		config:    cfg,
		state:     StateIdle,
		llmClient: unifiedllm.GetDefaultClient(),
		subagents: NewSubAgentManager(cfg.MaxSubagentDepth, cfg.subagentDepth),
		contextMgr: contextmgr.NewManager(profile.ContextWindowSize()),
	}
	if cfg.ContextHeadroomPct > 0 {
		s.contextMgr.WithHeadroom(cfg.ContextHeadroomPct)
	}

	// Register subagent tools if depth allows.
	if s.subagents.CanSpawn() {
		RegisterSubagentTools(profile.ToolRegistry(), s.subagents, profile, env)
	}

	return s
}

// SetClient sets a custom LLM client (overriding the default).
func (s *Session) SetClient(client *unifiedllm.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmClient = client
}

// SetApprovalGate installs the Approval Gate every tool call is routed
// through. A session with no gate configured falls back to executing tools
// unconditionally, which is only appropriate for tests and for worker
// sessions that inherit pre-approved settings from their commander.
func (s *Session) SetApprovalGate(gate *approval.Gate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvalGate = gate
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the conversation history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]Turn, len(s.history))
	copy(h, s.history)
	return h
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// Steer queues a message to be injected after the current tool round.
func (s *Session) Steer(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steeringQueue = append(s.steeringQueue, message)
}

// FollowUp queues a message to be processed after the current input completes.
func (s *Session) FollowUp(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followupQueue = append(s.followupQueue, message)
}

// Abort signals the session to stop processing.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortSignaled = true
}

// Close terminates the session and cleans up resources.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.subagents.CloseAll()
	s.emitter.Emit(EventSessionEnd, map[string]interface{}{
		"state": string(StateClosed),
	})
	s.emitter.Close()
}

// SetReasoningEffort changes the reasoning effort for subsequent LLM calls.
func (s *Session) SetReasoningEffort(effort string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.ReasoningEffort = effort
}

// Submit processes a user input through the agentic loop.
func (s *Session) Submit(ctx context.Context, userInput string) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("session is closed")
	}
	s.state = StateProcessing
	s.abortSignaled = false
	s.mu.Unlock()

	return s.processInput(ctx, userInput)
}

// processInput is the core agentic loop: submit, stream, execute tools, repeat.
func (s *Session) processInput(ctx context.Context, userInput string) error {
	// Append user turn.
	s.mu.Lock()
	s.history = append(s.history, NewUserTurn(userInput))
	s.mu.Unlock()
	s.emitter.Emit(EventUserInput, map[string]interface{}{
		"content": userInput,
	})

	// Drain any pending steering messages before the first LLM call.
	s.drainSteering()

	roundCount := 0

	for {
		// 1. Check limits.
		s.mu.Lock()
		maxRounds := s.config.MaxToolRoundsPerInput
		maxTurns := s.config.MaxTurns
		aborted := s.abortSignaled
		s.mu.Unlock()

		if roundCount >= maxRounds {
			s.emitter.Emit(EventTurnLimit, map[string]interface{}{
				"round": roundCount,
			})
			break
		}

		if maxTurns > 0 && s.countTurns() >= maxTurns {
			s.emitter.Emit(EventTurnLimit, map[string]interface{}{
				"total_turns": s.countTurns(),
			})
			break
		}

		if aborted {
			break
		}

		// Check context cancellation.
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.state = StateClosed
			s.mu.Unlock()
			s.emitter.Emit(EventError, map[string]interface{}{
				"error": "context cancelled",
			})
			return &unifiedllm.CancelledError{SDKError: unifiedllm.SDKError{
				Message: "turn cancelled", Cause: ctx.Err(),
			}}
		default:
		}

		// 2. Build LLM request using provider profile.
		projectDocs := DiscoverProjectDocs(s.env.WorkingDirectory(), s.profile.ID())
		var autoApprovedTools []string
		if s.approvalGate != nil {
			autoApprovedTools = s.approvalGate.AutoApprovedTools()
		}
		systemPrompt := s.profile.BuildSystemPrompt(s.env, projectDocs, autoApprovedTools)

		// Append user instructions if configured.
		s.mu.Lock()
		if s.config.UserInstructions != "" {
			systemPrompt += "\n\n# User Instructions\n\n" + s.config.UserInstructions
		}
		s.mu.Unlock()

		workingHistory, err := s.buildWorkingSet(ctx)
		if err != nil {
			s.mu.Lock()
			s.state = StateClosed
			s.mu.Unlock()
			s.emitter.Emit(EventError, map[string]interface{}{
				"error": err.Error(),
			})
			return fmt.Errorf("context manager: %w", err)
		}
		messages := ConvertHistoryToMessages(workingHistory)

		// Build tool definitions for the request.
		toolDefs := s.profile.Tools()
		sdkToolDefs := make([]unifiedllm.ToolDefinition, len(toolDefs))
		for i, td := range toolDefs {
			sdkToolDefs[i] = unifiedllm.ToolDefinition{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			}
		}

		s.mu.Lock()
		reasoningEffort := s.config.ReasoningEffort
		s.mu.Unlock()

		request := unifiedllm.Request{
			Model:           s.profile.ModelID(),
			Messages:        append([]unifiedllm.Message{unifiedllm.SystemMessage(systemPrompt)}, messages...),
			ToolDefs:        sdkToolDefs,
			ToolChoice:      &unifiedllm.ToolChoice{Mode: "auto"},
			ReasoningEffort: reasoningEffort,
			Provider:        s.profile.ID(),
			ProviderOptions: s.profile.ProviderOptions(),
		}

		// 3. Open a provider stream and drain it, routing text/thinking deltas
		// to the event emitter as they arrive rather than waiting for the
		// full response.
		streamCh, err := s.llmClient.Stream(ctx, request)
		if err != nil {
			if !unifiedllm.IsRetryable(err) {
				s.mu.Lock()
				s.state = StateClosed
				s.mu.Unlock()
				s.emitter.Emit(EventError, map[string]interface{}{
					"error": err.Error(),
				})
				return fmt.Errorf("unrecoverable LLM error: %w", err)
			}
			s.emitter.Emit(EventError, map[string]interface{}{
				"error": err.Error(),
			})
			return fmt.Errorf("LLM error after retries: %w", err)
		}

		accum, err := s.drainStream(ctx, streamCh)
		if err != nil {
			s.mu.Lock()
			s.state = StateClosed
			s.mu.Unlock()
			s.emitter.Emit(EventError, map[string]interface{}{
				"error": err.Error(),
			})
			return fmt.Errorf("LLM stream error: %w", err)
		}

		// 4. Record assistant turn.
		toolCalls := accum.toolCalls
		finalText := accum.text.String()
		finalReasoning := accum.reasoning.String()
		assistantTurn := NewAssistantTurn(
			finalText,
			toolCalls,
			finalReasoning,
			accum.usage,
			accum.responseID,
		)
		s.mu.Lock()
		s.history = append(s.history, assistantTurn)
		s.mu.Unlock()

		s.emitter.Emit(EventAssistantTextEnd, map[string]interface{}{
			"text":      finalText,
			"reasoning": finalReasoning,
		})

		// 5. Provider-reported usage is authoritative; last write wins.
		if accum.usage.TotalTokens > 0 {
			s.contextMgr.UpdateUsage(accum.usage.TotalTokens)
		}
		s.checkContextUsage()

		// 6. If no tool calls, natural completion.
		if len(toolCalls) == 0 {
			break
		}

		// 7. Execute tool calls through the execution environment.
		roundCount++
		results := s.executeToolCalls(ctx, toolCalls)
		if err := unifiedllm.ValidateToolUsePairing(toolCalls, results); err != nil {
			s.emitter.Emit(EventWarning, map[string]interface{}{
				"warning": fmt.Sprintf("tool_use/tool_result pairing violated: %v", err),
			})
		}
		resultsTurn := NewToolResultsTurn(results)
		s.mu.Lock()
		s.history = append(s.history, resultsTurn)
		s.mu.Unlock()
		if rt := resultsTurn.ToolResults; rt != nil && rt.FailureCount() > 0 {
			s.emitter.Emit(EventWarning, map[string]interface{}{
				"warning": fmt.Sprintf("%d of %d tool calls in round %d failed (%s elapsed, ~%d tokens)",
					rt.FailureCount(), len(rt.Results), roundCount, rt.TotalDuration(), rt.TotalTokenCost()),
			})
		}
		if unresolved := assistantTurn.Assistant.UnresolvedToolCalls(); len(unresolved) > 0 {
			s.emitter.Emit(EventWarning, map[string]interface{}{
				"warning": fmt.Sprintf("%d tool call(s) in round %d still unresolved after execution", len(unresolved), roundCount),
			})
		}

		// 8. Drain steering messages injected during tool execution.
		s.drainSteering()

		// 9. Loop detection.
		s.mu.Lock()
		enableLoop := s.config.EnableLoopDetection
		loopWindow := s.config.LoopDetectionWindow
		historyCopy := make([]Turn, len(s.history))
		copy(historyCopy, s.history)
		s.mu.Unlock()

		if enableLoop {
			if DetectLoop(historyCopy, loopWindow) {
				warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", loopWindow)
				s.mu.Lock()
				s.history = append(s.history, NewSteeringTurn(warning))
				s.mu.Unlock()
				s.emitter.Emit(EventLoopDetection, map[string]interface{}{
					"message": warning,
				})
			}
		}
	}

	// Process follow-up messages if any are queued.
	s.mu.Lock()
	if len(s.followupQueue) > 0 {
		nextInput := s.followupQueue[0]
		s.followupQueue = s.followupQueue[1:]
		s.mu.Unlock()
		return s.processInput(ctx, nextInput)
	}
	s.state = StateIdle
	s.mu.Unlock()
	s.emitter.Emit(EventSessionEnd, nil)

	return nil
}

// streamAccumulator collects the pieces of a streamed response as its
// events arrive, so the assistant turn can be reconstructed once the
// stream finishes.
type streamAccumulator struct {
	text       strings.Builder
	reasoning  strings.Builder
	toolCalls  []unifiedllm.ToolCall
	usage      unifiedllm.Usage
	responseID string
}

// drainStream reads a provider stream to completion, emitting
// EventAssistantTextStart/Delta/End as text arrives so a caller can render
// tokens incrementally, and accumulating tool-call and thinking deltas
// until the provider signals Done. It applies back-pressure naturally: the
// adapter's producer goroutine blocks on the channel send until this loop
// is ready for the next event.
func (s *Session) drainStream(ctx context.Context, ch <-chan unifiedllm.StreamEvent) (*streamAccumulator, error) {
	accum := &streamAccumulator{}
	pendingArgs := map[string]*strings.Builder{}
	textOpen := false

	for event := range ch {
		switch event.Type {
		case unifiedllm.TextStart:
			if !textOpen {
				textOpen = true
				s.emitter.Emit(EventAssistantTextStart, map[string]interface{}{
					"text_id": event.TextID,
				})
			}
		case unifiedllm.TextDelta:
			accum.text.WriteString(event.Delta)
			s.emitter.Emit(EventAssistantTextDelta, map[string]interface{}{
				"delta":   event.Delta,
				"text_id": event.TextID,
			})
		case unifiedllm.TextEnd:
			textOpen = false
		case unifiedllm.ReasoningDelta:
			accum.reasoning.WriteString(event.ReasoningDelta)
			s.emitter.Emit(EventAssistantTextDelta, map[string]interface{}{
				"thinking_delta": event.ReasoningDelta,
			})
		case unifiedllm.ToolCallStart:
			if event.ToolCall != nil {
				pendingArgs[event.ToolCall.ID] = &strings.Builder{}
			}
		case unifiedllm.ToolCallDelta:
			if event.ToolCall != nil {
				if sb, ok := pendingArgs[event.ToolCall.ID]; ok {
					sb.WriteString(event.ToolCall.RawArguments)
				}
			}
		case unifiedllm.ToolCallEnd:
			if event.ToolCall != nil {
				delete(pendingArgs, event.ToolCall.ID)
				tc := *event.ToolCall
				tc.State = unifiedllm.ToolCallPending
				accum.toolCalls = append(accum.toolCalls, tc)
			}
		case unifiedllm.StreamError:
			return nil, event.Error
		case unifiedllm.StreamFinish:
			if event.Usage != nil {
				accum.usage = *event.Usage
			}
			if event.Response != nil {
				accum.responseID = event.Response.ID
				if accum.responseID == "" {
					accum.responseID = event.Response.Provider
				}
			}
		case unifiedllm.StreamStart, unifiedllm.ProviderEvent:
			// no accumulator state to update
		}

		select {
		case <-ctx.Done():
			return nil, &unifiedllm.CancelledError{SDKError: unifiedllm.SDKError{
				Message: "stream cancelled", Cause: ctx.Err(),
			}}
		default:
		}
	}

	if accum.responseID == "" {
		accum.responseID = uuid.New().String()
	}
	return accum, nil
}

// drainSteering injects all queued steering messages into the history.
func (s *Session) drainSteering() {
	s.mu.Lock()
	messages := make([]string, len(s.steeringQueue))
	copy(messages, s.steeringQueue)
	s.steeringQueue = s.steeringQueue[:0]
	s.mu.Unlock()

	for _, msg := range messages {
		s.mu.Lock()
		s.history = append(s.history, NewSteeringTurn(msg))
		s.mu.Unlock()
		s.emitter.Emit(EventSteeringInjected, map[string]interface{}{
			"content": msg,
		})
	}
}

// executeToolCalls dispatches tool calls through the registry and execution
// environment, strictly sequentially in emission order. Tool calls are never
// interleaved: a provider may stream several tool_use blocks in one turn,
// but filesystem side effects and approval prompts must happen one at a
// time, in the order the blocks were emitted.
func (s *Session) executeToolCalls(ctx context.Context, toolCalls []unifiedllm.ToolCall) []unifiedllm.ToolResult {
	return s.executeToolCallsSequential(ctx, toolCalls)
}

func (s *Session) executeToolCallsSequential(ctx context.Context, toolCalls []unifiedllm.ToolCall) []unifiedllm.ToolResult {
	results := make([]unifiedllm.ToolResult, len(toolCalls))
	for i := range toolCalls {
		if s.roundCancelled(ctx) {
			toolCalls[i].State = unifiedllm.ToolCallDenied
			s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
				"call_id": toolCalls[i].ID,
				"error":   "cancelled",
			})
			results[i] = unifiedllm.ToolResult{
				ToolCallID: toolCalls[i].ID,
				Content:    "cancelled",
				IsError:    true,
			}
			continue
		}
		results[i] = s.executeSingleTool(ctx, &toolCalls[i])
	}
	return results
}

// roundCancelled reports whether the remaining tool calls in the current
// round should be skipped rather than executed: the turn's context was
// cancelled, or an earlier call in this same round triggered an abort
// (a DecisionAbort from the Approval Gate). Checked before every call so a
// user abort on call N stops calls N+1..len from running or re-prompting.
func (s *Session) roundCancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortSignaled
}

// executeSingleTool handles the full tool execution pipeline:
// lookup -> approve -> execute -> truncate -> emit -> return. toolCall is
// mutated in place as it advances through ToolCallState so the stored
// assistant turn (which shares the same backing slice) reflects the call's
// final disposition, not just its original pending arguments.
func (s *Session) executeSingleTool(ctx context.Context, toolCall *unifiedllm.ToolCall) unifiedllm.ToolResult {
	toolCall.State = unifiedllm.ToolCallPending
	s.emitter.Emit(EventToolCallStart, map[string]interface{}{
		"tool_name": toolCall.Name,
		"call_id":   toolCall.ID,
	})

	// 1. Lookup tool in registry.
	registered := s.profile.ToolRegistry().Get(toolCall.Name)
	if registered == nil {
		toolCall.State = unifiedllm.ToolCallFailed
		errorMsg := fmt.Sprintf("Unknown tool: %s", toolCall.Name)
		s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
			"call_id": toolCall.ID,
			"error":   errorMsg,
		})
		return unifiedllm.ToolResult{
			ToolCallID: toolCall.ID,
			Content:    errorMsg,
			IsError:    true,
		}
	}

	// 2. Route through the Approval Gate before the tool ever reaches the
	// execution environment.
	if s.approvalGate != nil {
		outcome, err := s.decideApproval(ctx, *toolCall, registered)
		if err != nil {
			toolCall.State = unifiedllm.ToolCallFailed
			errorMsg := fmt.Sprintf("Approval gate error (%s): %v", toolCall.Name, err)
			s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
				"call_id": toolCall.ID,
				"error":   errorMsg,
			})
			return unifiedllm.ToolResult{ToolCallID: toolCall.ID, Content: errorMsg, IsError: true}
		}
		if outcome.Aborted {
			toolCall.State = unifiedllm.ToolCallDenied
			s.Abort()
			s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
				"call_id": toolCall.ID,
				"error":   "aborted by user",
			})
			return unifiedllm.ToolResult{ToolCallID: toolCall.ID, Content: "aborted by user", IsError: true}
		}
		if outcome.Denied {
			toolCall.State = unifiedllm.ToolCallDenied
			s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
				"call_id": toolCall.ID,
				"error":   outcome.DenyReason,
			})
			return unifiedllm.ToolResult{ToolCallID: toolCall.ID, Content: outcome.DenyReason, IsError: true}
		}
		toolCall.State = unifiedllm.ToolCallApproved
	}

	// 3. Validate arguments against the tool's declared schema, then
	// execute via the execution environment. Both steps go through the
	// registry's Execute so a malformed call never reaches the executor.
	toolCall.State = unifiedllm.ToolCallRunning
	started := time.Now()
	rawOutput, err := s.profile.ToolRegistry().Execute(ctx, toolCall.Name, toolCall.Arguments, s.env)
	elapsed := time.Since(started)
	if err != nil {
		toolCall.State = unifiedllm.ToolCallFailed
		errorMsg := fmt.Sprintf("Tool error (%s): %v", toolCall.Name, err)
		s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
			"call_id": toolCall.ID,
			"error":   errorMsg,
		})
		return unifiedllm.ToolResult{
			ToolCallID: toolCall.ID,
			Content:    errorMsg,
			IsError:    true,
			Duration:   elapsed,
		}
	}

	// 4. Truncate output before sending to LLM.
	s.mu.Lock()
	charLimits := s.config.ToolOutputLimits
	lineLimits := s.config.ToolLineLimits
	s.mu.Unlock()
	truncatedOutput, wasTruncated := TruncateToolOutput(rawOutput, toolCall.Name, charLimits, lineLimits)
	if wasTruncated {
		s.emitter.Emit(EventWarning, map[string]interface{}{
			"warning": fmt.Sprintf("%s output truncated for call %s; full output is in the event stream", toolCall.Name, toolCall.ID),
		})
	}

	// 5. Emit full output via event stream (not truncated).
	s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
		"call_id": toolCall.ID,
		"output":  rawOutput, // Full untruncated output.
	})

	// 6. Return truncated output as ToolResult.
	toolCall.State = unifiedllm.ToolCallCompleted
	tokenCost := contextmgr.EstimateTokens(truncatedOutput)
	return unifiedllm.ToolResult{
		ToolCallID:        toolCall.ID,
		Content:           truncatedOutput,
		IsError:           false,
		Duration:          elapsed,
		TokenCostEstimate: &tokenCost,
	}
}

// decideApproval builds an approval.Request from a tool call and routes it
// through the Approval Gate, extracting the "command" argument for
// execute-category tools so the Dangerous-Pattern Filter has something to
// check.
func (s *Session) decideApproval(ctx context.Context, toolCall unifiedllm.ToolCall, registered *RegisteredTool) (approval.Outcome, error) {
	req := approval.Request{
		ToolCallID: toolCall.ID,
		ToolName:   toolCall.Name,
		Category:   approval.Category(registered.Definition.Category),
		Arguments:  string(toolCall.Arguments),
	}

	if registered.Definition.Category == CategoryExecute {
		var args struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(toolCall.Arguments, &args); err == nil {
			req.Command = args.Command
		}
	}

	s.emitter.Emit(EventApprovalRequested, map[string]interface{}{
		"call_id":   toolCall.ID,
		"tool_name": toolCall.Name,
		"category":  string(req.Category),
	})

	outcome, err := s.approvalGate.Decide(ctx, req)
	if err != nil {
		return approval.Outcome{}, err
	}
	s.emitter.Emit(EventApprovalResolved, map[string]interface{}{
		"call_id":  toolCall.ID,
		"approved": outcome.Approved,
		"denied":   outcome.Denied,
		"aborted":  outcome.Aborted,
	})
	return outcome, nil
}

// countTurns returns the number of user and assistant turns in the history.
func (s *Session) countTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, turn := range s.history {
		if turn.Kind == TurnUser || turn.Kind == TurnAssistant {
			count++
		}
	}
	return count
}

// buildWorkingSet asks the Context Manager for the turns that fit the
// model's window, running a compaction pass first if even the pinned
// entries plus the tail turn would overflow it. On compaction, the
// session's persisted history is collapsed to the summary plus the tail
// turn, per the compaction contract.
func (s *Session) buildWorkingSet(ctx context.Context) ([]Turn, error) {
	history := s.History()
	entries := ConvertHistoryToEntries(history)

	if err := contextmgr.EstimateEntries(ctx, entries); err != nil {
		return nil, fmt.Errorf("estimating tokens: %w", err)
	}

	selection := s.contextMgr.SelectWorkingSet(entries)
	if !selection.NeedsCompaction {
		return SelectHistory(history, selection.WorkingSet), nil
	}

	s.mu.Lock()
	model := s.profile.ModelID()
	providerID := s.profile.ID()
	s.mu.Unlock()
	summarizer := CompactionSummarizer(s.llmClient, model, providerID)

	summaryEntry, err := contextmgr.Compact(ctx, summarizer, selection.Evicted)
	if err != nil {
		return nil, err
	}

	tail := SelectHistory(history, selection.WorkingSet)
	summaryTurn := NewSystemTurn(summaryEntry.Text)

	s.mu.Lock()
	s.history = append([]Turn{summaryTurn}, tail...)
	compacted := make([]Turn, len(s.history))
	copy(compacted, s.history)
	s.mu.Unlock()

	s.emitter.Emit(EventContextCompaction, map[string]interface{}{
		"evicted_turns": len(selection.Evicted),
		"summary":       summaryEntry.Text,
	})

	return compacted, nil
}

// checkContextUsage emits a warning once the Context Manager's running
// usage total exceeds 80% of the model's window.
func (s *Session) checkContextUsage() {
	pct := s.contextMgr.UsagePercent()
	if pct > 80 {
		s.emitter.Emit(EventWarning, map[string]interface{}{
			"message": fmt.Sprintf("Context usage at ~%d%% of context window", int(pct)),
		})
	}
}
