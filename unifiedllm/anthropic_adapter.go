package unifiedllm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnthropicAdapter speaks the Anthropic Messages API directly over HTTP/SSE.
// Unlike GollmAdapter it does not go through gollm: the Messages API's tool
// streaming shape (content_block_start/delta/stop with partial_json deltas)
// doesn't map cleanly onto gollm's text-token stream, so the agent loop needs
// the real per-vendor framing described in the provider adapter contract.
type AnthropicAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// AnthropicAdapterOption configures an AnthropicAdapter.
type AnthropicAdapterOption func(*AnthropicAdapter)

// WithAnthropicBaseURL overrides the default API base URL (for proxies).
func WithAnthropicBaseURL(url string) AnthropicAdapterOption {
	return func(a *AnthropicAdapter) { a.baseURL = url }
}

// WithAnthropicHTTPClient overrides the default HTTP client.
func WithAnthropicHTTPClient(c *http.Client) AnthropicAdapterOption {
	return func(a *AnthropicAdapter) { a.httpClient = c }
}

// NewAnthropicAdapter creates an adapter for the Anthropic Messages API.
// If apiKey is empty it is read from ANTHROPIC_API_KEY.
func NewAnthropicAdapter(apiKey string, opts ...AnthropicAdapterOption) (*AnthropicAdapter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "anthropic: no API key provided and ANTHROPIC_API_KEY is unset",
		}}
	}
	a := &AnthropicAdapter{
		apiKey:     apiKey,
		baseURL:    "https://api.anthropic.com/v1/messages",
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// SupportsToolChoice reports tool choice mode support.
func (a *AnthropicAdapter) SupportsToolChoice(mode string) bool {
	switch mode {
	case "auto", "none", "required", "named":
		return true
	default:
		return false
	}
}

type anthropicWireMessage struct {
	Role    string                   `json:"role"`
	Content []map[string]interface{} `json:"content"`
}

type anthropicWireRequest struct {
	Model       string                   `json:"model"`
	System      string                   `json:"system,omitempty"`
	Messages    []anthropicWireMessage   `json:"messages"`
	MaxTokens   int                      `json:"max_tokens"`
	Temperature *float64                 `json:"temperature,omitempty"`
	TopP        *float64                 `json:"top_p,omitempty"`
	Tools       []map[string]interface{} `json:"tools,omitempty"`
	ToolChoice  map[string]interface{}   `json:"tool_choice,omitempty"`
	Stream      bool                     `json:"stream"`
	StopSeqs    []string                 `json:"stop_sequences,omitempty"`
}

// buildWireRequest translates a unified Request into the Anthropic wire shape.
func (a *AnthropicAdapter) buildWireRequest(req Request, stream bool) anthropicWireRequest {
	wire := anthropicWireRequest{
		Model:     req.Model,
		Stream:    stream,
		StopSeqs:  req.StopSequences,
		TopP:      req.TopP,
		MaxTokens: 4096,
	}
	if req.MaxTokens != nil {
		wire.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		wire.Temperature = req.Temperature
	}

	var systemParts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem, RoleDeveloper:
			systemParts = append(systemParts, msg.TextContent())
			continue
		case RoleTool:
			// Anthropic transports tool results as a user message with
			// tool_result content blocks, not a distinct "tool" role.
			wire.Messages = append(wire.Messages, anthropicWireMessage{
				Role:    "user",
				Content: toolResultBlocks(msg),
			})
			continue
		}

		role := "user"
		if msg.Role == RoleAssistant {
			role = "assistant"
		}
		wire.Messages = append(wire.Messages, anthropicWireMessage{
			Role:    role,
			Content: contentBlocks(msg),
		})
	}
	wire.System = strings.Join(systemParts, "\n\n")

	for _, t := range req.ToolDefs {
		wire.Tools = append(wire.Tools, map[string]interface{}{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.Parameters,
		})
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, map[string]interface{}{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.Parameters,
		})
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case "auto":
			wire.ToolChoice = map[string]interface{}{"type": "auto"}
		case "none":
			wire.ToolChoice = map[string]interface{}{"type": "none"}
		case "required":
			wire.ToolChoice = map[string]interface{}{"type": "any"}
		case "named":
			wire.ToolChoice = map[string]interface{}{"type": "tool", "name": req.ToolChoice.ToolName}
		}
	}

	return wire
}

func contentBlocks(msg Message) []map[string]interface{} {
	var blocks []map[string]interface{}
	for _, part := range msg.Content {
		switch part.Kind {
		case ContentText:
			if part.Text != "" {
				blocks = append(blocks, map[string]interface{}{"type": "text", "text": part.Text})
			}
		case ContentToolCall:
			if part.ToolCall == nil {
				continue
			}
			var input map[string]interface{}
			_ = json.Unmarshal(part.ToolCall.Arguments, &input)
			blocks = append(blocks, map[string]interface{}{
				"type":  "tool_use",
				"id":    part.ToolCall.ID,
				"name":  part.ToolCall.Name,
				"input": input,
			})
		case ContentThinking:
			if part.Thinking != nil && !part.Thinking.Redacted {
				blocks = append(blocks, map[string]interface{}{
					"type":      "thinking",
					"thinking":  part.Thinking.Text,
					"signature": part.Thinking.Signature,
				})
			}
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, map[string]interface{}{"type": "text", "text": ""})
	}
	return blocks
}

func toolResultBlocks(msg Message) []map[string]interface{} {
	var blocks []map[string]interface{}
	for _, part := range msg.Content {
		if part.Kind != ContentToolResult || part.ToolResult == nil {
			continue
		}
		var content string
		if err := json.Unmarshal(part.ToolResult.Content, &content); err != nil {
			content = string(part.ToolResult.Content)
		}
		blocks = append(blocks, map[string]interface{}{
			"type":        "tool_result",
			"tool_use_id": part.ToolResult.ToolCallID,
			"content":     content,
			"is_error":    part.ToolResult.IsError,
		})
	}
	return blocks
}

func (a *AnthropicAdapter) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	return httpReq, nil
}

// Complete sends a blocking (non-streamed) request.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	wire := a.buildWireRequest(req, false)
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := a.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: err.Error(), Cause: err}}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "reading response body", Cause: err}}
	}

	if resp.StatusCode >= 400 {
		return nil, a.errorFromResponse(resp.StatusCode, data)
	}

	return a.parseNonStreamResponse(data)
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

type anthropicNonStreamResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Content    []anthropicContentBlock `json:"content"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`
}

func (a *AnthropicAdapter) parseNonStreamResponse(data []byte) (*Response, error) {
	var wire anthropicNonStreamResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &StreamErrorType{SDKError: SDKError{Message: "malformed anthropic response", Cause: err}}
	}

	var parts []ContentPart
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			parts = append(parts, TextPart(block.Text))
		case "tool_use":
			parts = append(parts, ToolCallPart(block.ID, block.Name, block.Input))
		case "thinking":
			parts = append(parts, ThinkingPart(block.Thinking, block.Signature))
		}
	}

	cacheRead := wire.Usage.CacheReadInputTokens
	cacheWrite := wire.Usage.CacheCreationInputTokens

	return &Response{
		ID:       wire.ID,
		Model:    wire.Model,
		Provider: "anthropic",
		Message:  Message{Role: RoleAssistant, Content: parts},
		FinishReason: FinishReason{
			Reason: mapAnthropicStopReason(wire.StopReason),
			Raw:    wire.StopReason,
		},
		Usage: Usage{
			InputTokens:      wire.Usage.InputTokens,
			OutputTokens:     wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
			CacheReadTokens:  &cacheRead,
			CacheWriteTokens: &cacheWrite,
		},
	}, nil
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	case "stop_sequence":
		return "stop"
	default:
		return "other"
	}
}

// Stream sends a request and translates Anthropic SSE events into the
// unified StreamEvent sequence.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	wire := a.buildWireRequest(req, true)
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := a.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: err.Error(), Cause: err}}
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, a.errorFromResponse(resp.StatusCode, data)
	}

	ch := make(chan StreamEvent, 64)
	go a.pumpSSE(resp.Body, ch)
	return ch, nil
}

// pumpSSE reads Anthropic's server-sent event stream and emits unified
// StreamEvents. It owns closing body and ch.
func (a *AnthropicAdapter) pumpSSE(body io.ReadCloser, ch chan StreamEvent) {
	defer close(ch)
	defer body.Close()

	ch <- StreamEvent{Type: StreamStart}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// Partial tool_use blocks being assembled across content_block_delta
	// events; keyed by content block index.
	pendingToolArgs := map[int]*strings.Builder{}
	pendingToolMeta := map[int]ToolCall{}
	textStarted := false
	var finishReason FinishReason
	var usage Usage

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var event struct {
			Type         string `json:"type"`
			Index        int    `json:"index"`
			ContentBlock struct {
				Type  string `json:"type"`
				ID    string `json:"id"`
				Name  string `json:"name"`
				Input json.RawMessage `json:"input"`
			} `json:"content_block"`
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
			} `json:"delta"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
			Message struct {
				StopReason string `json:"stop_reason"`
			} `json:"message"`
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				pendingToolArgs[event.Index] = &strings.Builder{}
				id := event.ContentBlock.ID
				if id == "" {
					id = "call_" + uuid.New().String()[:8]
				}
				pendingToolMeta[event.Index] = ToolCall{ID: id, Name: event.ContentBlock.Name}
				ch <- StreamEvent{Type: ToolCallStart, ToolCall: &ToolCall{ID: id, Name: event.ContentBlock.Name}}
			} else if event.ContentBlock.Type == "text" {
				textStarted = true
				ch <- StreamEvent{Type: TextStart, TextID: strconv.Itoa(event.Index)}
			}
		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if !textStarted {
					textStarted = true
					ch <- StreamEvent{Type: TextStart, TextID: strconv.Itoa(event.Index)}
				}
				ch <- StreamEvent{Type: TextDelta, Delta: event.Delta.Text, TextID: strconv.Itoa(event.Index)}
			case "input_json_delta":
				if sb, ok := pendingToolArgs[event.Index]; ok {
					sb.WriteString(event.Delta.PartialJSON)
					tc := pendingToolMeta[event.Index]
					ch <- StreamEvent{Type: ToolCallDelta, ToolCall: &ToolCall{ID: tc.ID, Name: tc.Name, RawArguments: event.Delta.PartialJSON}}
				}
			case "thinking_delta":
				ch <- StreamEvent{Type: ReasoningDelta, ReasoningDelta: event.Delta.Text}
			}
		case "content_block_stop":
			if sb, ok := pendingToolArgs[event.Index]; ok {
				tc := pendingToolMeta[event.Index]
				argsStr := sb.String()
				if argsStr == "" {
					argsStr = "{}"
				}
				if !json.Valid([]byte(argsStr)) {
					ch <- StreamEvent{Type: StreamError, Error: &StreamErrorType{SDKError: SDKError{
						Message: "tool_use arguments did not form valid JSON by block end",
					}}}
					delete(pendingToolArgs, event.Index)
					continue
				}
				tc.Arguments = json.RawMessage(argsStr)
				ch <- StreamEvent{Type: ToolCallEnd, ToolCall: &tc}
				delete(pendingToolArgs, event.Index)
			} else if textStarted {
				ch <- StreamEvent{Type: TextEnd, TextID: strconv.Itoa(event.Index)}
			}
		case "message_delta":
			if event.Message.StopReason != "" {
				finishReason = FinishReason{Reason: mapAnthropicStopReason(event.Message.StopReason), Raw: event.Message.StopReason}
			}
			if event.Usage.OutputTokens > 0 {
				usage.OutputTokens = event.Usage.OutputTokens
				usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			}
		case "message_start":
			// input_tokens reported here in some API versions.
			usage.InputTokens = event.Usage.InputTokens
		case "error":
			retryable := event.Error.Type == "overloaded_error" || event.Error.Type == "rate_limit_error"
			ch <- StreamEvent{Type: StreamError, Error: &ProviderError{
				SDKError:  SDKError{Message: event.Error.Message},
				Provider:  "anthropic",
				ErrorCode: event.Error.Type,
				Retryable: retryable,
			}}
			return
		case "message_stop":
			resp := &Response{
				Provider:     "anthropic",
				FinishReason: finishReason,
				Usage:        usage,
			}
			ch <- StreamEvent{Type: StreamFinish, FinishReason: &finishReason, Usage: &usage, Response: resp}
			return
		}
	}
}

func (a *AnthropicAdapter) errorFromResponse(statusCode int, data []byte) error {
	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &wire)
	msg := wire.Error.Message
	if msg == "" {
		msg = string(data)
	}
	return ErrorFromStatusCode(statusCode, msg, "anthropic", wire.Error.Type, nil, nil)
}
