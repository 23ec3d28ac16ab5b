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
)

// OpenAIAdapter speaks the OpenAI chat-completions-with-tools API directly
// over HTTP/SSE, mirroring AnthropicAdapter's approach: gollm's flat
// token-text stream cannot carry OpenAI's per-call argument deltas, so the
// agent loop needs the real wire framing here too.
type OpenAIAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// OpenAIAdapterOption configures an OpenAIAdapter.
type OpenAIAdapterOption func(*OpenAIAdapter)

// WithOpenAIBaseURL overrides the default API base URL (e.g. for
// OpenAI-compatible gateways that still speak the native streaming shape).
func WithOpenAIBaseURL(url string) OpenAIAdapterOption {
	return func(a *OpenAIAdapter) { a.baseURL = url }
}

// WithOpenAIHTTPClient overrides the default HTTP client.
func WithOpenAIHTTPClient(c *http.Client) OpenAIAdapterOption {
	return func(a *OpenAIAdapter) { a.httpClient = c }
}

// NewOpenAIAdapter creates an adapter for the OpenAI chat completions API.
// If apiKey is empty it is read from OPENAI_API_KEY. baseURL defaults to
// OPENAI_BASE_URL if set, else the public API.
func NewOpenAIAdapter(apiKey string, opts ...OpenAIAdapterOption) (*OpenAIAdapter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "openai: no API key provided and OPENAI_API_KEY is unset",
		}}
	}
	base := os.Getenv("OPENAI_BASE_URL")
	if base == "" {
		base = "https://api.openai.com/v1/chat/completions"
	} else {
		base = strings.TrimRight(base, "/") + "/chat/completions"
	}
	a := &OpenAIAdapter{
		apiKey:     apiKey,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string { return "openai" }

// SupportsToolChoice reports tool choice mode support.
func (a *OpenAIAdapter) SupportsToolChoice(mode string) bool {
	switch mode {
	case "auto", "none", "required", "named":
		return true
	default:
		return false
	}
}

type openAIWireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

type openAIWireToolCall struct {
	Index    *int                `json:"index,omitempty"`
	ID       string              `json:"id,omitempty"`
	Type     string              `json:"type,omitempty"`
	Function openAIWireFunction  `json:"function"`
}

type openAIWireMessage struct {
	Role       string               `json:"role"`
	Content    interface{}          `json:"content,omitempty"`
	Name       string               `json:"name,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIWireToolCall `json:"tool_calls,omitempty"`
}

type openAIWireRequest struct {
	Model           string                   `json:"model"`
	Messages        []openAIWireMessage      `json:"messages"`
	Tools           []map[string]interface{} `json:"tools,omitempty"`
	ToolChoice      interface{}              `json:"tool_choice,omitempty"`
	Temperature     *float64                 `json:"temperature,omitempty"`
	TopP            *float64                 `json:"top_p,omitempty"`
	MaxTokens       *int                     `json:"max_completion_tokens,omitempty"`
	Stop            []string                 `json:"stop,omitempty"`
	Stream          bool                     `json:"stream"`
	StreamOptions   map[string]bool          `json:"stream_options,omitempty"`
	ResponseFormat  map[string]interface{}   `json:"response_format,omitempty"`
	ReasoningEffort string                   `json:"reasoning_effort,omitempty"`
}

func (a *OpenAIAdapter) buildWireRequest(req Request, stream bool) openAIWireRequest {
	wire := openAIWireRequest{
		Model:           req.Model,
		Stream:          stream,
		TopP:            req.TopP,
		MaxTokens:       req.MaxTokens,
		Stop:            req.StopSequences,
		Temperature:     req.Temperature,
		ReasoningEffort: req.ReasoningEffort,
	}
	if stream {
		wire.StreamOptions = map[string]bool{"include_usage": true}
	}

	for _, msg := range req.Messages {
		wire.Messages = append(wire.Messages, toOpenAIMessage(msg))
	}

	for _, t := range req.ToolDefs {
		wire.Tools = append(wire.Tools, openAIToolShape(t.Name, t.Description, t.Parameters))
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, openAIToolShape(t.Name, t.Description, t.Parameters))
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case "auto", "none":
			wire.ToolChoice = req.ToolChoice.Mode
		case "required":
			wire.ToolChoice = "required"
		case "named":
			wire.ToolChoice = map[string]interface{}{
				"type":     "function",
				"function": map[string]string{"name": req.ToolChoice.ToolName},
			}
		}
	}

	if req.ResponseFormat != nil {
		switch req.ResponseFormat.Type {
		case "json":
			wire.ResponseFormat = map[string]interface{}{"type": "json_object"}
		case "json_schema":
			wire.ResponseFormat = map[string]interface{}{
				"type": "json_schema",
				"json_schema": map[string]interface{}{
					"name":   "response",
					"schema": req.ResponseFormat.JSONSchema,
					"strict": req.ResponseFormat.Strict,
				},
			}
		}
	}

	return wire
}

func openAIToolShape(name, description string, params map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        name,
			"description": description,
			"parameters":  params,
		},
	}
}

func toOpenAIMessage(msg Message) openAIWireMessage {
	switch msg.Role {
	case RoleTool:
		var content string
		for _, part := range msg.Content {
			if part.Kind == ContentToolResult && part.ToolResult != nil {
				var s string
				if err := json.Unmarshal(part.ToolResult.Content, &s); err == nil {
					content = s
				} else {
					content = string(part.ToolResult.Content)
				}
			}
		}
		return openAIWireMessage{Role: "tool", Content: content, ToolCallID: msg.ToolCallID}
	case RoleAssistant:
		wire := openAIWireMessage{Role: "assistant"}
		var text strings.Builder
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				text.WriteString(part.Text)
			case ContentToolCall:
				if part.ToolCall == nil {
					continue
				}
				wire.ToolCalls = append(wire.ToolCalls, openAIWireToolCall{
					ID:   part.ToolCall.ID,
					Type: "function",
					Function: openAIWireFunction{
						Name:      part.ToolCall.Name,
						Arguments: string(part.ToolCall.Arguments),
					},
				})
			}
		}
		if text.Len() > 0 {
			wire.Content = text.String()
		}
		return wire
	default:
		role := "user"
		if msg.Role == RoleSystem || msg.Role == RoleDeveloper {
			role = "system"
		}
		return openAIWireMessage{Role: role, Content: msg.TextContent()}
	}
}

func (a *OpenAIAdapter) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	return httpReq, nil
}

// Complete sends a blocking (non-streamed) request.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	wire := a.buildWireRequest(req, false)
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
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

type openAINonStreamResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content          string               `json:"content"`
			ReasoningContent string               `json:"reasoning_content"`
			ToolCalls        []openAIWireToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *OpenAIAdapter) parseNonStreamResponse(data []byte) (*Response, error) {
	var wire openAINonStreamResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &StreamErrorType{SDKError: SDKError{Message: "malformed openai response", Cause: err}}
	}
	if len(wire.Choices) == 0 {
		return nil, &StreamErrorType{SDKError: SDKError{Message: "openai response had no choices"}}
	}
	choice := wire.Choices[0]

	var parts []ContentPart
	if choice.Message.ReasoningContent != "" {
		parts = append(parts, ThinkingPart(choice.Message.ReasoningContent, ""))
	}
	if choice.Message.Content != "" {
		parts = append(parts, TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, ToolCallPart(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}

	return &Response{
		ID:       wire.ID,
		Model:    wire.Model,
		Provider: "openai",
		Message:  Message{Role: RoleAssistant, Content: parts},
		FinishReason: FinishReason{
			Reason: mapOpenAIFinishReason(choice.FinishReason),
			Raw:    choice.FinishReason,
		},
		Usage: Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
			TotalTokens:  wire.Usage.TotalTokens,
		},
	}, nil
}

func mapOpenAIFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "stop"
	case "tool_calls":
		return "tool_calls"
	case "length":
		return "length"
	case "content_filter":
		return "content_filter"
	default:
		return "other"
	}
}

// Stream sends a request and translates OpenAI SSE chunks into the unified
// StreamEvent sequence.
func (a *OpenAIAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	wire := a.buildWireRequest(req, true)
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
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

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string               `json:"content"`
			ReasoningContent string               `json:"reasoning_content"`
			ToolCalls        []openAIWireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// pumpSSE reads OpenAI's server-sent event stream and emits unified
// StreamEvents. Tool call argument fragments arrive indexed by position in
// the choice's tool_calls array and must be accumulated per index, since a
// single chunk only carries the delta for one call at a time.
func (a *OpenAIAdapter) pumpSSE(body io.ReadCloser, ch chan StreamEvent) {
	defer close(ch)
	defer body.Close()

	ch <- StreamEvent{Type: StreamStart}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	textStarted := false
	reasoningStarted := false
	toolStarted := map[int]bool{}
	toolMeta := map[int]ToolCall{}
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

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			usage = Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.ReasoningContent != "" {
			if !reasoningStarted {
				reasoningStarted = true
				ch <- StreamEvent{Type: ReasoningStart}
			}
			ch <- StreamEvent{Type: ReasoningDelta, ReasoningDelta: choice.Delta.ReasoningContent}
		}

		if choice.Delta.Content != "" {
			if !textStarted {
				textStarted = true
				ch <- StreamEvent{Type: TextStart, TextID: "0"}
			}
			ch <- StreamEvent{Type: TextDelta, Delta: choice.Delta.Content, TextID: "0"}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if !toolStarted[idx] {
				toolStarted[idx] = true
				id := tc.ID
				if id == "" {
					id = "call_" + strconv.Itoa(idx)
				}
				toolMeta[idx] = ToolCall{ID: id, Name: tc.Function.Name}
				ch <- StreamEvent{Type: ToolCallStart, ToolCall: &ToolCall{ID: id, Name: tc.Function.Name}}
			}
			if tc.Function.Arguments != "" {
				meta := toolMeta[idx]
				ch <- StreamEvent{Type: ToolCallDelta, ToolCall: &ToolCall{
					ID: meta.ID, Name: meta.Name, RawArguments: tc.Function.Arguments,
				}}
				meta.RawArguments += tc.Function.Arguments
				toolMeta[idx] = meta
			}
		}

		if choice.FinishReason != "" {
			finishReason = FinishReason{Reason: mapOpenAIFinishReason(choice.FinishReason), Raw: choice.FinishReason}
			if textStarted {
				ch <- StreamEvent{Type: TextEnd, TextID: "0"}
			}
			if reasoningStarted {
				ch <- StreamEvent{Type: ReasoningEnd}
			}
			for idx := range toolStarted {
				meta := toolMeta[idx]
				argsStr := meta.RawArguments
				if argsStr == "" {
					argsStr = "{}"
				}
				if !json.Valid([]byte(argsStr)) {
					ch <- StreamEvent{Type: StreamError, Error: &StreamErrorType{SDKError: SDKError{
						Message: "tool call arguments did not form valid JSON by finish",
					}}}
					continue
				}
				meta.Arguments = json.RawMessage(argsStr)
				ch <- StreamEvent{Type: ToolCallEnd, ToolCall: &meta}
			}
			resp := &Response{Provider: "openai", FinishReason: finishReason, Usage: usage}
			ch <- StreamEvent{Type: StreamFinish, FinishReason: &finishReason, Usage: &usage, Response: resp}
			return
		}
	}
}

func (a *OpenAIAdapter) errorFromResponse(statusCode int, data []byte) error {
	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &wire)
	msg := wire.Error.Message
	if msg == "" {
		msg = string(data)
	}
	code := wire.Error.Code
	if code == "" {
		code = wire.Error.Type
	}
	return ErrorFromStatusCode(statusCode, msg, "openai", code, nil, nil)
}
