package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// GenerateOptions configures a high-level generate() call.
type GenerateOptions struct {
	Model           string
	Prompt          string     // simple text prompt (mutually exclusive with Messages)
	Messages        []Message  // full conversation (mutually exclusive with Prompt)
	System          string
	Tools           []Tool
	ToolChoice      *ToolChoice
	MaxToolRounds   int // default 1
	StopWhen        StopCondition
	ResponseFormat  *ResponseFormat
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	StopSequences   []string
	ReasoningEffort string
	Provider        string
	ProviderOptions map[string]interface{}
	MaxRetries      int // default 2 without Tools; DefaultRetryPolicy's count with Tools
	Timeout         *TimeoutConfig
	Client          *Client
}

// Generate is the high-level blocking generation function.
// It wraps Client.Complete with tool execution loops, automatic retries,
// and prompt standardization.
func Generate(ctx context.Context, opts GenerateOptions) (*GenerateResult, error) {
	// Validate mutually exclusive options.
	if opts.Prompt != "" && len(opts.Messages) > 0 {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "cannot specify both prompt and messages",
		}}
	}

	client := opts.Client
	if client == nil {
		client = GetDefaultClient()
	}

	if opts.MaxToolRounds == 0 && len(opts.Tools) > 0 {
		opts.MaxToolRounds = 1
	}

	retryPolicy := DefaultRetryPolicy()
	if opts.MaxRetries > 0 {
		retryPolicy.MaxRetries = opts.MaxRetries
	} else if opts.MaxRetries == 0 && len(opts.Tools) == 0 {
		// Default to 2 retries for simple calls.
		retryPolicy.MaxRetries = 2
	}

	// Build initial messages.
	messages := opts.Messages
	if opts.Prompt != "" {
		messages = []Message{UserMessage(opts.Prompt)}
	}
	if opts.System != "" {
		messages = append([]Message{SystemMessage(opts.System)}, messages...)
	}

	// Build tool definitions.
	var toolDefs []ToolDefinition
	toolMap := make(map[string]Tool)
	hasActiveTools := false
	for _, t := range opts.Tools {
		toolDefs = append(toolDefs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
		toolMap[t.Name] = t
		if t.Execute != nil {
			hasActiveTools = true
		}
	}

	// Tool execution loop.
	var steps []StepResult
	var totalUsage Usage
	conversation := make([]Message, len(messages))
	copy(conversation, messages)

	for round := 0; round <= opts.MaxToolRounds; round++ {
		req := Request{
			Model:           opts.Model,
			Messages:        conversation,
			Provider:        opts.Provider,
			Tools:           opts.Tools,
			ToolDefs:        toolDefs,
			ToolChoice:      opts.ToolChoice,
			ResponseFormat:  opts.ResponseFormat,
			Temperature:     opts.Temperature,
			TopP:            opts.TopP,
			MaxTokens:       opts.MaxTokens,
			StopSequences:   opts.StopSequences,
			ReasoningEffort: opts.ReasoningEffort,
			ProviderOptions: opts.ProviderOptions,
		}

		// Call with retry.
		resp, err := Retry(ctx, retryPolicy, func(ctx context.Context) (*Response, error) {
			return client.Complete(ctx, req)
		})
		if err != nil {
			return nil, err
		}

		// Extract tool calls.
		toolCalls := resp.ToolCallsFromResponse()

		// Execute active tools if present.
		var toolResults []ToolResult
		if len(toolCalls) > 0 && resp.FinishReason.Reason == "tool_calls" && hasActiveTools {
			toolResults = executeToolsConcurrently(toolMap, toolCalls)
		}

		step := StepResult{
			Text:         resp.Text(),
			Reasoning:    resp.Reasoning(),
			ToolCalls:    toolCalls,
			ToolResults:  toolResults,
			FinishReason: resp.FinishReason,
			Usage:        resp.Usage,
			Response:     *resp,
			Warnings:     resp.Warnings,
		}
		steps = append(steps, step)
		totalUsage = totalUsage.Add(resp.Usage)

		// Check stop conditions.
		if len(toolCalls) == 0 || resp.FinishReason.Reason != "tool_calls" {
			break // Natural completion.
		}
		if !hasActiveTools {
			break // Passive tools; return to caller.
		}
		if round >= opts.MaxToolRounds {
			break // Budget exhausted.
		}
		if opts.StopWhen != nil && opts.StopWhen(steps) {
			break // Custom stop condition.
		}

		// Append assistant message with tool calls and tool results.
		conversation = append(conversation, resp.Message)
		for _, result := range toolResults {
			contentBytes, _ := json.Marshal(result.Content)
			conversation = append(conversation, ToolResultMessage(
				result.ToolCallID,
				string(contentBytes),
				result.IsError,
			))
		}
	}

	lastStep := steps[len(steps)-1]
	return &GenerateResult{
		Text:         lastStep.Text,
		Reasoning:    lastStep.Reasoning,
		ToolCalls:    lastStep.ToolCalls,
		ToolResults:  lastStep.ToolResults,
		FinishReason: lastStep.FinishReason,
		Usage:        lastStep.Usage,
		TotalUsage:   totalUsage,
		Steps:        steps,
		Response:     lastStep.Response,
	}, nil
}

// executeToolsConcurrently executes all tool calls in parallel.
func executeToolsConcurrently(toolMap map[string]Tool, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc ToolCall) {
			defer wg.Done()

			tool, ok := toolMap[tc.Name]
			if !ok || tool.Execute == nil {
				results[idx] = ToolResult{
					ToolCallID: tc.ID,
					Content:    fmt.Sprintf("Unknown tool: %s", tc.Name),
					IsError:    true,
				}
				return
			}

			output, err := tool.Execute(tc.Arguments)
			if err != nil {
				results[idx] = ToolResult{
					ToolCallID: tc.ID,
					Content:    fmt.Sprintf("Tool execution error: %v", err),
					IsError:    true,
				}
				return
			}

			results[idx] = ToolResult{
				ToolCallID: tc.ID,
				Content:    output,
				IsError:    false,
			}
		}(i, call)
	}

	wg.Wait()
	return results
}

