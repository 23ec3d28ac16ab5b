// Package unifiedllm is codi's block-structured conversation substrate: the
// Message/ToolCall/ToolResult vocabulary the Agent Loop, the Context
// Manager, and every provider adapter share, wrapping gollm
// (github.com/teilomillet/gollm) for providers without a native adapter.
//
// # Architecture
//
// The package follows a four-layer architecture:
//
//   - Layer 1 (Provider Specification): ProviderAdapter interface and shared types
//   - Layer 2 (Provider Utilities): Retry logic, error classification helpers
//   - Layer 3 (Core Client): Client with provider routing and middleware
//   - Layer 4 (High-Level API): Generate, the single-call-plus-tool-loop entry
//     point the Context Manager's compaction summarizer calls through
//
// # Quick Start
//
// The Context Manager's compaction summarizer calls the high-level API
// directly, with no tool loop of its own:
//
//	result, err := unifiedllm.Generate(ctx, unifiedllm.GenerateOptions{
//	    Model:  "claude-3-7-sonnet-20250219",
//	    System: contextmgr.CompactionPrompt,
//	    Prompt: transcript,
//	})
//	fmt.Println(result.Text)
//
// The Agent Loop instead drives a Client directly, since it needs streamed
// deltas and its own tool-execution pipeline (approval gate, truncation,
// event emission) rather than Generate's blocking tool loop:
//
//	client := unifiedllm.GetDefaultClient()
//	events, _ := client.Stream(ctx, unifiedllm.Request{
//	    Model:    profile.ModelID(),
//	    Provider: profile.ID(),
//	    Messages: agentloop.ConvertHistoryToMessages(history),
//	    ToolDefs: toolDefs, // profile.Tools() mapped to []unifiedllm.ToolDefinition
//	})
//
// # GollmAdapter
//
// GollmAdapter wraps gollm.LLM to implement the ProviderAdapter interface.
// codi's default client registers a native streaming adapter for Anthropic
// and OpenAI, and falls back to GollmAdapter for Gemini and for local
// models served over Ollama.
//
// # Tool Calling
//
// A Tool carries an optional Execute handler for Generate's own tool loop;
// the Agent Loop's tools (read_file, bash, grep, ...) instead go through
// agentloop.ToolRegistry and the Approval Gate, so they aren't defined
// with this helper:
//
//	tool := unifiedllm.Tool{
//	    Name:        "lookup_symbol",
//	    Description: "Resolve a symbol to its definition site",
//	    Parameters: map[string]interface{}{
//	        "type": "object",
//	        "properties": map[string]interface{}{
//	            "symbol": map[string]interface{}{"type": "string"},
//	        },
//	    },
//	    Execute: func(args json.RawMessage) (interface{}, error) {
//	        return lookupSymbol(args)
//	    },
//	}
//
// # Model Catalog
//
// A built-in catalog of known models backs codi's --model flag and its
// per-provider defaults:
//
//	info := unifiedllm.GetModelInfo("claude-3-opus-20240229")
//	models := unifiedllm.ListModels("anthropic")
//	latest := unifiedllm.GetLatestModel("openai", "reasoning")
package unifiedllm
