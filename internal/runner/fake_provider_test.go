package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// fakeProvider is a deterministic stand-in for a real LLM vendor call. Each
// call pops the next scripted response (or error) off its queue.
type fakeProvider struct {
	mu        sync.Mutex
	responses []fakeStep
	calls     int
}

type fakeStep struct {
	resp Response
	err  error
}

func (f *fakeProvider) Send(ctx context.Context, systemPrompt string, messages []Message, tools []Tool, opts ProviderOptions) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.calls >= len(f.responses) {
		return Response{}, fmt.Errorf("fakeProvider: no more scripted responses (call %d)", f.calls+1)
	}
	step := f.responses[f.calls]
	f.calls++
	return step.resp, step.err
}

func textResponse(text string) Response {
	return Response{
		Blocks:     []ContentBlock{{Kind: BlockText, Text: text}},
		StopReason: StopEndTurn,
	}
}

func toolUseResponse(toolName, toolUseID string, input string) Response {
	return Response{
		Blocks: []ContentBlock{{
			Kind:      BlockToolUse,
			ToolUseID: toolUseID,
			ToolName:  toolName,
			ToolInput: json.RawMessage(input),
		}},
		StopReason: StopToolUse,
	}
}

// echoTool is a minimal Tool that echoes its input back as the result,
// recording every invocation for assertions.
type echoTool struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (e *echoTool) Name() string                     { return "echo" }
func (e *echoTool) Description() string              { return "echoes its input" }
func (e *echoTool) InputSchema() map[string]any       { return map[string]any{"type": "object"} }
func (e *echoTool) Execute(ctx context.Context, workingDir string, input json.RawMessage) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, string(input))
	e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	return string(input), nil
}
