package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/antigravity-dev/dracode/internal/runner"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestSend_TextOnly(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "hello there"},
		},
		StopReason: sdk.StopReasonEndTurn,
	}}

	p, err := New(stub, "claude-sonnet-4", 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	messages := []runner.Message{
		{Role: runner.RoleUser, Content: []runner.ContentBlock{{Kind: runner.BlockText, Text: "hi"}}},
	}

	resp, err := p.Send(context.Background(), "be terse", messages, nil, runner.ProviderOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.StopReason != runner.StopEndTurn {
		t.Fatalf("stop reason = %v, want end_turn", resp.StopReason)
	}
	if len(resp.Blocks) != 1 || resp.Blocks[0].Text != "hello there" {
		t.Fatalf("unexpected blocks: %+v", resp.Blocks)
	}
	if string(stub.lastParams.Model) != "claude-sonnet-4" {
		t.Fatalf("model = %q, want claude-sonnet-4", stub.lastParams.Model)
	}
}

func TestSend_ToolUse(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "tool_use", ID: "call_1", Name: "write_file", Input: []byte(`{"path":"a.go"}`)},
		},
		StopReason: sdk.StopReasonToolUse,
	}}

	p, err := New(stub, "claude-sonnet-4", 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tools := []runner.Tool{fakeTool{name: "write_file", desc: "writes a file"}}
	messages := []runner.Message{
		{Role: runner.RoleUser, Content: []runner.ContentBlock{{Kind: runner.BlockText, Text: "write a.go"}}},
	}

	resp, err := p.Send(context.Background(), "", messages, tools, runner.ProviderOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.StopReason != runner.StopToolUse {
		t.Fatalf("stop reason = %v, want tool_use", resp.StopReason)
	}
	if len(resp.Blocks) != 1 || resp.Blocks[0].ToolName != "write_file" {
		t.Fatalf("unexpected blocks: %+v", resp.Blocks)
	}
	if len(stub.lastParams.Tools) != 1 {
		t.Fatalf("expected one tool sent, got %d", len(stub.lastParams.Tools))
	}
}

func TestSend_NoModelConfigured(t *testing.T) {
	stub := &stubMessagesClient{}
	p, err := New(stub, "", 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Send(context.Background(), "", []runner.Message{{Role: runner.RoleUser, Content: []runner.ContentBlock{{Kind: runner.BlockText, Text: "hi"}}}}, nil, runner.ProviderOptions{})
	if err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestSend_RateLimitedIsClassifiable(t *testing.T) {
	stub := &stubMessagesClient{err: errors.New("429 too many requests")}
	p, err := New(stub, "claude-sonnet-4", 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Send(context.Background(), "", []runner.Message{{Role: runner.RoleUser, Content: []runner.ContentBlock{{Kind: runner.BlockText, Text: "hi"}}}}, nil, runner.ProviderOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !isRateLimited(err) {
		t.Fatalf("expected err to be classified rate limited: %v", err)
	}
}

type fakeTool struct {
	name, desc string
}

func (f fakeTool) Name() string                { return f.name }
func (f fakeTool) Description() string         { return f.desc }
func (f fakeTool) InputSchema() map[string]any  { return map[string]any{"type": "object"} }
func (f fakeTool) Execute(context.Context, string, json.RawMessage) (string, error) {
	return "", nil
}
