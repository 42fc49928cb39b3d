// Package anthropic adapts github.com/anthropics/anthropic-sdk-go into
// internal/runner.Provider, the one concrete LLM vendor binding cmd/dracode
// wires up by default. It translates runner's vendor-neutral
// Message/ContentBlock/Tool shapes into the SDK's Messages API request
// types and back.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/antigravity-dev/dracode/internal/runner"
)

// MessagesClient captures the subset of the Anthropic SDK used here, so
// tests can substitute a fake instead of a real *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Provider implements runner.Provider on top of Anthropic's Messages API.
type Provider struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
}

var _ runner.Provider = (*Provider)(nil)

// New builds a Provider from an already-constructed Anthropic client,
// letting tests inject a fake MessagesClient.
func New(msg MessagesClient, defaultModel string, maxTokens int) (*Provider, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Provider{msg: msg, defaultModel: defaultModel, maxTokens: maxTokens}, nil
}

// NewFromProviderOptions builds a Provider from runner.ProviderOptions as
// loaded from config.Provider: APIKey and, when set, BaseURL override the
// SDK's default endpoint.
func NewFromProviderOptions(opts runner.ProviderOptions, maxTokens int) (*Provider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := sdk.NewClient(reqOpts...)
	return New(&client.Messages, opts.Model, maxTokens)
}

// Send implements runner.Provider. It is a non-streaming call: the Agent
// Runner's own iteration loop, not the provider, drives multi-turn
// conversation, so a single blocking Messages.New per iteration is
// sufficient and keeps the error-classification surface (HTTP status,
// Retry-After) exactly what internal/classify expects.
func (p *Provider) Send(ctx context.Context, systemPrompt string, messages []runner.Message, tools []runner.Tool, opts runner.ProviderOptions) (runner.Response, error) {
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return runner.Response{}, errors.New("anthropic: no model configured")
	}

	msgs, err := encodeMessages(messages)
	if err != nil {
		return runner.Response{}, err
	}

	toolParams, err := encodeTools(tools)
	if err != nil {
		return runner.Response{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(p.maxTokens),
		Messages:  msgs,
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}

	msg, err := p.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return runner.Response{}, fmt.Errorf("anthropic: rate limited: %w", err)
		}
		return runner.Response{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	return translateResponse(msg), nil
}

func encodeMessages(messages []runner.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Kind {
			case runner.BlockText:
				if b.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(b.Text))
				}
			case runner.BlockToolUse:
				if m.Role == runner.RoleTool {
					blocks = append(blocks, sdk.NewToolResultBlock(b.ToolUseID, b.ToolResult, b.IsError))
				} else {
					var input any
					if len(b.ToolInput) > 0 {
						if err := json.Unmarshal(b.ToolInput, &input); err != nil {
							return nil, fmt.Errorf("anthropic: decode tool_use input: %w", err)
						}
					}
					blocks = append(blocks, sdk.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
				}
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case runner.RoleUser, runner.RoleTool:
			out = append(out, sdk.NewUserMessage(blocks...))
		case runner.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			continue
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeTools(tools []runner.Tool) ([]sdk.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema, err := encodeSchema(t.InputSchema())
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", t.Name(), err)
		}
		u := sdk.ToolUnionParamOfTool(schema, t.Name())
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(t.Description())
		}
		out = append(out, u)
	}
	return out, nil
}

func encodeSchema(schema map[string]any) (sdk.ToolInputSchemaParam, error) {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	return sdk.ToolInputSchemaParam{ExtraFields: schema}, nil
}

func translateResponse(msg *sdk.Message) runner.Response {
	resp := runner.Response{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			resp.Blocks = append(resp.Blocks, runner.ContentBlock{Kind: runner.BlockText, Text: block.Text})
		case "tool_use":
			input, _ := json.Marshal(block.Input)
			resp.Blocks = append(resp.Blocks, runner.ContentBlock{
				Kind:      runner.BlockToolUse,
				ToolUseID: block.ID,
				ToolName:  block.Name,
				ToolInput: input,
			})
		}
	}
	resp.StopReason = mapStopReason(string(msg.StopReason))
	return resp
}

func mapStopReason(reason string) runner.StopReason {
	switch reason {
	case "tool_use":
		return runner.StopToolUse
	case "max_tokens":
		return runner.StopMaxTokens
	case "end_turn", "stop_sequence", "":
		return runner.StopEndTurn
	default:
		return runner.StopError
	}
}

// isRateLimited does a string check rather than a type assertion against
// the SDK's own error type: internal/classify already re-derives the same
// category from the wrapped error text, so there is no second source of
// truth to keep in sync.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "overloaded")
}
