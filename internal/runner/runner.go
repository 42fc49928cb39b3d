// Package runner implements the Agent Runner: the bounded LLM conversation
// loop shared by every agent in the hierarchy (Dragon, Wyrm, Wyvern,
// Kobold). It owns provider retry/circuit-breaker gating and tool dispatch;
// it knows nothing about what a Dragon or a Kobold is.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/antigravity-dev/dracode/internal/breaker"
	"github.com/antigravity-dev/dracode/internal/classify"
)

// Role is the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockKind tags the kind of content a ContentBlock carries.
type BlockKind string

const (
	BlockText    BlockKind = "text"
	BlockToolUse BlockKind = "tool_use"
	BlockStop    BlockKind = "stop"
)

// StopReason is the terminal signal a provider response may carry.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopError     StopReason = "error"
)

// ContentBlock is one unit of a provider response or a tool result fed back
// into the conversation.
type ContentBlock struct {
	Kind       BlockKind
	Text       string
	ToolUseID  string
	ToolName   string
	ToolInput  json.RawMessage
	ToolResult string
	IsError    bool
	StopReason StopReason
}

// Message is one turn of the conversation.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// ProviderOptions are the recognized provider connection settings.
type ProviderOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	Deployment string
	Endpoint   string
}

// AgentOptions are the recognized per-agent invocation options. ModelDepth
// affects only system-prompt wording and is otherwise opaque to the runner.
type AgentOptions struct {
	WorkingDirectory      string
	MaxIterations         int
	Verbose               bool
	PromptTimeout         time.Duration
	DefaultPromptResponse string
	ModelDepth            int
}

// Tool is a named, schema-typed function the LLM may call.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, workingDir string, input json.RawMessage) (string, error)
}

// Response is what a Provider returns for one turn.
type Response struct {
	Blocks     []ContentBlock
	StopReason StopReason
	RetryAfter time.Duration
}

// Provider is the abstract LLM vendor call. Concrete bindings live under
// internal/providers.
type Provider interface {
	Send(ctx context.Context, systemPrompt string, messages []Message, tools []Tool, opts ProviderOptions) (Response, error)
}

// Event is a structured progress record the Runner emits for every
// iteration, so a Supervisor can tell a live Worker from a stalled one
// without parsing provider output.
type Event struct {
	Kind      string
	Payload   any
	Timestamp time.Time
}

// Sink receives Events from a Run. Implementations must not block; a slow
// sink should buffer internally.
type Sink interface {
	Emit(Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// ErrMaxIterations is returned when a conversation exhausts its iteration
// budget without reaching end_turn.
var ErrMaxIterations = fmt.Errorf("runner: max iterations reached without end_turn")

// ErrCancelled is returned when ctx is cancelled mid-run. The caller still
// receives the messages accumulated so far.
var ErrCancelled = fmt.Errorf("runner: cancelled")

// Runner executes one bounded conversation against a Provider, retrying
// transient failures per the Error Classifier and gating calls through a
// per-provider circuit breaker.
type Runner struct {
	Provider     Provider
	ProviderName string
	Breakers     *breaker.Registry
	RetryPolicy  classify.Policy
	Logger       *slog.Logger
}

// New constructs a Runner with the default retry policy.
func New(provider Provider, providerName string, breakers *breaker.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Provider:     provider,
		ProviderName: providerName,
		Breakers:     breakers,
		RetryPolicy:  classify.DefaultPolicy(),
		Logger:       logger,
	}
}

// Run executes the bounded conversation loop: send the conversation plus
// the tool catalog, act on each tool-use block, repeat until end_turn, the
// iteration cap, a failed provider call, or cancellation. A tool error does
// not end the loop; it is fed back to the model as an error result. It
// always returns the messages accumulated so far, even on error.
func (r *Runner) Run(ctx context.Context, systemPrompt, userMessage string, tools []Tool, opts ProviderOptions, agentOpts AgentOptions, sink Sink) ([]Message, error) {
	seed := []Message{{Role: RoleUser, Content: []ContentBlock{{Kind: BlockText, Text: userMessage}}}}
	return r.Resume(ctx, systemPrompt, seed, tools, opts, agentOpts, sink)
}

// Resume runs the same loop as Run but seeds the conversation with an
// existing message history, whose last entry is the turn to respond to.
// Stateful agents (Dragon) use this so the provider sees every prior turn
// of a session, not just the newest user message.
func (r *Runner) Resume(ctx context.Context, systemPrompt string, history []Message, tools []Tool, opts ProviderOptions, agentOpts AgentOptions, sink Sink) ([]Message, error) {
	if sink == nil {
		sink = NopSink{}
	}
	maxIter := agentOpts.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	toolsByName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		toolsByName[t.Name()] = t
	}

	messages := make([]Message, len(history))
	copy(messages, history)

	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			sink.Emit(Event{Kind: "cancelled", Payload: iter, Timestamp: time.Now()})
			return messages, ErrCancelled
		}

		sink.Emit(Event{Kind: "iteration_start", Payload: iter, Timestamp: time.Now()})

		resp, err := r.sendWithRetry(ctx, systemPrompt, messages, tools, opts)
		if err != nil {
			if classify.Classify(ctx, err) == classify.UserCancel {
				return messages, ErrCancelled
			}
			return messages, fmt.Errorf("runner: provider call failed: %w", err)
		}

		assistant := Message{Role: RoleAssistant, Content: resp.Blocks}
		messages = append(messages, assistant)

		var toolResults []ContentBlock
		sawToolUse := false
		for _, block := range resp.Blocks {
			if block.Kind != BlockToolUse {
				continue
			}
			sawToolUse = true

			tool, ok := toolsByName[block.ToolName]
			if !ok {
				toolResults = append(toolResults, ContentBlock{
					Kind: BlockToolUse, ToolUseID: block.ToolUseID,
					ToolResult: fmt.Sprintf("Error: unknown tool %q", block.ToolName), IsError: true,
				})
				continue
			}

			if err := ctx.Err(); err != nil {
				return messages, ErrCancelled
			}

			result, err := tool.Execute(ctx, agentOpts.WorkingDirectory, block.ToolInput)
			if err != nil {
				sink.Emit(Event{Kind: "tool_error", Payload: map[string]string{"tool": block.ToolName, "error": err.Error()}, Timestamp: time.Now()})
				toolResults = append(toolResults, ContentBlock{
					Kind: BlockToolUse, ToolUseID: block.ToolUseID,
					ToolResult: fmt.Sprintf("Error: %s", err.Error()), IsError: true,
				})
				continue
			}

			sink.Emit(Event{Kind: "tool_call", Payload: map[string]string{"tool": block.ToolName}, Timestamp: time.Now()})
			toolResults = append(toolResults, ContentBlock{Kind: BlockToolUse, ToolUseID: block.ToolUseID, ToolResult: result})
		}

		if sawToolUse {
			messages = append(messages, Message{Role: RoleTool, Content: toolResults})
			continue
		}

		if resp.StopReason == StopEndTurn || resp.StopReason == "" {
			sink.Emit(Event{Kind: "end_turn", Payload: iter, Timestamp: time.Now()})
			return messages, nil
		}

		if resp.StopReason == StopError {
			return messages, fmt.Errorf("runner: provider reported a terminal error")
		}
	}

	return messages, ErrMaxIterations
}

// sendWithRetry wraps one Provider.Send in the circuit breaker and the
// exponential-backoff retry policy classify.Policy describes.
func (r *Runner) sendWithRetry(ctx context.Context, systemPrompt string, messages []Message, tools []Tool, opts ProviderOptions) (Response, error) {
	var cb *breaker.Breaker
	if r.Breakers != nil {
		cb = r.Breakers.For(r.ProviderName)
	}

	var lastErr error
	var category classify.Category
	for attempt := 1; ; attempt++ {
		if cb != nil {
			if err := cb.Allow(); err != nil {
				lastErr = &classify.RateLimitError{Err: fmt.Errorf("%w: %s", errProviderUnavailable, err.Error())}
				category = classify.ProviderUnavailable
			}
		}

		if lastErr == nil {
			resp, err := r.Provider.Send(ctx, systemPrompt, messages, tools, opts)
			if err == nil {
				if cb != nil {
					cb.Success()
				}
				return resp, nil
			}
			if cb != nil {
				cb.Failure()
			}
			lastErr = err
			category = classify.Classify(ctx, lastErr)
		}

		if !category.RetryEligible() {
			return Response{}, lastErr
		}

		delay, ok := r.RetryPolicy.NextDelay(attempt, lastErr)
		if !ok {
			return Response{}, fmt.Errorf("runner: exhausted retries: %w", lastErr)
		}

		r.Logger.Warn("runner: retrying provider call", "attempt", attempt, "category", category.String(), "delay", delay)
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(delay):
		}
		lastErr = nil
	}
}

var errProviderUnavailable = fmt.Errorf("runner: provider unavailable")
