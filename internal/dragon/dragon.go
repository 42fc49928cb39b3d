// Package dragon implements the Dialogue Agent: the stateful,
// multi-session conversation that produces Specifications and gates
// project approval. Unlike every other agent in the hierarchy, Dragon
// talks directly to a human; its tool catalog (create_project,
// manage_specification, manage_feature, approve_specification) drives
// Project and Specification lifecycle state rather than source-file I/O.
package dragon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/antigravity-dev/dracode/internal/runner"
	"github.com/antigravity-dev/dracode/internal/store"
)

// ErrPromptTimeout is returned when a turn exceeds PromptTimeout and no
// DefaultPromptResponse is configured to substitute.
var ErrPromptTimeout = errors.New("dragon: prompt timed out")

const systemPrompt = "You are Dragon, the conversational agent that works with a human to " +
	"produce a software specification. Ask clarifying questions, then call " +
	"create_project once you know what to build, manage_specification to record the " +
	"spec, and manage_feature for each distinct feature you agree on. Call " +
	"approve_specification only once the user explicitly approves moving forward; " +
	"a project is invisible to the rest of the system until then."

// Dragon runs one bounded conversational turn per call to Continue,
// threading session history across calls via Table.
type Dragon struct {
	Store  *store.Store
	Runner *runner.Runner
	Sink   runner.Sink
	Table  *Table

	ProviderOptions runner.ProviderOptions

	MaxInitialIterations  int // maxDragonInitialIterations, default 10
	MaxContinueIterations int // maxDragonContinueIterations, default 5
	PromptTimeout         time.Duration
	DefaultPromptResponse string

	Logger *slog.Logger
}

func (d *Dragon) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

type binder struct {
	table   *Table
	session *Session
}

func (b *binder) bindProject(projectID string) {
	b.table.BindProject(b.session, projectID)
}

// Continue processes one user turn against sessionID, reusing or starting a
// Session, and returns the assistant's reply text plus the session id the
// caller should pass on the next turn (a fresh id if sessionID was unknown
// or empty). The session's stored history is replayed into the provider
// call ahead of the new turn, so the model carries context — its own prior
// replies and tool calls included — across turns and reconnects.
func (d *Dragon) Continue(ctx context.Context, sessionID, userMessage string) (reply string, newSessionID string, err error) {
	session := d.Table.Get(sessionID)
	history := d.Table.History(session)
	isFirstTurn := len(history) == 0

	timeout := d.PromptTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tools := toolsFor(d.Store, session, &binder{table: d.Table, session: session})

	maxIter := d.MaxContinueIterations
	if isFirstTurn {
		maxIter = d.MaxInitialIterations
	}
	if maxIter <= 0 {
		maxIter = 5
	}

	seed := append(history, runner.Message{Role: runner.RoleUser, Content: []runner.ContentBlock{{Kind: runner.BlockText, Text: userMessage}}})

	agentOpts := runner.AgentOptions{MaxIterations: maxIter}
	messages, runErr := d.Runner.Resume(callCtx, systemPrompt, seed, tools, d.ProviderOptions, agentOpts, d.Sink)
	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			if d.DefaultPromptResponse != "" {
				d.Table.Append(session, runner.Message{Role: runner.RoleUser, Content: []runner.ContentBlock{{Kind: runner.BlockText, Text: userMessage}}})
				d.Table.Append(session, runner.Message{Role: runner.RoleAssistant, Content: []runner.ContentBlock{{Kind: runner.BlockText, Text: d.DefaultPromptResponse}}})
				return d.DefaultPromptResponse, session.ID, nil
			}
			return "", session.ID, ErrPromptTimeout
		}
		return "", session.ID, fmt.Errorf("dragon: conversation turn failed: %w", runErr)
	}

	// Record everything this turn added beyond the replayed history: the
	// user message plus every assistant/tool message the run produced.
	for _, msg := range messages[len(history):] {
		d.Table.Append(session, msg)
	}

	return lastAssistantText(messages), session.ID, nil
}

func lastAssistantText(messages []runner.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != runner.RoleAssistant {
			continue
		}
		for _, block := range messages[i].Content {
			if block.Kind == runner.BlockText && block.Text != "" {
				return block.Text
			}
		}
	}
	return ""
}
