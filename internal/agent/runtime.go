// Package agent implements the model↔tool state machine: given a
// RunningAgent and an inbound message, it drives call_model/call_tool/done
// transitions, persists every step to the Chat Session Store, and publishes
// streaming events for subscribers.
package agent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/agentforge/platform/internal/apperr"
	"github.com/agentforge/platform/internal/observability"
	"github.com/agentforge/platform/internal/sessions"
	"github.com/agentforge/platform/pkg/models"
)

// MaxHistoryMessages bounds the prompt window: at most MaxHistoryMessages-1
// most recent messages are sent to the model, leaving room for the system
// message.
const MaxHistoryMessages = 10

// MaxToolRoundTrips bounds how many call_tool -> call_model round trips a
// single turn may take before the Runtime gives up and returns a final
// "could not complete" reply.
const MaxToolRoundTrips = 8

// toolRetryAttempts is how many additional attempts a ToolTransientError
// gets before the Runtime degrades it to a synthetic error message.
const toolRetryAttempts = 2

// toolRetryBackoff is the fixed delay between ToolTransientError retries.
const toolRetryBackoff = 500 * time.Millisecond

// ToolSet resolves and invokes the tools bound to a RunningAgent. Concrete
// implementations live in the tool federation layer; this package only
// depends on the interface so it never imports transport/discovery code.
type ToolSet interface {
	// Tools lists the callable tools to advertise to the model.
	Tools() []Tool

	// Invoke resolves and calls one tool. The returned error, when non-nil,
	// should be classifiable via apperr.KindOf (ToolNotFound,
	// ToolTransientError, or ToolFatalError) so the Runtime can apply the
	// right degrade/retry policy; an unclassified error is treated as
	// ToolFatalError.
	Invoke(ctx context.Context, call models.ToolCall) (*models.ToolResult, error)
}

// Publisher delivers runtime events to the Streaming Broadcaster.
// Implementations must never block the turn on a slow subscriber beyond
// their own send deadline.
type Publisher interface {
	PublishStreamChunk(ctx context.Context, sessionID, text string)
	PublishMessageCreated(ctx context.Context, sessionID string, msg *models.ChatMessage)
}

// NopPublisher discards every event; useful for tests and non-interactive
// callers (e.g. a one-shot CLI chat) that have no Broadcaster.
type NopPublisher struct{}

func (NopPublisher) PublishStreamChunk(context.Context, string, string)                 {}
func (NopPublisher) PublishMessageCreated(context.Context, string, *models.ChatMessage) {}

// Runtime executes the call_model/call_tool/done state machine for one
// RunningAgent. A Runtime is bound to a single agent's provider, system
// prompt, and tool set; the Lifecycle Manager owns one per RunningAgent.
// A Runtime must not be used for two concurrent Process calls on the same
// session; the Store serializes writes per session but the Runtime itself
// does not add session-level locking.
type Runtime struct {
	AgentID      string
	Provider     LLMProvider
	Model        string
	SystemPrompt string
	MaxTokens    int
	Tools        ToolSet
	Store        sessions.Store
	Publisher    Publisher
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

var toolUsePattern = regexp.MustCompile(`(?s)<tool-use>.*?</tool-use>\s*`)

func stripToolUse(text string) string {
	return strings.TrimSpace(toolUsePattern.ReplaceAllString(text, ""))
}

// Process drives one full turn: persists the user's message, runs the
// state machine to completion (or failure), and returns the final reply
// text. Model transport errors abort the turn with a persisted+published
// error message and a non-nil return error; tool errors never abort the
// turn.
func (r *Runtime) Process(ctx context.Context, session *models.ChatSession, userText string, attachments []models.Attachment) (string, error) {
	if _, err := r.Store.AddMessage(ctx, session.ID, models.RoleUser, models.TextContent(userText), false); err != nil {
		return "", apperr.Wrap(apperr.StoreError, "persist user message", err)
	}

	phase := PhaseCallModel
	roundTrips := 0

	for {
		if err := ctx.Err(); err != nil {
			return "", apperr.Wrap(apperr.Cancelled, "turn cancelled", err)
		}

		switch phase {
		case PhaseCallModel:
			next, doneText, err := r.callModel(ctx, session)
			if err != nil {
				if apperr.Is(err, apperr.Cancelled) {
					r.logAbsorbed(session.ID, "turn cancelled", err)
					return "", err
				}
				return "", r.abortTurn(ctx, session, err)
			}
			if next == PhaseDone {
				return doneText, r.finish(ctx, session, doneText)
			}
			phase = next

		case PhaseCallTool:
			roundTrips++
			if roundTrips > MaxToolRoundTrips {
				text := "I was unable to complete this task within the allotted number of tool calls."
				return text, r.finish(ctx, session, text)
			}
			r.callTool(ctx, session)
			phase = PhaseCallModel

		default:
			return "", apperr.New(apperr.ModelError, "unreachable runtime phase")
		}
	}
}

func (r *Runtime) abortTurn(ctx context.Context, session *models.ChatSession, err error) error {
	text := "An error occurred while generating the response."
	r.logAbsorbed(session.ID, "turn aborted", err)
	if ferr := r.finish(ctx, session, text); ferr != nil {
		r.logAbsorbed(session.ID, "failed to persist abort message", ferr)
	}
	return apperr.Wrap(apperr.ModelError, text, err)
}

// finish persists and publishes the final, non-partial reply.
func (r *Runtime) finish(ctx context.Context, session *models.ChatSession, text string) error {
	id, err := r.Store.AddMessage(ctx, session.ID, models.RoleAgent, models.TextContent(text), false)
	if err != nil {
		return apperr.Wrap(apperr.StoreError, "persist final message", err)
	}
	msg := &models.ChatMessage{
		ID:        id,
		SessionID: session.ID,
		Role:      models.RoleAgent,
		Content:   models.TextContent(text),
		Timestamp: time.Now().UTC(),
	}
	r.Publisher.PublishMessageCreated(ctx, session.ID, msg)
	return nil
}

func (r *Runtime) logAbsorbed(sessionID, msg string, err error) {
	if r.Logger == nil {
		return
	}
	r.Logger.Error(msg, "agent_id", r.AgentID, "session_id", sessionID, "error", sanitizeError(err))
}

// sanitizeError renders an error for logging without leaking secrets or
// full model prompts: only the error's own composed message.
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
