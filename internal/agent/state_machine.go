package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agentforge/platform/internal/apperr"
	"github.com/agentforge/platform/pkg/models"
)

// callModel assembles the prompt window, invokes the provider in streaming
// mode, and returns the next phase: PhaseDone with the final text, or
// PhaseCallTool once the assistant's tool-call message has been persisted.
func (r *Runtime) callModel(ctx context.Context, session *models.ChatSession) (LoopPhase, string, error) {
	history, err := r.Store.GetMessages(ctx, session.ID)
	if err != nil {
		return "", "", apperr.Wrap(apperr.StoreError, "load history", err)
	}

	req := &CompletionRequest{
		Model:     r.Model,
		System:    r.SystemPrompt,
		Messages:  toCompletionMessages(windowHistory(history)),
		MaxTokens: r.MaxTokens,
	}
	if r.Tools != nil {
		req.Tools = r.Tools.Tools()
	}

	start := time.Now()
	chunks, err := r.Provider.Complete(ctx, req)
	if err != nil {
		r.observeModelCall(start, false)
		return "", "", apperr.Wrap(apperr.ModelError, "model request failed", err)
	}

	var accumulated strings.Builder
	var toolCalls []models.ToolCall

	for chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return "", "", apperr.Wrap(apperr.Cancelled, "turn cancelled mid-stream", err)
		}
		if chunk.Error != nil {
			r.observeModelCall(start, false)
			return "", "", apperr.Wrap(apperr.ModelError, "model stream error", chunk.Error)
		}
		if chunk.Text != "" {
			accumulated.WriteString(chunk.Text)
			if _, err := r.Store.AddMessage(ctx, session.ID, models.RoleAgent, models.TextContent(chunk.Text), true); err != nil {
				r.logAbsorbed(session.ID, "failed to persist partial chunk", err)
			}
			r.Publisher.PublishStreamChunk(ctx, session.ID, chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
	}
	r.observeModelCall(start, true)

	cleaned := stripToolUse(accumulated.String())

	if cleaned == "" && len(toolCalls) > 0 {
		if _, err := r.Store.AddMessage(ctx, session.ID, models.RoleAgent, models.ToolInvocationContent(toolCalls), false); err != nil {
			return "", "", apperr.Wrap(apperr.StoreError, "persist tool-call message", err)
		}
		return PhaseCallTool, "", nil
	}

	return PhaseDone, cleaned, nil
}

// callTool resolves every pending tool call via the ToolSet, applies the
// retry/degrade policy for ToolTransientError, truncates each result, and
// appends the outcomes to history as a role=tool message per call.
func (r *Runtime) callTool(ctx context.Context, session *models.ChatSession) {
	history, err := r.Store.GetMessages(ctx, session.ID)
	if err != nil {
		r.logAbsorbed(session.ID, "failed to load history for tool phase", err)
		return
	}
	calls := lastPendingToolCalls(history)

	for _, call := range calls {
		result := r.invokeWithRetry(ctx, call)
		result.Content = TruncateToolOutput(result.Content)
		if _, err := r.Store.AddMessage(ctx, session.ID, models.RoleTool, models.ToolResultContent([]models.ToolResult{*result}), false); err != nil {
			r.logAbsorbed(session.ID, "failed to persist tool result", err)
		}
	}
}

// invokeWithRetry applies the tool error policy: ToolNotFound/ToolFatalError
// degrade immediately to a synthetic error ToolResult; ToolTransientError
// retries up to toolRetryAttempts times with toolRetryBackoff between
// attempts before degrading the same way. Tool errors are absorbed here and
// never returned to the caller: they are never fatal to the turn.
func (r *Runtime) invokeWithRetry(ctx context.Context, call models.ToolCall) *models.ToolResult {
	start := time.Now()
	attempt := 0
	for {
		result, err := r.Tools.Invoke(ctx, call)
		if err == nil {
			r.observeToolCall(call.Name, start, true)
			return result
		}

		kind := classifyToolInvokeErr(err)
		r.logAbsorbed("", "tool call failed", err)

		if kind == apperr.ToolTransientError && attempt < toolRetryAttempts {
			attempt++
			select {
			case <-ctx.Done():
				r.observeToolCall(call.Name, start, false)
				return errorToolResult(call, ctx.Err())
			case <-time.After(toolRetryBackoff):
			}
			continue
		}

		r.observeToolCall(call.Name, start, false)
		return errorToolResult(call, err)
	}
}

func errorToolResult(call models.ToolCall, err error) *models.ToolResult {
	return &models.ToolResult{
		ToolCallID: call.ID,
		Content:    "tool \"" + call.Name + "\" failed: " + err.Error(),
		IsError:    true,
	}
}

// classifyToolInvokeErr extracts an apperr.Kind from a ToolSet.Invoke error,
// checking apperr.Error first, then the agent package's own ToolError, and
// defaulting to ToolFatalError for anything unclassified.
func classifyToolInvokeErr(err error) apperr.Kind {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Type.Kind()
	}
	return apperr.ToolFatalError
}

func (r *Runtime) observeModelCall(start time.Time, success bool) {
	if r.Metrics == nil || r.Metrics.LLMRequestDuration == nil {
		return
	}
	providerName := ""
	if r.Provider != nil {
		providerName = r.Provider.Name()
	}
	r.Metrics.LLMRequestDuration.WithLabelValues(providerName, r.Model).Observe(time.Since(start).Seconds())
	if r.Metrics.LLMRequestCounter != nil {
		status := "success"
		if !success {
			status = "error"
		}
		r.Metrics.LLMRequestCounter.WithLabelValues(providerName, r.Model, status).Inc()
	}
}

func (r *Runtime) observeToolCall(toolName string, start time.Time, success bool) {
	if r.Metrics == nil {
		return
	}
	if r.Metrics.ToolExecutionDuration != nil {
		r.Metrics.ToolExecutionDuration.WithLabelValues(toolName).Observe(time.Since(start).Seconds())
	}
	if r.Metrics.ToolExecutionCounter != nil {
		status := "success"
		if !success {
			status = "error"
		}
		r.Metrics.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	}
}

// windowHistory keeps at most MaxHistoryMessages-1 most recent non-partial
// messages, oldest-to-newest, to leave room for the system message. Partial
// (streamed-chunk) messages are dropped before windowing rather than after,
// since toCompletionMessages discards them anyway and windowing over the raw
// history would let a single multi-chunk reply's partials crowd the budget
// out of real conversation turns.
func windowHistory(history []*models.ChatMessage) []*models.ChatMessage {
	final := make([]*models.ChatMessage, 0, len(history))
	for _, msg := range history {
		if !msg.IsPartial {
			final = append(final, msg)
		}
	}
	limit := MaxHistoryMessages - 1
	if len(final) <= limit {
		return final
	}
	return final[len(final)-limit:]
}

// lastPendingToolCalls extracts the most recent role=agent tool-invocation
// message's calls: the ones callModel just persisted before transitioning
// to call_tool.
func lastPendingToolCalls(history []*models.ChatMessage) []models.ToolCall {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role == models.RoleAgent && msg.Content.Kind == models.ContentToolInvocation {
			return msg.Content.Calls
		}
		if msg.Role == models.RoleAgent && !msg.IsPartial {
			// A non-partial agent message that isn't a tool invocation means
			// we've walked past the pending call boundary.
			break
		}
	}
	return nil
}

// toCompletionMessages converts persisted ChatMessages into the provider
// layer's CompletionMessage wire shape.
func toCompletionMessages(history []*models.ChatMessage) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(history))
	for _, msg := range history {
		if msg.IsPartial {
			continue
		}
		switch msg.Content.Kind {
		case models.ContentToolInvocation:
			out = append(out, CompletionMessage{
				Role:      "assistant",
				ToolCalls: msg.Content.Calls,
			})
		case models.ContentToolResult:
			out = append(out, CompletionMessage{
				Role:        "tool",
				ToolResults: msg.Content.Results,
			})
		default:
			out = append(out, CompletionMessage{
				Role:        roleToWire(msg.Role),
				Content:     msg.Content.Text,
				Attachments: msg.Attachments,
			})
		}
	}
	return out
}

func roleToWire(role models.Role) string {
	switch role {
	case models.RoleAgent:
		return "assistant"
	case models.RoleTool:
		return "tool"
	default:
		return "user"
	}
}
