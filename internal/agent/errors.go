package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentforge/platform/internal/apperr"
)

// Common sentinel errors for agent operations.
var (
	// ErrMaxRoundTrips indicates the turn exceeded MaxToolRoundTrips without
	// reaching done.
	ErrMaxRoundTrips = errors.New("max tool round trips exceeded")

	// ErrNoProvider indicates no LLM provider is configured for the agent.
	ErrNoProvider = errors.New("no provider configured")
)

// ToolErrorType categorizes tool execution errors for retry logic.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorPermission   ToolErrorType = "permission"
	ToolErrorRateLimit    ToolErrorType = "rate_limit"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorUnknown      ToolErrorType = "unknown"
)

// IsRetryable reports whether this error type is transient: only timeout,
// network, and rate-limit failures are retried.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return true
	default:
		return false
	}
}

// Kind maps a ToolErrorType onto the apperr.Kind vocabulary used to decide
// whether a failed tool call aborts the turn (ToolFatalError never does) or
// degrades to a synthetic error message after retries (ToolTransientError).
func (t ToolErrorType) Kind() apperr.Kind {
	if t == ToolErrorNotFound {
		return apperr.ToolNotFound
	}
	if t.IsRetryable() {
		return apperr.ToolTransientError
	}
	return apperr.ToolFatalError
}

// ToolError represents a structured error from tool execution with
// categorization the runtime uses to pick ToolNotFound / ToolTransientError /
// ToolFatalError handling.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	Attempts   int
}

func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}
	return strings.Join(parts, " ")
}

func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError creates a new ToolError, classifying cause's type from its
// message when one of the sentinel constructors below wasn't used.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{ToolName: toolName, Cause: cause, Type: ToolErrorUnknown, Attempts: 1}
	if cause != nil {
		err.Message = cause.Error()
		err.Type = classifyToolError(cause)
	}
	return err
}

func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	return e
}

func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

func (e *ToolError) WithAttempts(n int) *ToolError {
	e.Attempts = n
	return e
}

// classifyToolError infers a ToolErrorType from an unclassified error's
// message. Tools that want a precise classification should return a
// *ToolError directly rather than relying on this fallback.
func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "not found") || strings.Contains(errStr, "unknown tool"):
		return ToolErrorNotFound
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") || strings.Contains(errStr, "refused") ||
		strings.Contains(errStr, "unreachable"):
		return ToolErrorNetwork
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429"):
		return ToolErrorRateLimit
	case strings.Contains(errStr, "permission") || strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "access denied"):
		return ToolErrorPermission
	case strings.Contains(errStr, "invalid") || strings.Contains(errStr, "validation") ||
		strings.Contains(errStr, "required") || strings.Contains(errStr, "missing"):
		return ToolErrorInvalidInput
	default:
		return ToolErrorExecution
	}
}

// IsToolError checks if an error is or wraps a ToolError.
func IsToolError(err error) bool {
	var toolErr *ToolError
	return errors.As(err, &toolErr)
}

// GetToolError extracts a ToolError from an error chain using errors.As.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// IsToolRetryable checks if a tool error should be retried (ToolTransientError).
func IsToolRetryable(err error) bool {
	if toolErr, ok := GetToolError(err); ok {
		return toolErr.Type.IsRetryable()
	}
	return classifyToolError(err).IsRetryable()
}

// LoopError carries the state-machine phase and iteration an error occurred
// in, so every absorbed error can be logged with agent id, session id, and
// a sanitized error string.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Message   string
	Cause     error
}

func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

func (e *LoopError) Unwrap() error { return e.Cause }

// LoopPhase names the three states of the agent runtime state machine.
type LoopPhase string

const (
	PhaseCallModel LoopPhase = "call_model"
	PhaseCallTool  LoopPhase = "call_tool"
	PhaseDone      LoopPhase = "done"
)
