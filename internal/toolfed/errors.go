package toolfed

import "github.com/agentforge/platform/internal/apperr"

// Error is a tool-federation failure: a remote-server outcome classified
// into the apperr.Kind vocabulary the Agent Runtime's retry/degrade policy
// switches on (unknown names -> ToolNotFound, transport errors ->
// ToolTransientError, schema/argument problems -> ToolFatalError).
type Error struct {
	ServerID string
	Tool     string
	Kind     apperr.Kind
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind apperr.Kind, serverID, tool, message string, cause error) *Error {
	return &Error{ServerID: serverID, Tool: tool, Kind: kind, Message: message, Cause: cause}
}

func notFoundErr(serverID, tool string) *Error {
	return newError(apperr.ToolNotFound, serverID, tool, "tool \""+tool+"\" not found", nil)
}

func transientErr(serverID, tool, message string, cause error) *Error {
	return newError(apperr.ToolTransientError, serverID, tool, message, cause)
}

func fatalErr(serverID, tool, message string, cause error) *Error {
	return newError(apperr.ToolFatalError, serverID, tool, message, cause)
}
