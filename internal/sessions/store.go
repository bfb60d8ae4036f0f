// Package sessions implements the durable chat session store: sessions,
// chronologically ordered messages (including streamed partials), and
// auto-regenerated rolling summaries.
package sessions

import (
	"context"
	"errors"

	"github.com/agentforge/platform/pkg/models"
)

// ErrNotFound is returned when a session lookup misses.
var ErrNotFound = errors.New("sessions: not found")

// ListOptions filters list_sessions.
type ListOptions struct {
	AgentID    string
	ActiveOnly bool
	Limit      int
}

// Store is the Chat Session Store contract. Implementations must
// serialize all writes to a given session on that session's row so
// updated_at and the summary counters stay consistent under concurrent
// appends.
type Store interface {
	// CreateSession atomically inserts a session and increments the owning
	// agent's total_sessions and last_used.
	CreateSession(ctx context.Context, userID, agentID, title string) (*models.ChatSession, error)

	// GetSession returns the session, or ErrNotFound.
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)

	// ListSessions returns sessions for a user, optionally filtered by
	// agent and active_only, sorted by updated_at desc.
	ListSessions(ctx context.Context, userID string, opts ListOptions) ([]*models.ChatSession, error)

	// UpdateSession applies a partial update to title and/or is_active.
	UpdateSession(ctx context.Context, id string, title *string, isActive *bool) (*models.ChatSession, error)

	// DeleteSession removes the session, its messages, and its summary.
	DeleteSession(ctx context.Context, id string) error

	// AddMessage inserts a message, bumps session.updated_at, and, when
	// is_partial is false, regenerates the ChatSummary if the non-partial
	// message count is now a multiple of models.SummaryStride.
	AddMessage(ctx context.Context, sessionID string, role models.Role, content models.MessageContent, isPartial bool) (string, error)

	// GetMessages returns every message of a session in chronological
	// ascending order, partials and finals both present.
	GetMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error)

	// GetSummary returns the session's current summary, or nil if none has
	// been generated yet.
	GetSummary(ctx context.Context, sessionID string) (*models.ChatSummary, error)
}

// AgentUsageStore increments usage stats on agent configs; the Chat Session
// Store uses it to bump total_sessions/last_used on session creation
// without owning the agent persistence layer itself.
type AgentUsageStore interface {
	RecordSessionStart(ctx context.Context, agentID string) error
}
