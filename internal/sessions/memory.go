package sessions

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/platform/pkg/models"
)

// maxMessagesPerSession limits messages stored per session to prevent
// unbounded memory growth. When exceeded, the oldest messages are trimmed.
const maxMessagesPerSession = 1000

// MemoryStore is an in-memory Store implementation for tests and a
// zero-dependency local mode. Writes for a given session serialize on that
// session's per-session mutex.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*models.ChatSession
	perSess   map[string]*sync.Mutex
	messages  map[string][]*models.ChatMessage
	summaries map[string]*models.ChatSummary
	usage     AgentUsageStore
}

// NewMemoryStore creates a new in-memory session store. usage may be nil, in
// which case CreateSession skips the agent usage-stat bump.
func NewMemoryStore(usage AgentUsageStore) *MemoryStore {
	return &MemoryStore{
		sessions:  map[string]*models.ChatSession{},
		perSess:   map[string]*sync.Mutex{},
		messages:  map[string][]*models.ChatMessage{},
		summaries: map[string]*models.ChatSummary{},
		usage:     usage,
	}
}

func (m *MemoryStore) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.perSess[id]
	if !ok {
		lock = &sync.Mutex{}
		m.perSess[id] = lock
	}
	return lock
}

func (m *MemoryStore) CreateSession(ctx context.Context, userID, agentID, title string) (*models.ChatSession, error) {
	now := time.Now().UTC()
	session := &models.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		AgentID:   agentID,
		Title:     title,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.perSess[session.ID] = &sync.Mutex{}
	m.mu.Unlock()

	if m.usage != nil {
		if err := m.usage.RecordSessionStart(ctx, agentID); err != nil {
			m.mu.Lock()
			delete(m.sessions, session.ID)
			delete(m.perSess, session.ID)
			m.mu.Unlock()
			return nil, err
		}
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, userID string, opts ListOptions) ([]*models.ChatSession, error) {
	m.mu.RLock()
	var out []*models.ChatSession
	for _, session := range m.sessions {
		if session.UserID != userID {
			continue
		}
		if opts.AgentID != "" && session.AgentID != opts.AgentID {
			continue
		}
		if opts.ActiveOnly && !session.IsActive {
			continue
		}
		out = append(out, cloneSession(session))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, id string, title *string, isActive *bool) (*models.ChatSession, error) {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if title != nil {
		session.Title = *title
	}
	if isActive != nil {
		session.IsActive = *isActive
	}
	session.UpdatedAt = time.Now().UTC()
	return cloneSession(session), nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.perSess, id)
	delete(m.messages, id)
	delete(m.summaries, id)
	return nil
}

func (m *MemoryStore) AddMessage(ctx context.Context, sessionID string, role models.Role, content models.MessageContent, isPartial bool) (string, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return "", ErrNotFound
	}

	msg := &models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		IsPartial: isPartial,
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	if len(m.messages[sessionID]) > maxMessagesPerSession {
		excess := len(m.messages[sessionID]) - maxMessagesPerSession
		m.messages[sessionID] = m.messages[sessionID][excess:]
	}
	session.UpdatedAt = msg.Timestamp
	nonPartialCount := m.nonPartialCountLocked(sessionID)
	m.mu.Unlock()

	if !isPartial && nonPartialCount > 0 && nonPartialCount%models.SummaryStride == 0 {
		m.regenerateSummary(sessionID, nonPartialCount)
	}
	return msg.ID, nil
}

func (m *MemoryStore) nonPartialCountLocked(sessionID string) int {
	count := 0
	for _, msg := range m.messages[sessionID] {
		if !msg.IsPartial {
			count++
		}
	}
	return count
}

// regenerateSummary writes a placeholder rolling summary; a real deployment
// would call the ModelClient to produce prose. This package owns only the
// storage contract, not summarisation content.
func (m *MemoryStore) regenerateSummary(sessionID string, messageCount int) {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.summaries[sessionID]
	summary := &models.ChatSummary{
		SessionID:    sessionID,
		Text:         summaryPlaceholder(messageCount),
		MessageCount: messageCount,
		UpdatedAt:    now,
	}
	if ok {
		summary.CreatedAt = existing.CreatedAt
	} else {
		summary.CreatedAt = now
	}
	m.summaries[sessionID] = summary
}

func summaryPlaceholder(messageCount int) string {
	return "Conversation summary through message " + strconv.Itoa(messageCount)
}

func (m *MemoryStore) GetMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	messages := m.messages[sessionID]
	out := make([]*models.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (m *MemoryStore) GetSummary(ctx context.Context, sessionID string) (*models.ChatSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary, ok := m.summaries[sessionID]
	if !ok {
		return nil, nil
	}
	clone := *summary
	return &clone, nil
}

func cloneSession(session *models.ChatSession) *models.ChatSession {
	if session == nil {
		return nil
	}
	clone := *session
	return &clone
}

func cloneMessage(msg *models.ChatMessage) *models.ChatMessage {
	if msg == nil {
		return nil
	}
	clone := *msg
	if len(msg.Attachments) > 0 {
		clone.Attachments = append([]models.Attachment{}, msg.Attachments...)
	}
	if len(msg.Content.Calls) > 0 {
		clone.Content.Calls = append([]models.ToolCall{}, msg.Content.Calls...)
	}
	if len(msg.Content.Results) > 0 {
		clone.Content.Results = append([]models.ToolResult{}, msg.Content.Results...)
	}
	return &clone
}
