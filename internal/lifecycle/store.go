package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/agentforge/platform/internal/apperr"
	"github.com/agentforge/platform/pkg/models"
)

// AgentConfigStore persists AgentConfigs and implements
// sessions.AgentUsageStore (RecordSessionStart) so the Chat Session Store
// can bump total_sessions/last_used on session creation without owning
// agent persistence itself.
type AgentConfigStore interface {
	// CreateAgent persists cfg. Implementations reject a name collision
	// with apperr.Conflict; agent names are unique.
	CreateAgent(ctx context.Context, cfg *models.AgentConfig) error

	// GetAgent returns the persisted config, or apperr.NotFound.
	GetAgent(ctx context.Context, id string) (*models.AgentConfig, error)

	// ListAgents returns every persisted config, for the startup scan.
	ListAgents(ctx context.Context) ([]*models.AgentConfig, error)

	// DeleteAgent removes the config, cascading its tool bindings and chat
	// sessions.
	DeleteAgent(ctx context.Context, id string) error

	// RecordSessionStart bumps total_sessions and last_used for agentID.
	RecordSessionStart(ctx context.Context, agentID string) error
}

// MemoryAgentStore is an in-memory AgentConfigStore, used for tests and a
// zero-dependency local mode (mirroring the Chat Session Store's own
// memory-backed option). Its DeleteAgent removes only the config; chat
// sessions live in a separate store and are not touched.
type MemoryAgentStore struct {
	mu    sync.RWMutex
	byID  map[string]*models.AgentConfig
	names map[string]string
}

// NewMemoryAgentStore constructs an empty MemoryAgentStore.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{
		byID:  make(map[string]*models.AgentConfig),
		names: make(map[string]string),
	}
}

func (s *MemoryAgentStore) CreateAgent(ctx context.Context, cfg *models.AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.names[cfg.Name]; ok && owner != cfg.ID {
		return apperr.New(apperr.Conflict, "agent name \""+cfg.Name+"\" already in use")
	}
	clone := *cfg
	s.byID[cfg.ID] = &clone
	s.names[cfg.Name] = cfg.ID
	return nil
}

func (s *MemoryAgentStore) GetAgent(ctx context.Context, id string) (*models.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.byID[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "agent \""+id+"\" not found")
	}
	clone := *cfg
	return &clone, nil
}

func (s *MemoryAgentStore) ListAgents(ctx context.Context) ([]*models.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AgentConfig, 0, len(s.byID))
	for _, cfg := range s.byID {
		clone := *cfg
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryAgentStore) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.byID[id]
	if !ok {
		return apperr.New(apperr.NotFound, "agent \""+id+"\" not found")
	}
	delete(s.byID, id)
	delete(s.names, cfg.Name)
	return nil
}

func (s *MemoryAgentStore) RecordSessionStart(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.byID[agentID]
	if !ok {
		return apperr.New(apperr.NotFound, "agent \""+agentID+"\" not found")
	}
	cfg.TotalSessions++
	cfg.LastUsed = time.Now().UTC()
	return nil
}
