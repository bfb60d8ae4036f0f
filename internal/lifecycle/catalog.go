package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/agentforge/platform/internal/apperr"
	"github.com/agentforge/platform/internal/toolfed"
	"github.com/agentforge/platform/pkg/models"
)

// ToolCatalogStore persists the globally defined Tool catalogue an
// AgentConfig's AgentToolBinding entries reference by id. A Tool's Config
// carries the remote tool server endpoint it is served from, so the
// Lifecycle Manager can turn an agent's tool bindings into a
// ToolServerEndpoint set at materialisation.
type ToolCatalogStore interface {
	GetTool(ctx context.Context, id string) (*models.Tool, error)
	ListTools(ctx context.Context) ([]*models.Tool, error)
}

// MemoryToolCatalog is an in-memory ToolCatalogStore, used for tests and a
// zero-dependency local mode.
type MemoryToolCatalog struct {
	mu   sync.RWMutex
	byID map[string]*models.Tool
}

// NewMemoryToolCatalog seeds a catalog from the given tools.
func NewMemoryToolCatalog(tools ...*models.Tool) *MemoryToolCatalog {
	c := &MemoryToolCatalog{byID: make(map[string]*models.Tool)}
	for _, t := range tools {
		clone := *t
		c.byID[t.ID] = &clone
	}
	return c
}

func (c *MemoryToolCatalog) GetTool(ctx context.Context, id string) (*models.Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byID[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "tool \""+id+"\" not found")
	}
	clone := *t
	return &clone, nil
}

func (c *MemoryToolCatalog) ListTools(ctx context.Context) ([]*models.Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.Tool, 0, len(c.byID))
	for _, t := range c.byID {
		clone := *t
		out = append(out, &clone)
	}
	return out, nil
}

// toolEndpoint reads the remote tool server connection info out of a
// catalogue Tool's free-form Config map. A Tool with no "url" entry in its
// Config describes a tool this process cannot federate to (e.g. one still
// awaiting provisioning) and is skipped by resolveToolEndpoints rather than
// failing materialisation for the whole agent.
func toolEndpoint(t *models.Tool) (toolfed.ToolServerEndpoint, bool) {
	url, _ := t.Config["url"].(string)
	if url == "" {
		return toolfed.ToolServerEndpoint{}, false
	}

	id := t.ID
	if epID, ok := t.Config["endpoint_id"].(string); ok && epID != "" {
		id = epID
	}

	transport := toolfed.TransportHTTP
	if tr, ok := t.Config["transport"].(string); ok && tr == string(toolfed.TransportWebsocket) {
		transport = toolfed.TransportWebsocket
	}

	headers := map[string]string{}
	if raw, ok := t.Config["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	timeout := 30 * time.Second
	if secs, ok := t.Config["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	return toolfed.ToolServerEndpoint{
		ID:        id,
		URL:       url,
		Transport: transport,
		Headers:   headers,
		Timeout:   timeout,
	}, true
}
