// Package lifecycle implements the Agent Lifecycle Manager: the
// process-wide registry of RunningAgent instances, their atomic per-agent
// materialisation, the create/delete/get/route_platform operations, and the
// startup scan that rebuilds the registry (seeding a default agent when the
// Store is empty) when the process starts.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/platform/internal/agent/providers"
	"github.com/agentforge/platform/internal/apperr"
	"github.com/agentforge/platform/internal/toolfed"
	"github.com/agentforge/platform/pkg/models"
)

// Config carries the Lifecycle Manager's process-wide, non-per-agent
// settings: provider credential fallbacks and the fixed tool-server
// endpoints each channel's credential-wrapped tools are served from.
type Config struct {
	ProviderDefaults providers.ProcessDefaults

	TelegramToolServerURL       string
	TelegramToolServerTransport toolfed.TransportKind
	DiscordToolServerURL        string
	DiscordToolServerTransport  toolfed.TransportKind

	// DefaultSeed produces the named default configuration the startup
	// scan persists and materialises when the Store holds zero agents.
	// Defaults to LoadDefaultSeed.
	DefaultSeed func() (*models.AgentConfig, error)

	Logger *slog.Logger
}

// Manager owns the RunningAgent registry and drives materialisation.
type Manager struct {
	cfg     Config
	store   AgentConfigStore
	catalog ToolCatalogStore
	logger  *slog.Logger

	mu       sync.RWMutex
	registry map[string]*models.RunningAgent

	group singleflightGroup[string, *models.RunningAgent]
}

// NewManager constructs a Manager with an empty registry.
func NewManager(store AgentConfigStore, catalog ToolCatalogStore, cfg Config) *Manager {
	if cfg.DefaultSeed == nil {
		cfg.DefaultSeed = LoadDefaultSeed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		catalog:  catalog,
		logger:   logger.With("component", "lifecycle"),
		registry: make(map[string]*models.RunningAgent),
	}
}

// Startup reads every AgentConfig from the Store and materialises each one;
// a materialisation failure is logged and that agent is skipped, the rest
// continue. If the Store holds zero agents, it seeds and persists the
// default configuration first.
func (m *Manager) Startup(ctx context.Context) error {
	configs, err := m.store.ListAgents(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StoreError, "list agent configs", err)
	}

	var seededID string
	if len(configs) == 0 {
		seed, err := m.cfg.DefaultSeed()
		if err != nil {
			m.logger.Error("default agent seed unavailable, starting with zero agents", "error", err)
		} else if seed != nil {
			seed.ID = uuid.NewString()
			now := time.Now().UTC()
			seed.CreatedAt, seed.UpdatedAt = now, now
			if err := m.store.CreateAgent(ctx, seed); err != nil {
				return apperr.Wrap(apperr.StoreError, "seed default agent", err)
			}
			seededID = seed.ID
			configs = append(configs, seed)
		}
	}

	for _, cfg := range configs {
		running, err := m.materialize(ctx, cfg)
		if err != nil {
			m.logger.Error("agent materialisation failed at startup, skipping", "agent", cfg.ID, "error", err)
			continue
		}
		if cfg.ID == seededID {
			running.IsDefaultSeed = true
		}
		m.mu.Lock()
		m.registry[cfg.ID] = running
		m.mu.Unlock()
	}
	return nil
}

// Create persists cfg, then materialises it into the registry. A colliding
// name is rejected by the Store with apperr.Conflict.
func (m *Manager) Create(ctx context.Context, cfg *models.AgentConfig) (*models.RunningAgent, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cfg.CreatedAt, cfg.UpdatedAt = now, now

	if err := m.store.CreateAgent(ctx, cfg); err != nil {
		return nil, err
	}

	running, _, err := m.group.Do(cfg.ID, func() (*models.RunningAgent, error) {
		return m.materialize(ctx, cfg)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ModelError, "materialise agent \""+cfg.ID+"\"", err)
	}

	m.mu.Lock()
	m.registry[cfg.ID] = running
	m.mu.Unlock()
	return running, nil
}

// Delete removes agentID's RunningAgent from the registry, closing its
// tool server connections, then cascade-deletes it from the Store. Only
// the owning user may delete an agent.
func (m *Manager) Delete(ctx context.Context, agentID, requestingUser string) error {
	cfg, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if cfg.UserID != requestingUser {
		return apperr.New(apperr.Forbidden, "only the owning user may delete this agent")
	}

	m.mu.Lock()
	running, ok := m.registry[agentID]
	delete(m.registry, agentID)
	m.mu.Unlock()
	m.group.Forget(agentID)

	if ok {
		if fed, ok := running.ToolSet.(*toolfed.Federation); ok {
			fed.Close()
		}
	}

	return m.store.DeleteAgent(ctx, agentID)
}

// Get returns agentID's RunningAgent, rematerialising it on demand if the
// config exists in the Store but isn't currently in the registry. Two
// concurrent Get calls for the same missing agent produce at most one
// materialisation.
func (m *Manager) Get(ctx context.Context, agentID string) (*models.RunningAgent, error) {
	m.mu.RLock()
	running, ok := m.registry[agentID]
	m.mu.RUnlock()
	if ok {
		return running, nil
	}

	cfg, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	running, _, err = m.group.Do(agentID, func() (*models.RunningAgent, error) {
		m.mu.RLock()
		if existing, ok := m.registry[agentID]; ok {
			m.mu.RUnlock()
			return existing, nil
		}
		m.mu.RUnlock()
		return m.materialize(ctx, cfg)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ModelError, "materialise agent \""+agentID+"\"", err)
	}

	m.mu.Lock()
	m.registry[agentID] = running
	m.mu.Unlock()
	return running, nil
}

// List returns every RunningAgent currently registered, for the HTTP
// agent-management surface's list operation.
func (m *Manager) List(ctx context.Context) []*models.RunningAgent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.RunningAgent, 0, len(m.registry))
	for _, running := range m.registry {
		out = append(out, running)
	}
	return out
}

// RoutePlatform scans the registry for the first non-seed agent whose bot
// id for platform matches inboundBotID and whose ToolSet carries the
// platform's send tool. Returns nil on miss.
func (m *Manager) RoutePlatform(platform, inboundBotID string) *models.RunningAgent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, running := range m.registry {
		if running.IsDefaultSeed {
			continue
		}

		var botID, sendTool string
		switch platform {
		case "telegram":
			botID, sendTool = running.TelegramBotID, "send_message_telegram"
		case "discord":
			botID, sendTool = running.DiscordBotID, "send_message"
		default:
			continue
		}
		if botID == "" || botID != inboundBotID {
			continue
		}

		fed, ok := running.ToolSet.(*toolfed.Federation)
		if !ok || !federationHasTool(fed, sendTool) {
			continue
		}
		return running
	}
	return nil
}

func federationHasTool(fed *toolfed.Federation, name string) bool {
	for _, t := range fed.Tools() {
		if t.Name() == name {
			return true
		}
	}
	return false
}

// materialize builds the ModelClient, Tool Federation, and platform bot ids
// for one AgentConfig.
func (m *Manager) materialize(ctx context.Context, cfg *models.AgentConfig) (*models.RunningAgent, error) {
	provider, err := providers.Build(cfg, m.cfg.ProviderDefaults)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "build model client for agent \""+cfg.ID+"\"", err)
	}

	endpoints := m.resolveToolEndpoints(ctx, cfg)
	fed := toolfed.New(ctx, endpoints, nil, m.logger)

	discordBotID, err := toolfed.ResolveDiscordBotID(ctx, fed, cfg.Secrets["discord_bot_token"])
	if err != nil {
		m.logger.Warn("discord bot id bootstrap failed", "agent", cfg.ID, "error", err)
	}

	wrappers := toolfed.BuildWrappers(cfg.Secrets, discordBotID)
	fed.ApplyWrappers(wrappers)

	telegramBotID, err := m.resolveTelegramBotID(ctx, fed, cfg.Secrets)
	if err != nil {
		m.logger.Warn("telegram bot id bootstrap failed", "agent", cfg.ID, "error", err)
	}

	return &models.RunningAgent{
		AgentID:       cfg.ID,
		Config:        *cfg,
		ModelClient:   provider,
		ToolSet:       fed,
		DiscordBotID:  discordBotID,
		TelegramBotID: telegramBotID,
	}, nil
}

// resolveTelegramBotID calls the credential-wrapped get_bot_id_telegram
// tool once the wrapper is bound, so the Lifecycle Manager never handles
// the raw Telegram credentials itself (see toolfed.BuildWrappers).
func (m *Manager) resolveTelegramBotID(ctx context.Context, fed *toolfed.Federation, secrets map[string]string) (string, error) {
	if !telegramCredentialsComplete(secrets) {
		return "", nil
	}
	result, err := fed.Invoke(ctx, models.ToolCall{ID: "bootstrap-get_bot_id_telegram", Name: "get_bot_id_telegram"})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// resolveToolEndpoints turns an agent's enabled tool bindings plus the
// platform-specific endpoints (conditional on present credentials) into a
// deduplicated ToolServerEndpoint set. A binding whose catalogue Tool is
// missing or has no endpoint configured is logged and skipped rather than
// failing the whole agent.
func (m *Manager) resolveToolEndpoints(ctx context.Context, cfg *models.AgentConfig) []toolfed.ToolServerEndpoint {
	seen := make(map[string]bool)
	var endpoints []toolfed.ToolServerEndpoint

	add := func(ep toolfed.ToolServerEndpoint) {
		if seen[ep.ID] {
			return
		}
		seen[ep.ID] = true
		endpoints = append(endpoints, ep)
	}

	for _, binding := range cfg.Tools {
		if !binding.IsEnabled {
			continue
		}
		tool, err := m.catalog.GetTool(ctx, binding.ToolID)
		if err != nil {
			m.logger.Warn("tool binding references unknown tool, skipping", "agent", cfg.ID, "tool_id", binding.ToolID, "error", err)
			continue
		}
		ep, ok := toolEndpoint(tool)
		if !ok {
			m.logger.Warn("tool has no federation endpoint configured, skipping", "agent", cfg.ID, "tool_id", binding.ToolID)
			continue
		}
		add(ep)
	}

	if url := m.cfg.TelegramToolServerURL; url != "" && telegramCredentialsComplete(cfg.Secrets) {
		add(toolfed.ToolServerEndpoint{ID: "platform-telegram", URL: url, Transport: transportOrDefault(m.cfg.TelegramToolServerTransport)})
	}
	if url := m.cfg.DiscordToolServerURL; url != "" && cfg.Secrets["discord_bot_token"] != "" {
		add(toolfed.ToolServerEndpoint{ID: "platform-discord", URL: url, Transport: transportOrDefault(m.cfg.DiscordToolServerTransport)})
	}

	return endpoints
}

func telegramCredentialsComplete(secrets map[string]string) bool {
	return secrets["telegram_bot_token"] != "" && secrets["telegram_api_id"] != "" && secrets["telegram_api_hash"] != ""
}

func transportOrDefault(t toolfed.TransportKind) toolfed.TransportKind {
	if t == "" {
		return toolfed.TransportHTTP
	}
	return t
}
