// Package config loads the platform's process-wide configuration from YAML:
// read file, resolve $include composition, expand environment variables,
// strict-decode, apply env var overrides, apply defaults, validate.
package config

import (
	"fmt"
	"time"

	"github.com/agentforge/platform/internal/agent/providers"
	"github.com/agentforge/platform/internal/sessions"
	"github.com/agentforge/platform/internal/toolfed"
)

// Config is the root of the platform's configuration tree.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Providers ProvidersConfig `yaml:"providers"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener that serves the gateway's HTTP,
// duplex socket, webhook, and /metrics surfaces from a single mux.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig configures the PostgreSQL/CockroachDB connection backing
// sessions.PostgresStore and lifecycle.PostgresAgentStore. URL takes
// precedence when set; the discrete fields exist for deployments that
// compose a DSN from separately-injected secrets.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// AuthConfig configures auth.Service.
type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig declares one static API key and the identity it resolves to.
type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}

// ProvidersConfig carries the process-wide model provider credentials that
// back an agent's own Secrets when it doesn't set its own.
type ProvidersConfig struct {
	Anthropic AnthropicProviderConfig `yaml:"anthropic"`
	OpenAI    OpenAIProviderConfig    `yaml:"openai"`
	Google    GoogleProviderConfig    `yaml:"google"`
	Groq      GroqProviderConfig      `yaml:"groq"`
	Ollama    OllamaProviderConfig    `yaml:"ollama"`
}

type AnthropicProviderConfig struct {
	APIKey string `yaml:"api_key"`
}

type OpenAIProviderConfig struct {
	APIKey string `yaml:"api_key"`
}

type GoogleProviderConfig struct {
	APIKey string `yaml:"api_key"`
}

type GroqProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type OllamaProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// ChannelsConfig configures the tool-server endpoints the Agent Lifecycle
// Manager dials to federate a platform's send/receive tools into a running
// agent's tool set.
type ChannelsConfig struct {
	Telegram ToolServerConfig `yaml:"telegram"`
	Discord  ToolServerConfig `yaml:"discord"`
}

// ToolServerConfig names one platform's tool-federation endpoint.
type ToolServerConfig struct {
	ToolServerURL string               `yaml:"tool_server_url"`
	Transport     toolfed.TransportKind `yaml:"transport"`
}

// LoggingConfig configures the process-wide slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProviderDefaults converts the configured provider credentials into the
// providers.ProcessDefaults shape internal/lifecycle.Config expects.
func (c *Config) ProviderDefaults() providers.ProcessDefaults {
	return providers.ProcessDefaults{
		AnthropicAPIKey: c.Providers.Anthropic.APIKey,
		OpenAIAPIKey:    c.Providers.OpenAI.APIKey,
		GoogleAPIKey:    c.Providers.Google.APIKey,
		GroqAPIKey:      c.Providers.Groq.APIKey,
		GroqBaseURL:     c.Providers.Groq.BaseURL,
		OllamaBaseURL:   c.Providers.Ollama.BaseURL,
		OllamaModel:     c.Providers.Ollama.Model,
		OllamaTimeout:   c.Providers.Ollama.Timeout,
	}
}

// SessionsConfig converts the database section into the sessions.Config
// pool-tuning shape. It does not set a DSN; callers open the store with
// DatabaseDSN() and this as the pool config.
func (c *Config) SessionsConfig() *sessions.Config {
	return &sessions.Config{
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Name,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
	}
}

// DatabaseDSN returns the connection string to open, preferring an
// explicit URL over one assembled from the discrete fields.
func (c *Config) DatabaseDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.Name, c.Database.SSLMode,
	)
}
