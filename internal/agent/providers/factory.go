package providers

import (
	"fmt"
	"time"

	"github.com/agentforge/platform/internal/agent"
	"github.com/agentforge/platform/pkg/models"
)

// ProcessDefaults carries the process-wide provider credentials and
// endpoints, used when an agent's own Secrets don't override them.
type ProcessDefaults struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	GroqAPIKey      string
	GroqBaseURL     string
	OllamaBaseURL   string
	OllamaModel     string
	OllamaTimeout   time.Duration
}

// secret returns cfg.Secrets[key] when set, else fallback. Agent-level
// secrets always win over process defaults so a per-agent key can target a
// different account than the platform's own.
func secret(cfg *models.AgentConfig, key, fallback string) string {
	if cfg != nil {
		if v, ok := cfg.Secrets[key]; ok && v != "" {
			return v
		}
	}
	return fallback
}

// Build constructs the LLMProvider for an AgentConfig's ModelProvider,
// preferring any key the agent carries in its own Secrets over the
// process-wide defaults.
func Build(cfg *models.AgentConfig, defaults ProcessDefaults) (agent.LLMProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("agent config is nil")
	}

	switch cfg.ModelProvider {
	case models.ProviderAnthropic:
		return NewAnthropicProvider(AnthropicConfig{
			APIKey: secret(cfg, "anthropic_api_key", defaults.AnthropicAPIKey),
		})
	case models.ProviderOpenAI:
		return NewOpenAIProvider(secret(cfg, "openai_api_key", defaults.OpenAIAPIKey)), nil
	case models.ProviderGoogle:
		return NewGoogleProvider(GoogleConfig{
			APIKey:       secret(cfg, "google_api_key", defaults.GoogleAPIKey),
			DefaultModel: cfg.ModelName,
		})
	case models.ProviderGroq:
		return NewGroqProvider(
			secret(cfg, "groq_api_key", defaults.GroqAPIKey),
			secret(cfg, "groq_base_url", defaults.GroqBaseURL),
		), nil
	case models.ProviderOllama:
		return NewOllamaProvider(OllamaConfig{
			BaseURL:      secret(cfg, "ollama_base_url", defaults.OllamaBaseURL),
			DefaultModel: firstNonEmpty(cfg.ModelName, defaults.OllamaModel),
			Timeout:      defaults.OllamaTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.ModelProvider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
