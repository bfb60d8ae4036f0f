package models

import "time"

// ModelProvider identifies the language-model backend an agent is bound to.
type ModelProvider string

const (
	ProviderGroq      ModelProvider = "groq"
	ProviderGoogle    ModelProvider = "google"
	ProviderOpenAI    ModelProvider = "openai"
	ProviderAnthropic ModelProvider = "anthropic"
	ProviderOllama    ModelProvider = "ollama"
)

// Tool is a globally defined callable exposed by a remote tool server.
type Tool struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// AgentToolBinding attaches a Tool to an AgentConfig. Priority is stored
// with the binding but not consulted when catalogues are merged: when two
// servers export a tool of the same name, the server whose discovery
// finishes last supplies it.
type AgentToolBinding struct {
	ToolID    string `json:"tool_id"`
	IsEnabled bool   `json:"is_enabled"`
	Priority  int    `json:"priority,omitempty"`
}

// AgentConfig is the persisted, owner-editable definition of an agent.
// Secrets are never logged and never broadcast.
type AgentConfig struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Name          string            `json:"name"`
	ModelProvider ModelProvider     `json:"model_provider"`
	ModelName     string            `json:"model_name"`
	Temperature   float64           `json:"temperature"`
	MaxTokens     int               `json:"max_tokens"`
	Secrets       map[string]string `json:"secrets,omitempty"`

	SystemPrompt    string   `json:"system_prompt,omitempty"`
	Bio             []string `json:"bio,omitempty"`
	Lore            []string `json:"lore,omitempty"`
	Knowledge       []string `json:"knowledge,omitempty"`
	MessageExamples []string `json:"message_examples,omitempty"`
	Style           []string `json:"style,omitempty"`

	Tools []AgentToolBinding `json:"tools,omitempty"`

	// Metadata is free-form per-agent data outside the persona/tool model,
	// e.g. display preferences attached by the owning client.
	Metadata map[string]any `json:"metadata,omitempty"`

	LastUsed     time.Time `json:"last_used,omitempty"`
	TotalSessions int      `json:"total_sessions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveSystemPrompt composes the persona inputs into one system message
// in the defined order: system -> bio -> knowledge -> lore -> style -> examples.
func (c *AgentConfig) EffectiveSystemPrompt() string {
	var out string
	appendBlock := func(label string, lines []string) {
		if len(lines) == 0 {
			return
		}
		if out != "" {
			out += "\n\n"
		}
		out += label + ":\n"
		for i, line := range lines {
			if i > 0 {
				out += "\n"
			}
			out += line
		}
	}

	out = c.SystemPrompt
	appendBlock("Bio", c.Bio)
	appendBlock("Knowledge", c.Knowledge)
	appendBlock("Lore", c.Lore)
	appendBlock("Style", c.Style)
	appendBlock("Examples", c.MessageExamples)
	return out
}

// RunningAgent is the in-memory materialisation of an AgentConfig: a bound
// model client handle, a resolved tool set, and platform bot ids. The
// ModelClient and ToolSet fields are left as `any` here since pkg/models
// must not import internal/agent or internal/toolfed; callers type-assert
// to the concrete interfaces those packages define.
type RunningAgent struct {
	AgentID  string
	Config   AgentConfig
	IsDefaultSeed bool

	ModelClient any
	ToolSet     any

	DiscordBotID  string
	TelegramBotID string
}
