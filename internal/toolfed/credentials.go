package toolfed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentforge/platform/pkg/models"
)

func toolCallFor(name string, args map[string]string) models.ToolCall {
	encoded, _ := json.Marshal(args)
	return models.ToolCall{ID: "bootstrap-" + name, Name: name, Args: encoded}
}

// credentialWrapper is applied to a shared multi-tenant tool's invocations:
// it injects per-agent secrets into the arguments before dispatch and
// strips those same parameters from the schema advertised to the model,
// preserving the tool's declared name, description, and argument schema
// minus the injected parameters.
type credentialWrapper interface {
	inject(args json.RawMessage) (json.RawMessage, error)
	strippedSchema(schema json.RawMessage) json.RawMessage
}

// telegramWrapper applies to send_message_telegram, get_chat_history, and
// get_bot_id_telegram: it injects the agent's Telegram API credentials.
type telegramWrapper struct {
	apiID    string
	apiHash  string
	botToken string
}

func newTelegramWrapper(secrets map[string]string) *telegramWrapper {
	return &telegramWrapper{
		apiID:    secrets["telegram_api_id"],
		apiHash:  secrets["telegram_api_hash"],
		botToken: secrets["telegram_bot_token"],
	}
}

func (w *telegramWrapper) inject(args json.RawMessage) (json.RawMessage, error) {
	return injectFields(args, map[string]string{
		"telegram_api_id":    w.apiID,
		"telegram_api_hash":  w.apiHash,
		"telegram_bot_token": w.botToken,
	})
}

func (w *telegramWrapper) strippedSchema(schema json.RawMessage) json.RawMessage {
	return stripSchemaFields(schema, "telegram_api_id", "telegram_api_hash", "telegram_bot_token")
}

// discordWrapper applies to send_message, get_channel_messages, and
// get_bot_id: it injects the bot_id resolved once via register_discord_bot
// at materialisation time (see ResolveDiscordBotID) and cached here.
type discordWrapper struct {
	botID string
}

func newDiscordWrapper(botID string) *discordWrapper {
	return &discordWrapper{botID: botID}
}

func (w *discordWrapper) inject(args json.RawMessage) (json.RawMessage, error) {
	return injectFields(args, map[string]string{"bot_id": w.botID})
}

func (w *discordWrapper) strippedSchema(schema json.RawMessage) json.RawMessage {
	return stripSchemaFields(schema, "bot_id")
}

// injectFields merges extra key/value pairs into a JSON object's top level,
// overwriting any existing key of the same name, and skipping blank values
// so an agent missing one credential doesn't send an empty string for it.
func injectFields(args json.RawMessage, extra map[string]string) (json.RawMessage, error) {
	obj := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &obj); err != nil {
			return nil, fmt.Errorf("decode tool arguments: %w", err)
		}
	}
	for k, v := range extra {
		if v == "" {
			continue
		}
		obj[k] = v
	}
	return json.Marshal(obj)
}

// stripSchemaFields removes the named properties (and any required-ness)
// from a JSON-Schema object, then validates the result still compiles as a
// JSON-Schema document via santhosh-tekuri/jsonschema before returning it.
// A malformed rewrite degrades to the original schema rather than
// advertising a broken one to the model.
func stripSchemaFields(schema json.RawMessage, fields ...string) json.RawMessage {
	if len(schema) == 0 {
		return schema
	}

	var doc map[string]any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return schema
	}

	if props, ok := doc["properties"].(map[string]any); ok {
		for _, f := range fields {
			delete(props, f)
		}
	}
	if required, ok := doc["required"].([]any); ok {
		filtered := required[:0]
		for _, r := range required {
			name, _ := r.(string)
			if !containsString(fields, name) {
				filtered = append(filtered, r)
			}
		}
		doc["required"] = filtered
	}

	rewritten, err := json.Marshal(doc)
	if err != nil {
		return schema
	}
	if !compilesAsJSONSchema(rewritten) {
		return schema
	}
	return rewritten
}

func compilesAsJSONSchema(schema json.RawMessage) bool {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schema)); err != nil {
		return false
	}
	_, err := compiler.Compile("schema.json")
	return err == nil
}

// telegramWrappedTools and discordWrappedTools are the fixed tool names
// treated as credential-injection targets for each platform.
var (
	telegramWrappedTools = []string{"send_message_telegram", "get_chat_history", "get_bot_id_telegram"}
	discordWrappedTools  = []string{"send_message", "get_channel_messages", "get_bot_id"}
)

// BuildWrappers assembles the tool-name -> credentialWrapper map the
// Lifecycle Manager passes to New. telegramSecrets come straight from the
// agent's AgentConfig.Secrets; discordBotID is the id already resolved via
// ResolveDiscordBotID during materialisation (or "" if Discord isn't
// configured for this agent).
func BuildWrappers(telegramSecrets map[string]string, discordBotID string) map[string]credentialWrapper {
	out := make(map[string]credentialWrapper)

	if telegramSecrets["telegram_bot_token"] != "" && telegramSecrets["telegram_api_id"] != "" && telegramSecrets["telegram_api_hash"] != "" {
		w := newTelegramWrapper(telegramSecrets)
		for _, name := range telegramWrappedTools {
			out[name] = w
		}
	}

	if discordBotID != "" {
		w := newDiscordWrapper(discordBotID)
		for _, name := range discordWrappedTools {
			out[name] = w
		}
	}

	return out
}

// ResolveDiscordBotID is the materialisation-time bootstrap call: if token
// is non-empty it invokes register_discord_bot on the server that exposes
// it and returns the resulting bot id.
func ResolveDiscordBotID(ctx context.Context, f *Federation, token string) (string, error) {
	if token == "" {
		return "", nil
	}
	result, err := f.Invoke(ctx, toolCallFor("register_discord_bot", map[string]string{"token": token}))
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
