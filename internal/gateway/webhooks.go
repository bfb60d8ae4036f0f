package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/agentforge/platform/pkg/models"
)

// handleTelegramWebhook implements `POST /telegram/webhook`. The body
// may be the direct Telegram Bot API update shape or a pre-forwarded
// {chat_id, content, bot_id} shape; either way a missing essential field
// means there's nothing to route, and the handler answers 200 {"status":
// "ignored"} rather than erroring the webhook sender into backing off.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var raw struct {
		Message *struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
			Text string `json:"text"`
		} `json:"message"`
		BotID   string `json:"bot_id"`
		ChatID  *int64 `json:"chat_id"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	var chatID, content string
	switch {
	case raw.Message != nil:
		chatID = strconv.FormatInt(raw.Message.Chat.ID, 10)
		content = raw.Message.Text
	case raw.ChatID != nil:
		chatID = strconv.FormatInt(*raw.ChatID, 10)
		content = raw.Content
	}
	if chatID == "" || content == "" || raw.BotID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	running := s.lifecycle.RoutePlatform("telegram", raw.BotID)
	if running == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ignored",
			"detail": "No agent for bot ID " + raw.BotID + ".",
		})
		return
	}

	if err := s.driveInboundTurn(r, running, "telegram-"+raw.BotID+"-"+chatID, content); err != nil {
		s.logger.Error("telegram webhook turn failed", "bot_id", raw.BotID, "chat_id", chatID, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleDiscordReceiveMessage implements `POST /discord/receive_message`:
// {content, channel_id, author_id, author_name, message_id, timestamp,
// guild_id?, bot_id}.
func (s *Server) handleDiscordReceiveMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Content    string `json:"content"`
		ChannelID  string `json:"channel_id"`
		AuthorID   string `json:"author_id"`
		AuthorName string `json:"author_name"`
		MessageID  string `json:"message_id"`
		Timestamp  string `json:"timestamp"`
		GuildID    string `json:"guild_id,omitempty"`
		BotID      string `json:"bot_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	if body.Content == "" || body.ChannelID == "" || body.BotID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	running := s.lifecycle.RoutePlatform("discord", body.BotID)
	if running == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ignored",
			"detail": "No agent for bot ID " + body.BotID + ".",
		})
		return
	}

	if err := s.driveInboundTurn(r, running, "discord-"+body.BotID+"-"+body.ChannelID, body.Content); err != nil {
		s.logger.Error("discord webhook turn failed", "bot_id", body.BotID, "channel_id", body.ChannelID, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// driveInboundTurn resolves (or creates) the session a platform conversation
// maps to and runs one Agent Runtime turn against it. conversationKey
// stands in for the userID a chat session is normally scoped to, since
// platform-originated conversations have no authenticated platform user.
// One stable synthetic key per (bot, chat/channel) keeps every inbound
// message from that conversation routed to the same session. The agent's
// reply reaches the platform through its own send tool inside the Runtime's
// tool federation, not through this handler's response body.
func (s *Server) driveInboundTurn(r *http.Request, running *models.RunningAgent, conversationKey, content string) error {
	session, err := findOrCreateSession(r.Context(), s.sessions, conversationKey, running.AgentID)
	if err != nil {
		return err
	}
	rt, err := s.buildRuntime(running)
	if err != nil {
		return err
	}
	_, err = rt.Process(r.Context(), session, content, nil)
	return err
}
