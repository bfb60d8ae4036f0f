package config

import (
	"strconv"
	"strings"

	"github.com/agentforge/platform/internal/toolfed"
)

// ValidationError aggregates every configuration problem found in one pass,
// rather than failing on the first so an operator can fix them all at once.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		issues = append(issues, "server.port must be between 1 and 65535")
	}
	if cfg.Database.URL == "" && cfg.Database.Host == "" {
		issues = append(issues, "database.url or database.host is required")
	}
	if secret := strings.TrimSpace(cfg.Auth.JWTSecret); secret != "" && len(secret) < 32 {
		issues = append(issues, "auth.jwt_secret must be at least 32 characters")
	}
	for i, key := range cfg.Auth.APIKeys {
		idx := strconv.Itoa(i)
		if strings.TrimSpace(key.Key) == "" {
			issues = append(issues, "auth.api_keys["+idx+"].key is required")
		}
		if strings.TrimSpace(key.UserID) == "" {
			issues = append(issues, "auth.api_keys["+idx+"].user_id is required")
		}
	}
	if !validTransport(cfg.Channels.Telegram.Transport) {
		issues = append(issues, "channels.telegram.transport must be \"http\" or \"websocket\"")
	}
	if !validTransport(cfg.Channels.Discord.Transport) {
		issues = append(issues, "channels.discord.transport must be \"http\" or \"websocket\"")
	}
	if !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, "logging.level must be one of debug, info, warn, error")
	}
	if !validLogFormat(cfg.Logging.Format) {
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validTransport(t toolfed.TransportKind) bool {
	switch t {
	case toolfed.TransportHTTP, toolfed.TransportWebsocket:
		return true
	default:
		return false
	}
}

func validLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func validLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "json", "text":
		return true
	default:
		return false
	}
}
