package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agentd.yaml", `
database:
  host: localhost
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Channels.Telegram.Transport != "http" {
		t.Fatalf("Channels.Telegram.Transport = %q, want http", cfg.Channels.Telegram.Transport)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agentd.yaml", `
server:
  host: 0.0.0.0
  bogus_field: true
database:
  host: localhost
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRequiresDatabaseLocation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agentd.yaml", `
server:
  port: 9000
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "database") {
		t.Fatalf("expected a database error, got %v", err)
	}
}

func TestLoadRejectsShortJWTSecret(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agentd.yaml", `
database:
  host: localhost
auth:
  jwt_secret: too-short
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("Load() error = %v, want jwt_secret complaint", err)
	}
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_AGENTD_JWT_SECRET", "abcdefghijklmnopqrstuvwxyz123456")
	dir := t.TempDir()
	path := writeFile(t, dir, "agentd.yaml", `
database:
  host: localhost
auth:
  jwt_secret: ${TEST_AGENTD_JWT_SECRET}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "abcdefghijklmnopqrstuvwxyz123456" {
		t.Fatalf("Auth.JWTSecret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
database:
  host: localhost
logging:
  level: debug
`)
	path := writeFile(t, dir, "agentd.yaml", `
$include: base.yaml
server:
  port: 9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Host != "localhost" {
		t.Fatalf("Database.Host = %q, want localhost from the include", cfg.Database.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q, want debug from the include", cfg.Logging.Level)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("Server.Port = %d, want 9090 to override the include", cfg.Server.Port)
	}
}

func TestLoadIncludingFileWinsOverInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
database:
  host: localhost
logging:
  level: debug
`)
	path := writeFile(t, dir, "agentd.yaml", `
$include: base.yaml
logging:
  level: warn
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("Logging.Level = %q, want warn to win over the include", cfg.Logging.Level)
	}
}

func TestLoadEnvOverrideWinsOverFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override/db")
	dir := t.TempDir()
	path := writeFile(t, dir, "agentd.yaml", `
database:
  host: localhost
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.URL != "postgres://override/db" {
		t.Fatalf("Database.URL = %q, want env override", cfg.Database.URL)
	}
}
