package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/agentforge/platform/internal/apperr"
	"github.com/agentforge/platform/pkg/models"
)

// PostgresAgentStore implements AgentConfigStore against a
// PostgreSQL-wire-compatible database, following the Chat Session Store's
// own PostgresStore shape (prepared statements, one *sql.DB shared across
// both stores where the caller wires them to the same pool via DB()).
type PostgresAgentStore struct {
	db *sql.DB

	stmtGetAgent    *sql.Stmt
	stmtDeleteAgent *sql.Stmt
	stmtBumpUsage   *sql.Stmt
}

// NewPostgresAgentStore prepares statements against an already-open pool,
// typically sessions.PostgresStore.DB() so agents and chat sessions share
// one connection pool and one transactional database.
func NewPostgresAgentStore(db *sql.DB) (*PostgresAgentStore, error) {
	s := &PostgresAgentStore{db: db}
	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func (s *PostgresAgentStore) prepareStatements() error {
	var err error
	s.stmtGetAgent, err = s.db.Prepare(`
		SELECT id, user_id, name, model_provider, model_name, temperature, max_tokens,
		       secrets, system_prompt, bio, lore, knowledge, message_examples, style,
		       tools, metadata, last_used, total_sessions, created_at, updated_at
		FROM agents WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get agent: %w", err)
	}

	s.stmtDeleteAgent, err = s.db.Prepare(`DELETE FROM agents WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("prepare delete agent: %w", err)
	}

	s.stmtBumpUsage, err = s.db.Prepare(`
		UPDATE agents SET total_sessions = total_sessions + 1, last_used = $1 WHERE id = $2
	`)
	if err != nil {
		return fmt.Errorf("prepare bump usage: %w", err)
	}
	return nil
}

// Close closes prepared statements. The underlying *sql.DB is owned by
// whichever caller opened it (typically sessions.PostgresStore.Close).
func (s *PostgresAgentStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtGetAgent, s.stmtDeleteAgent, s.stmtBumpUsage} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return nil
}

func (s *PostgresAgentStore) CreateAgent(ctx context.Context, cfg *models.AgentConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cfg.CreatedAt, cfg.UpdatedAt = now, now

	secrets, err := json.Marshal(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	bio, _ := json.Marshal(cfg.Bio)
	lore, _ := json.Marshal(cfg.Lore)
	knowledge, _ := json.Marshal(cfg.Knowledge)
	examples, _ := json.Marshal(cfg.MessageExamples)
	style, _ := json.Marshal(cfg.Style)
	tools, _ := json.Marshal(cfg.Tools)
	metadata, _ := json.Marshal(cfg.Metadata)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (
			id, user_id, name, model_provider, model_name, temperature, max_tokens,
			secrets, system_prompt, bio, lore, knowledge, message_examples, style,
			tools, metadata, last_used, total_sessions, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, cfg.ID, cfg.UserID, cfg.Name, cfg.ModelProvider, cfg.ModelName, cfg.Temperature, cfg.MaxTokens,
		secrets, cfg.SystemPrompt, bio, lore, knowledge, examples, style,
		tools, metadata, cfg.LastUsed, cfg.TotalSessions, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return apperr.Wrap(apperr.Conflict, "agent name \""+cfg.Name+"\" already in use", err)
		}
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *PostgresAgentStore) GetAgent(ctx context.Context, id string) (*models.AgentConfig, error) {
	return scanAgent(s.stmtGetAgent.QueryRowContext(ctx, id))
}

func scanAgent(row *sql.Row) (*models.AgentConfig, error) {
	cfg := &models.AgentConfig{}
	var secrets, bio, lore, knowledge, examples, style, tools, metadata []byte
	err := row.Scan(
		&cfg.ID, &cfg.UserID, &cfg.Name, &cfg.ModelProvider, &cfg.ModelName, &cfg.Temperature, &cfg.MaxTokens,
		&secrets, &cfg.SystemPrompt, &bio, &lore, &knowledge, &examples, &style,
		&tools, &metadata, &cfg.LastUsed, &cfg.TotalSessions, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "agent not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	if err := unmarshalAgentJSON(secrets, bio, lore, knowledge, examples, style, tools, metadata, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshalAgentJSON(secrets, bio, lore, knowledge, examples, style, tools, metadata []byte, cfg *models.AgentConfig) error {
	for _, field := range []struct {
		raw  []byte
		dest any
	}{
		{secrets, &cfg.Secrets},
		{bio, &cfg.Bio},
		{lore, &cfg.Lore},
		{knowledge, &cfg.Knowledge},
		{examples, &cfg.MessageExamples},
		{style, &cfg.Style},
		{tools, &cfg.Tools},
		{metadata, &cfg.Metadata},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dest); err != nil {
			return fmt.Errorf("unmarshal agent field: %w", err)
		}
	}
	return nil
}

func (s *PostgresAgentStore) ListAgents(ctx context.Context) ([]*models.AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, model_provider, model_name, temperature, max_tokens,
		       secrets, system_prompt, bio, lore, knowledge, message_examples, style,
		       tools, metadata, last_used, total_sessions, created_at, updated_at
		FROM agents
	`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentConfig
	for rows.Next() {
		cfg := &models.AgentConfig{}
		var secrets, bio, lore, knowledge, examples, style, tools, metadata []byte
		if err := rows.Scan(
			&cfg.ID, &cfg.UserID, &cfg.Name, &cfg.ModelProvider, &cfg.ModelName, &cfg.Temperature, &cfg.MaxTokens,
			&secrets, &cfg.SystemPrompt, &bio, &lore, &knowledge, &examples, &style,
			&tools, &metadata, &cfg.LastUsed, &cfg.TotalSessions, &cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		if err := unmarshalAgentJSON(secrets, bio, lore, knowledge, examples, style, tools, metadata, cfg); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *PostgresAgentStore) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.stmtDeleteAgent.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return apperr.New(apperr.NotFound, "agent \""+id+"\" not found")
	}
	return nil
}

func (s *PostgresAgentStore) RecordSessionStart(ctx context.Context, agentID string) error {
	_, err := s.stmtBumpUsage.ExecContext(ctx, time.Now().UTC(), agentID)
	if err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	return nil
}
