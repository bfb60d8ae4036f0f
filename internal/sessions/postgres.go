package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/agentforge/platform/pkg/models"
)

// PostgresStore implements Store against a PostgreSQL-wire-compatible
// database (PostgreSQL or CockroachDB). Writes to a session's messages and
// updated_at serialize by taking a row lock on the session (SELECT ... FOR
// UPDATE) before the insert, so concurrent appends to the same session
// never race.
type PostgresStore struct {
	db *sql.DB

	stmtGetSession    *sql.Stmt
	stmtDeleteSession *sql.Stmt
	stmtGetMessages   *sql.Stmt
	stmtGetSummary    *sql.Stmt
}

// Config holds the PostgreSQL/CockroachDB connection parameters.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns sane local-development defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "agentforge",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens a connection pool and prepares statements.
func NewPostgresStore(cfg *Config) (*PostgresStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, int(cfg.ConnectTimeout.Seconds()),
	)
	return NewPostgresStoreFromDSN(dsn, cfg)
}

// NewPostgresStoreFromDSN opens a connection pool from a raw DSN/URL.
func NewPostgresStoreFromDSN(dsn string, cfg *Config) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error
	s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, user_id, agent_id, title, is_active, created_at, updated_at
		FROM chat_sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get session: %w", err)
	}

	s.stmtDeleteSession, err = s.db.Prepare(`DELETE FROM chat_sessions WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("prepare delete session: %w", err)
	}

	s.stmtGetMessages, err = s.db.Prepare(`
		SELECT id, session_id, role, content, is_partial, created_at
		FROM chat_messages WHERE session_id = $1
		ORDER BY created_at ASC
	`)
	if err != nil {
		return fmt.Errorf("prepare get messages: %w", err)
	}

	s.stmtGetSummary, err = s.db.Prepare(`
		SELECT session_id, text, message_count, created_at, updated_at
		FROM chat_summaries WHERE session_id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get summary: %w", err)
	}
	return nil
}

// Close closes prepared statements and the underlying connection pool.
func (s *PostgresStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtGetSession, s.stmtDeleteSession, s.stmtGetMessages, s.stmtGetSummary} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}

// DB exposes the underlying pool for components that share the database
// (e.g. the agent config store).
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateSession(ctx context.Context, userID, agentID, title string) (*models.ChatSession, error) {
	now := time.Now().UTC()
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, agent_id, title, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, true, $5, $6)
	`, id, userID, agentID, title, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET total_sessions = total_sessions + 1, last_used = $1 WHERE id = $2
	`, now, agentID); err != nil {
		return nil, fmt.Errorf("bump agent usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &models.ChatSession{
		ID: id, UserID: userID, AgentID: agentID, Title: title,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	return scanSession(s.stmtGetSession.QueryRowContext(ctx, id))
}

func scanSession(row *sql.Row) (*models.ChatSession, error) {
	session := &models.ChatSession{}
	err := row.Scan(&session.ID, &session.UserID, &session.AgentID, &session.Title, &session.IsActive, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, userID string, opts ListOptions) ([]*models.ChatSession, error) {
	query := `
		SELECT id, user_id, agent_id, title, is_active, created_at, updated_at
		FROM chat_sessions WHERE user_id = $1
	`
	args := []any{userID}
	argPos := 2

	if opts.AgentID != "" {
		query += fmt.Sprintf(" AND agent_id = $%d", argPos)
		args = append(args, opts.AgentID)
		argPos++
	}
	if opts.ActiveOnly {
		query += " AND is_active = true"
	}
	query += " ORDER BY updated_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, opts.Limit)
		argPos++
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.ChatSession
	for rows.Next() {
		session := &models.ChatSession{}
		if err := rows.Scan(&session.ID, &session.UserID, &session.AgentID, &session.Title, &session.IsActive, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateSession(ctx context.Context, id string, title *string, isActive *bool) (*models.ChatSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanSession(tx.QueryRowContext(ctx, `
		SELECT id, user_id, agent_id, title, is_active, created_at, updated_at
		FROM chat_sessions WHERE id = $1 FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}
	if title != nil {
		current.Title = *title
	}
	if isActive != nil {
		current.IsActive = *isActive
	}
	current.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		UPDATE chat_sessions SET title = $1, is_active = $2, updated_at = $3 WHERE id = $4
	`, current.Title, current.IsActive, current.UpdatedAt, id); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return current, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.stmtDeleteSession.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMessage locks the session row for the duration of the insert so
// updated_at and the summary counters advance consistently under concurrent
// appends to the same session.
func (s *PostgresStore) AddMessage(ctx context.Context, sessionID string, role models.Role, content models.MessageContent, isPartial bool) (string, error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("marshal content: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sessionExists string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM chat_sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&sessionExists); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("lock session: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, is_partial, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, sessionID, string(role), contentJSON, isPartial, now); err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = $1 WHERE id = $2`, now, sessionID); err != nil {
		return "", fmt.Errorf("bump session updated_at: %w", err)
	}

	var nonPartialCount int
	if !isPartial {
		if err := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM chat_messages WHERE session_id = $1 AND is_partial = false
		`, sessionID).Scan(&nonPartialCount); err != nil {
			return "", fmt.Errorf("count non-partial messages: %w", err)
		}
		if nonPartialCount > 0 && nonPartialCount%models.SummaryStride == 0 {
			if err := upsertSummary(ctx, tx, sessionID, nonPartialCount, now); err != nil {
				return "", err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func upsertSummary(ctx context.Context, tx *sql.Tx, sessionID string, messageCount int, now time.Time) error {
	text := summaryPlaceholder(messageCount)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chat_summaries (session_id, text, message_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (session_id) DO UPDATE SET text = $2, message_count = $3, updated_at = $4
	`, sessionID, text, messageCount, now)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	rows, err := s.stmtGetMessages.QueryContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var out []*models.ChatMessage
	for rows.Next() {
		msg := &models.ChatMessage{}
		var contentJSON []byte
		var role string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &contentJSON, &msg.IsPartial, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if err := json.Unmarshal(contentJSON, &msg.Content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetSummary(ctx context.Context, sessionID string) (*models.ChatSummary, error) {
	summary := &models.ChatSummary{}
	err := s.stmtGetSummary.QueryRowContext(ctx, sessionID).Scan(
		&summary.SessionID, &summary.Text, &summary.MessageCount, &summary.CreatedAt, &summary.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return summary, nil
}
