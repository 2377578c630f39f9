package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/relaychat/relay/pkg/models"
)

// CockroachStore implements Store on top of CockroachDB (or any
// wire-compatible PostgreSQL server), giving sessions and their
// transcripts durability across process restarts.
type CockroachStore struct {
	db *sql.DB

	stmtCreateSession     *sql.Stmt
	stmtGetSession        *sql.Stmt
	stmtSetSystemPrompt   *sql.Stmt
	stmtAppendMessage     *sql.Stmt
	stmtGetMessages       *sql.Stmt
	stmtClearMessages     *sql.Stmt
	stmtDeleteSession     *sql.Stmt
	stmtTouchSession      *sql.Stmt
}

// CockroachConfig holds connection parameters for CockroachDB.
type CockroachConfig struct {
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

// DefaultCockroachConfig returns sane local-development defaults.
func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		Host:            "localhost",
		Port:            26257,
		User:            "root",
		Database:        "relay",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewCockroachStore opens a connection pool and prepares statements.
func NewCockroachStore(config *CockroachConfig) (*CockroachStore, error) {
	if config == nil {
		config = DefaultCockroachConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		config.Host, config.Port, config.User, config.Password,
		config.Database, config.SSLMode, int(config.ConnectTimeout.Seconds()),
	)
	return newCockroachStoreWithDSN(dsn, config)
}

// NewCockroachStoreFromDSN opens a connection pool using a raw DSN/URL.
func NewCockroachStoreFromDSN(dsn string, config *CockroachConfig) (*CockroachStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultCockroachConfig()
	}
	return newCockroachStoreWithDSN(dsn, config)
}

func newCockroachStoreWithDSN(dsn string, config *CockroachConfig) (*CockroachStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &CockroachStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return store, nil
}

// Schema is the DDL this store expects. Callers run it out-of-band
// (migration tooling is outside this package's scope).
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	system_prompt TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq BIGSERIAL,
	role TEXT NOT NULL,
	content JSONB NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	tool_calls JSONB,
	tool_call_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

func (s *CockroachStore) prepareStatements() error {
	var err error

	if s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, system_prompt, metadata, created_at, updated_at)
		VALUES ($1, '', '{}', $2, $2)
	`); err != nil {
		return fmt.Errorf("prepare create session: %w", err)
	}

	if s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, system_prompt, metadata, created_at, updated_at
		FROM sessions WHERE id = $1
	`); err != nil {
		return fmt.Errorf("prepare get session: %w", err)
	}

	if s.stmtSetSystemPrompt, err = s.db.Prepare(`
		UPDATE sessions SET system_prompt = $1, updated_at = $2 WHERE id = $3
	`); err != nil {
		return fmt.Errorf("prepare set system prompt: %w", err)
	}

	if s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO messages (session_id, role, content, name, tool_calls, tool_call_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`); err != nil {
		return fmt.Errorf("prepare append message: %w", err)
	}

	if s.stmtGetMessages, err = s.db.Prepare(`
		SELECT role, content, name, tool_calls, tool_call_id
		FROM messages WHERE session_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`); err != nil {
		return fmt.Errorf("prepare get messages: %w", err)
	}

	if s.stmtClearMessages, err = s.db.Prepare(`
		DELETE FROM messages WHERE session_id = $1
	`); err != nil {
		return fmt.Errorf("prepare clear messages: %w", err)
	}

	if s.stmtDeleteSession, err = s.db.Prepare(`
		DELETE FROM sessions WHERE id = $1
	`); err != nil {
		return fmt.Errorf("prepare delete session: %w", err)
	}

	if s.stmtTouchSession, err = s.db.Prepare(`
		UPDATE sessions SET updated_at = $1 WHERE id = $2
	`); err != nil {
		return fmt.Errorf("prepare touch session: %w", err)
	}

	return nil
}

// Close releases the connection pool and all prepared statements.
func (s *CockroachStore) Close() error {
	stmts := []*sql.Stmt{
		s.stmtCreateSession, s.stmtGetSession, s.stmtSetSystemPrompt,
		s.stmtAppendMessage, s.stmtGetMessages, s.stmtClearMessages,
		s.stmtDeleteSession, s.stmtTouchSession,
	}
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

func (s *CockroachStore) CreateSession(ctx context.Context, session *models.Session) error {
	if err := models.ValidateSessionID(session.ID); err != nil {
		return err
	}
	now := time.Now()
	_, err := s.stmtCreateSession.ExecContext(ctx, session.ID, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	session.CreatedAt = now.Unix()
	session.UpdatedAt = now.Unix()
	return nil
}

func (s *CockroachStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	session := &models.Session{}
	var metadataJSON []byte
	var createdAt, updatedAt time.Time

	err := s.stmtGetSession.QueryRowContext(ctx, id).Scan(
		&session.ID, &session.SystemPrompt, &metadataJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &session.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	session.CreatedAt = createdAt.Unix()
	session.UpdatedAt = updatedAt.Unix()
	return session, nil
}

func (s *CockroachStore) GetSystemPrompt(ctx context.Context, id string) (string, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	return session.SystemPrompt, nil
}

func (s *CockroachStore) SetSystemPrompt(ctx context.Context, id string, prompt string) error {
	result, err := s.stmtSetSystemPrompt.ExecContext(ctx, prompt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("set system prompt: %w", err)
	}
	return checkAffected(result)
}

func (s *CockroachStore) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	contentJSON, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	toolCallsJSON, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.StmtContext(ctx, s.stmtAppendMessage).ExecContext(ctx,
		id, msg.Role, contentJSON, msg.Name, toolCallsJSON, msg.ToolCallID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if _, err := tx.StmtContext(ctx, s.stmtTouchSession).ExecContext(ctx, time.Now(), id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

func (s *CockroachStore) GetMessages(ctx context.Context, id string, limit int) ([]models.Message, error) {
	if limit == 0 {
		return []models.Message{}, nil
	}
	if limit < 0 {
		limit = 1 << 30
	}
	rows, err := s.stmtGetMessages.QueryContext(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var contentJSON, toolCallsJSON []byte
		if err := rows.Scan(&msg.Role, &contentJSON, &msg.Name, &toolCallsJSON, &msg.ToolCallID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal(contentJSON, &msg.Content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
		if len(toolCallsJSON) > 0 && string(toolCallsJSON) != "null" {
			if err := json.Unmarshal(toolCallsJSON, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *CockroachStore) SaveFullContext(ctx context.Context, id string, state models.SessionState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.StmtContext(ctx, s.stmtClearMessages).ExecContext(ctx, id); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for _, msg := range state.Messages {
		contentJSON, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshal content: %w", err)
		}
		toolCallsJSON, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		if _, err := tx.StmtContext(ctx, s.stmtAppendMessage).ExecContext(ctx,
			id, msg.Role, contentJSON, msg.Name, toolCallsJSON, msg.ToolCallID, time.Now(),
		); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	if _, err := tx.StmtContext(ctx, s.stmtSetSystemPrompt).ExecContext(ctx, state.SystemPrompt, time.Now(), id); err != nil {
		return fmt.Errorf("set system prompt: %w", err)
	}
	return tx.Commit()
}

func (s *CockroachStore) ClearMessages(ctx context.Context, id string) error {
	_, err := s.stmtClearMessages.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (s *CockroachStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.stmtDeleteSession.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return checkAffected(result)
}

func checkAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate key")
}
