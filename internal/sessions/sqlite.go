package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relaychat/relay/pkg/models"
)

// SQLiteStore implements Store on top of a local SQLite database via the
// pure-Go modernc.org/sqlite driver, giving the same durability guarantees
// as CockroachStore without an external server: a useful default for a
// single-process deployment or local development.
type SQLiteStore struct {
	db *sql.DB

	stmtCreateSession   *sql.Stmt
	stmtGetSession      *sql.Stmt
	stmtSetSystemPrompt *sql.Stmt
	stmtAppendMessage   *sql.Stmt
	stmtGetMessages     *sql.Stmt
	stmtClearMessages   *sql.Stmt
	stmtDeleteSession   *sql.Stmt
	stmtTouchSession    *sql.Stmt
}

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file path, or ":memory:" for an ephemeral,
	// process-local database.
	Path string

	// BusyTimeout bounds how long a write waits for the database lock
	// before giving up, since SQLite serializes writers.
	BusyTimeout time.Duration

	ConnectTimeout time.Duration
}

// DefaultSQLiteConfig returns sane local-development defaults.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:           "relay.db",
		BusyTimeout:    5 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// NewSQLiteStore opens (creating if necessary) a SQLite database and
// prepares statements.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	dsn := config.Path
	if dsn != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
			url.PathEscape(config.Path), config.BusyTimeout.Milliseconds())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc.org/sqlite serializes writers at the driver level; a single
	// connection avoids SQLITE_BUSY churn under concurrent Store callers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return store, nil
}

// SQLiteSchema is the DDL this store applies on open; unlike CockroachStore
// it is run automatically since a local SQLite file has no separate
// migration tooling of its own.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	system_prompt TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	tool_calls TEXT,
	tool_call_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
`

func (s *SQLiteStore) prepareStatements() error {
	var err error

	if s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, system_prompt, metadata, created_at, updated_at)
		VALUES (?, '', '{}', ?, ?)
	`); err != nil {
		return fmt.Errorf("prepare create session: %w", err)
	}

	if s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, system_prompt, metadata, created_at, updated_at
		FROM sessions WHERE id = ?
	`); err != nil {
		return fmt.Errorf("prepare get session: %w", err)
	}

	if s.stmtSetSystemPrompt, err = s.db.Prepare(`
		UPDATE sessions SET system_prompt = ?, updated_at = ? WHERE id = ?
	`); err != nil {
		return fmt.Errorf("prepare set system prompt: %w", err)
	}

	if s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO messages (session_id, role, content, name, tool_calls, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`); err != nil {
		return fmt.Errorf("prepare append message: %w", err)
	}

	if s.stmtGetMessages, err = s.db.Prepare(`
		SELECT role, content, name, tool_calls, tool_call_id
		FROM messages WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?
	`); err != nil {
		return fmt.Errorf("prepare get messages: %w", err)
	}

	if s.stmtClearMessages, err = s.db.Prepare(`
		DELETE FROM messages WHERE session_id = ?
	`); err != nil {
		return fmt.Errorf("prepare clear messages: %w", err)
	}

	if s.stmtDeleteSession, err = s.db.Prepare(`
		DELETE FROM sessions WHERE id = ?
	`); err != nil {
		return fmt.Errorf("prepare delete session: %w", err)
	}

	if s.stmtTouchSession, err = s.db.Prepare(`
		UPDATE sessions SET updated_at = ? WHERE id = ?
	`); err != nil {
		return fmt.Errorf("prepare touch session: %w", err)
	}

	return nil
}

// Close releases the connection and all prepared statements.
func (s *SQLiteStore) Close() error {
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

func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.Session) error {
	if err := models.ValidateSessionID(session.ID); err != nil {
		return err
	}
	now := time.Now()
	_, err := s.stmtCreateSession.ExecContext(ctx, session.ID, now.Unix(), now.Unix())
	if err != nil {
		if isUniqueConstraint(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	session.CreatedAt = now.Unix()
	session.UpdatedAt = now.Unix()
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	session := &models.Session{}
	var metadataJSON string
	var createdAt, updatedAt int64

	err := s.stmtGetSession.QueryRowContext(ctx, id).Scan(
		&session.ID, &session.SystemPrompt, &metadataJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &session.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	session.CreatedAt = createdAt
	session.UpdatedAt = updatedAt
	return session, nil
}

func (s *SQLiteStore) GetSystemPrompt(ctx context.Context, id string) (string, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	return session.SystemPrompt, nil
}

func (s *SQLiteStore) SetSystemPrompt(ctx context.Context, id string, prompt string) error {
	result, err := s.stmtSetSystemPrompt.ExecContext(ctx, prompt, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set system prompt: %w", err)
	}
	return checkAffected(result)
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, id string, msg models.Message) error {
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

	now := time.Now().Unix()
	if _, err := tx.StmtContext(ctx, s.stmtAppendMessage).ExecContext(ctx,
		id, msg.Role, contentJSON, msg.Name, toolCallsJSON, msg.ToolCallID, now,
	); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if _, err := tx.StmtContext(ctx, s.stmtTouchSession).ExecContext(ctx, now, id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetMessages(ctx context.Context, id string, limit int) ([]models.Message, error) {
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
		var contentJSON string
		var toolCallsJSON sql.NullString
		if err := rows.Scan(&msg.Role, &contentJSON, &msg.Name, &toolCallsJSON, &msg.ToolCallID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(contentJSON), &msg.Content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
		if toolCallsJSON.Valid && toolCallsJSON.String != "" && toolCallsJSON.String != "null" {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
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

func (s *SQLiteStore) SaveFullContext(ctx context.Context, id string, state models.SessionState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.StmtContext(ctx, s.stmtClearMessages).ExecContext(ctx, id); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	now := time.Now().Unix()
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
			id, msg.Role, contentJSON, msg.Name, toolCallsJSON, msg.ToolCallID, now,
		); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	if _, err := tx.StmtContext(ctx, s.stmtSetSystemPrompt).ExecContext(ctx, state.SystemPrompt, now, id); err != nil {
		return fmt.Errorf("set system prompt: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ClearMessages(ctx context.Context, id string) error {
	_, err := s.stmtClearMessages.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.stmtDeleteSession.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return checkAffected(result)
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
