package sessions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/relaychat/relay/pkg/models"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *CockroachStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return mock, &CockroachStore{db: db}
}

func TestCockroachStore_CreateSession(t *testing.T) {
	mock, store := setupMockDB(t)
	mock.ExpectPrepare("INSERT INTO sessions")
	stmt, err := store.db.Prepare("INSERT INTO sessions (id, system_prompt, metadata, created_at, updated_at) VALUES ($1, '', '{}', $2, $2)")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	store.stmtCreateSession = stmt

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("session-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	session := &models.Session{ID: "session-1"}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCockroachStore_CreateSessionDuplicate(t *testing.T) {
	mock, store := setupMockDB(t)
	mock.ExpectPrepare("INSERT INTO sessions")
	stmt, _ := store.db.Prepare("INSERT INTO sessions (id, system_prompt, metadata, created_at, updated_at) VALUES ($1, '', '{}', $2, $2)")
	store.stmtCreateSession = stmt

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("dup", sqlmock.AnyArg()).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "sessions_pkey"`))

	err := store.CreateSession(context.Background(), &models.Session{ID: "dup"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCockroachStore_GetSessionNotFound(t *testing.T) {
	mock, store := setupMockDB(t)
	mock.ExpectPrepare("SELECT id, system_prompt, metadata, created_at, updated_at FROM sessions")
	stmt, _ := store.db.Prepare("SELECT id, system_prompt, metadata, created_at, updated_at FROM sessions WHERE id = $1")
	store.stmtGetSession = stmt

	mock.ExpectQuery("SELECT id, system_prompt").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCockroachStore_GetSession(t *testing.T) {
	mock, store := setupMockDB(t)
	mock.ExpectPrepare("SELECT id, system_prompt, metadata, created_at, updated_at FROM sessions")
	stmt, _ := store.db.Prepare("SELECT id, system_prompt, metadata, created_at, updated_at FROM sessions WHERE id = $1")
	store.stmtGetSession = stmt

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "system_prompt", "metadata", "created_at", "updated_at"}).
		AddRow("session-1", "be terse", []byte(`{}`), now, now)
	mock.ExpectQuery("SELECT id, system_prompt").
		WithArgs("session-1").
		WillReturnRows(rows)

	session, err := store.GetSession(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if session.SystemPrompt != "be terse" {
		t.Fatalf("SystemPrompt = %q, want %q", session.SystemPrompt, "be terse")
	}
}

func TestCockroachStore_SetSystemPromptNotFound(t *testing.T) {
	mock, store := setupMockDB(t)
	mock.ExpectPrepare("UPDATE sessions SET system_prompt")
	stmt, _ := store.db.Prepare("UPDATE sessions SET system_prompt = $1, updated_at = $2 WHERE id = $3")
	store.stmtSetSystemPrompt = stmt

	mock.ExpectExec("UPDATE sessions SET system_prompt").
		WithArgs("hi", sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetSystemPrompt(context.Background(), "missing", "hi")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCockroachStore_DeleteSessionNotFound(t *testing.T) {
	mock, store := setupMockDB(t)
	mock.ExpectPrepare("DELETE FROM sessions")
	stmt, _ := store.db.Prepare("DELETE FROM sessions WHERE id = $1")
	store.stmtDeleteSession = stmt

	mock.ExpectExec("DELETE FROM sessions").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(errors.New(`pq: duplicate key value violates unique constraint "x"`)) {
		t.Fatalf("expected duplicate key error to be detected")
	}
	if isUniqueViolation(errors.New("connection refused")) {
		t.Fatalf("unrelated error should not be flagged as a unique violation")
	}
	if isUniqueViolation(nil) {
		t.Fatalf("nil error should not be flagged")
	}
}
