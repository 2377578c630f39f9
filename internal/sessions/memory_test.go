package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/relaychat/relay/pkg/models"
)

func TestMemoryStoreSessionLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session := &models.Session{ID: "s1", Key: "agent:api:user"}

	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := store.CreateSession(ctx, session); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	loaded, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if loaded.Key != session.Key {
		t.Fatalf("expected key %q, got %q", session.Key, loaded.Key)
	}

	if err := store.SetSystemPrompt(ctx, session.ID, "be terse"); err != nil {
		t.Fatalf("SetSystemPrompt() error = %v", err)
	}
	prompt, err := store.GetSystemPrompt(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSystemPrompt() error = %v", err)
	}
	if prompt != "be terse" {
		t.Fatalf("expected prompt to persist, got %q", prompt)
	}

	if err := store.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := store.GetSession(ctx, session.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreMessages(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session := &models.Session{ID: "s1"}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	msg := models.Message{Role: models.RoleUser, Content: models.NewTextContent("hello")}
	if err := store.AppendMessage(ctx, session.ID, msg); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	history, err := store.GetMessages(ctx, session.ID, 10)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(history) != 1 || history[0].Content.Text() != "hello" {
		t.Fatalf("unexpected history: %+v", history)
	}

	if err := store.ClearMessages(ctx, session.ID); err != nil {
		t.Fatalf("ClearMessages() error = %v", err)
	}
	history, err = store.GetMessages(ctx, session.ID, 10)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history after clear, got %d", len(history))
	}
}

func TestMemoryStoreAppendToUnknownSessionFails(t *testing.T) {
	store := NewMemoryStore()
	err := store.AppendMessage(context.Background(), "missing", models.Message{Role: models.RoleUser})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreMessageTrimming(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session := &models.Session{ID: "s1"}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	for i := 0; i < maxMessagesPerSession+10; i++ {
		if err := store.AppendMessage(ctx, session.ID, models.Message{Role: models.RoleUser, Content: models.NewTextContent("x")}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	history, err := store.GetMessages(ctx, session.ID, -1)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(history) != maxMessagesPerSession {
		t.Fatalf("expected trimming to %d messages, got %d", maxMessagesPerSession, len(history))
	}

	empty, err := store.GetMessages(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected limit=0 to return no messages, got %d", len(empty))
	}
}
