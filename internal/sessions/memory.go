package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/relaychat/relay/pkg/models"
)

// maxMessagesPerSession limits messages retained per session to prevent
// unbounded memory growth. When exceeded, the oldest messages are trimmed.
const maxMessagesPerSession = 1000

// MemoryStore is the default in-memory Store implementation: a process-local
// persistence backend suitable for tests, local runs, and any deployment
// that doesn't need durability across restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]models.Message
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]models.Message),
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	if err := models.ValidateSessionID(session.ID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; ok {
		return ErrAlreadyExists
	}
	clone := cloneSession(session)
	now := time.Now().Unix()
	if clone.CreatedAt == 0 {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = clone.CreatedAt
	m.sessions[clone.ID] = clone
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) GetSystemPrompt(ctx context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return "", ErrNotFound
	}
	return session.SystemPrompt, nil
}

func (m *MemoryStore) SetSystemPrompt(ctx context.Context, id string, prompt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.SystemPrompt = prompt
	session.UpdatedAt = time.Now().Unix()
	return nil
}

func (m *MemoryStore) GetMessages(ctx context.Context, id string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := m.messages[id]
	if len(messages) == 0 {
		return []models.Message{}, nil
	}
	start := startIndexForLimit(len(messages), limit)
	out := make([]models.Message, len(messages)-start)
	copy(out, messages[start:])
	return out, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	m.messages[id] = append(m.messages[id], msg)
	if len(m.messages[id]) > maxMessagesPerSession {
		excess := len(m.messages[id]) - maxMessagesPerSession
		m.messages[id] = m.messages[id][excess:]
	}
	session.UpdatedAt = time.Now().Unix()
	return nil
}

func (m *MemoryStore) SaveFullContext(ctx context.Context, id string, state models.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.SystemPrompt = state.SystemPrompt
	session.UpdatedAt = time.Now().Unix()
	out := make([]models.Message, len(state.Messages))
	copy(out, state.Messages)
	m.messages[id] = out
	return nil
}

func (m *MemoryStore) ClearMessages(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

func cloneSession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	clone := *session
	if session.Metadata != nil {
		clone.Metadata = make(map[string]any, len(session.Metadata))
		for k, v := range session.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
