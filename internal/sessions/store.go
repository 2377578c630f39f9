package sessions

import (
	"context"
	"errors"

	"github.com/relaychat/relay/pkg/models"
)

// ErrNotFound is returned when a session lookup finds nothing.
var ErrNotFound = errors.New("sessions: not found")

// ErrAlreadyExists is returned by CreateSession given a duplicate id.
var ErrAlreadyExists = errors.New("sessions: already exists")

// Store is the persistence interface a Memory Manager hydrates from and
// writes through to. Implementations must be safe for concurrent use
// across sessions; per-session write ordering is the caller's job (the
// memory manager dispatches each session's writes on its own serial lane),
// not the store's.
type Store interface {
	// CreateSession registers a new session record. If the session already
	// exists, implementations return ErrAlreadyExists.
	CreateSession(ctx context.Context, session *models.Session) error

	// GetSession retrieves session metadata (not its transcript).
	GetSession(ctx context.Context, id string) (*models.Session, error)

	// GetSystemPrompt returns the session's current system prompt, or ""
	// if none has been set.
	GetSystemPrompt(ctx context.Context, id string) (string, error)

	// SetSystemPrompt updates the session's system prompt.
	SetSystemPrompt(ctx context.Context, id string, prompt string) error

	// GetMessages returns an ordered slice of the session's transcript.
	// limit < 0 means all messages; limit >= len(messages) also means all;
	// otherwise the last limit messages, in arrival order.
	GetMessages(ctx context.Context, id string, limit int) ([]models.Message, error)

	// AppendMessage appends a single message to the session's transcript.
	AppendMessage(ctx context.Context, id string, msg models.Message) error

	// SaveFullContext overwrites a session's entire transcript and system
	// prompt in one durable write. Used when an evicted or finalized
	// session is flushed from cache.
	SaveFullContext(ctx context.Context, id string, state models.SessionState) error

	// ClearMessages deletes a session's transcript but keeps the session
	// record (and its system prompt) in place.
	ClearMessages(ctx context.Context, id string) error

	// DeleteSession removes a session and its transcript entirely.
	DeleteSession(ctx context.Context, id string) error
}

// ListOptions configures session listing on stores that support it.
type ListOptions struct {
	Limit  int
	Offset int
}

// startIndexForLimit computes the slice start offset implementing
// GetMessages' limit semantics: negative or out-of-range limits mean "all".
func startIndexForLimit(total, limit int) int {
	if limit < 0 || limit >= total {
		return 0
	}
	return total - limit
}
