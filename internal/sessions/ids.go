package sessions

import "github.com/google/uuid"

// NewSessionID generates a new random session identifier. Callers that
// don't have their own naming scheme (e.g. a user or channel id) can use
// this instead of inventing one.
func NewSessionID() string {
	return uuid.NewString()
}
