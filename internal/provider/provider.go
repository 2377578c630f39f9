// Package provider defines the abstract chat-completion contract that the
// orchestrator drives, independent of any specific wire protocol.
package provider

import (
	"context"

	"github.com/relaychat/relay/pkg/models"
)

// Provider is a non-streaming and streaming chat backend. Implementations
// own whatever transport resources they create; Close must be idempotent
// and a provider that did not create its own transport must not close it.
type Provider interface {
	// Name identifies the provider implementation for logging and metrics
	// (e.g. "openaicompat").
	Name() string

	// Chat returns a single, fully-aggregated response.
	Chat(ctx context.Context, messages []models.Message, opts models.GenerationOptions) (models.LlmResponse, error)

	// Stream returns partial responses as the transport yields them. The
	// returned channel is closed when the stream ends, cleanly or on
	// error; a non-nil error sent on the channel is the final value.
	Stream(ctx context.Context, messages []models.Message, opts models.GenerationOptions) (<-chan StreamEvent, error)

	// Close releases owned transport resources. Safe to call more than once.
	Close() error
}

// StreamEvent carries either a partial LlmResponse or a terminal error.
// Exactly one of Err and Response is meaningful for cases where Err != nil.
type StreamEvent struct {
	Response models.LlmResponse
	Err      error
}
