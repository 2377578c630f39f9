// Package anthropic implements the Provider interface against Anthropic's
// Messages API, using the official anthropic-sdk-go client rather than
// hand-rolled HTTP: unlike the OpenAI-compatible wire contract, Anthropic's
// request/response shapes (content blocks, thinking blocks, tool_use blocks)
// are SDK-native and not worth re-deriving by hand.
package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaychat/relay/internal/infra"
	"github.com/relaychat/relay/internal/observability"
	"github.com/relaychat/relay/internal/provider"
	"github.com/relaychat/relay/internal/ratelimit"
	"github.com/relaychat/relay/internal/retry"
	"github.com/relaychat/relay/pkg/models"
)

const rateLimitKey = "provider"

// defaultMaxTokens bounds generations when GenerationOptions.MaxTokens is
// unset, since Anthropic's API requires a max_tokens value on every request.
const defaultMaxTokens = 4096

// Config configures a Provider instance.
type Config struct {
	APIKey string
	// BaseURL overrides the SDK's default endpoint; empty uses the SDK
	// default.
	BaseURL string
	// Model is the default model used when a call's GenerationOptions does
	// not set ModelOverride.
	Model string

	MaxRetries int
	RetryDelay time.Duration

	RateLimit ratelimit.Config

	Logger *observability.Logger
}

// Provider implements provider.Provider against Anthropic's Messages API.
type Provider struct {
	client       anthropic.Client
	defaultModel string
	retryCfg     retry.Config
	limiter      *ratelimit.Limiter
	logger       *observability.Logger
	breaker      *infra.CircuitBreaker
}

var _ provider.Provider = (*Provider)(nil)

// New builds a Provider from cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
		retryCfg: retry.Config{
			MaxAttempts:  maxRetries,
			InitialDelay: retryDelay,
			MaxDelay:     retryDelay * 10,
			Factor:       2,
			Jitter:       true,
		},
		limiter: ratelimit.NewLimiter(cfg.RateLimit),
		logger:  logger,
		breaker: infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
			Name:             "anthropic",
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		}),
	}, nil
}

func (p *Provider) waitForCapacity(ctx context.Context) error {
	for !p.limiter.Allow(rateLimitKey) {
		wait := p.limiter.WaitTime(rateLimitKey)
		select {
		case <-ctx.Done():
			return models.NewError(models.ErrCancellation, "rate limit wait cancelled", ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil
}

func (p *Provider) modelFor(opts models.GenerationOptions) string {
	if opts.ModelOverride != "" {
		return opts.ModelOverride
	}
	return p.defaultModel
}

func maxTokensFor(opts models.GenerationOptions) int {
	if opts.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return opts.MaxTokens
}

// Chat issues a single non-streaming Messages API request.
func (p *Provider) Chat(ctx context.Context, messages []models.Message, opts models.GenerationOptions) (models.LlmResponse, error) {
	if err := p.waitForCapacity(ctx); err != nil {
		return models.LlmResponse{}, err
	}
	model := p.modelFor(opts)
	params, err := buildParams(messages, opts, model)
	if err != nil {
		return models.LlmResponse{}, models.NewError(models.ErrSerialization, "building anthropic request", err)
	}

	var msg *anthropic.Message
	breakerErr := p.breaker.Execute(ctx, func(ctx context.Context) error {
		result := retry.Do(ctx, p.retryCfg, func() error {
			m, err := p.client.Messages.New(ctx, params)
			if err != nil {
				if isRetryable(err) {
					return wrapError(err, model)
				}
				return retry.Permanent(wrapError(err, model))
			}
			msg = m
			return nil
		})
		return result.Err
	})
	if breakerErr != nil {
		if errors.Is(breakerErr, infra.ErrCircuitOpen) {
			return models.LlmResponse{}, models.NewError(models.ErrServer, "anthropic circuit open", breakerErr)
		}
		if perm, ok := breakerErr.(*retry.PermanentError); ok {
			return models.LlmResponse{}, perm.Unwrap()
		}
		return models.LlmResponse{}, breakerErr
	}

	return fromMessage(msg), nil
}

// Stream issues a streaming Messages API request and translates Anthropic's
// SSE event union into provider.StreamEvent.
func (p *Provider) Stream(ctx context.Context, messages []models.Message, opts models.GenerationOptions) (<-chan provider.StreamEvent, error) {
	if err := p.waitForCapacity(ctx); err != nil {
		return nil, err
	}
	model := p.modelFor(opts)
	params, err := buildParams(messages, opts, model)
	if err != nil {
		return nil, models.NewError(models.ErrSerialization, "building anthropic request", err)
	}

	stream, err := infra.ExecuteWithResult(p.breaker, ctx, func(ctx context.Context) (*anthropicStream, error) {
		s := p.client.Messages.NewStreaming(ctx, params)
		return &anthropicStream{s}, nil
	})
	if err != nil {
		if errors.Is(err, infra.ErrCircuitOpen) {
			return nil, models.NewError(models.ErrServer, "anthropic circuit open", err)
		}
		return nil, wrapError(err, model)
	}

	events := make(chan provider.StreamEvent)
	go p.readStream(ctx, stream, events, model)
	return events, nil
}

// anthropicStream adapts the SDK's generic ssestream.Stream so it can flow
// through infra.ExecuteWithResult without the circuit breaker package
// needing to know about the SDK's event type.
type anthropicStream struct {
	inner interface {
		Next() bool
		Current() anthropic.MessageStreamEventUnion
		Err() error
	}
}

// maxEmptyStreamEvents guards against a stream that emits events we don't
// recognize indefinitely, mirroring the same protection the REST-polling
// providers get for free from scanner.Scan() returning false.
const maxEmptyStreamEvents = 300

func (p *Provider) readStream(ctx context.Context, stream *anthropicStream, events chan<- provider.StreamEvent, model string) {
	defer close(events)

	var toolCall *models.ToolCall
	var toolInput strings.Builder
	empty := 0

	for stream.inner.Next() {
		select {
		case <-ctx.Done():
			events <- provider.StreamEvent{Err: models.NewError(models.ErrCancellation, "stream cancelled", ctx.Err())}
			return
		default:
		}

		event := stream.inner.Current()
		processed := false

		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				toolCall = &models.ToolCall{ID: toolUse.ID, FunctionName: toolUse.Name, Kind: models.ToolCallFunction}
				toolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					events <- provider.StreamEvent{Response: models.LlmResponse{Content: models.NewTextContent(delta.Text)}}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					events <- provider.StreamEvent{Response: models.LlmResponse{ReasoningContent: delta.Thinking}}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if toolCall != nil {
				toolCall.FunctionArguments = toolInput.String()
				events <- provider.StreamEvent{Response: models.LlmResponse{ToolCalls: []models.ToolCall{*toolCall}}}
				toolCall = nil
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Delta.StopReason != "" {
				events <- provider.StreamEvent{Response: models.LlmResponse{FinishReason: string(delta.Delta.StopReason)}}
			}
			if delta.Usage.OutputTokens > 0 {
				events <- provider.StreamEvent{Response: models.LlmResponse{
					Usage: models.Usage{CompletionTokens: int(delta.Usage.OutputTokens)},
				}}
			}
			processed = true

		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				events <- provider.StreamEvent{Response: models.LlmResponse{
					Usage: models.Usage{PromptTokens: int(start.Message.Usage.InputTokens)},
				}}
			}
			processed = true

		case "message_stop":
			return
		}

		if processed {
			empty = 0
		} else {
			empty++
			if empty >= maxEmptyStreamEvents {
				events <- provider.StreamEvent{Err: models.NewError(models.ErrUnknown, "anthropic stream appears malformed", nil)}
				return
			}
		}
	}

	if err := stream.inner.Err(); err != nil {
		events <- provider.StreamEvent{Err: wrapError(err, model)}
	}
}

// Close is a no-op: the SDK client owns no resources beyond its pooled HTTP
// transport.
func (p *Provider) Close() error { return nil }

// Name identifies this provider implementation for logging and metrics.
func (p *Provider) Name() string { return "anthropic" }
