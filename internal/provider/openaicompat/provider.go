// Package openaicompat implements the Provider interface against an
// OpenAI-compatible chat-completions HTTP endpoint, at the contract level
// described in the wire protocol: request assembly, response parsing, SSE
// frame decoding, and error-taxonomy mapping. It deliberately parses SSE by
// hand (bufio over the response body) rather than depending on a
// vendor-specific SDK, so the same client works against any server that
// speaks the chat-completions wire format.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaychat/relay/internal/infra"
	"github.com/relaychat/relay/internal/observability"
	"github.com/relaychat/relay/internal/provider"
	"github.com/relaychat/relay/internal/ratelimit"
	"github.com/relaychat/relay/internal/retry"
	"github.com/relaychat/relay/pkg/models"
)

// rateLimitKey is the single bucket key this provider rate-limits under: one
// Provider instance talks to one endpoint, so there is exactly one limit to
// track regardless of how many sessions share it.
const rateLimitKey = "provider"

// Config configures a Provider instance.
type Config struct {
	// BaseURL is normalized to strip any trailing slash before the
	// `/chat/completions` suffix is appended.
	BaseURL string
	APIKey  string
	// Model is the default model name used when a call's GenerationOptions
	// does not set ModelOverride.
	Model string

	// HTTPClient is the transport used for every request. If nil, a client
	// with a conservative default timeout is constructed and owned by this
	// provider (so Close will be a no-op either way: this provider never
	// creates connections that need explicit releasing beyond what the
	// standard transport already pools).
	HTTPClient *http.Client

	MaxRetries int
	RetryDelay time.Duration

	// RateLimit bounds outbound request rate against this endpoint. Zero
	// value (Enabled: false) applies no limiting.
	RateLimit ratelimit.Config

	Logger *observability.Logger
}

// Provider implements provider.Provider against an OpenAI-compatible
// /chat/completions endpoint.
type Provider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	retryCfg   retry.Config
	limiter    *ratelimit.Limiter
	logger     *observability.Logger

	// breaker short-circuits requests once the endpoint has failed
	// retryCfg.MaxAttempts-backed calls repeatedly in a row, instead of
	// spending a full retry budget against an endpoint that is down.
	breaker *infra.CircuitBreaker
}

var _ provider.Provider = (*Provider)(nil)

// New builds a Provider from cfg.
func New(cfg Config) *Provider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Provider{
		baseURL:    normalizeBaseURL(cfg.BaseURL),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: client,
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
			Name:             "openaicompat",
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		}),
	}
}

// waitForCapacity blocks until the rate limiter admits one request, or ctx
// is done. A disabled limiter (the default) never blocks.
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

func normalizeBaseURL(base string) string {
	return strings.TrimRight(base, "/")
}

func (p *Provider) endpoint() string {
	return p.baseURL + "/chat/completions"
}

func (p *Provider) newRequest(ctx context.Context, body []byte, streaming bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, models.NewError(models.ErrUnknown, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}
	return req, nil
}

// Chat issues a single non-streaming completion request.
func (p *Provider) Chat(ctx context.Context, messages []models.Message, opts models.GenerationOptions) (models.LlmResponse, error) {
	if err := p.waitForCapacity(ctx); err != nil {
		return models.LlmResponse{}, err
	}
	wireReq := buildRequest(messages, opts, p.model, false)
	body, err := json.Marshal(wireReq)
	if err != nil {
		return models.LlmResponse{}, models.NewError(models.ErrSerialization, "encoding chat request", err)
	}

	var resp *http.Response
	breakerErr := p.breaker.Execute(ctx, func(ctx context.Context) error {
		result := retry.Do(ctx, p.retryCfg, func() error {
			httpReq, err := p.newRequest(ctx, body, false)
			if err != nil {
				return retry.Permanent(err)
			}
			r, err := p.httpClient.Do(httpReq)
			if err != nil {
				return models.NewError(models.ErrUnknown, "sending chat request", err)
			}
			if r.StatusCode >= 200 && r.StatusCode < 300 {
				resp = r
				return nil
			}
			defer r.Body.Close()
			respBody, _ := io.ReadAll(r.Body)
			var parsed wireChatResponse
			_ = json.Unmarshal(respBody, &parsed)
			transportErr := newTransportError(r.StatusCode, parsed.Error, respBody)
			if isRetryableKind(models.KindOf(transportErr)) {
				return transportErr
			}
			return retry.Permanent(transportErr)
		})
		return result.Err
	})
	if breakerErr != nil {
		if errors.Is(breakerErr, infra.ErrCircuitOpen) {
			return models.LlmResponse{}, models.NewError(models.ErrServer, "provider endpoint circuit open", breakerErr)
		}
		if perm, ok := breakerErr.(*retry.PermanentError); ok {
			return models.LlmResponse{}, perm.Unwrap()
		}
		return models.LlmResponse{}, breakerErr
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.LlmResponse{}, models.NewError(models.ErrUnknown, "reading chat response", err)
	}

	var parsed wireChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return models.LlmResponse{}, models.NewError(models.ErrSerialization, "decoding chat response", err)
	}
	if parsed.Error != nil {
		return models.LlmResponse{}, models.NewError(models.ErrServer, parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return models.LlmResponse{}, models.NewError(models.ErrUnknown, "chat response carried no choices", nil)
	}

	choice := parsed.Choices[0]
	out := models.LlmResponse{
		Content:      models.NewTextContent(flattenContent(choice.Message.Content)),
		ToolCalls:    fromWireToolCalls(choice.Message.ToolCalls),
		FinishReason: choice.FinishReason,
	}
	if parsed.Usage != nil {
		out.Usage = models.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

// isRetryableKind reports whether a transport error of this kind is worth
// retrying: rate limits and server errors are transient, authentication and
// bad-request errors are not.
func isRetryableKind(kind models.ErrorKind) bool {
	return kind == models.ErrRateLimit || kind == models.ErrServer || kind == models.ErrUnknown
}

// Stream issues a streaming completion request, decoding SSE frames from
// the response body by hand.
func (p *Provider) Stream(ctx context.Context, messages []models.Message, opts models.GenerationOptions) (<-chan provider.StreamEvent, error) {
	if err := p.waitForCapacity(ctx); err != nil {
		return nil, err
	}
	wireReq := buildRequest(messages, opts, p.model, true)
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, models.NewError(models.ErrSerialization, "encoding stream request", err)
	}

	httpReq, err := p.newRequest(ctx, body, true)
	if err != nil {
		return nil, err
	}
	resp, err := infra.ExecuteWithResult(p.breaker, ctx, func(ctx context.Context) (*http.Response, error) {
		r, err := p.httpClient.Do(httpReq)
		if err != nil {
			return nil, models.NewError(models.ErrUnknown, "opening stream", err)
		}
		return r, nil
	})
	if err != nil {
		if errors.Is(err, infra.ErrCircuitOpen) {
			return nil, models.NewError(models.ErrServer, "provider endpoint circuit open", err)
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		var parsed wireChatResponse
		_ = json.Unmarshal(respBody, &parsed)
		return nil, newTransportError(resp.StatusCode, parsed.Error, respBody)
	}

	events := make(chan provider.StreamEvent)
	go p.readStream(ctx, resp.Body, events)
	return events, nil
}

func (p *Provider) readStream(ctx context.Context, body io.ReadCloser, events chan<- provider.StreamEvent) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			events <- provider.StreamEvent{Err: models.NewError(models.ErrCancellation, "stream cancelled", ctx.Err())}
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		var payload string
		switch {
		case strings.HasPrefix(line, "data: "):
			payload = strings.TrimPrefix(line, "data: ")
		case strings.HasPrefix(line, "data:"):
			payload = strings.TrimPrefix(line, "data:")
		case strings.HasPrefix(line, "{"):
			// Non-SSE-framed fallback: a raw JSON error body on its own line.
			var fallback struct {
				Error *wireAPIError `json:"error"`
			}
			if err := json.Unmarshal([]byte(line), &fallback); err == nil && fallback.Error != nil {
				events <- provider.StreamEvent{Err: newUnframedStreamError(fallback.Error)}
				return
			}
			continue
		default:
			continue
		}

		payload = strings.TrimSpace(payload)
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return
		}

		var chunk wireStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			p.logger.Debug(ctx, "openaicompat: skipping unparseable stream chunk", "error", err.Error())
			continue
		}
		if chunk.Error != nil {
			events <- provider.StreamEvent{Err: newStreamError(chunk.Error)}
			return
		}
		if len(chunk.Choices) == 0 && chunk.Usage == nil {
			continue
		}

		if len(chunk.Choices) > 0 {
			delta := chunk.Choices[0].Delta
			resp := models.LlmResponse{
				Content:          models.NewTextContent(delta.Content),
				ReasoningContent: delta.ReasoningContent,
				FinishReason:     chunk.Choices[0].FinishReason,
			}
			if len(delta.ToolCalls) > 0 {
				resp.ToolCalls = make([]models.ToolCall, len(delta.ToolCalls))
				for i, f := range delta.ToolCalls {
					resp.ToolCalls[i] = models.ToolCall{
						Index:             f.Index,
						ID:                f.ID,
						FunctionName:      f.Function.Name,
						FunctionArguments: f.Function.Arguments,
					}
					if f.Type != "" {
						resp.ToolCalls[i].Kind = models.ToolCallKind(f.Type)
					}
				}
			}
			events <- provider.StreamEvent{Response: resp}
		}

		if chunk.Usage != nil {
			events <- provider.StreamEvent{Response: models.LlmResponse{
				Content: models.NewTextContent(""),
				Usage: models.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				},
			}}
		}
	}

	if err := scanner.Err(); err != nil {
		events <- provider.StreamEvent{Err: models.NewError(models.ErrUnknown, "reading stream", err)}
	}
}

// Close is a no-op: the provider never owns a transport beyond the
// http.Client it was given (or the default one it built for itself), and
// http.Client has no explicit close; idle connections are reclaimed by the
// standard transport's connection pool.
func (p *Provider) Close() error { return nil }

// Name identifies this provider implementation for logging and metrics.
func (p *Provider) Name() string { return "openaicompat" }
