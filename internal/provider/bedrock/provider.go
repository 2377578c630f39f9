// Package bedrock implements the Provider interface against AWS Bedrock's
// Converse and ConverseStream APIs, giving access to any foundation model
// Bedrock hosts (Anthropic, Titan, Llama, Mistral, Cohere) behind a single
// wire contract rather than one per vendor.
package bedrock

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/relaychat/relay/internal/infra"
	"github.com/relaychat/relay/internal/observability"
	"github.com/relaychat/relay/internal/provider"
	"github.com/relaychat/relay/internal/ratelimit"
	"github.com/relaychat/relay/internal/retry"
	"github.com/relaychat/relay/pkg/models"
)

const rateLimitKey = "provider"

// Config configures a Provider instance.
type Config struct {
	Region string

	// AccessKeyID/SecretAccessKey/SessionToken supply explicit credentials.
	// Leaving all three empty uses the SDK's default credential chain (env,
	// shared config, IAM role).
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// Model is the default Bedrock model ID used when a call's
	// GenerationOptions does not set ModelOverride.
	Model string

	MaxRetries int
	RetryDelay time.Duration

	RateLimit ratelimit.Config

	Logger *observability.Logger
}

// Provider implements provider.Provider against AWS Bedrock's Converse API.
type Provider struct {
	client       *bedrockruntime.Client
	control      *bedrock.Client
	defaultModel string
	retryCfg     retry.Config
	limiter      *ratelimit.Limiter
	logger       *observability.Logger
	breaker      *infra.CircuitBreaker
}

var _ provider.Provider = (*Provider)(nil)

// New builds a Provider from cfg, loading AWS credentials per cfg.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
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
		model = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(region))
	}
	if err != nil {
		return nil, models.NewError(models.ErrIO, "loading AWS config", err)
	}

	return &Provider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		control:      bedrock.NewFromConfig(awsCfg),
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
			Name:             "bedrock",
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

func inferenceConfig(opts models.GenerationOptions) *types.InferenceConfiguration {
	if opts.MaxTokens <= 0 && opts.Temperature == nil && opts.TopP == nil {
		return nil
	}
	cfg := &types.InferenceConfiguration{}
	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		if maxTokens > math.MaxInt32 {
			maxTokens = math.MaxInt32
		}
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if opts.Temperature != nil {
		cfg.Temperature = aws.Float32(float32(*opts.Temperature))
	}
	if opts.TopP != nil {
		cfg.TopP = aws.Float32(float32(*opts.TopP))
	}
	return cfg
}

// Chat issues a single non-streaming Converse request.
func (p *Provider) Chat(ctx context.Context, messages []models.Message, opts models.GenerationOptions) (models.LlmResponse, error) {
	if err := p.waitForCapacity(ctx); err != nil {
		return models.LlmResponse{}, err
	}
	model := p.modelFor(opts)
	req, err := buildConverseInput(messages, opts, model)
	if err != nil {
		return models.LlmResponse{}, models.NewError(models.ErrSerialization, "building bedrock request", err)
	}

	var out *bedrockruntime.ConverseOutput
	breakerErr := p.breaker.Execute(ctx, func(ctx context.Context) error {
		result := retry.Do(ctx, p.retryCfg, func() error {
			o, err := p.client.Converse(ctx, req)
			if err != nil {
				if isRetryable(err) {
					return wrapError(err, model)
				}
				return retry.Permanent(wrapError(err, model))
			}
			out = o
			return nil
		})
		return result.Err
	})
	if breakerErr != nil {
		if errors.Is(breakerErr, infra.ErrCircuitOpen) {
			return models.LlmResponse{}, models.NewError(models.ErrServer, "bedrock circuit open", breakerErr)
		}
		if perm, ok := breakerErr.(*retry.PermanentError); ok {
			return models.LlmResponse{}, perm.Unwrap()
		}
		return models.LlmResponse{}, breakerErr
	}

	return fromConverseOutput(out), nil
}

// Stream issues a streaming ConverseStream request.
func (p *Provider) Stream(ctx context.Context, messages []models.Message, opts models.GenerationOptions) (<-chan provider.StreamEvent, error) {
	if err := p.waitForCapacity(ctx); err != nil {
		return nil, err
	}
	model := p.modelFor(opts)
	req, err := buildConverseStreamInput(messages, opts, model)
	if err != nil {
		return nil, models.NewError(models.ErrSerialization, "building bedrock request", err)
	}

	out, err := infra.ExecuteWithResult(p.breaker, ctx, func(ctx context.Context) (*bedrockruntime.ConverseStreamOutput, error) {
		o, err := p.client.ConverseStream(ctx, req)
		if err != nil {
			return nil, wrapError(err, model)
		}
		return o, nil
	})
	if err != nil {
		if errors.Is(err, infra.ErrCircuitOpen) {
			return nil, models.NewError(models.ErrServer, "bedrock circuit open", err)
		}
		return nil, err
	}

	events := make(chan provider.StreamEvent)
	go p.readStream(ctx, out, events, model)
	return events, nil
}

func (p *Provider) readStream(ctx context.Context, out *bedrockruntime.ConverseStreamOutput, events chan<- provider.StreamEvent, model string) {
	defer close(events)

	stream := out.GetStream()
	defer stream.Close()

	var toolCall *models.ToolCall
	var toolInput strings.Builder

	for {
		select {
		case <-ctx.Done():
			events <- provider.StreamEvent{Err: models.NewError(models.ErrCancellation, "stream cancelled", ctx.Err())}
			return
		case event, ok := <-stream.Events():
			if !ok {
				if toolCall != nil {
					toolCall.FunctionArguments = toolInput.String()
					events <- provider.StreamEvent{Response: models.LlmResponse{ToolCalls: []models.ToolCall{*toolCall}}}
				}
				if err := stream.Err(); err != nil {
					events <- provider.StreamEvent{Err: wrapError(err, model)}
				}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					toolCall = &models.ToolCall{
						ID:           aws.ToString(toolUse.Value.ToolUseId),
						FunctionName: aws.ToString(toolUse.Value.Name),
						Kind:         models.ToolCallFunction,
					}
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						events <- provider.StreamEvent{Response: models.LlmResponse{Content: models.NewTextContent(delta.Value)}}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if toolCall != nil {
					toolCall.FunctionArguments = toolInput.String()
					events <- provider.StreamEvent{Response: models.LlmResponse{ToolCalls: []models.ToolCall{*toolCall}}}
					toolCall = nil
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				events <- provider.StreamEvent{Response: models.LlmResponse{FinishReason: string(ev.Value.StopReason)}}
				return

			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					events <- provider.StreamEvent{Response: models.LlmResponse{
						Usage: models.Usage{
							PromptTokens:     int(aws.ToInt32(ev.Value.Usage.InputTokens)),
							CompletionTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
							TotalTokens:      int(aws.ToInt32(ev.Value.Usage.TotalTokens)),
						},
					}}
				}
			}
		}
	}
}

// Close is a no-op: the underlying bedrockruntime.Client pools its own HTTP
// transport and needs no explicit teardown.
func (p *Provider) Close() error { return nil }

// Name identifies this provider implementation for logging and metrics.
func (p *Provider) Name() string { return "bedrock" }

// ListFoundationModels reports the models Bedrock's control plane makes
// available in this account/region, via the same AWS config used to build
// the inference client.
func (p *Provider) ListFoundationModels(ctx context.Context) ([]FoundationModel, error) {
	return ListFoundationModels(ctx, p.control)
}
