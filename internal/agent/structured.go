package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaychat/relay/pkg/models"
)

const defaultStructuredMaxRetries = 3

// StructuredOpts configures AskStructured's self-correction retry loop.
type StructuredOpts struct {
	PrepareOpts PrepareOpts
	GenOpts     models.GenerationOptions

	// MaxRetries bounds correction attempts after the first deserialization
	// failure. <= 0 applies the default of 3.
	MaxRetries int
}

// AskStructured issues a normal Ask, sanitizes the response with
// ExtractJSON, and deserializes it into T. On deserialization failure it
// synthesizes a correction prompt and re-queries the provider directly
// (bypassing memory) at a forced low temperature, retrying up to
// MaxRetries times before giving up. Any non-deserialization error from
// Ask or the provider propagates immediately, bypassing the retry loop.
func AskStructured[T any](ctx context.Context, s *Scope, input string, opts StructuredOpts) (T, error) {
	var zero T
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultStructuredMaxRetries
	}

	last, err := s.Ask(ctx, input, opts.PrepareOpts, opts.GenOpts)
	if err != nil {
		return zero, err
	}

	for attempt := 0; ; attempt++ {
		value, parseErr := deserializeStructured[T](last)
		if parseErr == nil {
			if attempt > 0 && s.client.metrics != nil {
				s.client.metrics.RecordStructuredCorrection(true)
			}
			return value, nil
		}
		if attempt >= maxRetries {
			if s.client.metrics != nil {
				s.client.metrics.RecordStructuredCorrection(false)
			}
			return zero, models.NewError(models.ErrSerialization, "structured output did not deserialize after retries", parseErr)
		}

		correction := fmt.Sprintf("Previous JSON invalid: %s. Return ONLY JSON. Original content: %s", parseErr.Error(), last)
		temp := 0.1
		correctionOpts := opts.GenOpts
		correctionOpts.Temperature = &temp

		resp, err := s.client.provider.Chat(ctx, []models.Message{
			{Role: models.RoleUser, Content: models.NewTextContent(correction)},
		}, correctionOpts)
		if err != nil {
			return zero, err
		}
		last = resp.Content.String()
	}
}

func deserializeStructured[T any](raw string) (T, error) {
	var value T
	cleaned := ExtractJSON(raw)
	if err := json.Unmarshal([]byte(cleaned), &value); err != nil {
		return value, models.NewError(models.ErrSerialization, "invalid structured output JSON", err)
	}
	return value, nil
}
