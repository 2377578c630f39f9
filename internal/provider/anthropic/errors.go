package anthropic

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/relaychat/relay/pkg/models"
)

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// wrapError maps an error returned by the SDK onto our ErrorKind taxonomy.
// The SDK surfaces HTTP failures as *anthropic.Error, carrying the status
// code and raw response body; anything else (network failures, context
// cancellation) falls back to a generic classification.
func wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var oe *models.OrchestrationError
	if errors.As(err, &oe) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Error()
		var errType string
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
				message = payload.Error.Message
				errType = payload.Error.Type
			}
		}
		return models.NewError(classify(apiErr.StatusCode, errType, message), message, err)
	}

	return models.NewError(models.ErrUnknown, "anthropic: "+model+": request failed", err)
}

// classify maps a response's status and error payload onto an ErrorKind. An
// explicit quota/billing signal wins over the status mapping, since the API
// may report exhausted credit with a non-429 status.
func classify(status int, errType, message string) models.ErrorKind {
	if isQuotaError(errType, message) {
		return models.ErrRateLimit
	}
	return kindForStatus(status)
}

func kindForStatus(status int) models.ErrorKind {
	switch {
	case status == 401 || status == 403:
		return models.ErrAuthentication
	case status == 429:
		return models.ErrRateLimit
	case status == 400:
		return models.ErrInvalidRequest
	case status >= 500:
		return models.ErrServer
	default:
		return models.ErrUnknown
	}
}

// isQuotaError reports whether an error payload's type/message signals
// quota or billing exhaustion, which the API may report with a non-429
// status (e.g. a 400 with "credit balance is too low").
func isQuotaError(errType, message string) bool {
	switch strings.ToLower(errType) {
	case "insufficient_quota", "billing_error":
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "billing") ||
		strings.Contains(lower, "credit balance")
}

// isRetryable reports whether a raw SDK error is worth retrying, used
// before we've classified it through wrapError in the retry loop.
func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		kind := kindForStatus(apiErr.StatusCode)
		return kind == models.ErrRateLimit || kind == models.ErrServer || kind == models.ErrUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "deadline exceeded", "connection reset", "connection refused", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
