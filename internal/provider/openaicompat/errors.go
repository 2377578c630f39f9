package openaicompat

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/relaychat/relay/pkg/models"
)

// errorKindForStatus maps an HTTP status code to an ErrorKind.
func errorKindForStatus(status int) models.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.ErrAuthentication
	case status == http.StatusTooManyRequests:
		return models.ErrRateLimit
	case status == http.StatusBadRequest:
		return models.ErrInvalidRequest
	case status >= 500:
		return models.ErrServer
	default:
		return models.ErrUnknown
	}
}

// isQuotaError reports whether an error code/message pair signals quota or
// billing exhaustion. OpenAI reports exhausted quota as a 400/429 with code
// "insufficient_quota", and compatible backends vary both the status and the
// exact code, so the message text is checked too.
func isQuotaError(code, message string) bool {
	switch strings.ToLower(code) {
	case "insufficient_quota", "quota_exceeded", "billing_error", "billing_not_active":
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "billing")
}

// newTransportError builds an OrchestrationError from a non-2xx HTTP
// response, preferring the API's own error message when present. An explicit
// quota/billing signal in the error body classifies as RateLimit regardless
// of the HTTP status.
func newTransportError(status int, apiErr *wireAPIError, body []byte) error {
	kind := errorKindForStatus(status)
	msg := fmt.Sprintf("request failed with status %d", status)
	if apiErr != nil {
		if apiErr.Message != "" {
			msg = apiErr.Message
		}
		if isQuotaError(apiErr.Code, apiErr.Message) {
			kind = models.ErrRateLimit
		}
	} else if len(body) > 0 {
		msg = string(body)
	}
	return models.NewError(kind, msg, nil)
}

// newStreamError builds an error from an in-band SSE chunk's error field: a
// properly-framed chunk that carries an error always fails as Server,
// regardless of what the payload's own type/code say.
func newStreamError(apiErr *wireAPIError) error {
	if apiErr == nil {
		return models.NewError(models.ErrServer, "stream reported an unspecified error", nil)
	}
	return models.NewError(models.ErrServer, apiErr.Message, nil)
}

// newUnframedStreamError builds an error from a non-SSE-framed error body
// (a raw `{"error": ...}` line instead of an SSE `data: ` event) — always
// Unknown, since the transport didn't follow the expected framing.
func newUnframedStreamError(apiErr *wireAPIError) error {
	if apiErr == nil {
		return models.NewError(models.ErrUnknown, "malformed stream error payload", nil)
	}
	return models.NewError(models.ErrUnknown, apiErr.Message, nil)
}
