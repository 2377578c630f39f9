package bedrock

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/relaychat/relay/pkg/models"
)

// wrapError maps a Bedrock SDK error onto our ErrorKind taxonomy. The SDK
// surfaces service faults as smithy.APIError; the exception code carries the
// classification. Transport-level failures never reach the smithy layer and
// fall through to ErrUnknown.
func wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var oe *models.OrchestrationError
	if errors.As(err, &oe) {
		return err
	}

	kind := models.ErrUnknown
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		kind = kindForCode(apiErr.ErrorCode())
	}
	if kind != models.ErrRateLimit && isQuotaMessage(err.Error()) {
		kind = models.ErrRateLimit
	}
	return models.NewError(kind, "bedrock: "+model+": "+err.Error(), err)
}

func kindForCode(code string) models.ErrorKind {
	switch code {
	case "AccessDeniedException", "UnauthorizedException", "UnrecognizedClientException":
		return models.ErrAuthentication
	case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
		return models.ErrRateLimit
	case "ValidationException":
		return models.ErrInvalidRequest
	case "ServiceUnavailableException", "InternalServerException", "ModelTimeoutException", "ModelNotReadyException":
		return models.ErrServer
	default:
		return models.ErrUnknown
	}
}

// isQuotaMessage reports whether an error's text signals quota exhaustion
// delivered under an exception code kindForCode doesn't already map to
// RateLimit (e.g. a ValidationException whose message names an exceeded
// on-demand token quota).
func isQuotaMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "billing")
}

func isRetryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch kindForCode(apiErr.ErrorCode()) {
		case models.ErrRateLimit, models.ErrServer:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"timeout", "deadline exceeded", "connection reset", "connection refused",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
