package httpapi

import (
	"errors"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/dispatch"
	"github.com/gin-gonic/gin"
)

func writeError(c *gin.Context, errType anthropicapi.ErrorType, message string) {
	env := anthropicapi.NewErrorEnvelope(errType, message)
	c.JSON(anthropicapi.HTTPStatusForErrorType(errType), env)
}

// writeDispatchError translates a dispatcher error into the Anthropic error
// envelope per SPEC_FULL §7's UpstreamStatusError mapping: a *StatusError
// carries the upstream's status through as best-effort translation; any
// other error (network failure, context cancellation, retries exhausted) is
// surfaced as a 500 api_error.
func writeDispatchError(c *gin.Context, err error) {
	var statusErr *dispatch.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 429:
			writeError(c, anthropicapi.ErrTypeRateLimit, string(statusErr.Body))
		case statusErr.StatusCode == 401:
			writeError(c, anthropicapi.ErrTypeAuthentication, string(statusErr.Body))
		case statusErr.StatusCode == 403:
			writeError(c, anthropicapi.ErrTypePermission, string(statusErr.Body))
		case statusErr.StatusCode == 404:
			writeError(c, anthropicapi.ErrTypeNotFound, string(statusErr.Body))
		case statusErr.StatusCode >= 500:
			writeError(c, anthropicapi.ErrTypeOverloaded, string(statusErr.Body))
		default:
			writeError(c, anthropicapi.ErrTypeInvalidRequest, string(statusErr.Body))
		}
		return
	}
	writeError(c, anthropicapi.ErrTypeAPIError, err.Error())
}
