package httpapi

import (
	"net/http"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/logging"
	"github.com/daoch4n/claude-any-router-proxy/pkg/reqctx"
	"github.com/daoch4n/claude-any-router-proxy/pkg/telemetry"
	"github.com/gin-gonic/gin"
)

// correlationMiddleware attaches a fresh RequestContext (C10) to every
// inbound request, echoes its correlation ID back to the caller, and runs
// its registered cleanup hooks once the handler returns.
func (s *Server) correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, rc := reqctx.New(c.Request.Context(), s.Config.DebugMode, telemetry.GetTracer(s.Telemetry))
		ctx = logging.WithCorrelationID(ctx, rc.CorrelationID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Correlation-ID", rc.CorrelationID)
		c.Next()
		rc.Cleanup()
	}
}

// metricsMiddleware records the final status code of every request handled,
// per C14.
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if s.Metrics != nil {
			s.Metrics.IncStatus(c.Writer.Status())
		}
	}
}

// recoveryMiddleware replaces gin's default recovery: a panic in a handler
// is surfaced as an Anthropic-dialect 500 api_error with the request's
// correlation ID attached, and logged at error level, rather than a bare
// stack trace or gin's own plain-text response.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				correlationID := ""
				if rc, ok := reqctx.From(c.Request.Context()); ok {
					correlationID = rc.CorrelationID
				}
				s.Log.Error(c.Request.Context(), "panic recovered in handler",
					logging.F("panic", r), logging.F("correlation_id", correlationID))
				env := anthropicapi.NewErrorEnvelope(anthropicapi.ErrTypeAPIError, "internal server error")
				c.AbortWithStatusJSON(http.StatusInternalServerError, env)
			}
		}()
		c.Next()
	}
}
