// Package httpapi implements the HTTP entrypoint (C11): wiring every core
// component into a gin.Engine exposing the routes SPEC_FULL §6 describes.
package httpapi

import (
	"net/http"

	"github.com/daoch4n/claude-any-router-proxy/pkg/cache"
	"github.com/daoch4n/claude-any-router-proxy/pkg/config"
	"github.com/daoch4n/claude-any-router-proxy/pkg/dispatch"
	"github.com/daoch4n/claude-any-router-proxy/pkg/logging"
	"github.com/daoch4n/claude-any-router-proxy/pkg/mapping"
	"github.com/daoch4n/claude-any-router-proxy/pkg/metrics"
	"github.com/daoch4n/claude-any-router-proxy/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
)

// Server bundles every collaborator a request handler needs. cmd/proxy
// constructs exactly one of these at boot.
type Server struct {
	Config     *config.ProxyConfig
	Mapper     *mapping.Mapper
	Dispatcher *dispatch.Dispatcher
	Cache      *cache.Cache
	Metrics    *metrics.Registry
	Log        logging.Logger
	Telemetry  *telemetry.Settings
}

// NewRouter builds the gin.Engine serving every route in SPEC_FULL §6.
func (s *Server) NewRouter() *gin.Engine {
	if s.Log == nil {
		s.Log = logging.NoopLogger{}
	}
	r := gin.New()
	r.Use(s.corsMiddleware(), s.correlationMiddleware(), s.metricsMiddleware(), s.recoveryMiddleware())

	r.GET("/health", s.handleHealth)
	r.GET("/v1/cache/stats", s.handleCacheStats)
	r.DELETE("/v1/cache", s.handleCacheInvalidate)

	r.POST("/v1/messages", s.handleMessages)
	r.POST("/v1/messages/count_tokens", s.handleCountTokens)
	r.POST("/v1/cache/messages", s.handleCacheMessages)
	r.POST("/v1/streaming/messages", s.handleStreamingMessages)

	return r
}

// corsMiddleware adapts go-chi/cors, a standard net/http middleware, into
// gin's handler chain rather than hand-rolling CORS headers.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	mw := cors.Handler(cors.Options{
		AllowedOrigins:   s.Config.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})
	return func(c *gin.Context) {
		mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)
	}
}
