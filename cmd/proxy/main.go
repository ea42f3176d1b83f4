// Command proxy runs the HTTP entrypoint (C11): it loads configuration,
// constructs the core's collaborators, wires them into a gin.Engine, and
// serves it with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daoch4n/claude-any-router-proxy/pkg/cache"
	"github.com/daoch4n/claude-any-router-proxy/pkg/config"
	"github.com/daoch4n/claude-any-router-proxy/pkg/dispatch"
	"github.com/daoch4n/claude-any-router-proxy/pkg/httpapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/logging"
	"github.com/daoch4n/claude-any-router-proxy/pkg/mapping"
	"github.com/daoch4n/claude-any-router-proxy/pkg/metrics"
	"github.com/daoch4n/claude-any-router-proxy/pkg/telemetry"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load(os.LookupEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "proxy: config:", err)
		os.Exit(1)
	}

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	log := logging.NewSlogLogger(logging.LevelFromString(cfg.LogLevel))
	ctx := context.Background()

	telemetrySettings := telemetry.DefaultSettings()
	if cfg.TelemetryEnabled {
		provider, err := telemetry.NewProvider(ctx, "claude-any-router-proxy", cfg.TelemetryEndpoint, cfg.TelemetryInsecure)
		if err != nil {
			log.Error(ctx, "telemetry: provider init failed, continuing without tracing", logging.F("error", err.Error()))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := provider.Shutdown(shutdownCtx); err != nil {
					log.Error(ctx, "telemetry: provider shutdown error", logging.F("error", err.Error()))
				}
			}()
			telemetrySettings = telemetrySettings.WithEnabled(true).WithTracer(provider.Tracer())
		}
	}

	mapper := mapping.New(cfg.BigModel, cfg.SmallModel)
	reg := metrics.New()
	disp := dispatch.NewWithTelemetry(cfg, reg, telemetrySettings)
	ch := cache.New(cache.Config{
		MaxEntries:      cfg.CacheMaxEntries,
		MaxBytes:        int64(cfg.CacheMaxSizeMB) * 1024 * 1024,
		DefaultTTL:      cfg.CacheDefaultTTL,
		CleanupInterval: cfg.CacheCleanupInterval,
		ReplayDelay:     50 * time.Millisecond,
	}, log)
	defer ch.Close()

	srv := &httpapi.Server{
		Config:     cfg,
		Mapper:     mapper,
		Dispatcher: disp,
		Cache:      ch,
		Metrics:    reg,
		Log:        log,
		Telemetry:  telemetrySettings,
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.NewRouter(),
	}

	log.Info(ctx, "proxy listening", logging.F("addr", cfg.ListenAddr), logging.F("backend", string(cfg.Backend)))

	errc := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil {
			log.Error(ctx, "proxy listener failed", logging.F("error", err.Error()))
			os.Exit(1)
		}
	case sig := <-sigc:
		log.Info(ctx, "proxy shutting down", logging.F("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "proxy shutdown error", logging.F("error", err.Error()))
			os.Exit(1)
		}
	}
}
