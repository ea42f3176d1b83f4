// Package config loads and validates the proxy's process-wide configuration
// from environment variables into an immutable ProxyConfig, per SPEC_FULL
// §6 and §10.3. There is no file-based or remote configuration source.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/daoch4n/claude-any-router-proxy/pkg/mapping"
)

// ProxyConfig is the fully resolved, validated process configuration.
// Read-only after Load returns.
type ProxyConfig struct {
	Backend mapping.Backend

	OpenRouterAPIKey string

	DatabricksHost          string
	DatabricksToken         string
	DatabricksBigEndpoint   string
	DatabricksSmallEndpoint string

	BigModel   string
	SmallModel string

	MaxTokensLimit int
	RequestTimeout time.Duration

	CacheMaxEntries       int
	CacheMaxSizeMB        int
	CacheDefaultTTL       time.Duration
	CacheCleanupInterval  time.Duration

	RateLimitPerSecond int
	RateLimitBurst     int

	LogLevel  string
	DebugMode bool

	CORSAllowedOrigins []string
	ListenAddr         string

	TelemetryEnabled  bool
	TelemetryEndpoint string
	TelemetryInsecure bool
}

// Getenv matches os.LookupEnv's signature; Load is parameterized on it so it
// is testable without touching the real process environment.
type Getenv func(key string) (string, bool)

// Load resolves a ProxyConfig from the given environment accessor, applying
// every default enumerated in SPEC_FULL §6 and validating that the fields
// required by the selected backend are present. It never returns a partially
// valid config: either every requirement is met, or it returns an error a
// caller should treat as fatal at boot, before any listener binds.
func Load(getenv Getenv) (*ProxyConfig, error) {
	cfg := &ProxyConfig{
		MaxTokensLimit:       4096,
		RequestTimeout:       300 * time.Second,
		CacheMaxEntries:      1000,
		CacheMaxSizeMB:       500,
		CacheDefaultTTL:      3600 * time.Second,
		CacheCleanupInterval: 300 * time.Second,
		RateLimitPerSecond:   10,
		RateLimitBurst:       20,
		LogLevel:             "info",
		CORSAllowedOrigins:   []string{"*"},
		ListenAddr:           ":8080",
	}

	backend, _ := getenv("PROXY_BACKEND")
	if backend == "" {
		backend = string(mapping.BackendOpenRouter)
	}
	cfg.Backend = mapping.Backend(backend)

	cfg.OpenRouterAPIKey, _ = getenv("OPENROUTER_API_KEY")
	cfg.DatabricksHost, _ = getenv("DATABRICKS_HOST")
	cfg.DatabricksToken, _ = getenv("DATABRICKS_TOKEN")
	cfg.DatabricksBigEndpoint, _ = getenv("DATABRICKS_BIG_ENDPOINT")
	cfg.DatabricksSmallEndpoint, _ = getenv("DATABRICKS_SMALL_ENDPOINT")
	cfg.BigModel, _ = getenv("BIG_MODEL")
	cfg.SmallModel, _ = getenv("SMALL_MODEL")

	if v, ok := getenv("MAX_TOKENS_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MAX_TOKENS_LIMIT must be a positive integer, got %q", v)
		}
		cfg.MaxTokensLimit = n
	}
	if v, ok := getenv("REQUEST_TIMEOUT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("REQUEST_TIMEOUT must be a positive integer (seconds), got %q", v)
		}
		cfg.RequestTimeout = time.Duration(n) * time.Second
	}
	if v, ok := getenv("CACHE_MAX_ENTRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CACHE_MAX_ENTRIES must be a positive integer, got %q", v)
		}
		cfg.CacheMaxEntries = n
	}
	if v, ok := getenv("CACHE_MAX_SIZE_MB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CACHE_MAX_SIZE_MB must be a positive integer, got %q", v)
		}
		cfg.CacheMaxSizeMB = n
	}
	if v, ok := getenv("CACHE_DEFAULT_TTL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CACHE_DEFAULT_TTL must be a positive integer (seconds), got %q", v)
		}
		cfg.CacheDefaultTTL = time.Duration(n) * time.Second
	}
	if v, ok := getenv("CACHE_CLEANUP_INTERVAL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CACHE_CLEANUP_INTERVAL must be a positive integer (seconds), got %q", v)
		}
		cfg.CacheCleanupInterval = time.Duration(n) * time.Second
	}
	if v, ok := getenv("RATE_LIMIT_PER_SECOND"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("RATE_LIMIT_PER_SECOND must be a positive integer, got %q", v)
		}
		cfg.RateLimitPerSecond = n
	}
	if v, ok := getenv("RATE_LIMIT_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("RATE_LIMIT_BURST must be a positive integer, got %q", v)
		}
		cfg.RateLimitBurst = n
	}
	if v, ok := getenv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := getenv("DEBUG_MODE"); ok {
		cfg.DebugMode = v == "1" || v == "true"
	}
	if v, ok := getenv("LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := getenv("CORS_ALLOWED_ORIGINS"); ok {
		cfg.CORSAllowedOrigins = splitComma(v)
	}
	if v, ok := getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		cfg.TelemetryEndpoint = v
	}
	if v, ok := getenv("TELEMETRY_ENABLED"); ok {
		cfg.TelemetryEnabled = v == "1" || v == "true"
	} else {
		cfg.TelemetryEnabled = cfg.TelemetryEndpoint != ""
	}
	if v, ok := getenv("TELEMETRY_INSECURE"); ok {
		cfg.TelemetryInsecure = v == "1" || v == "true"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ProxyConfig) validate() error {
	switch c.Backend {
	case mapping.BackendOpenRouter, mapping.BackendLiteLLMOpenRtr:
		if c.OpenRouterAPIKey == "" {
			return fmt.Errorf("OPENROUTER_API_KEY is required for backend %q", c.Backend)
		}
	case mapping.BackendAzureDatabricks:
		if c.DatabricksHost == "" || c.DatabricksToken == "" {
			return fmt.Errorf("DATABRICKS_HOST and DATABRICKS_TOKEN are required for backend %q", c.Backend)
		}
		if c.DatabricksBigEndpoint == "" || c.DatabricksSmallEndpoint == "" {
			return fmt.Errorf("DATABRICKS_BIG_ENDPOINT and DATABRICKS_SMALL_ENDPOINT are required for backend %q", c.Backend)
		}
	default:
		return fmt.Errorf("unknown PROXY_BACKEND %q", c.Backend)
	}
	return nil
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
