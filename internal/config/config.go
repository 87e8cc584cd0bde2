// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Evaluation backend.
	BackendURL     string
	BackendToken   string
	BackendTimeout time.Duration

	// Run journal.
	JournalDriver        string // "sqlite", "postgres" or "none"
	JournalPath          string
	DatabaseURL          string
	JournalFlushInterval time.Duration
	JournalBatchSize     int

	// Query cache.
	CacheTTL time.Duration

	// Rate limiting.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Auth. An empty APIKeyHash disables authentication.
	APIKeyHash        string
	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiration     time.Duration

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Run defaults offered to operators.
	DefaultModels      []string
	DefaultConcurrency int

	LogLevel string
}

// Load reads configuration from environment variables with defaults. Every
// malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		errs = append(errs, err)
		return v
	}
	floatVar := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		errs = append(errs, err)
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := envBool(key, def)
		errs = append(errs, err)
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		errs = append(errs, err)
		return v
	}

	cfg := Config{
		Port:                 intVar("SKILLCHECK_PORT", 8080),
		ReadTimeout:          durVar("SKILLCHECK_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:         durVar("SKILLCHECK_WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBodyBytes:  int64(intVar("SKILLCHECK_MAX_REQUEST_BODY_BYTES", 1<<20)),
		BackendURL:           envStr("SKILLCHECK_BACKEND_URL", "http://localhost:8000"),
		BackendToken:         envStr("SKILLCHECK_BACKEND_TOKEN", ""),
		BackendTimeout:       durVar("SKILLCHECK_BACKEND_TIMEOUT", 30*time.Second),
		JournalDriver:        envStr("SKILLCHECK_JOURNAL_DRIVER", "sqlite"),
		JournalPath:          envStr("SKILLCHECK_JOURNAL_PATH", ".skillcheck/journal.db"),
		DatabaseURL:          envStr("DATABASE_URL", ""),
		JournalFlushInterval: durVar("SKILLCHECK_JOURNAL_FLUSH_INTERVAL", time.Second),
		JournalBatchSize:     intVar("SKILLCHECK_JOURNAL_BATCH_SIZE", 100),
		CacheTTL:             durVar("SKILLCHECK_CACHE_TTL", 30*time.Second),
		RateLimitEnabled:     boolVar("SKILLCHECK_RATE_LIMIT_ENABLED", true),
		RateLimitRPS:         floatVar("SKILLCHECK_RATE_LIMIT_RPS", 1),
		RateLimitBurst:       intVar("SKILLCHECK_RATE_LIMIT_BURST", 5),
		APIKeyHash:           envStr("SKILLCHECK_API_KEY_HASH", ""),
		JWTPrivateKeyPath:    envStr("SKILLCHECK_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:     envStr("SKILLCHECK_JWT_PUBLIC_KEY", ""),
		JWTExpiration:        durVar("SKILLCHECK_JWT_EXPIRATION", 12*time.Hour),
		OTELEndpoint:         envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:          envStr("OTEL_SERVICE_NAME", "skillcheck"),
		OTELInsecure:         boolVar("SKILLCHECK_OTEL_INSECURE", false),
		DefaultModels:        envList("SKILLCHECK_DEFAULT_MODELS", []string{"sonnet", "opus", "haiku"}),
		DefaultConcurrency:   intVar("SKILLCHECK_DEFAULT_CONCURRENCY", model.DefaultConcurrency),
		LogLevel:             envStr("SKILLCHECK_LOG_LEVEL", "info"),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	if c.Port <= 0 || c.Port > 65535 {
		add("SKILLCHECK_PORT must be between 1 and 65535")
	}
	if c.MaxRequestBodyBytes <= 0 {
		add("SKILLCHECK_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if u, err := url.Parse(c.BackendURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("SKILLCHECK_BACKEND_URL must be an absolute http(s) URL, got %q", c.BackendURL)
	}
	if c.BackendTimeout <= 0 {
		add("SKILLCHECK_BACKEND_TIMEOUT must be positive")
	}
	switch c.JournalDriver {
	case "sqlite":
		if c.JournalPath == "" {
			add("SKILLCHECK_JOURNAL_PATH is required for the sqlite journal")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			add("DATABASE_URL is required for the postgres journal")
		}
	case "none":
	default:
		add("SKILLCHECK_JOURNAL_DRIVER must be sqlite, postgres or none, got %q", c.JournalDriver)
	}
	if c.JournalBatchSize <= 0 {
		add("SKILLCHECK_JOURNAL_BATCH_SIZE must be positive")
	}
	if c.JournalFlushInterval <= 0 {
		add("SKILLCHECK_JOURNAL_FLUSH_INTERVAL must be positive")
	}
	if c.CacheTTL < 0 {
		add("SKILLCHECK_CACHE_TTL must not be negative")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		add("SKILLCHECK_RATE_LIMIT_RPS and SKILLCHECK_RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		add("SKILLCHECK_JWT_PRIVATE_KEY and SKILLCHECK_JWT_PUBLIC_KEY must be set together")
	}
	if c.JWTExpiration <= 0 {
		add("SKILLCHECK_JWT_EXPIRATION must be positive")
	}
	if len(c.DefaultModels) == 0 {
		add("SKILLCHECK_DEFAULT_MODELS must name at least one model")
	}
	if c.DefaultConcurrency < model.MinConcurrency || c.DefaultConcurrency > model.MaxConcurrency {
		add("SKILLCHECK_DEFAULT_CONCURRENCY must be between %d and %d", model.MinConcurrency, model.MaxConcurrency)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		add("SKILLCHECK_LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return errors.Join(errs...)
}

// AuthEnabled reports whether requests must carry a token.
func (c Config) AuthEnabled() bool {
	return c.APIKeyHash != ""
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
