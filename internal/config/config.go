// Package config loads flagwatch configuration from FLAGWATCH_* environment
// variables, optionally seeded from a .env file.
//
// Required variables:
//   - FLAGWATCH_SERVER_URL: base URL of the flagz server.
//   - FLAGWATCH_API_KEY: client id sent as the bearer token.
//
// FLAGWATCH_CACHE selects the persistent flag cache ("none", "postgres" or
// "redis") and then requires FLAGWATCH_DATABASE_URL or FLAGWATCH_REDIS_URL.
// OTEL_EXPORTER_OTLP_ENDPOINT and OTEL_SERVICE_NAME are read with or without
// the prefix.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/matt-riley/flagbind"
)

const envPrefix = "FLAGWATCH"

// Cache backends.
const (
	CacheNone     = "none"
	CachePostgres = "postgres"
	CacheRedis    = "redis"
)

// Config holds the runtime configuration for flagwatch.
type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080" validate:"required"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`

	ServerURL string `envconfig:"SERVER_URL" validate:"required,url"`
	APIKey    string `envconfig:"API_KEY" validate:"required"`

	ContextKind string            `envconfig:"CONTEXT_KIND" default:"user" validate:"required"`
	ContextKey  string            `envconfig:"CONTEXT_KEY"`
	Attributes  map[string]string `envconfig:"CONTEXT_ATTRIBUTES"`

	TargetFlags        []string      `envconfig:"TARGET_FLAGS"`
	KeepOriginalKeys   bool          `envconfig:"KEEP_ORIGINAL_KEYS"`
	InitTimeout        time.Duration `envconfig:"INIT_TIMEOUT" default:"5s" validate:"gte=0"`
	BootstrapFromCache bool          `envconfig:"BOOTSTRAP_FROM_CACHE"`

	Cache       string        `envconfig:"CACHE" default:"none" validate:"oneof=none postgres redis"`
	DatabaseURL string        `envconfig:"DATABASE_URL" validate:"required_if=Cache postgres"`
	RedisURL    string        `envconfig:"REDIS_URL" validate:"required_if=Cache redis"`
	RedisTTL    time.Duration `envconfig:"REDIS_TTL" default:"168h" validate:"gte=0"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"flagwatch"`
}

// Load reads envFiles (default ".env", ignored when missing) into the
// environment without overriding it, then processes and validates Config.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints with go-playground/validator.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// EvalContext builds the evaluation context flagwatch identifies as. An
// empty key yields an anonymous context.
func (c Config) EvalContext() flagbind.EvalContext {
	ec := flagbind.EvalContext{
		Kind:      c.ContextKind,
		Key:       strings.TrimSpace(c.ContextKey),
		Anonymous: strings.TrimSpace(c.ContextKey) == "",
	}
	if len(c.Attributes) > 0 {
		ec.Attributes = make(map[string]any, len(c.Attributes))
		for k, v := range c.Attributes {
			ec.Attributes[k] = v
		}
	}
	return ec
}

// LogValue omits the API key and connection strings.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("http_addr", c.HTTPAddr),
		slog.String("server_url", c.ServerURL),
		slog.String("context_kind", c.ContextKind),
		slog.Bool("anonymous", strings.TrimSpace(c.ContextKey) == ""),
		slog.Int("target_flags", len(c.TargetFlags)),
		slog.Duration("init_timeout", c.InitTimeout),
		slog.String("cache", c.Cache),
		slog.Bool("tracing", c.OTLPEndpoint != ""),
	)
}
