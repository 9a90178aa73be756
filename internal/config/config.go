// Package config loads server settings from defaults, a .env file, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// ErrMissingAPIKey is returned when no Gemini API key is configured.
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY is required")

// Config holds the server settings. Field tags name the environment keys.
type Config struct {
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`  // Gemini API key
	GeminiBaseURL string `env:"GEMINI_BASE_URL"` // Optional endpoint override, e.g. a proxy
	Model         string `env:"GEMINI_MODEL"`    // Image-capable chat model

	ListenAddr string `env:"LISTEN_ADDR"` // HTTP listen address
	UploadDir  string `env:"UPLOAD_DIR"`  // Uploaded inputs
	OutputDir  string `env:"OUTPUT_DIR"`  // Generated images, served under /images/

	MaxSessions     int           `env:"MAX_SESSIONS"`     // Resident topics before LRU eviction
	MaxUploadBytes  int64         `env:"MAX_UPLOAD_BYTES"` // Multipart body limit
	GenerateTimeout time.Duration `env:"GENERATE_TIMEOUT"` // Per-request generation bound, 0 disables

	LogLevel  string `env:"LOG_LEVEL"`  // debug|info|warn|error
	LogFormat string `env:"LOG_FORMAT"` // text|json
}

// Defaults returns the configuration before .env, environment and flags are applied.
func Defaults() *Config {
	return &Config{
		Model:           "gemini-2.0-flash-exp-image-generation",
		ListenAddr:      "0.0.0.0:8000",
		UploadDir:       "uploads",
		OutputDir:       "outputs",
		MaxSessions:     1024,
		MaxUploadBytes:  32 << 20,
		GenerateTimeout: 5 * time.Minute,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load builds the configuration for the server binary.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()
	return load(args, env.Options{})
}

func load(args []string, opts env.Options) (*Config, error) {
	cfg := Defaults()
	if err := env.Parse(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	fs := flag.NewFlagSet("imagechat-server", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "HTTP listen address")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Gemini model used for generation")
	fs.StringVar(&cfg.GeminiBaseURL, "gemini-base-url", cfg.GeminiBaseURL, "override the Gemini API endpoint")
	fs.StringVar(&cfg.UploadDir, "upload-dir", cfg.UploadDir, "directory for uploaded images")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory for generated images")
	fs.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "resident topics before least recently used are evicted")
	fs.Int64Var(&cfg.MaxUploadBytes, "max-upload-bytes", cfg.MaxUploadBytes, "maximum multipart request size in bytes")
	fs.DurationVar(&cfg.GenerateTimeout, "generate-timeout", cfg.GenerateTimeout, "bound on one generation, 0 disables")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug|info|warn|error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text|json")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("max sessions must be positive, got %d", c.MaxSessions)
	}
	if c.MaxUploadBytes < 1 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.GenerateTimeout < 0 {
		return fmt.Errorf("generate timeout cannot be negative, got %s", c.GenerateTimeout)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return level, nil
}
