package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/nfrund/filterbridge/internal/pubsub"
)

// Config holds all configuration for the application.
type Config struct {
	Addr      string `env:"FB_ADDR" envDefault:":8080"`
	DBPath    string `env:"FB_DB_PATH" envDefault:"filterbridge.db"`
	BackupDir string `env:"FB_BACKUP_DIR" envDefault:"backups"`
	PagesURL  string `env:"FB_PAGES_URL" envDefault:"http://localhost:8080/pages/"`
	Version   string `env:"FB_VERSION" envDefault:"dev"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	TracingEnabled bool   `env:"FB_TRACING_ENABLED" envDefault:"false"`
	ZipkinURL      string `env:"FB_ZIPKIN_URL" envDefault:"http://localhost:9411/api/v2/spans"`

	// RequestTimeout bounds one one-shot message, including any wait for
	// an engine rebuild.
	RequestTimeout time.Duration `env:"FB_REQUEST_TIMEOUT" envDefault:"30s"`
	// SendBuffer is the per-connection queue length for push notifications.
	SendBuffer int `env:"FB_SEND_BUFFER" envDefault:"256"`
	// AllowedOrigins are the websocket origin patterns accepted besides the
	// request host.
	AllowedOrigins []string `env:"FB_ALLOWED_ORIGINS" envSeparator:","`
}

// Load reads the .env files, when present, and then the environment. With
// no files given it looks for ./.env.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
		slog.Debug("no .env file found, relying on environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that Load cannot default.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("FB_ADDR must not be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("FB_DB_PATH must not be empty"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not text or json", c.LogFormat))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not a known level", c.LogLevel))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("FB_REQUEST_TIMEOUT must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("FB_SEND_BUFFER must be positive"))
	}
	if c.TracingEnabled {
		if u, err := url.Parse(c.ZipkinURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("FB_ZIPKIN_URL %q is not an absolute URL", c.ZipkinURL))
		}
	}
	return errors.Join(errs...)
}

// Tracing returns the tracing settings for the event channel.
func (c *Config) Tracing() pubsub.TracingConfig {
	t := pubsub.DefaultTracingConfig()
	t.Enabled = c.TracingEnabled
	t.ZipkinURL = c.ZipkinURL
	return t
}
