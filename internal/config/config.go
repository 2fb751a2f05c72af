package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends accepted in STORE_BACKEND.
const (
	StoreNone   = "none"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	Port        string `env:"PORT"        envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	RawLogLevel string `env:"LOG_LEVEL"   envDefault:"info"`

	// LogLevel is derived from RawLogLevel by Load.
	LogLevel slog.Level

	LLMProvider       string        `env:"LLM_PROVIDER"        envDefault:"openai"`
	ModelName         string        `env:"MODEL_NAME"          envDefault:"gpt-4.1-mini"`
	EpilogueModelName string        `env:"EPILOGUE_MODEL_NAME"`
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	AnthropicAPIKey   string        `env:"ANTHROPIC_API_KEY"`
	OllamaURL         string        `env:"OLLAMA_URL"`
	LLMTemperature    float64       `env:"LLM_TEMPERATURE"     envDefault:"0.8"`
	LLMMaxTokens      int           `env:"LLM_MAX_TOKENS"      envDefault:"600"`
	LLMTimeout        time.Duration `env:"LLM_TIMEOUT"         envDefault:"30s"`
	LLMJSONMode       bool          `env:"LLM_JSON_MODE"       envDefault:"true"`

	StoreBackend string        `env:"STORE_BACKEND" envDefault:"none"`
	RedisURL     string        `env:"REDIS_URL"     envDefault:"localhost:6379"`
	SQLitePath   string        `env:"SQLITE_PATH"   envDefault:"./data/trpg.db"`
	SessionTTL   time.Duration `env:"SESSION_TTL"   envDefault:"2h"`

	ScenarioPath   string `env:"SCENARIO_PATH"`
	HistoryLimit   int    `env:"HISTORY_LIMIT"   envDefault:"8"`
	GuestbookLimit int    `env:"GUESTBOOK_LIMIT" envDefault:"20"`
	// GuestbookBlocklist adds comma-separated words to the scenario's
	// guestbook filter.
	GuestbookBlocklist []string `env:"GUESTBOOK_BLOCKLIST" envSeparator:","`

	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:8080"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.LogLevel = parseLogLevel(c.RawLogLevel)
	if c.EpilogueModelName == "" {
		c.EpilogueModelName = c.ModelName
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when LLM_PROVIDER=openai"))
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic"))
		}
	case "ollama", "mock":
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider))
	}
	if c.ModelName == "" && c.LLMProvider != "mock" {
		errs = append(errs, errors.New("MODEL_NAME cannot be empty"))
	}
	switch c.StoreBackend {
	case StoreNone, StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL cannot be empty when STORE_BACKEND=redis"))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH cannot be empty when STORE_BACKEND=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend))
	}
	if c.LLMMaxTokens <= 0 {
		errs = append(errs, errors.New("LLM_MAX_TOKENS must be > 0"))
	}
	if c.HistoryLimit < 2 {
		errs = append(errs, errors.New("HISTORY_LIMIT must be >= 2"))
	}
	if c.GuestbookLimit <= 0 {
		errs = append(errs, errors.New("GUESTBOOK_LIMIT must be > 0"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be > 0"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether logs should be structured JSON.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
