package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Env  string
	Port string

	Webhook   WebhookConfig
	Admin     AdminConfig
	Trigger   TriggerConfig
	RateLimit RateLimitConfig
	GitLab    GitLabConfig
	Pipeline  PipelineConfig
	Redis     RedisConfig
	DB        DBConfig
	OTel      OTelConfig
}

type WebhookConfig struct {
	Secret string
}

type AdminConfig struct {
	Token string
}

type TriggerConfig struct {
	Phrase       string
	BranchPrefix string
	Model        string
}

type RateLimitConfig struct {
	Enabled       bool
	MaxRequests   int
	WindowSeconds int
}

type GitLabConfig struct {
	BaseURL string
	Token   string
}

type PipelineConfig struct {
	CancelStale bool
}

type RedisConfig struct {
	URL string
}

type DBConfig struct {
	// Empty DSN disables the dispatch audit log.
	DSN      string
	MaxConns int32
	MinConns int32
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// Load loads configuration from environment variables. In development
// it first loads a local .env file if one exists.
func Load() (Config, error) {
	if getEnv("BRIDGE_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env:  getEnv("BRIDGE_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		Webhook: WebhookConfig{
			Secret: getEnv("WEBHOOK_SECRET", ""),
		},
		Admin: AdminConfig{
			Token: getEnv("ADMIN_TOKEN", ""),
		},
		Trigger: TriggerConfig{
			Phrase:       getEnv("TRIGGER_PHRASE", "@ai"),
			BranchPrefix: getEnv("BRANCH_PREFIX", "ai"),
			Model:        getEnv("AI_MODEL", "claude-sonnet-4-5"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvBool("RATE_LIMITING_ENABLED", true),
			MaxRequests:   getEnvInt("RATE_LIMIT_MAX", 10),
			WindowSeconds: getEnvInt("RATE_LIMIT_WINDOW", 600),
		},
		GitLab: GitLabConfig{
			BaseURL: getEnv("GITLAB_URL", "https://gitlab.com"),
			Token:   getEnv("GITLAB_TOKEN", ""),
		},
		Pipeline: PipelineConfig{
			CancelStale: getEnvBool("CANCEL_OLD_PIPELINES", false),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		DB: DBConfig{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 5),
			MinConns: getEnvInt32("DB_MIN_CONNS", 1),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "bridge"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
	}

	if cfg.Webhook.Secret == "" {
		return Config{}, fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if cfg.Admin.Token == "" {
		return Config{}, fmt.Errorf("ADMIN_TOKEN is required")
	}
	if cfg.GitLab.Token == "" {
		return Config{}, fmt.Errorf("GITLAB_TOKEN is required")
	}
	if cfg.RateLimit.MaxRequests <= 0 || cfg.RateLimit.WindowSeconds <= 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c DBConfig) Enabled() bool {
	return c.DSN != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
