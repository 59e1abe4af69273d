package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	NotificationStorePostgres = "postgres"
	NotificationStoreRedis    = "redis"

	UsageBackendPostgres = "postgres"
	UsageBackendSQLite   = "sqlite"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppBaseURL  string `env:"APP_BASE_URL" envDefault:""`

	CreditDeductionEnabled bool `env:"CREDIT_DEDUCTION_ENABLED" envDefault:"true"`
	AdjustMaxRetries       int  `env:"ADJUST_MAX_RETRIES" envDefault:"3"`
	ReservationTTLMinutes  int  `env:"RESERVATION_TTL_MINUTES" envDefault:"15"`

	ReservationSweepSchedule string `env:"RESERVATION_SWEEP_SCHEDULE" envDefault:"@every 5m"`

	NotificationStore           string `env:"NOTIFICATION_STORE" envDefault:"postgres"`
	NotificationCooldownMinutes int    `env:"NOTIFICATION_COOLDOWN_MINUTES" envDefault:"60"`

	UsageBackend    string `env:"USAGE_BACKEND" envDefault:"postgres"`
	UsageSQLitePath string `env:"USAGE_SQLITE_PATH" envDefault:"usage.db"`

	PricingFile string `env:"PRICING_FILE"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"billing@helpmaton.local"`

	OperatorTokenHash string `env:"OPERATOR_TOKEN_HASH"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLMinutes) * time.Minute
}

func (c *Config) NotificationCooldown() time.Duration {
	return time.Duration(c.NotificationCooldownMinutes) * time.Minute
}

func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func (c *Config) Validate(isProduction bool) error {
	if c.OperatorTokenHash != "" {
		if !strings.HasPrefix(c.OperatorTokenHash, "$2a$") &&
			!strings.HasPrefix(c.OperatorTokenHash, "$2b$") &&
			!strings.HasPrefix(c.OperatorTokenHash, "$2y$") {
			return fmt.Errorf("OPERATOR_TOKEN_HASH must be a bcrypt hash (generate with: go run scripts/hash-token.go <token>)")
		}
	}

	switch c.NotificationStore {
	case NotificationStorePostgres:
	case NotificationStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when NOTIFICATION_STORE=redis")
		}
	default:
		return fmt.Errorf("NOTIFICATION_STORE must be %q or %q", NotificationStorePostgres, NotificationStoreRedis)
	}

	switch c.UsageBackend {
	case UsageBackendPostgres, UsageBackendSQLite:
	default:
		return fmt.Errorf("USAGE_BACKEND must be %q or %q", UsageBackendPostgres, UsageBackendSQLite)
	}

	if c.NotificationCooldownMinutes <= 0 {
		return fmt.Errorf("NOTIFICATION_COOLDOWN_MINUTES must be positive")
	}
	if c.AdjustMaxRetries < 0 {
		return fmt.Errorf("ADJUST_MAX_RETRIES must not be negative")
	}
	if c.ReservationTTLMinutes <= 0 {
		return fmt.Errorf("RESERVATION_TTL_MINUTES must be positive")
	}

	if isProduction {
		if c.OperatorTokenHash == "" {
			return fmt.Errorf("OPERATOR_TOKEN_HASH is required in production")
		}
		if !c.SMTPEnabled() {
			log.Warn().Msg("SMTP_HOST is empty in production: owner notifications will only be logged")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if !c.CreditDeductionEnabled {
			log.Warn().Msg("CREDIT_DEDUCTION_ENABLED is false in production: usage will not be charged")
		}
	}

	return nil
}

// Load reads an optional .env file, then the environment. Values already
// set in the environment win over the file.
func Load() (*Config, error) {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		log.Info().Str("file", envFile).Msg("Loaded env file")
	} else if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
