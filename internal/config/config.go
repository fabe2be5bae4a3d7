package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	DatabaseDriver string `env:"DATABASE_DRIVER,default=sqlite"`
	DatabaseDSN    string `env:"DATABASE_DSN,default=data/investors.db"`
	RedisURL       string `env:"REDIS_URL"`
	RabbitMQURL    string `env:"RABBITMQ_URL"`

	SchedulerInterval     time.Duration `env:"SCHEDULER_INTERVAL,default=1m"`
	SchedulerAcquireGrace time.Duration `env:"SCHEDULER_ACQUIRE_GRACE,default=0s"`
	SendInterval          time.Duration `env:"SEND_INTERVAL,default=1500ms"`
	DailySendLimit        int           `env:"DAILY_SEND_LIMIT,default=500"`

	GmailTokenFile   string `env:"GMAIL_TOKEN_FILE,default=data/gmail_token.json"`
	GmailAPIBaseURL  string `env:"GMAIL_API_BASE_URL,default=https://gmail.googleapis.com"`
	SMTPHost         string `env:"SMTP_HOST,default=smtp.gmail.com"`
	SMTPPort         int    `env:"SMTP_PORT,default=587"`
	TrackingPixelURL string `env:"TRACKING_PIXEL_URL"`

	APIPort   int    `env:"API_PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive, got %s", c.SchedulerInterval)
	}
	if c.SchedulerAcquireGrace < 0 {
		return fmt.Errorf("SCHEDULER_ACQUIRE_GRACE must not be negative, got %s", c.SchedulerAcquireGrace)
	}
	if c.SendInterval < 0 {
		return fmt.Errorf("SEND_INTERVAL must not be negative, got %s", c.SendInterval)
	}
	if c.DailySendLimit < 0 {
		return fmt.Errorf("DAILY_SEND_LIMIT must not be negative, got %d", c.DailySendLimit)
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT must be a valid port, got %d", c.APIPort)
	}
	return nil
}
