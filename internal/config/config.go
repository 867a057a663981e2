// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every setting recognized by any of the pipeline's
// processes. A given process only reads the fields it needs.
type Config struct {
	Env      string
	LogLevel string

	IngressPort int
	AdminPort   int

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	OutboxMaxAttempts      int
	OutboxPollInterval     time.Duration
	SchedulerTickPeriod    time.Duration
	RetentionDays          int
	RetentionSweepInterval time.Duration

	EmailWebhookSecret string
	ChatAppSecret      string
	ChatVerifyToken    string

	AWSRegion    string
	SESFromEmail string
	SNSTopicARN  string

	ExtractorKey     string
	ExtractorBaseURL string
	ExtractorModel   string
	SendTimeoutSecs  int
}

// Load reads configuration from the environment, applying the defaults
// documented in the operations manual.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      "development",
		LogLevel: "info",

		IngressPort: 8080,
		AdminPort:   8090,

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "nudge",
		DBName:    "nudge",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,
		RedisDB:   0,

		OutboxMaxAttempts:      5,
		OutboxPollInterval:     5 * time.Second,
		SchedulerTickPeriod:    1 * time.Minute,
		RetentionDays:          60,
		RetentionSweepInterval: 24 * time.Hour,

		AWSRegion:       "us-east-1",
		SESFromEmail:    "noreply@nudge.local",
		ExtractorModel:  "gpt-4o-mini",
		SendTimeoutSecs: 30,
	}

	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("INGRESS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid INGRESS_PORT: %w", err)
		}
		cfg.IngressPort = p
	}
	if v := os.Getenv("ADMIN_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_PORT: %w", err)
		}
		cfg.AdminPort = p
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DBHost = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DBUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DBPassword = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DBName = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.DBSSLMode = v
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.RedisHost = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if v := os.Getenv("OUTBOX_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OUTBOX_MAX_ATTEMPTS: %w", err)
		}
		cfg.OutboxMaxAttempts = n
	}
	if v := os.Getenv("OUTBOX_POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OUTBOX_POLL_INTERVAL_MS: %w", err)
		}
		cfg.OutboxPollInterval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("SCHEDULER_TICK_PERIOD_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_TICK_PERIOD_MS: %w", err)
		}
		cfg.SchedulerTickPeriod = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RETENTION_DAYS: %w", err)
		}
		cfg.RetentionDays = n
	}
	if v := os.Getenv("RETENTION_SWEEP_INTERVAL_HOURS"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RETENTION_SWEEP_INTERVAL_HOURS: %w", err)
		}
		cfg.RetentionSweepInterval = time.Duration(h) * time.Hour
	}

	cfg.EmailWebhookSecret = os.Getenv("EMAIL_WEBHOOK_SECRET")
	cfg.ChatAppSecret = os.Getenv("CHAT_APP_SECRET")
	cfg.ChatVerifyToken = os.Getenv("CHAT_VERIFY_TOKEN")

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWSRegion = v
	}
	if v := os.Getenv("SES_FROM_EMAIL"); v != "" {
		cfg.SESFromEmail = v
	}
	if v := os.Getenv("SNS_TOPIC_ARN"); v != "" {
		cfg.SNSTopicARN = v
	}

	cfg.ExtractorKey = os.Getenv("EXTRACTOR_KEY")
	if v := os.Getenv("EXTRACTOR_BASE_URL"); v != "" {
		cfg.ExtractorBaseURL = v
	}
	if v := os.Getenv("EXTRACTOR_MODEL"); v != "" {
		cfg.ExtractorModel = v
	}
	if v := os.Getenv("SEND_TIMEOUT_SECS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SEND_TIMEOUT_SECS: %w", err)
		}
		cfg.SendTimeoutSecs = n
	}

	return cfg, nil
}
