package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"fintrack/internal/log"
	"fintrack/internal/rollover"
)

type Config struct {
	// Database
	SQLiteDBPath string

	// AMQP; an empty URL disables event publishing.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Worker schedules (cron expressions, descriptors like @every 5m allowed)
	RecurringSchedule string
	RolloverSchedule  string
	AlertSchedule     string
	WorkerConcurrency int

	// Engine
	RolloverPolicy        string
	ForecastHorizonMonths int
	AveragesWindowMonths  int
	AlertPolicyFile       string

	// Payoff projection cache
	PayoffCacheSize int
	PayoffCacheTTL  time.Duration

	LogLevel string
}

func Load() *Config {
	return &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/fintrack.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "fintrack"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "fintrack_events"),

		RecurringSchedule: getEnv("RECURRING_SCHEDULE", "@every 5m"),
		RolloverSchedule:  getEnv("ROLLOVER_SCHEDULE", "@hourly"),
		AlertSchedule:     getEnv("ALERT_SCHEDULE", "@every 10m"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),

		RolloverPolicy:        getEnv("ROLLOVER_POLICY", string(rollover.DefaultPolicy)),
		ForecastHorizonMonths: getEnvInt("FORECAST_HORIZON_MONTHS", 6),
		AveragesWindowMonths:  getEnvInt("AVERAGES_WINDOW_MONTHS", 3),
		AlertPolicyFile:       getEnv("ALERT_POLICY_FILE", ""),

		PayoffCacheSize: getEnvInt("PAYOFF_CACHE_SIZE", 256),
		PayoffCacheTTL:  getEnvDuration("PAYOFF_CACHE_TTL", 10*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate validates the configuration and returns an error listing every problem.
func (c *Config) Validate() error {
	var errors []string

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	schedules := []struct{ name, expr string }{
		{"RECURRING_SCHEDULE", c.RecurringSchedule},
		{"ROLLOVER_SCHEDULE", c.RolloverSchedule},
		{"ALERT_SCHEDULE", c.AlertSchedule},
	}
	for _, s := range schedules {
		if _, err := scheduleParser.Parse(s.expr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': %v", s.name, s.expr, err))
		}
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid worker concurrency %d: must be between 1 and 64", c.WorkerConcurrency))
	}

	if _, err := rollover.ParsePolicy(c.RolloverPolicy); err != nil {
		errors = append(errors, fmt.Sprintf("invalid rollover policy '%s': must be 'carry' or 'floor'", c.RolloverPolicy))
	}

	if c.ForecastHorizonMonths < 1 || c.ForecastHorizonMonths > 120 {
		errors = append(errors, fmt.Sprintf("invalid forecast horizon %d: must be between 1 and 120 months", c.ForecastHorizonMonths))
	}
	if c.AveragesWindowMonths < 1 || c.AveragesWindowMonths > 36 {
		errors = append(errors, fmt.Sprintf("invalid averages window %d: must be between 1 and 36 months", c.AveragesWindowMonths))
	}

	if c.AlertPolicyFile != "" {
		if _, err := os.Stat(c.AlertPolicyFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("alert policy file does not exist: %s", c.AlertPolicyFile))
		}
	}

	if c.PayoffCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid payoff cache size %d: must be at least 1", c.PayoffCacheSize))
	}
	if c.PayoffCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid payoff cache TTL %v: must be at least 1 second", c.PayoffCacheTTL))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// Policy returns the parsed rollover policy. Call after Validate.
func (c *Config) Policy() rollover.Policy {
	p, err := rollover.ParsePolicy(c.RolloverPolicy)
	if err != nil {
		return rollover.DefaultPolicy
	}
	return p
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
