// Package cli holds the start-up wiring shared by cmd/fintrack and
// cmd/fintrack-worker.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fintrack/internal/amortize"
	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/config"
	"fintrack/internal/forecast"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

// LoadEnvFile loads a .env file for local development; a missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from LOG_LEVEL and installs it as
// the slog default. An unknown level falls back to info with a warning.
func SetupLogger(component string, out io.Writer) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Component = component
	cfg.Output = out
	level, err := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err == nil {
		cfg.Level = level
	}
	if os.Getenv("LOG_FORMAT") == "json" {
		cfg.Format = "json"
	}
	logger := log.New(cfg)
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Unknown LOG_LEVEL, using info", log.FieldError, err)
	}
	return logger
}

// LoadAndValidateConfig loads configuration and exits on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite opens the repository and exits on failure.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase,
			"path", dbPath)
		os.Exit(1)
	}
	return repo
}

// InitPublisher connects to AMQP when configured. It returns nil when AMQP
// is disabled or unreachable; the engine then runs without events.
func InitPublisher(logger *log.Logger, cfg *config.Config) *amqp.Client {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled, events will not be published")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing without events",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeNetwork)
		return nil
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// Services bundles the engine services built from one configuration.
type Services struct {
	Recurring   *services.RecurringProcessor
	Rollover    *services.RolloverService
	Alerts      *services.AlertService
	Forecast    *services.ForecastService
	Payoff      *services.PayoffService
	PayoffCache *cache.LRU[string, amortize.Projection]
}

// BuildServices wires the services over repo. client may be nil.
func BuildServices(cfg *config.Config, repo *storage.SQLiteRepository, client *amqp.Client, phraser forecast.Phraser, logger *log.Logger) (*Services, error) {
	thresholds, err := config.LoadAlertPolicy(cfg.AlertPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load alert policy: %w", err)
	}

	// A nil *amqp.Client must stay a nil interface.
	var pub services.Publisher
	if client != nil {
		pub = client
	}

	payoffCache := cache.NewLRU[string, amortize.Projection](cfg.PayoffCacheSize, cfg.PayoffCacheTTL)
	return &Services{
		Recurring:   services.NewRecurringProcessor(repo, pub, logger, cfg.WorkerConcurrency),
		Rollover:    services.NewRolloverService(repo, cfg.Policy(), logger, cfg.WorkerConcurrency),
		Alerts:      services.NewAlertService(repo, pub, thresholds, logger, cfg.WorkerConcurrency),
		Forecast:    services.NewForecastService(repo, phraser, cfg.AveragesWindowMonths, logger),
		Payoff:      services.NewPayoffService(repo, payoffCache, logger),
		PayoffCache: payoffCache,
	}, nil
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. After
// the signal, cleanup runs with a context bounded by timeout and done is
// closed once it returns.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
			return
		}
		logger.Info("Shutdown complete")
	}()

	return ctx, done
}
