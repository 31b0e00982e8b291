package main

import (
	"context"
	"os"
	"time"

	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/log"
	"fintrack/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker, os.Stdout)
	logger.Info("Starting fintrack-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	client := cli.InitPublisher(logger, cfg)
	if client != nil {
		defer client.Close()
	}

	svc, err := cli.BuildServices(cfg, repo, client, nil, logger)
	if err != nil {
		logger.Error("Failed to build services",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}

	runner := worker.NewRunner(logger)
	jobs := worker.EngineJobs(worker.Schedules{
		Recurring: cfg.RecurringSchedule,
		Rollover:  cfg.RolloverSchedule,
		Alerts:    cfg.AlertSchedule,
	}, svc.Recurring, svc.Rollover, svc.Alerts)
	for _, job := range jobs {
		if err := runner.Add(job); err != nil {
			logger.Error("Failed to schedule job", log.FieldJob, job.Name, log.FieldError, err)
			os.Exit(1)
		}
		logger.Info("Job scheduled", log.FieldJob, job.Name, "schedule", job.Schedule)
	}

	caches := cache.NewManager(logger)
	caches.Register("payoff", svc.PayoffCache)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		logger.Info("Shutting down fintrack-worker", log.FieldOperation, log.OpShutdown)
		caches.Stop()
		if err := runner.Stop(ctx); err != nil {
			logger.Warn("Jobs still running at shutdown", log.FieldError, err)
		}
	})

	// Catch up on anything missed while the worker was down.
	logger.Info("Running initial pass")
	runner.RunAll(ctx)

	if ctx.Err() == nil {
		caches.Start(ctx, cfg.PayoffCacheTTL)
		runner.Start(ctx)
	}

	<-done
}
