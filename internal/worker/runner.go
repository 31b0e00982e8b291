// Package worker runs the periodic engine jobs on cron schedules.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"fintrack/internal/log"
	"fintrack/internal/services"
)

// Job is one periodic task. Run receives the evaluation date of the tick.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context, asOf time.Time) error
}

// Runner schedules jobs; a job still running when its next tick fires is
// skipped, and a panicking job is logged instead of killing the process.
type Runner struct {
	cron   *cron.Cron
	logger *log.Logger
	now    func() time.Time
	ctx    context.Context
	jobs   []Job
}

func NewRunner(logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.WithComponent(log.ComponentWorker)
	cl := cronLogger{logger: logger}
	return &Runner{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		now:    time.Now,
		ctx:    context.Background(),
	}
}

// Add registers a job. It fails on an unparsable schedule.
func (r *Runner) Add(job Job) error {
	if _, err := r.cron.AddFunc(job.Schedule, func() { r.run(r.ctx, job) }); err != nil {
		return fmt.Errorf("schedule job %s (%q): %w", job.Name, job.Schedule, err)
	}
	r.jobs = append(r.jobs, job)
	return nil
}

// RunAll runs every registered job once, in registration order.
func (r *Runner) RunAll(ctx context.Context) {
	for _, job := range r.jobs {
		if ctx.Err() != nil {
			return
		}
		r.run(ctx, job)
	}
}

// Start begins scheduling; ctx is handed to every run.
func (r *Runner) Start(ctx context.Context) {
	r.ctx = ctx
	r.cron.Start()
	r.logger.InfoContext(ctx, "Worker scheduler started", log.FieldCount, len(r.jobs))
}

// Stop stops scheduling and waits for running jobs until ctx expires.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop().Done()
	select {
	case <-done:
		r.logger.Info("Worker scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

func (r *Runner) run(ctx context.Context, job Job) {
	asOf := r.now().UTC()
	start := time.Now()
	err := job.Run(ctx, asOf)
	fields := log.NewFields().WithAsOf(asOf).WithDuration(time.Since(start))
	if err != nil {
		r.logger.ErrorContext(ctx, "Job failed",
			append(fields.WithError(err).ToSlice(), log.FieldJob, job.Name)...)
		return
	}
	r.logger.InfoContext(ctx, "Job finished", append(fields.ToSlice(), log.FieldJob, job.Name)...)
}

// reportJob adapts a per-subject service run to a Job body.
func reportJob(fn func(context.Context, time.Time) (services.Report, error)) func(context.Context, time.Time) error {
	return func(ctx context.Context, asOf time.Time) error {
		report, err := fn(ctx, asOf)
		if err != nil {
			return err
		}
		return report.Err()
	}
}

// Schedules holds the cron expression of each engine job.
type Schedules struct {
	Recurring string
	Rollover  string
	Alerts    string
}

// EngineJobs builds the three engine jobs. Rollover runs before alerts so
// budget alerts see the new period.
func EngineJobs(s Schedules, recurring *services.RecurringProcessor, roll *services.RolloverService, al *services.AlertService) []Job {
	return []Job{
		{Name: log.OpProcessDue, Schedule: s.Recurring, Run: reportJob(recurring.ProcessDue)},
		{Name: log.OpRollover, Schedule: s.Rollover, Run: reportJob(roll.Rollover)},
		{Name: log.OpEvaluate, Schedule: s.Alerts, Run: reportJob(al.EvaluateAll)},
	}
}

// cronLogger routes cron's own logging through the structured logger.
type cronLogger struct {
	logger *log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, log.FieldError, err)...)
}
