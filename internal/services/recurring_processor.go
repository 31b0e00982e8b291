package services

import (
	"context"
	"fmt"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/schedule"
)

// ObligationStore is the persistence the recurring processor needs.
type ObligationStore interface {
	SubjectLister
	Obligations(ctx context.Context, subjectID string, activeOnly bool) ([]core.RecurringObligation, error)
	MaterializedKeys(ctx context.Context, subjectID string, since time.Time) (schedule.KeySet, error)
	SaveMaterialization(ctx context.Context, instances []core.TransactionInstance, advances []schedule.Advance) (int, error)
}

// RecurringProcessor materializes due occurrences of recurring obligations.
type RecurringProcessor struct {
	store       ObligationStore
	publisher   Publisher
	logger      *log.Logger
	guard       SubjectGuard
	concurrency int
}

func NewRecurringProcessor(store ObligationStore, publisher Publisher, logger *log.Logger, concurrency int) *RecurringProcessor {
	return &RecurringProcessor{
		store:       store,
		publisher:   publisher,
		logger:      orNop(logger).WithComponent(log.ComponentScheduler),
		concurrency: concurrency,
	}
}

// SubjectResult is the outcome of one subject's run.
type SubjectResult struct {
	Inserted int
	Skipped  []schedule.Skip
}

// ProcessDue runs ProcessSubject for every subject.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, asOf time.Time) (Report, error) {
	subjects, err := p.store.Subjects(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list subjects: %w", err)
	}
	start := time.Now()
	report := forEachSubject(ctx, subjects, p.concurrency, func(ctx context.Context, subjectID string) (bool, error) {
		res, err := p.ProcessSubject(ctx, subjectID, asOf)
		return res.Inserted > 0, err
	})
	p.logger.InfoContext(ctx, "Recurring processing complete",
		log.NewFields().
			WithOperation(log.OpProcessDue).
			WithAsOf(asOf).
			WithCount(report.Subjects).
			WithDuration(time.Since(start)).
			ToSlice()...)
	return report, nil
}

// ProcessSubject materializes the subject's due occurrences up to asOf and
// persists them with the advanced LastProcessed dates. Running it twice for
// the same asOf inserts nothing the second time.
func (p *RecurringProcessor) ProcessSubject(ctx context.Context, subjectID string, asOf time.Time) (SubjectResult, error) {
	v, _, err := p.guard.Do(log.OpProcessDue, subjectID, func() (any, error) {
		return p.processSubject(ctx, subjectID, asOf)
	})
	if err != nil {
		return SubjectResult{}, err
	}
	return v.(SubjectResult), nil
}

func (p *RecurringProcessor) processSubject(ctx context.Context, subjectID string, asOf time.Time) (SubjectResult, error) {
	logger := p.logger.WithSubject(subjectID)

	obligations, err := p.store.Obligations(ctx, subjectID, true)
	if err != nil {
		return SubjectResult{}, fmt.Errorf("load obligations: %w", err)
	}
	if len(obligations) == 0 {
		return SubjectResult{}, nil
	}

	since := obligations[0].Rule.Anchor()
	for _, ob := range obligations[1:] {
		if a := ob.Rule.Anchor(); a.Before(since) {
			since = a
		}
	}
	existing, err := p.store.MaterializedKeys(ctx, subjectID, since)
	if err != nil {
		return SubjectResult{}, fmt.Errorf("load materialized keys: %w", err)
	}

	res, err := schedule.ProcessDue(obligations, asOf, existing)
	if err != nil {
		return SubjectResult{}, err
	}
	for _, skip := range res.Skipped {
		logger.WarnContext(ctx, "Obligation skipped",
			log.FieldObligationID, skip.ObligationID,
			log.FieldReason, skip.Reason,
			log.FieldErrorType, errorType(skip.Err),
			log.FieldError, skip.Err)
	}

	inserted, err := p.store.SaveMaterialization(ctx, res.Instances, res.Advances)
	if err != nil {
		return SubjectResult{}, fmt.Errorf("save materialization: %w", err)
	}
	if inserted > 0 {
		logger.InfoContext(ctx, "Materialized recurring occurrences",
			log.FieldCount, inserted,
			log.FieldAsOf, asOf.Format(time.DateOnly))
	}

	if p.publisher != nil && len(res.Instances) > 0 {
		if err := p.publisher.PublishInstances(ctx, subjectID, asOf, res.Instances); err != nil {
			// The instances are stored; losing the event is not fatal.
			logger.ErrorContext(ctx, "Failed to publish instances",
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeNetwork)
		}
	}
	return SubjectResult{Inserted: inserted, Skipped: res.Skipped}, nil
}
