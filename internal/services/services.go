// Package services runs the engine against stored subject data: it loads
// snapshots, calls the pure engines, persists their results and publishes
// events.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"fintrack/internal/alerts"
	"fintrack/internal/core"
	"fintrack/internal/log"
)

// DefaultConcurrency bounds per-subject fan-out when none is configured.
const DefaultConcurrency = 4

type (
	// SubjectLister enumerates subjects that own data.
	SubjectLister interface {
		Subjects(ctx context.Context) ([]string, error)
	}

	// Publisher announces engine results. A nil Publisher disables events.
	Publisher interface {
		PublishInstances(ctx context.Context, subjectID string, asOf time.Time, instances []core.TransactionInstance) error
		PublishAlertDiff(ctx context.Context, subjectID string, asOf time.Time, diff alerts.Diff) error
	}

	// Report summarizes a run over every subject.
	Report struct {
		Subjects int
		Changed  int
		Failed   map[string]error
	}
)

// Err joins the per-subject failures, or returns nil.
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for subject, err := range r.Failed {
		errs = append(errs, fmt.Errorf("subject %s: %w", subject, err))
	}
	return errors.Join(errs...)
}

// SubjectGuard serializes work per subject and operation: concurrent calls
// for the same key share the in-flight run instead of starting another.
type SubjectGuard struct {
	group singleflight.Group
}

// Do runs fn unless a run for the same operation and subject is in flight,
// in which case it waits for and returns that run's result.
func (g *SubjectGuard) Do(op, subjectID string, fn func() (any, error)) (v any, shared bool, err error) {
	v, err, shared = g.group.Do(op+"/"+subjectID, fn)
	return v, shared, err
}

// forEachSubject runs fn for every subject with at most limit in flight.
// A failing subject never stops the others; its error lands in the report.
// fn reports whether it changed anything.
func forEachSubject(ctx context.Context, subjects []string, limit int, fn func(ctx context.Context, subjectID string) (bool, error)) Report {
	if limit < 1 {
		limit = DefaultConcurrency
	}
	report := Report{Subjects: len(subjects), Failed: map[string]error{}}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(limit)
	for _, subject := range subjects {
		subject := subject
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				report.Failed[subject] = err
				mu.Unlock()
				return nil
			}
			changed, err := fn(ctx, subject)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[subject] = err
			} else if changed {
				report.Changed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func errorType(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return log.ErrorTypeValidation
	case errors.Is(err, core.ErrClockSkew):
		return log.ErrorTypeClockSkew
	default:
		return log.ErrorTypeInternal
	}
}

func orNop(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.Nop()
	}
	return logger
}
