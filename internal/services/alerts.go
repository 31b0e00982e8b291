package services

import (
	"context"
	"fmt"
	"time"

	"fintrack/internal/alerts"
	"fintrack/internal/core"
	"fintrack/internal/log"
)

// SnapshotStore loads the records the alert rules and the forecaster read.
type SnapshotStore interface {
	Accounts(ctx context.Context, subjectID string) ([]core.Account, error)
	Bills(ctx context.Context, subjectID string) ([]core.Bill, error)
	Debts(ctx context.Context, subjectID string) ([]core.Debt, error)
	Budgets(ctx context.Context, subjectID string) ([]core.Budget, error)
	Goals(ctx context.Context, subjectID string) ([]core.Goal, error)
}

type AlertStore interface {
	SubjectLister
	SnapshotStore
	UnresolvedAlerts(ctx context.Context, subjectID string) ([]core.Alert, error)
	Alerts(ctx context.Context, subjectID string, includeArchived bool) ([]core.Alert, error)
	ApplyAlertDiff(ctx context.Context, diff alerts.Diff) error
	SaveAlerts(ctx context.Context, list ...core.Alert) error
}

// AlertService evaluates alert rules and manages alert state.
type AlertService struct {
	store       AlertStore
	publisher   Publisher
	thresholds  alerts.Thresholds
	rules       []alerts.Rule
	logger      *log.Logger
	guard       SubjectGuard
	concurrency int
}

func NewAlertService(store AlertStore, publisher Publisher, thresholds alerts.Thresholds, logger *log.Logger, concurrency int) *AlertService {
	return &AlertService{
		store:       store,
		publisher:   publisher,
		thresholds:  thresholds,
		rules:       alerts.DefaultRules(),
		logger:      orNop(logger).WithComponent(log.ComponentAlerts),
		concurrency: concurrency,
	}
}

// Snapshot loads everything the rules look at for one subject.
func (s *AlertService) Snapshot(ctx context.Context, subjectID string, asOf time.Time) (alerts.Snapshot, error) {
	return loadSnapshot(ctx, s.store, subjectID, asOf)
}

func loadSnapshot(ctx context.Context, store SnapshotStore, subjectID string, asOf time.Time) (alerts.Snapshot, error) {
	snap := alerts.Snapshot{SubjectID: subjectID, AsOf: asOf}
	var err error
	if snap.Accounts, err = store.Accounts(ctx, subjectID); err != nil {
		return snap, fmt.Errorf("load accounts: %w", err)
	}
	if snap.Bills, err = store.Bills(ctx, subjectID); err != nil {
		return snap, fmt.Errorf("load bills: %w", err)
	}
	if snap.Debts, err = store.Debts(ctx, subjectID); err != nil {
		return snap, fmt.Errorf("load debts: %w", err)
	}
	if snap.Budgets, err = store.Budgets(ctx, subjectID); err != nil {
		return snap, fmt.Errorf("load budgets: %w", err)
	}
	if snap.Goals, err = store.Goals(ctx, subjectID); err != nil {
		return snap, fmt.Errorf("load goals: %w", err)
	}
	return snap, nil
}

// EvaluateAll evaluates every subject.
func (s *AlertService) EvaluateAll(ctx context.Context, asOf time.Time) (Report, error) {
	subjects, err := s.store.Subjects(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list subjects: %w", err)
	}
	report := forEachSubject(ctx, subjects, s.concurrency, func(ctx context.Context, subjectID string) (bool, error) {
		diff, err := s.Evaluate(ctx, subjectID, asOf)
		return !diff.Empty(), err
	})
	s.logger.InfoContext(ctx, "Alert evaluation complete",
		log.NewFields().WithOperation(log.OpEvaluate).WithAsOf(asOf).WithCount(report.Changed).ToSlice()...)
	return report, nil
}

// Evaluate reconciles the subject's alerts with its current state, persists
// the resulting diff and returns it. Re-evaluating an unchanged snapshot
// yields an empty diff.
func (s *AlertService) Evaluate(ctx context.Context, subjectID string, asOf time.Time) (alerts.Diff, error) {
	v, _, err := s.guard.Do(log.OpEvaluate, subjectID, func() (any, error) {
		return s.evaluate(ctx, subjectID, asOf)
	})
	if err != nil {
		return alerts.Diff{}, err
	}
	return v.(alerts.Diff), nil
}

func (s *AlertService) evaluate(ctx context.Context, subjectID string, asOf time.Time) (alerts.Diff, error) {
	snap, err := s.Snapshot(ctx, subjectID, asOf)
	if err != nil {
		return alerts.Diff{}, err
	}
	existing, err := s.store.UnresolvedAlerts(ctx, subjectID)
	if err != nil {
		return alerts.Diff{}, fmt.Errorf("load alerts: %w", err)
	}

	diff, err := alerts.EvaluateRules(s.rules, snap, existing, s.thresholds)
	if err != nil {
		return alerts.Diff{}, err
	}
	if diff.Empty() {
		return diff, nil
	}
	if err := s.store.ApplyAlertDiff(ctx, diff); err != nil {
		return alerts.Diff{}, fmt.Errorf("save alerts: %w", err)
	}

	s.logger.InfoContext(ctx, "Alerts changed",
		log.FieldSubjectID, subjectID,
		"created", len(diff.ToCreate),
		"updated", len(diff.ToUpdate),
		"resolved", len(diff.ToResolve))

	if s.publisher != nil {
		if err := s.publisher.PublishAlertDiff(ctx, subjectID, asOf, diff); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish alert diff",
				log.FieldSubjectID, subjectID,
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeNetwork)
		}
	}
	return diff, nil
}

// Active lists the subject's non-archived alerts, newest first.
func (s *AlertService) Active(ctx context.Context, subjectID string) ([]core.Alert, error) {
	list, err := s.store.Alerts(ctx, subjectID, false)
	if err != nil {
		return nil, err
	}
	return alerts.Active(list), nil
}

// UnreadCount counts the subject's unread active alerts.
func (s *AlertService) UnreadCount(ctx context.Context, subjectID string) (int, error) {
	list, err := s.store.Alerts(ctx, subjectID, false)
	if err != nil {
		return 0, err
	}
	return alerts.UnreadCount(list), nil
}

// MarkAsRead marks one alert read. Marking an already read alert is a no-op.
func (s *AlertService) MarkAsRead(ctx context.Context, subjectID, alertID string) (core.Alert, error) {
	return s.transition(ctx, subjectID, alertID, alerts.MarkAsRead)
}

// Archive archives one alert; its condition stays silent until it clears
// or escalates.
func (s *AlertService) Archive(ctx context.Context, subjectID, alertID string) (core.Alert, error) {
	return s.transition(ctx, subjectID, alertID, alerts.Archive)
}

// MarkAllAsRead marks every active alert read and returns how many changed.
func (s *AlertService) MarkAllAsRead(ctx context.Context, subjectID string) (int, error) {
	list, err := s.store.Alerts(ctx, subjectID, false)
	if err != nil {
		return 0, err
	}
	changed := alerts.MarkAllAsRead(list)
	if err := s.store.SaveAlerts(ctx, changed...); err != nil {
		return 0, err
	}
	return len(changed), nil
}

func (s *AlertService) transition(ctx context.Context, subjectID, alertID string,
	fn func([]core.Alert, string) (core.Alert, bool, error)) (core.Alert, error) {
	list, err := s.store.Alerts(ctx, subjectID, true)
	if err != nil {
		return core.Alert{}, err
	}
	a, changed, err := fn(list, alertID)
	if err != nil {
		return core.Alert{}, err
	}
	if changed {
		if err := s.store.SaveAlerts(ctx, a); err != nil {
			return core.Alert{}, err
		}
		s.logger.InfoContext(ctx, "Alert updated",
			log.FieldSubjectID, subjectID,
			log.FieldAlertID, alertID,
			"read", a.IsRead,
			"archived", a.IsArchived)
	}
	return a, nil
}
