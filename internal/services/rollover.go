package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/rollover"
	"fintrack/internal/storage"
)

// maxTransitions caps catch-up per budget and run; roughly twenty years of weekly periods.
const maxTransitions = 1040

type BudgetStore interface {
	BudgetsEndingBy(ctx context.Context, asOf time.Time) ([]core.Budget, error)
	RolloverLedger(ctx context.Context, asOf time.Time) (storage.LedgerSet, error)
	Spent(ctx context.Context, subjectID, category string, from, to time.Time) (decimal.Decimal, error)
	SaveRollover(ctx context.Context, rec storage.RolloverRecord) (bool, error)
}

// RolloverService closes finished budget periods.
type RolloverService struct {
	store       BudgetStore
	calc        rollover.Calculator
	logger      *log.Logger
	guard       SubjectGuard
	concurrency int
}

func NewRolloverService(store BudgetStore, policy rollover.Policy, logger *log.Logger, concurrency int) *RolloverService {
	if policy == "" {
		policy = rollover.DefaultPolicy
	}
	return &RolloverService{
		store:       store,
		calc:        rollover.Calculator{Policy: policy},
		logger:      orNop(logger).WithComponent(log.ComponentRollover),
		concurrency: concurrency,
	}
}

// Rollover closes every budget period that ended by asOf, catching up
// several periods when the service was down. Already closed periods are
// left alone, so repeated runs are no-ops.
func (s *RolloverService) Rollover(ctx context.Context, asOf time.Time) (Report, error) {
	budgets, err := s.store.BudgetsEndingBy(ctx, asOf)
	if err != nil {
		return Report{}, fmt.Errorf("list budgets: %w", err)
	}
	ledger, err := s.store.RolloverLedger(ctx, asOf)
	if err != nil {
		return Report{}, fmt.Errorf("load rollover ledger: %w", err)
	}

	bySubject := map[string][]core.Budget{}
	var subjects []string
	for _, b := range budgets {
		if _, ok := bySubject[b.SubjectID]; !ok {
			subjects = append(subjects, b.SubjectID)
		}
		bySubject[b.SubjectID] = append(bySubject[b.SubjectID], b)
	}

	report := forEachSubject(ctx, subjects, s.concurrency, func(ctx context.Context, subjectID string) (bool, error) {
		v, _, err := s.guard.Do(log.OpRollover, subjectID, func() (any, error) {
			closed := 0
			for _, b := range bySubject[subjectID] {
				n, err := s.rollBudget(ctx, b, asOf, ledger)
				closed += n
				if err != nil {
					return closed, fmt.Errorf("budget %s: %w", b.ID, err)
				}
			}
			return closed, nil
		})
		if err != nil {
			return false, err
		}
		return v.(int) > 0, nil
	})

	s.logger.InfoContext(ctx, "Budget rollover complete",
		log.NewFields().WithOperation(log.OpRollover).WithAsOf(asOf).WithCount(report.Changed).ToSlice()...)
	return report, nil
}

func (s *RolloverService) rollBudget(ctx context.Context, b core.Budget, asOf time.Time, ledger rollover.Ledger) (int, error) {
	closed := 0
	for i := 0; i < maxTransitions; i++ {
		spend, err := s.store.Spent(ctx, b.SubjectID, b.CategoryID, b.StartDate, b.EndDate)
		if err != nil {
			return closed, fmt.Errorf("period spend: %w", err)
		}
		b.Spent = spend

		next, changed, err := s.calc.Transition(b, spend, asOf, ledger)
		if err != nil || !changed {
			return closed, err
		}

		saved, err := s.store.SaveRollover(ctx, storage.RolloverRecord{
			Previous:    b,
			Next:        next,
			PeriodSpend: spend,
			Policy:      s.calc.Policy,
		})
		if err != nil {
			return closed, err
		}
		if !saved {
			// Another run closed this period first.
			return closed, nil
		}
		closed++
		s.logger.InfoContext(ctx, "Budget period closed",
			log.FieldSubjectID, b.SubjectID,
			log.FieldBudgetID, b.ID,
			"period_end", b.EndDate.Format(time.DateOnly),
			"carried", next.RolloverAmount.String())
		b = next
	}
	return closed, nil
}
