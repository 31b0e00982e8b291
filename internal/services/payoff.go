package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"fintrack/internal/amortize"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/log"
)

type DebtStore interface {
	Debt(ctx context.Context, id string) (core.Debt, error)
	Debts(ctx context.Context, subjectID string) ([]core.Debt, error)
}

// DebtPayoff pairs a debt with its projection. PayoffDate is zero when the
// projection does not converge.
type DebtPayoff struct {
	Debt       core.Debt
	Projection amortize.Projection
	PayoffDate time.Time
}

// PayoffService projects debt payoff, memoizing simulations by their inputs.
type PayoffService struct {
	store  DebtStore
	cache  *cache.LRU[string, amortize.Projection]
	logger *log.Logger
}

// NewPayoffService builds the service; a nil cache disables memoization.
func NewPayoffService(store DebtStore, c *cache.LRU[string, amortize.Projection], logger *log.Logger) *PayoffService {
	return &PayoffService{
		store:  store,
		cache:  c,
		logger: orNop(logger).WithComponent(log.ComponentPayoff),
	}
}

// projectionKey holds every input the simulation depends on.
func projectionKey(d core.Debt) string {
	return fmt.Sprintf("%s|%s|%s|%s", d.Status, d.CurrentBalance.String(), d.InterestRate.String(), d.MinimumPayment.String())
}

// Project simulates one debt snapshot.
func (s *PayoffService) Project(d core.Debt) (amortize.Projection, error) {
	if s.cache == nil {
		return amortize.ProjectDebt(d)
	}
	if err := d.Validate(); err != nil {
		return amortize.Projection{}, err
	}
	p, err := s.cache.GetOrCompute(projectionKey(d), func() (amortize.Projection, error) {
		return amortize.ProjectDebt(d)
	})
	if err != nil {
		return amortize.Projection{}, err
	}
	// The cached timeline is shared between callers.
	p.Timeline = slices.Clone(p.Timeline)
	return p, nil
}

// ProjectByID loads and projects one stored debt.
func (s *PayoffService) ProjectByID(ctx context.Context, debtID string, asOf time.Time) (DebtPayoff, error) {
	d, err := s.store.Debt(ctx, debtID)
	if err != nil {
		return DebtPayoff{}, err
	}
	return s.payoff(ctx, d, asOf)
}

// Plan projects every debt of the subject.
func (s *PayoffService) Plan(ctx context.Context, subjectID string, asOf time.Time) ([]DebtPayoff, error) {
	debts, err := s.store.Debts(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("load debts: %w", err)
	}
	out := make([]DebtPayoff, 0, len(debts))
	for _, d := range debts {
		p, err := s.payoff(ctx, d, asOf)
		if err != nil {
			return nil, fmt.Errorf("debt %s: %w", d.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PayoffService) payoff(ctx context.Context, d core.Debt, asOf time.Time) (DebtPayoff, error) {
	p, err := s.Project(d)
	if err != nil {
		return DebtPayoff{}, err
	}
	out := DebtPayoff{Debt: d, Projection: p}
	if date, ok := amortize.PayoffDate(asOf, p); ok {
		out.PayoffDate = date
	} else {
		s.logger.WarnContext(ctx, "Debt does not converge",
			log.FieldDebtID, d.ID,
			log.FieldSubjectID, d.SubjectID,
			log.FieldReason, p.Reason)
	}
	return out, nil
}
