package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/forecast"
	"fintrack/internal/log"
)

type ForecastStore interface {
	Balance(ctx context.Context, subjectID string) (decimal.Decimal, error)
	Obligations(ctx context.Context, subjectID string, activeOnly bool) ([]core.RecurringObligation, error)
	Bills(ctx context.Context, subjectID string) ([]core.Bill, error)
	Debts(ctx context.Context, subjectID string) ([]core.Debt, error)
	Averages(ctx context.Context, subjectID string, asOf time.Time, months int) (core.HistoricalAverages, error)
}

// ForecastService projects a subject's balance from stored data.
type ForecastService struct {
	store          ForecastStore
	phraser        forecast.Phraser
	averagesWindow int
	logger         *log.Logger
}

// NewForecastService builds the service. phraser may be nil, which keeps the
// default insight wording; averagesWindow is the number of past months the
// historical averages cover.
func NewForecastService(store ForecastStore, phraser forecast.Phraser, averagesWindow int, logger *log.Logger) *ForecastService {
	return &ForecastService{
		store:          store,
		phraser:        phraser,
		averagesWindow: averagesWindow,
		logger:         orNop(logger).WithComponent(log.ComponentForecast),
	}
}

// Input assembles the forecaster input for one subject.
func (s *ForecastService) Input(ctx context.Context, subjectID string, asOf time.Time, months int) (forecast.Input, error) {
	in := forecast.Input{HorizonMonths: months, AsOf: asOf}
	var err error
	if in.CurrentBalance, err = s.store.Balance(ctx, subjectID); err != nil {
		return in, fmt.Errorf("load balance: %w", err)
	}
	if in.Obligations, err = s.store.Obligations(ctx, subjectID, true); err != nil {
		return in, fmt.Errorf("load obligations: %w", err)
	}
	if in.Bills, err = s.store.Bills(ctx, subjectID); err != nil {
		return in, fmt.Errorf("load bills: %w", err)
	}
	if in.Debts, err = s.store.Debts(ctx, subjectID); err != nil {
		return in, fmt.Errorf("load debts: %w", err)
	}
	if in.Averages, err = s.store.Averages(ctx, subjectID, asOf, s.averagesWindow); err != nil {
		return in, fmt.Errorf("load averages: %w", err)
	}
	return in, nil
}

// Forecast projects the subject's balance over the given number of months.
// A failing phraser leaves the default insight wording in place.
func (s *ForecastService) Forecast(ctx context.Context, subjectID string, asOf time.Time, months int) (forecast.Result, error) {
	start := time.Now()
	in, err := s.Input(ctx, subjectID, asOf, months)
	if err != nil {
		return forecast.Result{}, err
	}
	res, err := forecast.Forecast(in)
	if err != nil {
		return forecast.Result{}, err
	}

	insights, err := forecast.Rephrase(ctx, s.phraser, res.Summary.Insights)
	if err != nil {
		s.logger.WarnContext(ctx, "Insight rephrasing failed, keeping defaults",
			log.FieldSubjectID, subjectID,
			log.FieldError, err)
	}
	res.Summary.Insights = insights

	s.logger.DebugContext(ctx, "Forecast computed",
		log.NewFields().
			WithOperation(log.OpForecast).
			WithSubject(subjectID).
			WithCount(len(res.Points)).
			WithDuration(time.Since(start)).
			ToSlice()...)
	return res, nil
}
