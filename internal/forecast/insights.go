package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

const (
	InsightShortfall        InsightCode = "shortfall"
	InsightSpendingOverRun  InsightCode = "expenses_exceed_income"
	InsightIncomeBelowTrend InsightCode = "income_below_history"
	InsightExpensesAbove    InsightCode = "expenses_above_history"
	InsightBalanceGrowing   InsightCode = "balance_growing"
	InsightBalanceShrinking InsightCode = "balance_shrinking"
)

type (
	InsightCode string

	// Insight is one computed fact about a projection. Amount and Date carry
	// the numbers the message is about; Message is a plain default wording.
	Insight struct {
		Code    InsightCode
		Amount  decimal.Decimal
		Date    time.Time
		Message string
	}

	// Phraser rewrites an insight's wording. It never changes the facts.
	Phraser interface {
		Phrase(ctx context.Context, in Insight) (string, error)
	}
)

// Insights derives the facts worth surfacing from a summary and the trailing
// averages it was built against. The output order is stable.
func Insights(s Summary, avg core.HistoricalAverages) []Insight {
	var out []Insight

	if len(s.Shortfalls) > 0 {
		worst := s.Shortfalls[0]
		for _, sf := range s.Shortfalls[1:] {
			if sf.Deficit.GreaterThan(worst.Deficit) {
				worst = sf
			}
		}
		out = append(out, Insight{
			Code:   InsightShortfall,
			Amount: worst.Deficit,
			Date:   s.Shortfalls[0].Date,
			Message: fmt.Sprintf("Balance goes negative in %s; the largest deficit is %s in %s.",
				month(s.Shortfalls[0].Date), core.Round2(worst.Deficit).StringFixed(2), month(worst.Date)),
		})
	}

	if s.AverageMonthlyExpenses.GreaterThan(s.AverageMonthlyIncome) {
		gap := s.AverageMonthlyExpenses.Sub(s.AverageMonthlyIncome)
		out = append(out, Insight{
			Code:    InsightSpendingOverRun,
			Amount:  gap,
			Message: fmt.Sprintf("Projected expenses exceed income by %s per month.", core.Round2(gap).StringFixed(2)),
		})
	}

	if !s.IncomeFromAverages && avg.Income.IsPositive() && s.AverageMonthlyIncome.LessThan(avg.Income) {
		gap := avg.Income.Sub(s.AverageMonthlyIncome)
		out = append(out, Insight{
			Code:    InsightIncomeBelowTrend,
			Amount:  gap,
			Message: fmt.Sprintf("Scheduled income is %s per month below the recent average.", core.Round2(gap).StringFixed(2)),
		})
	}

	if !s.ExpensesFromAverages && s.AverageMonthlyExpenses.GreaterThan(avg.Expenses) && avg.Expenses.IsPositive() {
		gap := s.AverageMonthlyExpenses.Sub(avg.Expenses)
		out = append(out, Insight{
			Code:    InsightExpensesAbove,
			Amount:  gap,
			Message: fmt.Sprintf("Scheduled expenses are %s per month above the recent average.", core.Round2(gap).StringFixed(2)),
		})
	}

	change := s.EndingBalance.Sub(s.StartingBalance)
	switch {
	case change.IsPositive() && len(s.Shortfalls) == 0:
		out = append(out, Insight{
			Code:    InsightBalanceGrowing,
			Amount:  change,
			Message: fmt.Sprintf("Balance grows by %s over the period.", core.Round2(change).StringFixed(2)),
		})
	case change.IsNegative():
		out = append(out, Insight{
			Code:    InsightBalanceShrinking,
			Amount:  change.Neg(),
			Message: fmt.Sprintf("Balance shrinks by %s over the period.", core.Round2(change.Neg()).StringFixed(2)),
		})
	}
	return out
}

// Rephrase asks p for a wording of every insight. Insights whose rephrasing
// fails keep their default message; the first error is returned alongside.
func Rephrase(ctx context.Context, p Phraser, insights []Insight) ([]Insight, error) {
	if p == nil {
		return insights, nil
	}
	out := make([]Insight, len(insights))
	var firstErr error
	for i, in := range insights {
		out[i] = in
		msg, err := p.Phrase(ctx, in)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("rephrase %s: %w", in.Code, err)
			}
			continue
		}
		if msg != "" {
			out[i].Message = msg
		}
	}
	return out, firstErr
}

func month(t time.Time) string {
	return t.Format("January 2006")
}
