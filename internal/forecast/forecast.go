// Package forecast projects cash balance month by month by combining
// recurring obligations, bills, debt payments and historical averages.
package forecast

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/amortize"
	"fintrack/internal/core"
	"fintrack/internal/period"
	"fintrack/internal/schedule"
)

// MaxHorizonMonths bounds a single projection.
const MaxHorizonMonths = 120

type (
	Input struct {
		HorizonMonths  int
		AsOf           time.Time
		CurrentBalance decimal.Decimal
		Obligations    []core.RecurringObligation
		Bills          []core.Bill
		Debts          []core.Debt
		Averages       core.HistoricalAverages
	}

	// Point is one calendar month of the projection. Date is the first day
	// of the month.
	Point struct {
		Date             time.Time
		ProjectedBalance decimal.Decimal
		Income           decimal.Decimal
		Expenses         decimal.Decimal
	}

	Shortfall struct {
		Date    time.Time
		Deficit decimal.Decimal
	}

	Summary struct {
		StartingBalance        decimal.Decimal
		EndingBalance          decimal.Decimal
		TotalIncome            decimal.Decimal
		TotalExpenses          decimal.Decimal
		AverageMonthlyIncome   decimal.Decimal
		AverageMonthlyExpenses decimal.Decimal
		LowestBalance          decimal.Decimal
		LowestBalanceDate      time.Time
		Shortfalls             []Shortfall
		Insights               []Insight
		// IncomeFromAverages and ExpensesFromAverages record which side
		// fell back to historical averages.
		IncomeFromAverages   bool
		ExpensesFromAverages bool
	}

	Result struct {
		Points  []Point
		Summary Summary
	}
)

func (in Input) validate() error {
	if in.HorizonMonths < 1 || in.HorizonMonths > MaxHorizonMonths {
		return fmt.Errorf("%w: horizon must be between 1 and %d months, got %d",
			core.ErrInvalidInput, MaxHorizonMonths, in.HorizonMonths)
	}
	if in.AsOf.IsZero() {
		return fmt.Errorf("%w: asOf is required", core.ErrInvalidInput)
	}
	if err := in.Averages.Validate(); err != nil {
		return err
	}
	for _, ob := range in.Obligations {
		if !ob.IsActive {
			continue
		}
		if err := ob.Validate(); err != nil {
			return fmt.Errorf("obligation %s: %w", ob.ID, err)
		}
	}
	for _, b := range in.Bills {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bill %s: %w", b.ID, err)
		}
	}
	for _, d := range in.Debts {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("debt %s: %w", d.ID, err)
		}
	}
	return nil
}

// Forecast projects the balance over the HorizonMonths calendar months that
// follow the month containing AsOf. Every input is validated first; an
// invalid input yields an error and no partial result.
func Forecast(in Input) (Result, error) {
	if err := in.validate(); err != nil {
		return Result{}, err
	}

	months := period.Months(in.AsOf, in.HorizonMonths)
	income := make([]decimal.Decimal, len(months))
	expenses := make([]decimal.Decimal, len(months))
	for i := range months {
		income[i] = decimal.Zero
		expenses[i] = decimal.Zero
	}

	var hasIncome, hasExpenses bool
	for _, ob := range in.Obligations {
		if !ob.IsActive {
			continue
		}
		dates, err := occurrencesIn(ob.Rule, ob.Rule.Anchor(), months)
		if err != nil {
			return Result{}, fmt.Errorf("obligation %s: %w", ob.ID, err)
		}
		// Only obligations occurring inside the horizon count as modeled.
		switch ob.Kind {
		case core.Income:
			if addAll(income, months, dates, ob.Amount) > 0 {
				hasIncome = true
			}
		case core.Expense:
			if addAll(expenses, months, dates, ob.Amount) > 0 {
				hasExpenses = true
			}
		}
	}

	for _, b := range in.Bills {
		dates, err := billDates(b, months)
		if err != nil {
			return Result{}, fmt.Errorf("bill %s: %w", b.ID, err)
		}
		if addAll(expenses, months, dates, b.Amount) > 0 {
			hasExpenses = true
		}
	}

	for _, d := range in.Debts {
		if !d.IsOpen() {
			continue
		}
		paid, err := amortize.MonthlyPayments(d.CurrentBalance, d.InterestRate, d.MinimumPayment, len(months))
		if err != nil {
			return Result{}, fmt.Errorf("debt %s: %w", d.ID, err)
		}
		for i, p := range paid {
			expenses[i] = expenses[i].Add(p)
		}
	}

	sum := Summary{
		StartingBalance:   in.CurrentBalance,
		TotalIncome:       decimal.Zero,
		TotalExpenses:     decimal.Zero,
		LowestBalance:     in.CurrentBalance,
		LowestBalanceDate: in.AsOf,
	}
	if !hasIncome {
		sum.IncomeFromAverages = true
		for i := range income {
			income[i] = income[i].Add(in.Averages.Income)
		}
	}
	if !hasExpenses {
		sum.ExpensesFromAverages = true
		for i := range expenses {
			expenses[i] = expenses[i].Add(in.Averages.Expenses)
		}
	}

	points := make([]Point, len(months))
	balance := in.CurrentBalance
	for i, m := range months {
		balance = balance.Add(income[i]).Sub(expenses[i])
		points[i] = Point{
			Date:             m.Start,
			ProjectedBalance: balance,
			Income:           income[i],
			Expenses:         expenses[i],
		}
		sum.TotalIncome = sum.TotalIncome.Add(income[i])
		sum.TotalExpenses = sum.TotalExpenses.Add(expenses[i])
		if balance.LessThan(sum.LowestBalance) {
			sum.LowestBalance = balance
			sum.LowestBalanceDate = m.Start
		}
		if balance.IsNegative() {
			sum.Shortfalls = append(sum.Shortfalls, Shortfall{Date: m.Start, Deficit: balance.Neg()})
		}
	}

	n := decimal.NewFromInt(int64(len(months)))
	sum.EndingBalance = balance
	sum.AverageMonthlyIncome = sum.TotalIncome.Div(n)
	sum.AverageMonthlyExpenses = sum.TotalExpenses.Div(n)
	sum.Insights = Insights(sum, in.Averages)

	return Result{Points: points, Summary: sum}, nil
}

// occurrencesIn returns the rule's occurrences after `after` that fall inside
// the forecast months.
func occurrencesIn(rule core.RecurrenceRule, after time.Time, months []period.Range) ([]time.Time, error) {
	if len(months) == 0 {
		return nil, nil
	}
	return schedule.Occurrences(rule, after, months[0].Start, months[len(months)-1].End)
}

// billDates lists the unpaid due dates of a bill inside the forecast months.
// For a recurring bill DueDate is the current occurrence, so a paid bill still
// contributes its later occurrences.
func billDates(b core.Bill, months []period.Range) ([]time.Time, error) {
	var dates []time.Time
	if !b.IsPaid {
		dates = append(dates, b.DueDate)
	}
	if b.Rule != nil {
		next, err := occurrencesIn(*b.Rule, b.DueDate, months)
		if err != nil {
			return nil, err
		}
		dates = append(dates, next...)
	}
	return dates, nil
}

// addAll adds amount to the bucket of every month containing one of dates
// and returns how many dates landed. Dates outside the months are ignored.
func addAll(buckets []decimal.Decimal, months []period.Range, dates []time.Time, amount decimal.Decimal) int {
	added := 0
	for _, t := range dates {
		for i, m := range months {
			if m.Contains(t) {
				buckets[i] = buckets[i].Add(amount)
				added++
				break
			}
		}
	}
	return added
}
