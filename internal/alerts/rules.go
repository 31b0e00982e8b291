// Package alerts evaluates threshold rules against a financial snapshot and
// reconciles the outcome with the alerts already on record.
package alerts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/amortize"
	"fintrack/internal/core"
	"fintrack/internal/period"
)

type (
	// Thresholds are the tunable limits of the built-in rules.
	Thresholds struct {
		// BudgetWarning and BudgetExceeded are spend/allowance ratios.
		BudgetWarning  decimal.Decimal
		BudgetExceeded decimal.Decimal
		// BillReminderDays applies to bills that carry no reminder window of their own.
		BillReminderDays int
		LowBalanceFloor  decimal.Decimal
		DebtDueDays      int
	}

	// Snapshot is the current state of one subject.
	Snapshot struct {
		SubjectID string
		AsOf      time.Time
		Budgets   []core.Budget
		Bills     []core.Bill
		Accounts  []core.Account
		Goals     []core.Goal
		Debts     []core.Debt
	}

	// Rule turns a snapshot into the alerts its conditions currently call for.
	// Returned alerts carry no ID and no CreatedAt.
	Rule struct {
		Name  string
		Types []core.AlertType
		Eval  func(Snapshot, Thresholds) []core.Alert
	}
)

// DefaultThresholds returns the built-in limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BudgetWarning:    decimal.RequireFromString("0.8"),
		BudgetExceeded:   decimal.NewFromInt(1),
		BillReminderDays: 3,
		LowBalanceFloor:  decimal.NewFromInt(100),
		DebtDueDays:      5,
	}
}

func (t Thresholds) Validate() error {
	if !t.BudgetWarning.IsPositive() || t.BudgetExceeded.LessThan(t.BudgetWarning) {
		return fmt.Errorf("%w: budget thresholds must satisfy 0 < warning <= exceeded", core.ErrInvalidInput)
	}
	if t.BillReminderDays < 0 || t.DebtDueDays < 0 {
		return fmt.Errorf("%w: reminder windows must not be negative", core.ErrInvalidInput)
	}
	return nil
}

// DefaultRules lists the built-in rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "budget", Types: []core.AlertType{core.AlertBudgetLimit}, Eval: BudgetRule},
		{Name: "bill", Types: []core.AlertType{core.AlertBillDue}, Eval: BillRule},
		{Name: "low_balance", Types: []core.AlertType{core.AlertLowBalance}, Eval: LowBalanceRule},
		{Name: "goal", Types: []core.AlertType{core.AlertGoalBehind, core.AlertGoalReached}, Eval: GoalRule},
		{Name: "debt", Types: []core.AlertType{core.AlertDebtDue, core.AlertDebtBehind}, Eval: DebtRule},
	}
}

func money(d decimal.Decimal) string {
	return core.Round2(d).StringFixed(2)
}

func amount(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d)
}

// BudgetRule flags budgets whose current period is near or over its
// allowance. The allowance includes the rollover carried in.
func BudgetRule(s Snapshot, t Thresholds) []core.Alert {
	var out []core.Alert
	for _, b := range s.Budgets {
		if !(period.Range{Start: b.StartDate, End: b.EndDate}).Contains(s.AsOf) {
			continue
		}
		allowance := b.Limit.Add(b.RolloverAmount)
		var ratio decimal.Decimal
		switch {
		case allowance.IsPositive():
			ratio = b.Spent.Div(allowance)
		case b.Spent.IsPositive():
			ratio = t.BudgetExceeded
		default:
			continue
		}

		a := core.Alert{
			SubjectID:  s.SubjectID,
			Type:       core.AlertBudgetLimit,
			SubjectKey: "budget:" + b.ID,
			ActionRef:  "budgets/" + b.ID,
			Amount:     amount(b.Spent),
		}
		switch {
		case ratio.GreaterThanOrEqual(t.BudgetExceeded):
			a.Severity = core.SeverityCritical
			a.Title = "Budget exceeded"
			a.Message = fmt.Sprintf("Spent %s of %s for %s.", money(b.Spent), money(allowance), b.CategoryID)
		case ratio.GreaterThanOrEqual(t.BudgetWarning):
			a.Severity = core.SeverityWarning
			a.Title = "Budget nearly used"
			a.Message = fmt.Sprintf("Spent %s of %s for %s (%s%%).", money(b.Spent), money(allowance), b.CategoryID,
				ratio.Mul(decimal.NewFromInt(100)).Round(0).String())
		default:
			continue
		}
		out = append(out, a)
	}
	return out
}

// BillRule flags unpaid bills that are due within their reminder window
// (warning) or overdue (critical).
func BillRule(s Snapshot, t Thresholds) []core.Alert {
	var out []core.Alert
	for _, b := range s.Bills {
		if b.IsPaid {
			continue
		}
		reminder := b.ReminderDays
		if reminder == 0 {
			reminder = t.BillReminderDays
		}
		days := period.DaysUntil(s.AsOf, b.DueDate)

		a := core.Alert{
			SubjectID:  s.SubjectID,
			Type:       core.AlertBillDue,
			SubjectKey: "bill:" + b.ID,
			ActionRef:  "bills/" + b.ID,
			Amount:     amount(b.Amount),
		}
		switch {
		case days < 0:
			a.Severity = core.SeverityCritical
			a.Title = "Bill overdue"
			a.Message = fmt.Sprintf("%s (%s) was due on %s.", b.Name, money(b.Amount), b.DueDate.Format("2006-01-02"))
		case days <= reminder:
			a.Severity = core.SeverityWarning
			a.Title = "Bill due soon"
			a.Message = fmt.Sprintf("%s (%s) is due on %s.", b.Name, money(b.Amount), b.DueDate.Format("2006-01-02"))
		default:
			continue
		}
		out = append(out, a)
	}
	return out
}

// LowBalanceRule flags accounts under the configured floor; a negative
// balance is critical.
func LowBalanceRule(s Snapshot, t Thresholds) []core.Alert {
	var out []core.Alert
	for _, acc := range s.Accounts {
		if !acc.Balance.LessThan(t.LowBalanceFloor) && !acc.Balance.IsNegative() {
			continue
		}
		a := core.Alert{
			SubjectID:  s.SubjectID,
			Type:       core.AlertLowBalance,
			SubjectKey: "account:" + acc.ID,
			ActionRef:  "accounts/" + acc.ID,
			Amount:     amount(acc.Balance),
			Severity:   core.SeverityWarning,
			Title:      "Low balance",
			Message:    fmt.Sprintf("%s is at %s, below %s.", acc.Name, money(acc.Balance), money(t.LowBalanceFloor)),
		}
		if acc.Balance.IsNegative() {
			a.Severity = core.SeverityCritical
			a.Title = "Negative balance"
			a.Message = fmt.Sprintf("%s is overdrawn at %s.", acc.Name, money(acc.Balance))
		}
		out = append(out, a)
	}
	return out
}

// GoalRule reports reached goals and goals whose contributions will not
// reach the target by the deadline.
func GoalRule(s Snapshot, _ Thresholds) []core.Alert {
	var out []core.Alert
	for _, g := range s.Goals {
		key := "goal:" + g.ID
		if !g.CurrentAmount.LessThan(g.TargetAmount) {
			out = append(out, core.Alert{
				SubjectID:  s.SubjectID,
				Type:       core.AlertGoalReached,
				SubjectKey: key,
				ActionRef:  "goals/" + g.ID,
				Amount:     amount(g.CurrentAmount),
				Severity:   core.SeveritySuccess,
				Title:      "Goal reached",
				Message:    fmt.Sprintf("%s reached its target of %s.", g.Name, money(g.TargetAmount)),
			})
			continue
		}

		remaining := g.TargetAmount.Sub(g.CurrentAmount)
		finish, ok := goalCompletion(s.AsOf, remaining, g.MonthlyContribution)
		if ok && !finish.After(g.Deadline) {
			continue
		}
		msg := fmt.Sprintf("%s needs %s more by %s.", g.Name, money(remaining), g.Deadline.Format("2006-01-02"))
		if ok {
			msg = fmt.Sprintf("%s is on track to finish on %s, after its deadline of %s.",
				g.Name, finish.Format("2006-01-02"), g.Deadline.Format("2006-01-02"))
		}
		out = append(out, core.Alert{
			SubjectID:  s.SubjectID,
			Type:       core.AlertGoalBehind,
			SubjectKey: key,
			ActionRef:  "goals/" + g.ID,
			Amount:     amount(remaining),
			Severity:   core.SeverityWarning,
			Title:      "Goal behind schedule",
			Message:    msg,
		})
	}
	return out
}

// goalCompletion returns the date the remaining amount is covered by
// monthly contributions. ok is false when nothing is contributed.
func goalCompletion(asOf time.Time, remaining, monthly decimal.Decimal) (time.Time, bool) {
	if !monthly.IsPositive() {
		return time.Time{}, false
	}
	months := remaining.Div(monthly).Ceil().IntPart()
	return period.AddMonths(asOf, int(months)), true
}

// DebtRule reports upcoming payments and debts that will miss their target
// payoff date or never be paid off at the minimum payment.
func DebtRule(s Snapshot, t Thresholds) []core.Alert {
	var out []core.Alert
	for _, d := range s.Debts {
		if !d.IsOpen() {
			continue
		}
		key := "debt:" + d.ID

		due := NextDueDate(s.AsOf, d.DueDay)
		if days := period.DaysUntil(s.AsOf, due); days <= t.DebtDueDays {
			out = append(out, core.Alert{
				SubjectID:  s.SubjectID,
				Type:       core.AlertDebtDue,
				SubjectKey: key,
				ActionRef:  "debts/" + d.ID,
				Amount:     amount(d.MinimumPayment),
				Severity:   core.SeverityInfo,
				Title:      "Debt payment due",
				Message:    fmt.Sprintf("%s payment of %s is due on %s.", d.Name, money(d.MinimumPayment), due.Format("2006-01-02")),
			})
		}

		p, err := amortize.ProjectDebt(d)
		if err != nil {
			continue
		}
		behind := core.Alert{
			SubjectID:  s.SubjectID,
			Type:       core.AlertDebtBehind,
			SubjectKey: key,
			ActionRef:  "debts/" + d.ID,
			Amount:     amount(d.CurrentBalance),
		}
		if p.NonConvergent {
			behind.Severity = core.SeverityCritical
			behind.Title = "Debt not paying down"
			behind.Message = fmt.Sprintf("%s will not be paid off at a payment of %s.", d.Name, money(d.MinimumPayment))
			out = append(out, behind)
			continue
		}
		if d.TargetPayoffDate == nil {
			continue
		}
		payoff, _ := amortize.PayoffDate(s.AsOf, p)
		if payoff.After(*d.TargetPayoffDate) {
			behind.Severity = core.SeverityWarning
			behind.Title = "Debt behind schedule"
			behind.Message = fmt.Sprintf("%s is projected to be paid off on %s, after the target of %s.",
				d.Name, payoff.Format("2006-01-02"), d.TargetPayoffDate.Format("2006-01-02"))
			out = append(out, behind)
		}
	}
	return out
}

// NextDueDate returns the first date on or after asOf that falls on dueDay,
// clamped to short months.
func NextDueDate(asOf time.Time, dueDay int) time.Time {
	today := period.StartOfDay(asOf)
	due := period.AddMonthsAnchored(period.StartOfMonth(today), 0, dueDay)
	if due.Before(today) {
		due = period.AddMonthsAnchored(period.StartOfMonth(today), 1, dueDay)
	}
	return due
}
